package state

import (
	"crypto"
	"crypto/rand"
	"fmt"

	"go.step.sm/crypto/x25519"
)

const KeySize = 32

type NodePrivateKey [KeySize]byte
type NodePublicKey [KeySize]byte

func GenerateKey() NodePrivateKey {
	_, key, err := x25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	return NodePrivateKey(key)
}

func (k NodePrivateKey) Pubkey() NodePublicKey {
	val, err := x25519.PrivateKey(k[:]).PublicKey()
	if err != nil {
		panic(err)
	}
	return NodePublicKey(val)
}

// Sign produces an XEdDSA signature over msg
func (k NodePrivateKey) Sign(msg []byte) []byte {
	sig, err := x25519.PrivateKey(k[:]).Sign(rand.Reader, msg, crypto.Hash(0))
	if err != nil {
		panic(err)
	}
	return sig
}

func (k NodePublicKey) Verify(msg, sig []byte) bool {
	return x25519.Verify(x25519.PublicKey(k[:]), msg, sig)
}

func (k NodePublicKey) IsZero() bool {
	return k == NodePublicKey{}
}

func PublicKeyFromBytes(b []byte) (NodePublicKey, error) {
	if len(b) != KeySize {
		return NodePublicKey{}, fmt.Errorf("public key must be %d bytes, got %d", KeySize, len(b))
	}
	return NodePublicKey(b), nil
}
