package state

import (
	"encoding/base64"
	"fmt"
)

func (k NodePrivateKey) MarshalText() ([]byte, error) {
	return []byte(base64.StdEncoding.EncodeToString(k[:])), nil
}
func (k NodePublicKey) MarshalText() ([]byte, error) {
	return []byte(base64.StdEncoding.EncodeToString(k[:])), nil
}
func (k NodePublicKey) String() string {
	return base64.StdEncoding.EncodeToString(k[:])
}
func (k *NodePrivateKey) UnmarshalText(text []byte) error {
	data, err := decodeKey(text)
	if err != nil {
		return err
	}
	*k = NodePrivateKey(data)
	return nil
}
func (k *NodePublicKey) UnmarshalText(text []byte) error {
	data, err := decodeKey(text)
	if err != nil {
		return err
	}
	*k = NodePublicKey(data)
	return nil
}

func decodeKey(text []byte) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return nil, err
	}
	if len(data) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(data))
	}
	return data, nil
}
