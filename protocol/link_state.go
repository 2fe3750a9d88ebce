package protocol

import "fmt"

// LinkStateRecord is a node's self-reported view of its direct neighbours
type LinkStateRecord struct {
	Subnet     string
	Node       string
	Sequence   uint64
	PublicKey  []byte
	Neighbours []string
	// Url is where the node accepts peer messages
	Url string
}

type SignedLinkState struct {
	// Record is the encoded LinkStateRecord that Signature covers
	Record    []byte
	Signature []byte
}

func MarshalLinkStateRecord(r *LinkStateRecord) []byte {
	b := appendString(nil, 1, r.Subnet)
	b = appendString(b, 2, r.Node)
	b = appendVarint(b, 3, r.Sequence)
	b = appendBytes(b, 4, r.PublicKey)
	for _, n := range r.Neighbours {
		b = appendString(b, 5, n)
	}
	return appendString(b, 6, r.Url)
}

func UnmarshalLinkStateRecord(b []byte) (*LinkStateRecord, error) {
	r := &LinkStateRecord{}
	err := walkFields(b, func(f field) error {
		switch f.num {
		case 1:
			r.Subnet = string(f.bytes)
		case 2:
			r.Node = string(f.bytes)
		case 3:
			r.Sequence = f.varint
		case 4:
			r.PublicKey = clone(f.bytes)
		case 5:
			r.Neighbours = append(r.Neighbours, string(f.bytes))
		case 6:
			r.Url = string(f.bytes)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if r.Subnet == "" || r.Node == "" {
		return nil, fmt.Errorf("%w: link state has no subnet or node", ErrMalformed)
	}
	return r, nil
}

func MarshalSignedLinkState(s *SignedLinkState) []byte {
	b := appendBytes(nil, 1, s.Record)
	return appendBytes(b, 2, s.Signature)
}

func UnmarshalSignedLinkState(b []byte) (*SignedLinkState, error) {
	s := &SignedLinkState{}
	err := walkFields(b, func(f field) error {
		switch f.num {
		case 1:
			s.Record = clone(f.bytes)
		case 2:
			s.Signature = clone(f.bytes)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(s.Record) == 0 || len(s.Signature) == 0 {
		return nil, fmt.Errorf("%w: link state is not signed", ErrMalformed)
	}
	return s, nil
}
