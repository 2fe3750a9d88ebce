package protocol

import (
	"fmt"
	"slices"

	"github.com/holiman/uint256"
)

type MessageType uint8

const (
	TypePeeringRequest MessageType = iota + 1
	TypePeeringInfoRequest
	TypeLinkStateUpdate
	TypeLinkStateRequest
	TypeNodeListHashRequest
	TypeNodeListRequest
	TypeInterledgerPacket
	TypeSettlementMessage
)

const (
	TypePeeringResponse MessageType = iota + 64
	TypePeeringInfoResponse
	TypeLinkStateResponse
	TypeNodeListHashResponse
	TypeNodeListResponse
)

func (t MessageType) String() string {
	switch t {
	case TypePeeringRequest:
		return "peeringRequest"
	case TypePeeringInfoRequest:
		return "peeringInfoRequest"
	case TypeLinkStateUpdate:
		return "linkStateUpdate"
	case TypeLinkStateRequest:
		return "linkStateRequest"
	case TypeNodeListHashRequest:
		return "nodeListHashRequest"
	case TypeNodeListRequest:
		return "nodeListRequest"
	case TypeInterledgerPacket:
		return "interledgerPacket"
	case TypeSettlementMessage:
		return "settlementMessage"
	case TypePeeringResponse:
		return "peeringResponse"
	case TypePeeringInfoResponse:
		return "peeringInfoResponse"
	case TypeLinkStateResponse:
		return "linkStateResponse"
	case TypeNodeListHashResponse:
		return "nodeListHashResponse"
	case TypeNodeListResponse:
		return "nodeListResponse"
	}
	return fmt.Sprintf("MessageType(%d)", uint8(t))
}

// AllowAnonymous lists the message types that are processed even when the sender could not be authenticated
var AllowAnonymous = []MessageType{
	TypePeeringRequest,
	TypePeeringInfoRequest,
	TypeLinkStateRequest,
	TypeNodeListHashRequest,
	TypeNodeListRequest,
}

func IsAnonymousAllowed(t MessageType) bool {
	return slices.Contains(AllowAnonymous, t)
}

type Message interface {
	Type() MessageType
	appendFields(b []byte) []byte
	setField(f field) error
}

type PeeringRequest struct {
	// LinkState is the requester's signed link state
	LinkState []byte
	Data      []byte
}

type PeeringInfoRequest struct{}

type LinkStateUpdate struct {
	Bytes []byte
}

type LinkStateRequest struct {
	Node string
}

type NodeListHashRequest struct{}

type NodeListRequest struct{}

type InterledgerPacket struct {
	RequestId uint64
	Packet    []byte
}

type SettlementMessage struct {
	Amount uint256.Int
	Proof  []byte
}

type PeeringResponse struct {
	Accepted bool
	Data     []byte
	// LinkState is the responder's signed link state
	LinkState []byte
}

type PeeringInfoResponse struct {
	Data []byte
}

type LinkStateResponse struct {
	// Bytes is empty if the responder does not know the node
	Bytes []byte
}

type NodeListHashResponse struct {
	Hash []byte
}

type NodeListResponse struct {
	LinkStates [][]byte
}

func (*PeeringRequest) Type() MessageType       { return TypePeeringRequest }
func (*PeeringInfoRequest) Type() MessageType   { return TypePeeringInfoRequest }
func (*LinkStateUpdate) Type() MessageType      { return TypeLinkStateUpdate }
func (*LinkStateRequest) Type() MessageType     { return TypeLinkStateRequest }
func (*NodeListHashRequest) Type() MessageType  { return TypeNodeListHashRequest }
func (*NodeListRequest) Type() MessageType      { return TypeNodeListRequest }
func (*InterledgerPacket) Type() MessageType    { return TypeInterledgerPacket }
func (*SettlementMessage) Type() MessageType    { return TypeSettlementMessage }
func (*PeeringResponse) Type() MessageType      { return TypePeeringResponse }
func (*PeeringInfoResponse) Type() MessageType  { return TypePeeringInfoResponse }
func (*LinkStateResponse) Type() MessageType    { return TypeLinkStateResponse }
func (*NodeListHashResponse) Type() MessageType { return TypeNodeListHashResponse }
func (*NodeListResponse) Type() MessageType     { return TypeNodeListResponse }

func (m *PeeringRequest) appendFields(b []byte) []byte {
	b = appendBytes(b, 1, m.LinkState)
	return appendBytes(b, 2, m.Data)
}

func (m *PeeringRequest) setField(f field) error {
	switch f.num {
	case 1:
		m.LinkState = clone(f.bytes)
	case 2:
		m.Data = clone(f.bytes)
	}
	return nil
}

func (m *PeeringInfoRequest) appendFields(b []byte) []byte { return b }
func (m *PeeringInfoRequest) setField(field) error        { return nil }

func (m *LinkStateUpdate) appendFields(b []byte) []byte {
	return appendBytes(b, 1, m.Bytes)
}

func (m *LinkStateUpdate) setField(f field) error {
	if f.num == 1 {
		m.Bytes = clone(f.bytes)
	}
	return nil
}

func (m *LinkStateRequest) appendFields(b []byte) []byte {
	return appendString(b, 1, m.Node)
}

func (m *LinkStateRequest) setField(f field) error {
	if f.num == 1 {
		m.Node = string(f.bytes)
	}
	return nil
}

func (m *NodeListHashRequest) appendFields(b []byte) []byte { return b }
func (m *NodeListHashRequest) setField(field) error        { return nil }

func (m *NodeListRequest) appendFields(b []byte) []byte { return b }
func (m *NodeListRequest) setField(field) error        { return nil }

func (m *InterledgerPacket) appendFields(b []byte) []byte {
	b = appendVarint(b, 1, m.RequestId)
	return appendBytes(b, 2, m.Packet)
}

func (m *InterledgerPacket) setField(f field) error {
	switch f.num {
	case 1:
		m.RequestId = f.varint
	case 2:
		m.Packet = clone(f.bytes)
	}
	return nil
}

func (m *SettlementMessage) appendFields(b []byte) []byte {
	amount := m.Amount.Bytes32()
	b = appendBytes(b, 1, amount[:])
	return appendBytes(b, 2, m.Proof)
}

func (m *SettlementMessage) setField(f field) error {
	switch f.num {
	case 1:
		if len(f.bytes) > 32 {
			return fmt.Errorf("%w: settlement amount is too large", ErrMalformed)
		}
		m.Amount.SetBytes(f.bytes)
	case 2:
		m.Proof = clone(f.bytes)
	}
	return nil
}

func (m *PeeringResponse) appendFields(b []byte) []byte {
	if m.Accepted {
		b = appendVarint(b, 1, 1)
	}
	b = appendBytes(b, 2, m.Data)
	return appendBytes(b, 3, m.LinkState)
}

func (m *PeeringResponse) setField(f field) error {
	switch f.num {
	case 1:
		m.Accepted = f.varint != 0
	case 2:
		m.Data = clone(f.bytes)
	case 3:
		m.LinkState = clone(f.bytes)
	}
	return nil
}

func (m *PeeringInfoResponse) appendFields(b []byte) []byte {
	return appendBytes(b, 1, m.Data)
}

func (m *PeeringInfoResponse) setField(f field) error {
	if f.num == 1 {
		m.Data = clone(f.bytes)
	}
	return nil
}

func (m *LinkStateResponse) appendFields(b []byte) []byte {
	return appendBytes(b, 1, m.Bytes)
}

func (m *LinkStateResponse) setField(f field) error {
	if f.num == 1 {
		m.Bytes = clone(f.bytes)
	}
	return nil
}

func (m *NodeListHashResponse) appendFields(b []byte) []byte {
	return appendBytes(b, 1, m.Hash)
}

func (m *NodeListHashResponse) setField(f field) error {
	if f.num == 1 {
		m.Hash = clone(f.bytes)
	}
	return nil
}

func (m *NodeListResponse) appendFields(b []byte) []byte {
	for _, ls := range m.LinkStates {
		b = appendBytes(b, 1, ls)
	}
	return b
}

func (m *NodeListResponse) setField(f field) error {
	if f.num == 1 {
		m.LinkStates = append(m.LinkStates, clone(f.bytes))
	}
	return nil
}

func newMessage(t MessageType) (Message, error) {
	switch t {
	case TypePeeringRequest:
		return &PeeringRequest{}, nil
	case TypePeeringInfoRequest:
		return &PeeringInfoRequest{}, nil
	case TypeLinkStateUpdate:
		return &LinkStateUpdate{}, nil
	case TypeLinkStateRequest:
		return &LinkStateRequest{}, nil
	case TypeNodeListHashRequest:
		return &NodeListHashRequest{}, nil
	case TypeNodeListRequest:
		return &NodeListRequest{}, nil
	case TypeInterledgerPacket:
		return &InterledgerPacket{}, nil
	case TypeSettlementMessage:
		return &SettlementMessage{}, nil
	case TypePeeringResponse:
		return &PeeringResponse{}, nil
	case TypePeeringInfoResponse:
		return &PeeringInfoResponse{}, nil
	case TypeLinkStateResponse:
		return &LinkStateResponse{}, nil
	case TypeNodeListHashResponse:
		return &NodeListHashResponse{}, nil
	case TypeNodeListResponse:
		return &NodeListResponse{}, nil
	}
	return nil, fmt.Errorf("%w: unknown message type %d", ErrMalformed, t)
}

func MarshalMessage(m Message) []byte {
	return m.appendFields([]byte{byte(m.Type())})
}

func UnmarshalMessage(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrMalformed)
	}
	m, err := newMessage(MessageType(b[0]))
	if err != nil {
		return nil, err
	}
	if err := walkFields(b[1:], m.setField); err != nil {
		return nil, err
	}
	return m, nil
}

// Envelope wraps a message sent between peers. Signature covers SignedBytes.
type Envelope struct {
	Version uint32
	Sender  string
	Subnet  string
	// Timestamp is when the sender sealed the envelope, in unix nanoseconds
	Timestamp int64
	Signature []byte
	Content   Message
	// ContentBytes is the encoded Content, as signed
	ContentBytes []byte
}

const envelopeSignatureDomain = "weft-envelope"

// SignedBytes is what the sender signs: every envelope field except the signature itself.
func (e *Envelope) SignedBytes() []byte {
	content := e.ContentBytes
	if content == nil {
		content = MarshalMessage(e.Content)
	}
	b := []byte(envelopeSignatureDomain)
	b = appendVarint(b, 1, uint64(e.Version))
	b = appendString(b, 2, e.Sender)
	b = appendString(b, 3, e.Subnet)
	b = appendVarint(b, 6, uint64(e.Timestamp))
	return appendBytes(b, 5, content)
}

func MarshalEnvelope(e *Envelope) []byte {
	content := e.ContentBytes
	if content == nil {
		content = MarshalMessage(e.Content)
	}
	b := appendVarint(nil, 1, uint64(e.Version))
	b = appendString(b, 2, e.Sender)
	b = appendString(b, 3, e.Subnet)
	b = appendBytes(b, 4, e.Signature)
	b = appendBytes(b, 5, content)
	return appendVarint(b, 6, uint64(e.Timestamp))
}

func UnmarshalEnvelope(b []byte) (*Envelope, error) {
	e := &Envelope{}
	err := walkFields(b, func(f field) error {
		switch f.num {
		case 1:
			e.Version = uint32(f.varint)
		case 2:
			e.Sender = string(f.bytes)
		case 3:
			e.Subnet = string(f.bytes)
		case 4:
			e.Signature = clone(f.bytes)
		case 5:
			e.ContentBytes = clone(f.bytes)
		case 6:
			e.Timestamp = int64(f.varint)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if e.Sender == "" || e.Subnet == "" {
		return nil, fmt.Errorf("%w: envelope has no sender or subnet", ErrMalformed)
	}
	e.Content, err = UnmarshalMessage(e.ContentBytes)
	if err != nil {
		return nil, err
	}
	return e, nil
}
