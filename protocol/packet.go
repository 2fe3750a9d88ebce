package protocol

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

type PacketType uint8

const (
	TypePrepare PacketType = 12
	TypeFulfill PacketType = 13
	TypeReject  PacketType = 14
)

func (t PacketType) String() string {
	switch t {
	case TypePrepare:
		return "prepare"
	case TypeFulfill:
		return "fulfill"
	case TypeReject:
		return "reject"
	}
	return fmt.Sprintf("PacketType(%d)", uint8(t))
}

// Reject codes
const (
	CodeBadRequest            = "F00"
	CodeUnreachable           = "F02"
	CodeWrongCondition        = "F05"
	CodeInternalError         = "T00"
	CodeInsufficientLiquidity = "T04"
	CodeTransferTimedOut      = "R00"
)

type Packet interface {
	Type() PacketType
}

type Prepare struct {
	Amount             uint256.Int
	ExpiresAt          time.Time
	ExecutionCondition [32]byte
	Destination        string
	Data               []byte
}

type Fulfill struct {
	Fulfillment [32]byte
	Data        []byte
}

type Reject struct {
	Code        string
	TriggeredBy string
	Message     string
	Data        []byte
}

func (*Prepare) Type() PacketType { return TypePrepare }
func (*Fulfill) Type() PacketType { return TypeFulfill }
func (*Reject) Type() PacketType  { return TypeReject }

// Matches checks the fulfillment against an execution condition (sha256 preimage).
func (f *Fulfill) Matches(condition [32]byte) bool {
	return sha256.Sum256(f.Fulfillment[:]) == condition
}

func SerializePacket(p Packet) ([]byte, error) {
	b := []byte{byte(p.Type())}
	switch p := p.(type) {
	case *Prepare:
		amount := p.Amount.Bytes32()
		b = appendBytes(b, 1, amount[:])
		b = appendVarint(b, 2, uint64(p.ExpiresAt.UnixMilli()))
		b = appendBytes(b, 3, p.ExecutionCondition[:])
		b = appendString(b, 4, p.Destination)
		b = appendBytes(b, 5, p.Data)
	case *Fulfill:
		b = appendBytes(b, 1, p.Fulfillment[:])
		b = appendBytes(b, 2, p.Data)
	case *Reject:
		b = appendString(b, 1, p.Code)
		b = appendString(b, 2, p.TriggeredBy)
		b = appendString(b, 3, p.Message)
		b = appendBytes(b, 4, p.Data)
	default:
		return nil, fmt.Errorf("cannot serialize packet of type %T", p)
	}
	return b, nil
}

func ParsePacket(b []byte) (Packet, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty packet", ErrMalformed)
	}
	body := b[1:]
	switch PacketType(b[0]) {
	case TypePrepare:
		p := &Prepare{}
		var amount, condition []byte
		err := walkFields(body, func(f field) error {
			switch f.num {
			case 1:
				amount = f.bytes
			case 2:
				p.ExpiresAt = time.UnixMilli(int64(f.varint))
			case 3:
				condition = f.bytes
			case 4:
				p.Destination = string(f.bytes)
			case 5:
				p.Data = clone(f.bytes)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if len(amount) > 32 {
			return nil, fmt.Errorf("%w: amount is too large", ErrMalformed)
		}
		p.Amount.SetBytes(amount)
		if p.ExecutionCondition, err = fixed32(condition, "execution condition"); err != nil {
			return nil, err
		}
		if p.Destination == "" {
			return nil, fmt.Errorf("%w: prepare has no destination", ErrMalformed)
		}
		return p, nil
	case TypeFulfill:
		p := &Fulfill{}
		var fulfillment []byte
		err := walkFields(body, func(f field) error {
			switch f.num {
			case 1:
				fulfillment = f.bytes
			case 2:
				p.Data = clone(f.bytes)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if p.Fulfillment, err = fixed32(fulfillment, "fulfillment"); err != nil {
			return nil, err
		}
		return p, nil
	case TypeReject:
		p := &Reject{}
		err := walkFields(body, func(f field) error {
			switch f.num {
			case 1:
				p.Code = string(f.bytes)
			case 2:
				p.TriggeredBy = string(f.bytes)
			case 3:
				p.Message = string(f.bytes)
			case 4:
				p.Data = clone(f.bytes)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: unknown packet type %d", ErrMalformed, b[0])
}
