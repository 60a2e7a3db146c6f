package ring

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cp5337/sx9-sub010/internal/drift"
	"github.com/cp5337/sx9-sub010/internal/gate"
)

// Type is the message type tag.
type Type uint8

const (
	TypeStateChange Type = iota + 1
	TypeDriftUpdate
	TypeHeartbeat
	TypeToken
	TypeFault
	TypeIdentityRefresh
)

var typeNames = map[Type]string{
	TypeStateChange:     "state-change",
	TypeDriftUpdate:     "drift-update",
	TypeHeartbeat:       "heartbeat",
	TypeToken:           "token",
	TypeFault:           "fault",
	TypeIdentityRefresh: "identity-refresh",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseType maps a type name back to its tag.
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("ring: unknown message type %q", s)
}

// Payload is the type-dependent body of a message. The set of payloads is
// closed; each concrete type owns exactly one tag.
type Payload interface {
	Type() Type
	appendTo(b []byte) []byte
}

// StateChange announces a gate transition for a signal.
type StateChange struct {
	Signal string
	From   gate.Kind
	To     gate.Kind
	Phase  drift.Phase
}

func (StateChange) Type() Type { return TypeStateChange }

func (p StateChange) appendTo(b []byte) []byte {
	b = appendString(b, p.Signal)
	return append(b, byte(p.From), byte(p.To), byte(p.Phase))
}

// DriftUpdate announces a classified drift step for a lineage. The position
// itself travels in the message's drift field.
type DriftUpdate struct {
	Lineage   string
	Class     drift.Class
	Magnitude float64
}

func (DriftUpdate) Type() Type { return TypeDriftUpdate }

func (p DriftUpdate) appendTo(b []byte) []byte {
	b = appendString(b, p.Lineage)
	b = append(b, byte(p.Class))
	return binary.BigEndian.AppendUint64(b, math.Float64bits(p.Magnitude))
}

// Heartbeat is liveness traffic. It never needs the token. A holder's
// heartbeat also counts as evidence that the token is alive.
type Heartbeat struct {
	Epoch   uint32
	Owner   uint16
	Holding bool
}

func (Heartbeat) Type() Type { return TypeHeartbeat }

func (p Heartbeat) appendTo(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, p.Epoch)
	b = binary.BigEndian.AppendUint16(b, p.Owner)
	return append(b, boolByte(p.Holding))
}

// Token transfers origination rights to the destination. Epoch and Owner
// name the token's generation: Owner is the node that created it. Reverse
// records the circulation direction so the receiver keeps passing the same
// way.
type Token struct {
	Epoch   uint32
	Owner   uint16
	Reverse bool
}

func (Token) Type() Type { return TypeToken }

func (p Token) appendTo(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, p.Epoch)
	b = binary.BigEndian.AppendUint16(b, p.Owner)
	return append(b, boolByte(p.Reverse))
}

// FaultCode identifies a fault report.
type FaultCode uint8

const (
	// FaultTokenLost is a claim: Node regenerated the token at Epoch after
	// token silence.
	FaultTokenLost FaultCode = iota + 1

	// FaultTokenAssert is a holder answering a claim whose generation is
	// older than the token it holds.
	FaultTokenAssert
)

func (c FaultCode) String() string {
	switch c {
	case FaultTokenLost:
		return "token-lost"
	case FaultTokenAssert:
		return "token-assert"
	}
	return fmt.Sprintf("fault(%d)", uint8(c))
}

// Fault reports a liveness event. Epoch and Node form the generation the
// fault speaks for.
type Fault struct {
	Code  FaultCode
	Epoch uint32
	Node  uint16
}

func (Fault) Type() Type { return TypeFault }

func (p Fault) appendTo(b []byte) []byte {
	b = append(b, byte(p.Code))
	b = binary.BigEndian.AppendUint32(b, p.Epoch)
	return binary.BigEndian.AppendUint16(b, p.Node)
}

// IdentityRefresh announces a regenerated identifier in canonical text form.
type IdentityRefresh struct {
	Lineage    string
	Class      drift.Class
	Identifier string
}

func (IdentityRefresh) Type() Type { return TypeIdentityRefresh }

func (p IdentityRefresh) appendTo(b []byte) []byte {
	b = appendString(b, p.Lineage)
	b = append(b, byte(p.Class))
	return appendString(b, p.Identifier)
}

// decodePayload parses exactly one payload of type t from b. Trailing bytes
// are an error.
func decodePayload(t Type, b []byte) (Payload, error) {
	r := &reader{buf: b}
	var p Payload
	switch t {
	case TypeStateChange:
		sc := StateChange{Signal: r.string()}
		sc.From, sc.To = gate.Kind(r.u8()), gate.Kind(r.u8())
		sc.Phase = drift.Phase(r.u8())
		if r.err == nil && (!sc.From.Valid() || !sc.To.Valid() || sc.Phase >= drift.PhaseCount) {
			r.fail("state-change enum out of range")
		}
		p = sc
	case TypeDriftUpdate:
		du := DriftUpdate{Lineage: r.string(), Class: drift.Class(r.u8())}
		du.Magnitude = math.Float64frombits(r.u64())
		if r.err == nil && !du.Class.Valid() {
			r.fail("drift class out of range")
		}
		p = du
	case TypeHeartbeat:
		p = Heartbeat{Epoch: r.u32(), Owner: r.u16(), Holding: r.bool()}
	case TypeToken:
		p = Token{Epoch: r.u32(), Owner: r.u16(), Reverse: r.bool()}
	case TypeFault:
		f := Fault{Code: FaultCode(r.u8()), Epoch: r.u32(), Node: r.u16()}
		if r.err == nil && f.Code != FaultTokenLost && f.Code != FaultTokenAssert {
			r.fail("unknown fault code")
		}
		p = f
	case TypeIdentityRefresh:
		ir := IdentityRefresh{Lineage: r.string(), Class: drift.Class(r.u8())}
		ir.Identifier = r.string()
		if r.err == nil && !ir.Class.Valid() {
			r.fail("drift class out of range")
		}
		p = ir
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
	}
	if r.err == nil && len(r.buf) != 0 {
		r.fail(fmt.Sprintf("%d trailing bytes", len(r.buf)))
	}
	if r.err != nil {
		return nil, fmt.Errorf("%s: %w", t, r.err)
	}
	return p, nil
}

func appendString(b []byte, s string) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(len(s)))
	return append(b, s...)
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// reader consumes big-endian fields and latches the first error.
type reader struct {
	buf []byte
	err error
}

func (r *reader) fail(msg string) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s", ErrMalformedPayload, msg)
	}
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < n {
		r.fail(fmt.Sprintf("need %d bytes, have %d", n, len(r.buf)))
		return nil
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out
}

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (r *reader) bool() bool {
	switch r.u8() {
	case 0:
		return false
	case 1:
		return true
	}
	r.fail("boolean byte out of range")
	return false
}

func (r *reader) string() string {
	n := r.u16()
	if b := r.take(int(n)); b != nil {
		return string(b)
	}
	return ""
}
