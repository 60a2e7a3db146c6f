package ring

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"time"

	"github.com/cp5337/sx9-sub010/internal/drift"
)

// Broadcast is the destination sentinel for messages every node consumes.
const Broadcast uint16 = 0xFFFF

// Frame layout sizes in bytes.
const (
	headerSize  = 8 + 2 + 2 + 1 + 2 // id, source, destination, type, payload length
	trailerSize = 3*8 + 1 + 8 + 4   // drift, hops, timestamp, crc

	// MinFrameSize is the size of a frame with an empty payload.
	MinFrameSize = headerSize + trailerSize

	// MaxPayloadSize is the largest payload the length field can describe.
	MaxPayloadSize = math.MaxUint16
)

// Message is one ring frame in decoded form.
type Message struct {
	ID          uint64
	Source      uint16
	Destination uint16
	Payload     Payload
	Drift       drift.Position
	Hops        uint8
	Timestamp   time.Time
}

// Type returns the payload's tag, or zero for a message without payload.
func (m Message) Type() Type {
	if m.Payload == nil {
		return 0
	}
	return m.Payload.Type()
}

// IsBroadcast reports whether the message is addressed to every node.
func (m Message) IsBroadcast() bool { return m.Destination == Broadcast }

func (m Message) String() string {
	dst := fmt.Sprintf("%d", m.Destination)
	if m.IsBroadcast() {
		dst = "*"
	}
	return fmt.Sprintf("%s#%x %d->%s hops=%d", m.Type(), m.ID, m.Source, dst, m.Hops)
}

// MarshalBinary encodes the message in the wire layout:
//
//	id u64 | source u16 | destination u16 | type u8 | length u16 | payload
//	| drift 3 x f64 | hops u8 | timestamp us u64 | crc32 u32
//
// All integers are big-endian, floats are IEEE-754 bit patterns and the
// checksum is CRC-32 (IEEE) over every preceding byte.
func (m Message) MarshalBinary() ([]byte, error) {
	return m.AppendBinary(nil)
}

// AppendBinary appends the encoded frame to b.
func (m Message) AppendBinary(b []byte) ([]byte, error) {
	if m.Payload == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrMalformedPayload)
	}
	if err := m.Drift.Validate(); err != nil {
		return nil, fmt.Errorf("%w: drift position: %v", ErrMalformedPayload, err)
	}
	start := len(b)
	b = binary.BigEndian.AppendUint64(b, m.ID)
	b = binary.BigEndian.AppendUint16(b, m.Source)
	b = binary.BigEndian.AppendUint16(b, m.Destination)
	b = append(b, byte(m.Payload.Type()))

	lengthAt := len(b)
	b = append(b, 0, 0)
	b = m.Payload.appendTo(b)
	n := len(b) - lengthAt - 2
	if n > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, n)
	}
	binary.BigEndian.PutUint16(b[lengthAt:], uint16(n))

	b = binary.BigEndian.AppendUint64(b, math.Float64bits(m.Drift.Semantic))
	b = binary.BigEndian.AppendUint64(b, math.Float64bits(m.Drift.Operational))
	b = binary.BigEndian.AppendUint64(b, math.Float64bits(m.Drift.Temporal))
	b = append(b, m.Hops)
	b = binary.BigEndian.AppendUint64(b, uint64(m.Timestamp.UnixMicro()))
	return binary.BigEndian.AppendUint32(b, crc32.ChecksumIEEE(b[start:])), nil
}

// Unmarshal verifies the checksum and then decodes a frame. No field is
// interpreted before the checksum matches.
func Unmarshal(frame []byte) (Message, error) {
	if len(frame) < MinFrameSize {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrTruncated, len(frame))
	}
	body, sum := frame[:len(frame)-4], binary.BigEndian.Uint32(frame[len(frame)-4:])
	if got := crc32.ChecksumIEEE(body); got != sum {
		return Message{}, fmt.Errorf("%w: computed %08x, frame carries %08x", ErrChecksum, got, sum)
	}

	plen := int(binary.BigEndian.Uint16(body[13:15]))
	if len(frame) != MinFrameSize+plen {
		return Message{}, fmt.Errorf("%w: payload length %d does not match frame size %d", ErrTruncated, plen, len(frame))
	}

	t := Type(body[12])
	payload, err := decodePayload(t, body[headerSize:headerSize+plen])
	if err != nil {
		return Message{}, err
	}

	tail := body[headerSize+plen:]
	pos := drift.Position{
		Semantic:    math.Float64frombits(binary.BigEndian.Uint64(tail[0:8])),
		Operational: math.Float64frombits(binary.BigEndian.Uint64(tail[8:16])),
		Temporal:    math.Float64frombits(binary.BigEndian.Uint64(tail[16:24])),
	}
	if err := pos.Validate(); err != nil {
		return Message{}, fmt.Errorf("%w: drift position: %v", ErrMalformedPayload, err)
	}
	return Message{
		ID:          binary.BigEndian.Uint64(body[0:8]),
		Source:      binary.BigEndian.Uint16(body[8:10]),
		Destination: binary.BigEndian.Uint16(body[10:12]),
		Payload:     payload,
		Drift:       pos,
		Hops:      tail[24],
		Timestamp: time.UnixMicro(int64(binary.BigEndian.Uint64(tail[25:33]))).UTC(),
	}, nil
}

// withHops returns a copy of frame with the hop counter replaced and the
// checksum recomputed. frame must already be verified.
func withHops(frame []byte, hops uint8) []byte {
	out := make([]byte, len(frame))
	copy(out, frame)
	hopsAt := len(out) - 4 - 8 - 1
	out[hopsAt] = hops
	binary.BigEndian.PutUint32(out[len(out)-4:], crc32.ChecksumIEEE(out[:len(out)-4]))
	return out
}
