package identity

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/cp5337/sx9-sub010/internal/drift"
)

// ContextSize is the packed size of a ContextDescriptor.
const ContextSize = 16

// maxEnvironment is the largest fingerprint that fits the 3-byte field.
const maxEnvironment = 1<<24 - 1

// ErrInvalidContext is returned when a descriptor cannot be packed.
var ErrInvalidContext = errors.New("identity: invalid context descriptor")

// StateFlag is the execution temperature recorded in the context code.
type StateFlag uint8

const (
	Cold StateFlag = iota
	Warm
	Hot
	FastPath
)

var stateNames = [...]string{"cold", "warm", "hot", "fast-path"}

func (s StateFlag) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// ParseStateFlag maps a flag name back to its StateFlag.
func ParseStateFlag(s string) (StateFlag, error) {
	for i, name := range stateNames {
		if name == s {
			return StateFlag(i), nil
		}
	}
	return Cold, fmt.Errorf("%w: unknown state flag %q", ErrInvalidContext, s)
}

// ContextDescriptor carries the situational fields supplied by the
// execution environment. The identity package never invents them.
type ContextDescriptor struct {
	Timestamp       time.Time
	Environment     uint32 // 24-bit fingerprint, see EnvironmentFingerprint
	Agent           uint16
	DriftDerivative uint16 // see DriftFingerprint
	State           StateFlag
	Lineage         uint16
	Nonce           uint16
}

// Validate checks that every field fits its slot.
func (c ContextDescriptor) Validate() error {
	if sec := c.Timestamp.Unix(); sec < 0 || sec > math.MaxUint32 {
		return fmt.Errorf("%w: timestamp %s outside 32-bit shard range", ErrInvalidContext, c.Timestamp)
	}
	if c.Environment > maxEnvironment {
		return fmt.Errorf("%w: environment fingerprint %#x wider than 24 bits", ErrInvalidContext, c.Environment)
	}
	if c.State > FastPath {
		return fmt.Errorf("%w: state flag %d", ErrInvalidContext, uint8(c.State))
	}
	return nil
}

// Pack lays the descriptor out big-endian:
//
//	[0:4]   timestamp shard (unix seconds)
//	[4:7]   environment fingerprint
//	[7:9]   agent id
//	[9:11]  drift-derivative fingerprint
//	[11]    state flag
//	[12:14] lineage marker
//	[14:16] nonce
func (c ContextDescriptor) Pack() ([ContextSize]byte, error) {
	var b [ContextSize]byte
	if err := c.Validate(); err != nil {
		return b, err
	}
	binary.BigEndian.PutUint32(b[0:4], uint32(c.Timestamp.Unix()))
	b[4] = byte(c.Environment >> 16)
	b[5] = byte(c.Environment >> 8)
	b[6] = byte(c.Environment)
	binary.BigEndian.PutUint16(b[7:9], c.Agent)
	binary.BigEndian.PutUint16(b[9:11], c.DriftDerivative)
	b[11] = byte(c.State)
	binary.BigEndian.PutUint16(b[12:14], c.Lineage)
	binary.BigEndian.PutUint16(b[14:16], c.Nonce)
	return b, nil
}

// UnpackContext reverses Pack. The timestamp comes back at second precision
// in UTC.
func UnpackContext(b [ContextSize]byte) (ContextDescriptor, error) {
	c := ContextDescriptor{
		Timestamp:       time.Unix(int64(binary.BigEndian.Uint32(b[0:4])), 0).UTC(),
		Environment:     uint32(b[4])<<16 | uint32(b[5])<<8 | uint32(b[6]),
		Agent:           binary.BigEndian.Uint16(b[7:9]),
		DriftDerivative: binary.BigEndian.Uint16(b[9:11]),
		State:           StateFlag(b[11]),
		Lineage:         binary.BigEndian.Uint16(b[12:14]),
		Nonce:           binary.BigEndian.Uint16(b[14:16]),
	}
	if c.State > FastPath {
		return ContextDescriptor{}, fmt.Errorf("%w: state flag %d", ErrInvalidContext, b[11])
	}
	return c, nil
}

// EnvironmentFingerprint folds an environment name into 24 bits.
func EnvironmentFingerprint(name string) uint32 {
	return murmur3.Sum32([]byte(name)) & maxEnvironment
}

// LineageMarker folds a lineage name into the 16-bit lineage slot.
func LineageMarker(name string) uint16 {
	h := murmur3.Sum32([]byte(name))
	return uint16(h>>16) ^ uint16(h)
}

// DriftFingerprint folds a drift position into 16 bits using its fixed-point
// form, so positions equal at 6 decimals share a fingerprint.
func DriftFingerprint(p drift.Position) uint16 {
	f := p.Fixed()
	var b [12]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(f.Semantic))
	binary.BigEndian.PutUint32(b[4:8], uint32(f.Operational))
	binary.BigEndian.PutUint32(b[8:12], uint32(f.Temporal))
	h := murmur3.Sum32(b[:])
	return uint16(h>>16) ^ uint16(h)
}
