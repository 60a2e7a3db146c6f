package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cp5337/sx9-sub010/internal/codec"
)

// Code widths in symbols.
const (
	ContentWidth     = 24
	ContextWidth     = 20 // codec.EncodedLen(ContextSize)
	PersistenceWidth = 20 // codec.EncodedLen(16)

	prefix    = "id:"
	separator = '_'
)

// canonicalWidth is the rune count of a canonical identifier.
const canonicalWidth = len(prefix) + ContentWidth + 1 + ContextWidth + 1 + PersistenceWidth

var (
	// ErrInvalidIdentifier is returned by Parse for malformed text.
	ErrInvalidIdentifier = errors.New("identity: invalid identifier")

	// ErrZeroIdentifier is returned when a regeneration is asked to keep
	// codes from an identifier that was never minted.
	ErrZeroIdentifier = errors.New("identity: zero identifier")
)

// Identifier is the trivariate id: a content code, a context code and a
// persistence code.
//
// Content addresses what was hashed; context records the situation when it
// was minted; persistence is storage identity and orders identifiers by
// creation time.
type Identifier struct {
	Content     string
	Context     string
	Persistence string
}

// IsZero reports whether no code is set.
func (id Identifier) IsZero() bool {
	return id == Identifier{}
}

// String returns the canonical form id:<content>_<context>_<persistence>.
func (id Identifier) String() string {
	var b strings.Builder
	b.Grow(canonicalWidth + 4)
	b.WriteString(prefix)
	b.WriteString(id.Content)
	b.WriteRune(separator)
	b.WriteString(id.Context)
	b.WriteRune(separator)
	b.WriteString(id.Persistence)
	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identifier) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Parse reads a canonical identifier. The alphabet contains '_', so the
// codes are located by their fixed widths and the separators are checked
// at those offsets.
func Parse(s string) (Identifier, error) {
	if !strings.HasPrefix(s, prefix) {
		return Identifier{}, fmt.Errorf("%w: missing %q prefix", ErrInvalidIdentifier, prefix)
	}
	runes := []rune(s)
	if len(runes) != canonicalWidth {
		return Identifier{}, fmt.Errorf("%w: %d symbols, want %d", ErrInvalidIdentifier, len(runes), canonicalWidth)
	}

	body := runes[len(prefix):]
	sep1 := ContentWidth
	sep2 := sep1 + 1 + ContextWidth
	if body[sep1] != separator || body[sep2] != separator {
		return Identifier{}, fmt.Errorf("%w: separators not at fixed offsets", ErrInvalidIdentifier)
	}

	id := Identifier{
		Content:     string(body[:sep1]),
		Context:     string(body[sep1+1 : sep2]),
		Persistence: string(body[sep2+1:]),
	}
	if err := id.Validate(); err != nil {
		return Identifier{}, err
	}
	return id, nil
}

// MustParse is like Parse but panics on error.
// Use only in tests or with known-good input.
func MustParse(s string) Identifier {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Validate decodes all three codes.
func (id Identifier) Validate() error {
	if _, err := id.ContentBytes(); err != nil {
		return fmt.Errorf("%w: content code: %w", ErrInvalidIdentifier, err)
	}
	if _, err := id.ContextDescriptor(); err != nil {
		return fmt.Errorf("%w: context code: %w", ErrInvalidIdentifier, err)
	}
	if _, err := id.persistenceBytes(); err != nil {
		return fmt.Errorf("%w: persistence code: %w", ErrInvalidIdentifier, err)
	}
	return nil
}

// ContentBytes decodes the content code back to the 16 hash bytes.
func (id Identifier) ContentBytes() ([]byte, error) {
	natural, err := codec.Unpad(id.Content, codec.EncodedLen(16))
	if err != nil {
		return nil, err
	}
	if n := len([]rune(id.Content)); n != ContentWidth {
		return nil, fmt.Errorf("%w: %d symbols, want %d", codec.ErrLength, n, ContentWidth)
	}
	return codec.Decode(natural, 16)
}

// ContextDescriptor decodes the context code.
func (id Identifier) ContextDescriptor() (ContextDescriptor, error) {
	raw, err := codec.Decode(id.Context, ContextSize)
	if err != nil {
		return ContextDescriptor{}, err
	}
	return UnpackContext([ContextSize]byte(raw))
}

// PersistenceUUID returns the persistence code as a UUID.
func (id Identifier) PersistenceUUID() (uuid.UUID, error) {
	b, err := id.persistenceBytes()
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.UUID(b), nil
}

// CreatedAt is the millisecond timestamp embedded in the persistence code,
// or the zero time when the code does not decode.
func (id Identifier) CreatedAt() time.Time {
	b, err := id.persistenceBytes()
	if err != nil {
		return time.Time{}
	}
	return persistenceTime(b)
}

// SameContent reports whether both identifiers address the same content.
func (id Identifier) SameContent(other Identifier) bool {
	return id.Content == other.Content
}

// SameLineage reports whether both identifiers share a persistence code.
func (id Identifier) SameLineage(other Identifier) bool {
	return id.Persistence != "" && id.Persistence == other.Persistence
}

func (id Identifier) persistenceBytes() ([16]byte, error) {
	raw, err := codec.Decode(id.Persistence, 16)
	if err != nil {
		return [16]byte{}, err
	}
	return [16]byte(raw), nil
}
