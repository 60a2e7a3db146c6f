package identity

import (
	"encoding/binary"
	"fmt"

	"github.com/spaolacci/murmur3"
	"golang.org/x/text/unicode/norm"

	"github.com/cp5337/sx9-sub010/internal/codec"
	"github.com/cp5337/sx9-sub010/internal/drift"
)

// Generator mints and regenerates identifiers.
//
// Thread-safety: Generator is safe for concurrent use as long as its
// PersistenceSource is. The default UUIDv7Source is.
type Generator struct {
	source PersistenceSource
}

// NewGenerator returns a generator drawing persistence codes from source.
// A nil source selects UUIDv7Source.
func NewGenerator(source PersistenceSource) *Generator {
	if source == nil {
		source = UUIDv7Source{}
	}
	return &Generator{source: source}
}

// ContentCode hashes content with Murmur3 x64 128 under seed and encodes the
// two 64-bit lanes (h1 then h2, big-endian) as exactly 24 symbols.
// Identical content and seed always give the same code.
func ContentCode(content []byte, seed uint32) string {
	h1, h2 := murmur3.Sum128WithSeed(content, seed)
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], h1)
	binary.BigEndian.PutUint64(b[8:16], h2)
	return codec.Pad(codec.Encode(b[:]), ContentWidth)
}

// ContextCode packs and encodes a descriptor.
func ContextCode(ctx ContextDescriptor) (string, error) {
	b, err := ctx.Pack()
	if err != nil {
		return "", err
	}
	return codec.Encode(b[:]), nil
}

// Mint builds a new identifier. The persistence code is fresh on every call,
// even for content and context seen before.
func (g *Generator) Mint(content []byte, seed uint32, ctx ContextDescriptor) (Identifier, error) {
	contextCode, err := ContextCode(ctx)
	if err != nil {
		return Identifier{}, fmt.Errorf("mint: %w", err)
	}
	persistence, err := g.persistenceCode()
	if err != nil {
		return Identifier{}, fmt.Errorf("mint: %w", err)
	}
	return Identifier{
		Content:     ContentCode(content, seed),
		Context:     contextCode,
		Persistence: persistence,
	}, nil
}

// MintText mints from text after NFC normalization, so canonically
// equivalent strings share a content code.
func (g *Generator) MintText(text string, seed uint32, ctx ContextDescriptor) (Identifier, error) {
	return g.Mint(norm.NFC.Bytes([]byte(text)), seed, ctx)
}

// Regenerate applies the drift policy to an existing identifier:
//
//	None       unchanged
//	Micro      new context code; content and persistence kept
//	Soft, Hard new content and context codes; persistence kept
//	Critical   full Mint, which starts a new lineage
func (g *Generator) Regenerate(old Identifier, content []byte, seed uint32, ctx ContextDescriptor, class drift.Class) (Identifier, error) {
	if class == drift.Critical {
		return g.Mint(content, seed, ctx)
	}
	if !class.Valid() {
		return Identifier{}, fmt.Errorf("regenerate: unknown drift class %d", uint8(class))
	}
	if old.IsZero() {
		return Identifier{}, fmt.Errorf("regenerate %s: %w", class, ErrZeroIdentifier)
	}
	if class == drift.None {
		return old, nil
	}

	contextCode, err := ContextCode(ctx)
	if err != nil {
		return Identifier{}, fmt.Errorf("regenerate %s: %w", class, err)
	}

	next := old
	next.Context = contextCode
	if class == drift.Soft || class == drift.Hard {
		next.Content = ContentCode(content, seed)
	}
	return next, nil
}

func (g *Generator) persistenceCode() (string, error) {
	b, err := g.source.Next()
	if err != nil {
		return "", fmt.Errorf("persistence source: %w", err)
	}
	return codec.Encode(b[:]), nil
}
