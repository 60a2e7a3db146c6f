// Package codec converts byte buffers to and from a 96-symbol printable
// alphabet.
//
// A buffer is read as one big-endian unsigned integer and rewritten in base
// 96. The symbol count depends only on the buffer length, so encodings of
// equal-length buffers have equal width, and because the alphabet is ordered
// by code point those encodings sort exactly like the integers they carry.
//
// The package is pure and safe for concurrent use.
package codec

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"unicode/utf8"
)

// Base is the number of symbols in the alphabet.
const Base = 96

var (
	// ErrInvalidSymbol is returned when a string contains a rune outside the alphabet.
	ErrInvalidSymbol = errors.New("codec: symbol outside alphabet")

	// ErrLength is returned when a string cannot hold the expected byte length.
	ErrLength = errors.New("codec: length mismatch")
)

// alphabet holds the graphic ASCII range '!'..'~' followed by two Latin-1
// symbols, 96 runes in ascending code point order.
var alphabet = func() []rune {
	syms := make([]rune, 0, Base)
	for r := '!'; r <= '~'; r++ {
		syms = append(syms, r)
	}
	return append(syms, '£', '§')
}()

// ascii maps an ASCII rune to its symbol index, or -1.
var ascii = func() [utf8.RuneSelf]int8 {
	var t [utf8.RuneSelf]int8
	for i := range t {
		t[i] = -1
	}
	for i, r := range alphabet[:94] {
		t[r] = int8(i)
	}
	return t
}()

var (
	bigBase = big.NewInt(Base)
	bitsPer = math.Log2(Base)
)

// Zero is the symbol for digit 0, used for left padding.
func Zero() rune { return alphabet[0] }

// Alphabet returns a copy of the 96 symbols in order.
func Alphabet() []rune {
	out := make([]rune, len(alphabet))
	copy(out, alphabet)
	return out
}

// index returns the digit value of r, or -1 when r is not a symbol.
func index(r rune) int {
	if r < utf8.RuneSelf {
		return int(ascii[r])
	}
	switch r {
	case '£':
		return 94
	case '§':
		return 95
	}
	return -1
}

// EncodedLen returns the number of symbols Encode produces for n bytes:
// ceil(n*8 / log2(96)).
func EncodedLen(n int) int {
	if n <= 0 {
		return 0
	}
	return int(math.Ceil(float64(n) * 8 / bitsPer))
}

// Encode renders b in the alphabet. The output always has EncodedLen(len(b))
// symbols; leading zero bytes become leading zero symbols.
func Encode(b []byte) string {
	width := EncodedLen(len(b))
	if width == 0 {
		return ""
	}

	v := new(big.Int).SetBytes(b)
	mod := new(big.Int)
	out := make([]rune, width)
	for i := width - 1; i >= 0; i-- {
		v.QuoRem(v, bigBase, mod)
		out[i] = alphabet[mod.Int64()]
	}
	return string(out)
}

// Decode parses s back into exactly size bytes. It fails with
// ErrInvalidSymbol on any rune outside the alphabet and with ErrLength when
// s has the wrong width for size or carries a value wider than size bytes.
func Decode(s string, size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrLength, size)
	}
	runes := []rune(s)
	if want := EncodedLen(size); len(runes) != want {
		return nil, fmt.Errorf("%w: %d symbols, want %d for %d bytes", ErrLength, len(runes), want, size)
	}

	v := new(big.Int)
	digit := new(big.Int)
	for i, r := range runes {
		d := index(r)
		if d < 0 {
			return nil, fmt.Errorf("%w: %q at position %d", ErrInvalidSymbol, r, i)
		}
		v.Mul(v, bigBase)
		v.Add(v, digit.SetInt64(int64(d)))
	}
	if v.BitLen() > size*8 {
		return nil, fmt.Errorf("%w: value overflows %d bytes", ErrLength, size)
	}

	out := make([]byte, size)
	v.FillBytes(out)
	return out, nil
}

// DecodeAny decodes s, inferring the byte length from its width.
// EncodedLen is strictly increasing, so at most one length matches.
func DecodeAny(s string) ([]byte, error) {
	width := utf8.RuneCountInString(s)
	guess := int(float64(width) * bitsPer / 8)
	for n := guess - 1; n <= guess+1; n++ {
		if n >= 0 && EncodedLen(n) == width {
			return Decode(s, n)
		}
	}
	return nil, fmt.Errorf("%w: no byte length encodes to %d symbols", ErrLength, width)
}

// Valid reports whether every rune of s is in the alphabet.
func Valid(s string) bool {
	for _, r := range s {
		if index(r) < 0 {
			return false
		}
	}
	return true
}

// Pad left-pads s with the zero symbol to width symbols. Strings already at
// or beyond width are returned unchanged.
func Pad(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	pad := make([]rune, width-n, width)
	for i := range pad {
		pad[i] = alphabet[0]
	}
	return string(pad) + s
}

// Unpad strips leading zero symbols so that s is exactly width symbols wide.
// Only zero symbols may be removed; anything else is ErrLength.
func Unpad(s string, width int) (string, error) {
	runes := []rune(s)
	if len(runes) < width {
		return "", fmt.Errorf("%w: %d symbols, want at least %d", ErrLength, len(runes), width)
	}
	extra := len(runes) - width
	for i := 0; i < extra; i++ {
		if runes[i] != alphabet[0] {
			return "", fmt.Errorf("%w: non-zero padding at position %d", ErrLength, i)
		}
	}
	return string(runes[extra:]), nil
}
