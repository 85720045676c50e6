package signal

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrUnresolvable is returned when a value with X or Z bits is
	// interpreted as a number or as bytes.
	ErrUnresolvable = errors.New("value contains unresolvable bits")

	// ErrOverflow is returned when a value does not fit the requested type.
	ErrOverflow = errors.New("value does not fit")

	// ErrBadBinStr is returned when a binary string contains a character
	// that is not a logic state.
	ErrBadBinStr = errors.New("invalid binary string")
)

// Value is a fixed-width four-state bit vector. X and Z bits are tracked in an
// unknown mask; a value with any unknown bit is not resolvable. Values are
// immutable.
type Value struct {
	width   int
	bits    *big.Int
	unknown *big.Int
}

func mask(width int) *big.Int {
	m := new(big.Int).Lsh(big.NewInt(1), uint(width))
	return m.Sub(m, big.NewInt(1))
}

func mustHaveValidWidth(width int) {
	if width < 0 {
		panic(fmt.Sprintf("invalid value width %d", width))
	}
}

// NewValue creates a resolvable value of the given width. Bits of v above the
// width are dropped.
func NewValue(width int, v uint64) Value {
	mustHaveValidWidth(width)

	b := new(big.Int).SetUint64(v)
	b.And(b, mask(width))

	return Value{width: width, bits: b, unknown: new(big.Int)}
}

// NewBigValue creates a resolvable value from a non-negative big integer.
func NewBigValue(width int, v *big.Int) Value {
	mustHaveValidWidth(width)

	if v.Sign() < 0 {
		panic("value must not be negative")
	}

	b := new(big.Int).And(v, mask(width))

	return Value{width: width, bits: b, unknown: new(big.Int)}
}

// Ones creates a value with every bit set.
func Ones(width int) Value {
	mustHaveValidWidth(width)
	return Value{width: width, bits: mask(width), unknown: new(big.Int)}
}

// Unknown creates a value with every bit unresolved.
func Unknown(width int) Value {
	mustHaveValidWidth(width)
	return Value{width: width, bits: new(big.Int), unknown: mask(width)}
}

// ParseBinStr parses an MSB-first binary string. Besides 0 and 1, the
// characters x, z, u, w and - (any case) mark unresolved bits, and l/h are
// read as weak 0/1.
func ParseBinStr(s string) (Value, error) {
	if s == "" {
		return Value{}, errors.Wrap(ErrBadBinStr, "empty string")
	}

	width := len(s)
	bits := new(big.Int)
	unknown := new(big.Int)

	for i, c := range strings.ToLower(s) {
		pos := width - 1 - i
		switch c {
		case '0', 'l':
		case '1', 'h':
			bits.SetBit(bits, pos, 1)
		case 'x', 'z', 'u', 'w', '-':
			unknown.SetBit(unknown, pos, 1)
		default:
			return Value{}, errors.Wrapf(ErrBadBinStr, "%q at %d", c, i)
		}
	}

	return Value{width: width, bits: bits, unknown: unknown}, nil
}

// MustParseBinStr is ParseBinStr that panics on malformed input.
func MustParseBinStr(s string) Value {
	v, err := ParseBinStr(s)
	if err != nil {
		panic(err)
	}

	return v
}

func (v Value) b() *big.Int {
	if v.bits == nil {
		return new(big.Int)
	}

	return v.bits
}

func (v Value) u() *big.Int {
	if v.unknown == nil {
		return new(big.Int)
	}

	return v.unknown
}

// Width returns the number of bits.
func (v Value) Width() int {
	return v.width
}

// IsResolvable tells if every bit is 0 or 1.
func (v Value) IsResolvable() bool {
	return v.u().Sign() == 0
}

// IsHigh tells if the value is resolvable and non-zero. Unresolved values are
// never high.
func (v Value) IsHigh() bool {
	return v.IsResolvable() && v.b().Sign() != 0
}

// Uint64 interprets the value as an unsigned integer.
func (v Value) Uint64() (uint64, error) {
	if !v.IsResolvable() {
		return 0, errors.Wrapf(ErrUnresolvable, "value %s", v.BinStr())
	}

	if v.b().BitLen() > 64 {
		return 0, errors.Wrapf(ErrOverflow, "%d-bit value into uint64", v.width)
	}

	return v.b().Uint64(), nil
}

// Big interprets the value as an arbitrary precision unsigned integer.
func (v Value) Big() (*big.Int, error) {
	if !v.IsResolvable() {
		return nil, errors.Wrapf(ErrUnresolvable, "value %s", v.BinStr())
	}

	return new(big.Int).Set(v.b()), nil
}

// BinStr returns the MSB-first binary string, with x for unresolved bits.
func (v Value) BinStr() string {
	var sb strings.Builder

	bits := v.b()
	unknown := v.u()

	for i := v.width - 1; i >= 0; i-- {
		switch {
		case unknown.Bit(i) == 1:
			sb.WriteByte('x')
		case bits.Bit(i) == 1:
			sb.WriteByte('1')
		default:
			sb.WriteByte('0')
		}
	}

	return sb.String()
}

// Bytes returns the value as ceil(width/8) bytes. With bigEndian the most
// significant byte comes first, otherwise the least significant one does.
func (v Value) Bytes(bigEndian bool) ([]byte, error) {
	if !v.IsResolvable() {
		return nil, errors.Wrapf(ErrUnresolvable, "value %s", v.BinStr())
	}

	buf := make([]byte, (v.width+7)/8)
	v.b().FillBytes(buf)

	if !bigEndian {
		for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
			buf[i], buf[j] = buf[j], buf[i]
		}
	}

	return buf, nil
}

// DropLow removes the n least significant bits.
func (v Value) DropLow(n int) Value {
	v.mustBeAbleToDrop(n)

	return Value{
		width:   v.width - n,
		bits:    new(big.Int).Rsh(v.b(), uint(n)),
		unknown: new(big.Int).Rsh(v.u(), uint(n)),
	}
}

// DropHigh removes the n most significant bits.
func (v Value) DropHigh(n int) Value {
	v.mustBeAbleToDrop(n)

	m := mask(v.width - n)

	return Value{
		width:   v.width - n,
		bits:    new(big.Int).And(v.b(), m),
		unknown: new(big.Int).And(v.u(), m),
	}
}

func (v Value) mustBeAbleToDrop(n int) {
	if n < 0 || n > v.width {
		panic(fmt.Sprintf("cannot drop %d bits from a %d-bit value", n, v.width))
	}
}

// Equal tells if two values have the same width and the same bits, including
// the position of unresolved bits.
func (v Value) Equal(o Value) bool {
	return v.width == o.width &&
		v.b().Cmp(o.b()) == 0 &&
		v.u().Cmp(o.u()) == 0
}

// String formats resolvable values as hexadecimal and the others as a binary
// string.
func (v Value) String() string {
	if !v.IsResolvable() {
		return v.BinStr()
	}

	return "0x" + v.b().Text(16)
}
