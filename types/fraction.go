package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strconv"

	"github.com/fxamacker/cbor/v2"
)

// Errors returned by the validating Fraction constructors.
var (
	ErrInvalidDivisor   = errors.New("types: fraction divisor must be at least 1")
	ErrNegativeFraction = errors.New("types: fraction must not be negative")
	ErrFractionOverflow = errors.New("types: fraction overflows int64")
)

// Fraction is an exact rational quantity: whole + numerator/divisor.
// All arithmetic is integer-only; there is no floating point.
//
// Every Fraction produced by this package is normalized:
//   - 0 <= |numerator| < divisor
//   - numerator and divisor share no common factor
//   - whole and numerator never carry opposite signs
//   - a zero numerator always has divisor 1
//
// Two normalized fractions are equal exactly when their triples are equal.
//
// Examples:
//   - Of(1, 3) = 1/3
//   - OfWhole(2, 6, 4) = 3 1/2
//   - Whole(8) = 8
type Fraction struct {
	whole     int64
	numerator int64
	divisor   int64
}

// ZeroFraction is the canonical zero quantity.
var ZeroFraction = Fraction{divisor: 1}

// OneFraction is the canonical quantity of one whole unit.
var OneFraction = Fraction{whole: 1, divisor: 1}

// Whole creates a Fraction holding n whole units. Panics if n is negative.
func Whole(n int64) Fraction {
	return OfWhole(n, 0, 1)
}

// Of creates numerator/divisor. Panics on a negative result or divisor < 1.
func Of(numerator, divisor int64) Fraction {
	return OfWhole(0, numerator, divisor)
}

// OfWhole creates whole + numerator/divisor. Panics on a negative result or divisor < 1.
func OfWhole(whole, numerator, divisor int64) Fraction {
	f, err := NewFraction(whole, numerator, divisor)
	if err != nil {
		panic(fmt.Sprintf("fraction: %v", err))
	}
	return f
}

// Signed creates whole + numerator/divisor and allows negative values.
// Use it for signed deltas. Panics if divisor < 1.
func Signed(whole, numerator, divisor int64) Fraction {
	return normalize(whole, numerator, divisor)
}

// NewFraction validates and normalizes whole + numerator/divisor.
// Negative values are rejected.
func NewFraction(whole, numerator, divisor int64) (Fraction, error) {
	if divisor < 1 {
		return ZeroFraction, ErrInvalidDivisor
	}
	f := normalize(whole, numerator, divisor)
	if f.IsNegative() {
		return ZeroFraction, ErrNegativeFraction
	}
	return f, nil
}

// ──────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────

// WholePart returns the whole component.
func (f Fraction) WholePart() int64 { return f.whole }

// Numerator returns the numerator of the fractional component.
func (f Fraction) Numerator() int64 { return f.numerator }

// Divisor returns the divisor of the fractional component (always >= 1).
func (f Fraction) Divisor() int64 { return f.div() }

// div treats the zero value's divisor as 1.
func (f Fraction) div() int64 {
	if f.divisor < 1 {
		return 1
	}
	return f.divisor
}

// ──────────────────────────────────────────────────
// Arithmetic
// ──────────────────────────────────────────────────

// Add returns f + o.
func (f Fraction) Add(o Fraction) Fraction {
	fd, od := f.div(), o.div()
	whole := addChecked(f.whole, o.whole)
	if fd == od {
		return normalize(whole, addChecked(f.numerator, o.numerator), fd)
	}
	g := gcd(fd, od)
	d := mulChecked(fd/g, od)
	n := addChecked(mulChecked(f.numerator, od/g), mulChecked(o.numerator, fd/g))
	return normalize(whole, n, d)
}

// CheckedAdd returns f + o, or ErrFractionOverflow when the sum does not
// fit, for callers summing untrusted quantities.
func (f Fraction) CheckedAdd(o Fraction) (sum Fraction, err error) {
	defer func() {
		if recover() != nil {
			sum, err = ZeroFraction, ErrFractionOverflow
		}
	}()
	return f.Add(o), nil
}

// Sub returns f - o.
func (f Fraction) Sub(o Fraction) Fraction {
	return f.Add(o.Neg())
}

// Neg returns -f.
func (f Fraction) Neg() Fraction {
	if f.whole == math.MinInt64 {
		panic("fraction: overflow")
	}
	return Fraction{whole: -f.whole, numerator: -f.numerator, divisor: f.div()}
}

// Abs returns |f|.
func (f Fraction) Abs() Fraction {
	if f.IsNegative() {
		return f.Neg()
	}
	return f
}

// Mul multiplies f by an integer factor.
func (f Fraction) Mul(k int64) Fraction {
	return normalize(mulChecked(f.whole, k), mulChecked(f.numerator, k), f.div())
}

// Min returns the smaller of f and o.
func (f Fraction) Min(o Fraction) Fraction {
	if f.Cmp(o) <= 0 {
		return f
	}
	return o
}

// Max returns the larger of f and o.
func (f Fraction) Max(o Fraction) Fraction {
	if f.Cmp(o) >= 0 {
		return f
	}
	return o
}

// ──────────────────────────────────────────────────
// Comparison
// ──────────────────────────────────────────────────

// Sign returns -1, 0 or +1.
func (f Fraction) Sign() int {
	switch {
	case f.whole > 0:
		return 1
	case f.whole < 0:
		return -1
	case f.numerator > 0:
		return 1
	case f.numerator < 0:
		return -1
	default:
		return 0
	}
}

// Cmp returns -1, 0 or +1 depending on whether f is less than, equal to or greater than o.
// It never overflows: whole parts decide first, then the fractional parts are
// cross-multiplied at 128 bits.
func (f Fraction) Cmp(o Fraction) int {
	if fs, os := f.Sign(), o.Sign(); fs != os {
		return cmpInt(fs, os)
	}
	if f.whole != o.whole {
		if f.whole < o.whole {
			return -1
		}
		return 1
	}

	// Same sign and whole part, so the numerators share a sign too.
	fh, fl := bits.Mul64(uint64(absInt(f.numerator)), uint64(o.div()))
	oh, ol := bits.Mul64(uint64(absInt(o.numerator)), uint64(f.div()))
	c := cmpUint(fh, oh)
	if c == 0 {
		c = cmpUint(fl, ol)
	}
	if f.numerator < 0 || o.numerator < 0 {
		return -c
	}
	return c
}

// Equal reports whether f and o denote the same quantity.
func (f Fraction) Equal(o Fraction) bool {
	return f.whole == o.whole && f.numerator == o.numerator && f.div() == o.div()
}

// IsZero returns true if the quantity is zero.
func (f Fraction) IsZero() bool { return f.whole == 0 && f.numerator == 0 }

// IsPositive returns true if the quantity is greater than zero.
func (f Fraction) IsPositive() bool { return f.Sign() > 0 }

// IsNegative returns true if the quantity is less than zero.
func (f Fraction) IsNegative() bool { return f.Sign() < 0 }

// GreaterThan returns true if f > o.
func (f Fraction) GreaterThan(o Fraction) bool { return f.Cmp(o) > 0 }

// GreaterOrEqual returns true if f >= o.
func (f Fraction) GreaterOrEqual(o Fraction) bool { return f.Cmp(o) >= 0 }

// LessThan returns true if f < o.
func (f Fraction) LessThan(o Fraction) bool { return f.Cmp(o) < 0 }

// LessOrEqual returns true if f <= o.
func (f Fraction) LessOrEqual(o Fraction) bool { return f.Cmp(o) <= 0 }

// ──────────────────────────────────────────────────
// Conversion
// ──────────────────────────────────────────────────

// ToLong expresses f in units of 1/divisor, truncating toward zero.
// ToLong(1) is the whole-unit count; ToLong(1000) counts thousandths.
func (f Fraction) ToLong(divisor int64) int64 {
	if divisor < 1 {
		panic(fmt.Sprintf("fraction: invalid divisor %d", divisor))
	}
	base := mulChecked(f.whole, divisor)
	if f.numerator == 0 {
		return base
	}
	// |numerator| < divisor of f, so the quotient always fits and Div64 cannot panic.
	hi, lo := bits.Mul64(uint64(absInt(f.numerator)), uint64(divisor))
	q, _ := bits.Div64(hi, lo, uint64(f.div()))
	if q > math.MaxInt64 {
		panic("fraction: overflow")
	}
	if f.numerator < 0 {
		return addChecked(base, -int64(q))
	}
	return addChecked(base, int64(q))
}

// RoundDown truncates f toward zero to a multiple of 1/divisor.
func (f Fraction) RoundDown(divisor int64) Fraction {
	return normalize(0, f.ToLong(divisor), divisor)
}

// Float64 returns an approximate floating point value, for display only.
func (f Fraction) Float64() float64 {
	return float64(f.whole) + float64(f.numerator)/float64(f.div())
}

// String renders f as "3", "1/3", "-1/3" or "2 1/3".
func (f Fraction) String() string {
	if f.numerator == 0 {
		return strconv.FormatInt(f.whole, 10)
	}
	if f.whole == 0 {
		return fmt.Sprintf("%d/%d", f.numerator, f.div())
	}
	return fmt.Sprintf("%d %d/%d", f.whole, absInt(f.numerator), f.div())
}

// ──────────────────────────────────────────────────
// Serialization
// ──────────────────────────────────────────────────

type fractionJSON struct {
	Whole     int64 `json:"whole"`
	Numerator int64 `json:"numerator"`
	Divisor   int64 `json:"divisor"`
}

// MarshalJSON implements json.Marshaler.
func (f Fraction) MarshalJSON() ([]byte, error) {
	return json.Marshal(fractionJSON{Whole: f.whole, Numerator: f.numerator, Divisor: f.div()})
}

// UnmarshalJSON implements json.Unmarshaler. Decoded values are re-normalized.
func (f *Fraction) UnmarshalJSON(data []byte) error {
	var raw fractionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := decodedFraction(raw.Whole, raw.Numerator, raw.Divisor)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// MarshalCBOR encodes f as a three element array.
func (f Fraction) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([3]int64{f.whole, f.numerator, f.div()})
}

// UnmarshalCBOR decodes a three element array. Decoded values are re-normalized.
func (f *Fraction) UnmarshalCBOR(data []byte) error {
	var raw [3]int64
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := decodedFraction(raw[0], raw[1], raw[2])
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// decodedFraction range-checks a decoded triple before normalizing it, so
// malformed input yields an error instead of an overflow panic.
func decodedFraction(whole, numerator, divisor int64) (Fraction, error) {
	if divisor < 1 {
		return ZeroFraction, ErrInvalidDivisor
	}
	if whole == math.MinInt64 || numerator == math.MinInt64 {
		return ZeroFraction, ErrFractionOverflow
	}
	carry := numerator / divisor
	if (carry > 0 && whole > math.MaxInt64-carry) || (carry < 0 && whole <= math.MinInt64-carry) {
		return ZeroFraction, ErrFractionOverflow
	}
	return normalize(whole, numerator, divisor), nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// normalize folds, sign-aligns and reduces whole + numerator/divisor.
func normalize(whole, numerator, divisor int64) Fraction {
	if divisor < 1 {
		panic(fmt.Sprintf("fraction: invalid divisor %d", divisor))
	}

	if numerator >= divisor || numerator <= -divisor {
		whole = addChecked(whole, numerator/divisor)
		numerator %= divisor
	}
	if numerator == 0 {
		return Fraction{whole: whole, divisor: 1}
	}

	switch {
	case whole > 0 && numerator < 0:
		whole--
		numerator += divisor
	case whole < 0 && numerator > 0:
		whole++
		numerator -= divisor
	}

	shift := min(bits.TrailingZeros64(uint64(absInt(numerator))), bits.TrailingZeros64(uint64(divisor)))
	numerator >>= shift
	divisor >>= shift

	if g := gcd(absInt(numerator), divisor); g > 1 {
		numerator /= g
		divisor /= g
	}

	return Fraction{whole: whole, numerator: numerator, divisor: divisor}
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func absInt(v int64) int64 {
	if v < 0 {
		if v == math.MinInt64 {
			panic("fraction: overflow")
		}
		return -v
	}
	return v
}

func addChecked(a, b int64) int64 {
	c := a + b
	if (c > a) != (b > 0) {
		panic("fraction: overflow")
	}
	return c
}

func mulChecked(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		panic("fraction: overflow")
	}
	c := a * b
	if c/b != a {
		panic("fraction: overflow")
	}
	return c
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
