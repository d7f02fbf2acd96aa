// Package codec holds the little-endian wire-format helpers shared by
// every payload type persisted in the hypertree's dynamic region, plus
// the Price rational type used throughout matching.
package codec

import (
	"encoding/binary"
	"errors"
	"math/big"
	"math/bits"
)

// ErrOverflow reports a quote-atom computation that does not fit in a
// uint64 — a crafted (price, size) pair, not a programming-error
// abort, so callers surface it the same as market.ErrOverflow rather
// than crashing the process (spec.md §7: arithmetic overflow is a
// per-instruction failure).
var ErrOverflow = errors.New("codec: quote atoms overflow uint64")

// Price is mantissa * 10^exponent, compared by cross-multiplication so
// that distinct (mantissa, exponent) pairs representing the same value
// compare equal. Exponent is constrained to [-20, 20] by construction
// at the instruction-decode boundary; Price itself does not enforce
// the range so that tests can exercise edge values directly.
type Price struct {
	Mantissa uint32
	Exponent int8
}

// Compare returns -1, 0, or 1 as p's value is less than, equal to, or
// greater than q's value. Implemented by scaling the mantissa of
// whichever side has the larger exponent by 10^(difference), so both
// sides share the smaller exponent, then comparing in big.Int (exponents up to +/-20 can overflow a 64-bit
// intermediate, hence big.Int rather than native multiplication).
func (p Price) Compare(q Price) int {
	lhs := new(big.Int).SetUint64(uint64(p.Mantissa))
	rhs := new(big.Int).SetUint64(uint64(q.Mantissa))
	switch {
	case p.Exponent > q.Exponent:
		lhs.Mul(lhs, pow10(int(p.Exponent)-int(q.Exponent)))
	case q.Exponent > p.Exponent:
		rhs.Mul(rhs, pow10(int(q.Exponent)-int(p.Exponent)))
	}
	return lhs.Cmp(rhs)
}

// Equal reports whether p and q represent the same rational value.
func (p Price) Equal(q Price) bool { return p.Compare(q) == 0 }

// Less reports whether p < q.
func (p Price) Less(q Price) bool { return p.Compare(q) < 0 }

// Fraction renders the price as an exact quote-atoms-per-base-atom
// ratio (numerator, denominator), used by the matching engine's 128-
// bit fill computation to avoid floating point.
func (p Price) Fraction() (num, den *big.Int) {
	num = big.NewInt(int64(p.Mantissa))
	den = big.NewInt(1)
	if p.Exponent >= 0 {
		num.Mul(num, pow10(int(p.Exponent)))
	} else {
		den.Mul(den, pow10(int(-p.Exponent)))
	}
	return num, den
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// QuoteAtomsForFill returns ceil-or-floor(baseAtoms * price) depending
// on roundUp, computed exactly via big.Int so that large atom counts
// and extreme exponents never lose precision. The matching engine
// rounds up on the taker's buy side and down on the taker's sell side,
// so the maker never receives less than its quoted price (spec.md
// §4.4). Returns ErrOverflow if the result does not fit in a uint64,
// rather than panicking — a crafted price/size pair is caller input,
// not a broken invariant.
func QuoteAtomsForFill(baseAtoms uint64, p Price, roundUp bool) (uint64, error) {
	num, den := p.Fraction()
	total := new(big.Int).SetUint64(baseAtoms)
	total.Mul(total, num)
	q, r := new(big.Int), new(big.Int)
	q.QuoRem(total, den, r)
	if roundUp && r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	if !q.IsUint64() {
		return 0, ErrOverflow
	}
	return q.Uint64(), nil
}

// Mul64Overflows reports whether a*b overflows a uint64, for the
// arithmetic-discipline requirement in spec.md §5 (all token math is
// checked; overflow is a hard instruction failure the caller reports
// after pre-checking here).
func Mul64Overflows(a, b uint64) bool {
	hi, _ := bits.Mul64(a, b)
	return hi != 0
}

func AddOverflows(a, b uint64) bool {
	sum := a + b
	return sum < a
}

/* ---- little-endian field helpers mirroring the teacher's
   EncodeBinary/DecodeBinary style for fixed-layout payloads ---- */

func PutUint32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func GetUint32(b []byte) uint32    { return binary.LittleEndian.Uint32(b) }
func PutUint64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }
func GetUint64(b []byte) uint64    { return binary.LittleEndian.Uint64(b) }
func PutUint16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }
func GetUint16(b []byte) uint16    { return binary.LittleEndian.Uint16(b) }
