package codec

import "testing"

func TestPriceCompareEquivalentRepresentations(t *testing.T) {
	a := Price{Mantissa: 100, Exponent: 0}
	b := Price{Mantissa: 1000, Exponent: -1}
	if !a.Equal(b) {
		t.Fatalf("expected %v == %v", a, b)
	}
	c := Price{Mantissa: 99, Exponent: 0}
	if !c.Less(a) {
		t.Fatalf("expected %v < %v", c, a)
	}
	if a.Less(c) {
		t.Fatalf("expected %v not < %v", a, c)
	}
}

func TestPriceCompareDifferentExponentSigns(t *testing.T) {
	big := Price{Mantissa: 1, Exponent: 20}
	small := Price{Mantissa: 1, Exponent: -20}
	if !small.Less(big) {
		t.Fatalf("expected %v < %v", small, big)
	}
}

func TestQuoteAtomsForFillRoundingFavorsMaker(t *testing.T) {
	price := Price{Mantissa: 1, Exponent: 0} // 1 quote atom per base atom, exact
	if got, err := QuoteAtomsForFill(7, price, true); err != nil || got != 7 {
		t.Fatalf("exact case roundUp: got %d err=%v want 7", got, err)
	}
	if got, err := QuoteAtomsForFill(7, price, false); err != nil || got != 7 {
		t.Fatalf("exact case roundDown: got %d err=%v want 7", got, err)
	}

	// price 1/3 isn't representable by mantissa/10^exp directly, so
	// instead verify a case with an exact fractional remainder:
	// mantissa=5, exponent=-1 => price 0.5 quote atoms per base atom.
	half := Price{Mantissa: 5, Exponent: -1}
	if got, err := QuoteAtomsForFill(3, half, true); err != nil || got != 2 {
		t.Fatalf("roundUp 3*0.5=1.5: got %d err=%v want 2", got, err)
	}
	if got, err := QuoteAtomsForFill(3, half, false); err != nil || got != 1 {
		t.Fatalf("roundDown 3*0.5=1.5: got %d err=%v want 1", got, err)
	}
}

func TestQuoteAtomsForFillReturnsErrorOnOverflow(t *testing.T) {
	price := Price{Mantissa: 1, Exponent: 20}
	if _, err := QuoteAtomsForFill(^uint64(0), price, true); err != ErrOverflow {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestOverflowHelpers(t *testing.T) {
	if !Mul64Overflows(1<<40, 1<<40) {
		t.Fatalf("expected overflow")
	}
	if Mul64Overflows(2, 3) {
		t.Fatalf("expected no overflow")
	}
	if !AddOverflows(^uint64(0), 1) {
		t.Fatalf("expected add overflow")
	}
	if AddOverflows(1, 1) {
		t.Fatalf("expected no add overflow")
	}
}
