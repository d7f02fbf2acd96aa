package instruction

import (
	"testing"

	"hypertree/pkg/market"
	"hypertree/pkg/region"
)

func testHeader() market.Header {
	return market.NewHeader(market.MintID{1}, market.MintID{2}, market.MintID{3}, market.MintID{4}, 6, 6)
}

func trader(b byte) market.TraderKey {
	var k market.TraderKey
	k[0] = b
	return k
}

func TestDecodePlaceOrderParamsRoundTrips(t *testing.T) {
	want := PlaceOrderParams{
		BaseAtoms: 12345, PriceMantissa: 100, PriceExponent: -2,
		IsBid: true, LastValidSlot: 99, OrderType: 1, ReverseSpreadBps: 50,
	}
	got, err := DecodePlaceOrderParams(EncodePlaceOrderParams(want))
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestDecodeSwapParams(t *testing.T) {
	b := make([]byte, swapParamsSize)
	copy(b[0:8], []byte{100, 0, 0, 0, 0, 0, 0, 0})
	copy(b[8:16], []byte{50, 0, 0, 0, 0, 0, 0, 0})
	b[16] = 1
	b[17] = 1
	p, err := DecodeSwapParams(b)
	if err != nil {
		t.Fatal(err)
	}
	if p.InAtoms != 100 || p.OutAtoms != 50 || !p.IsBaseIn || !p.IsExactIn {
		t.Fatalf("decoded wrong: %+v", p)
	}
}

func TestDecodeShortBufferErrors(t *testing.T) {
	if _, err := DecodeDepositParams(nil); err != ErrShortBuffer {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
	if _, err := DecodeSwapParams([]byte{1, 2, 3}); err != ErrShortBuffer {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
}

func TestBatchUpdateParamsRoundTrip(t *testing.T) {
	want := BatchUpdateParams{
		SeatHint: region.BlockIndex(7),
		Cancels: []CancelParams{
			{OrderSeq: 1, Hint: region.NilIndex},
			{OrderSeq: 2, Hint: region.BlockIndex(3)},
		},
		Orders: []PlaceOrderParams{
			{BaseAtoms: 10, PriceMantissa: 1, IsBid: true, OrderType: 0},
		},
	}
	got, err := DecodeBatchUpdateParams(EncodeBatchUpdateParams(want))
	if err != nil {
		t.Fatal(err)
	}
	if got.SeatHint != want.SeatHint || len(got.Cancels) != 2 || len(got.Orders) != 1 {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if got.Cancels[1].Hint != region.BlockIndex(3) {
		t.Fatalf("cancel hint mismatch: %+v", got.Cancels[1])
	}
}

func TestDispatcherPlaceOrderAndCancel(t *testing.T) {
	d := NewDispatcher(testHeader(), 16)
	seat, err := d.ClaimSeat(trader(1))
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Market.DepositQuote(seat, 1000); err != nil {
		t.Fatal(err)
	}

	res, err := d.PlaceOrder(seat, PlaceOrderParams{
		BaseAtoms: 10, PriceMantissa: 1, IsBid: true, OrderType: 0,
	}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Resting {
		t.Fatalf("expected order to rest, got %+v", res)
	}

	if err := d.Cancel(res.Seq, res.RestingIdx); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	seatState, _ := d.Market.Seat(seat)
	if seatState.QuoteWithdrawable != 1000 {
		t.Fatalf("expected funds restored, got %d", seatState.QuoteWithdrawable)
	}
}

func TestDispatcherCancelWithoutHintScansBothSides(t *testing.T) {
	d := NewDispatcher(testHeader(), 16)
	seat, err := d.ClaimSeat(trader(1))
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Market.DepositBase(seat, 100); err != nil {
		t.Fatal(err)
	}

	res, err := d.PlaceOrder(seat, PlaceOrderParams{
		BaseAtoms: 10, PriceMantissa: 1, IsBid: false, OrderType: 0,
	}, 1)
	if err != nil {
		t.Fatal(err)
	}

	// No hint supplied: Cancel must still find it by scanning both sides.
	if err := d.Cancel(res.Seq, region.NilIndex); err != nil {
		t.Fatalf("cancel without hint: %v", err)
	}
}

func TestDispatcherBatchUpdateCancelsThenPlaces(t *testing.T) {
	d := NewDispatcher(testHeader(), 16)
	seat, err := d.ClaimSeat(trader(1))
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Market.DepositBase(seat, 1000); err != nil {
		t.Fatal(err)
	}

	first, err := d.PlaceOrder(seat, PlaceOrderParams{
		BaseAtoms: 10, PriceMantissa: 1, IsBid: false, OrderType: 0,
	}, 1)
	if err != nil {
		t.Fatal(err)
	}

	results, err := d.BatchUpdate(trader(1), BatchUpdateParams{
		SeatHint: seat,
		Cancels:  []CancelParams{{OrderSeq: uint64(first.Seq), Hint: region.BlockIndex(first.RestingIdx)}},
		Orders: []PlaceOrderParams{
			{BaseAtoms: 20, PriceMantissa: 2, IsBid: false, OrderType: 0},
		},
	}, 1)
	if err != nil {
		t.Fatalf("batch update: %v", err)
	}
	if len(results) != 1 || !results[0].Resting {
		t.Fatalf("expected the new order to rest, got %+v", results)
	}
	if d.Market.BestAsk() != results[0].RestingIdx {
		t.Fatalf("expected new order to be best ask")
	}
}

func TestSwapExactInBaseForQuote(t *testing.T) {
	d := NewDispatcher(testHeader(), 16)
	maker, err := d.ClaimSeat(trader(1))
	if err != nil {
		t.Fatal(err)
	}
	taker, err := d.ClaimSeat(trader(2))
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Market.DepositQuote(maker, 1000); err != nil {
		t.Fatal(err)
	}
	if err := d.Market.DepositBase(taker, 1000); err != nil {
		t.Fatal(err)
	}

	if _, err := d.PlaceOrder(maker, PlaceOrderParams{
		BaseAtoms: 100, PriceMantissa: 1, IsBid: true, OrderType: 0,
	}, 1); err != nil {
		t.Fatal(err)
	}

	res, err := d.Swap(trader(2), taker, SwapParams{
		InAtoms: 100, OutAtoms: 100, IsBaseIn: true, IsExactIn: true,
	}, 1)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if res.FilledBase != 100 {
		t.Fatalf("expected 100 base filled, got %d", res.FilledBase)
	}
	takerSeat, _ := d.Market.Seat(taker)
	if takerSeat.QuoteWithdrawable != 100 {
		t.Fatalf("expected 100 quote received, got %d", takerSeat.QuoteWithdrawable)
	}
}

func TestSwapRejectsOnSlippageWithoutMutatingBook(t *testing.T) {
	d := NewDispatcher(testHeader(), 16)
	maker, err := d.ClaimSeat(trader(1))
	if err != nil {
		t.Fatal(err)
	}
	taker, err := d.ClaimSeat(trader(2))
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Market.DepositQuote(maker, 1000); err != nil {
		t.Fatal(err)
	}
	if err := d.Market.DepositBase(taker, 1000); err != nil {
		t.Fatal(err)
	}

	if _, err := d.PlaceOrder(maker, PlaceOrderParams{
		BaseAtoms: 10, PriceMantissa: 1, IsBid: true, OrderType: 0,
	}, 1); err != nil {
		t.Fatal(err)
	}

	_, err = d.Swap(trader(2), taker, SwapParams{
		InAtoms: 100, OutAtoms: 100, IsBaseIn: true, IsExactIn: true,
	}, 1)
	if err != ErrSwapSlippage {
		t.Fatalf("expected ErrSwapSlippage (only 10 base resting, wanted 100), got %v", err)
	}

	if d.Market.BestBid().IsNil() {
		t.Fatalf("rejected swap must not touch the resting maker")
	}
}

func TestGlobalLifecycleThroughDispatcher(t *testing.T) {
	d := NewDispatcher(testHeader(), 16)
	d.GlobalCreate(GlobalCreateParams{Mint: [32]byte{9}, Capacity: 8}, 8)

	maker, err := d.ClaimSeat(trader(1))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := d.GlobalDeposit(trader(1), AmountParams{Amount: 50}); err != nil {
		t.Fatal(err)
	}

	res, err := d.PlaceOrder(maker, PlaceOrderParams{
		BaseAtoms: 50, PriceMantissa: 1, IsBid: false, OrderType: 3, // OrderGlobal
	}, 1)
	if err != nil {
		t.Fatalf("global place: %v", err)
	}
	if !res.Resting {
		t.Fatalf("expected global order to rest")
	}

	if _, err := d.GlobalClean(GlobalCleanParams{OrderSeq: uint64(res.Seq), Hint: region.BlockIndex(res.RestingIdx)}); err != market.ErrGlobalOrderStillBacked {
		t.Fatalf("expected still-backed rejection, got %v", err)
	}

	if err := d.GlobalWithdraw(trader(1), AmountParams{Amount: 45}); err != nil {
		t.Fatal(err)
	}

	bounty, err := d.GlobalClean(GlobalCleanParams{OrderSeq: uint64(res.Seq), Hint: region.BlockIndex(res.RestingIdx)})
	if err != nil {
		t.Fatalf("expected clean to succeed once underbacked: %v", err)
	}
	_ = bounty
	if !d.Market.BestAsk().IsNil() {
		t.Fatalf("expected global order to be swept")
	}
}

func TestGlobalEvictThroughDispatcher(t *testing.T) {
	d := NewDispatcher(testHeader(), 16)
	d.GlobalCreate(GlobalCreateParams{Mint: [32]byte{9}, Capacity: 8}, 8)
	if _, err := d.GlobalDeposit(trader(1), AmountParams{Amount: 10}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.GlobalDeposit(trader(2), AmountParams{Amount: 20}); err != nil {
		t.Fatal(err)
	}
	ev, err := d.GlobalEvict()
	if err != nil {
		t.Fatal(err)
	}
	if ev.Trader != trader(1) || ev.Balance != 10 {
		t.Fatalf("expected trader 1 (min balance) evicted, got %+v", ev)
	}
}
