package market

import (
	"errors"
	"fmt"
	"math/big"

	"hypertree/pkg/codec"
	"hypertree/pkg/region"
)

var (
	ErrPostOnlyCrossed        = errors.New("market: post-only order would cross the book")
	ErrGlobalTakerUnsupported = errors.New("market: a Global order may only rest, not cross as taker")
)

// GlobalSettler is the L6 boundary L4 calls through when a maker's
// resting order is of OrderGlobal type (spec.md §4.6 JIT settlement).
// market never imports pkg/globalacct directly; pkg/globalacct
// implements this interface over its own GlobalDeposit tree, keeping
// the dependency pointed the direction spec.md's layer table intends
// (L6 depends on L3/L4, not the reverse) while still letting L4 call
// into L6 through a narrow, L4-defined seam.
type GlobalSettler interface {
	// DebitGlobal attempts to remove amount base atoms from trader's
	// pooled deposit. ok=false (err=nil) means insufficient backing:
	// the caller must drop the Global maker and continue matching,
	// per spec.md §4.6 — this is not a hard failure.
	DebitGlobal(trader TraderKey, amount uint64) (ok bool, err error)

	// PeekGlobalBalance reports trader's current pooled balance without
	// modifying it, used by CleanGlobalOrder (opcode 12) to decide
	// whether a resting Global order is still backed.
	PeekGlobalBalance(trader TraderKey) (uint64, error)
}

// PlaceParams are the inputs to Place, per spec.md §4.4.
//
// A Global order may only be placed on the ask side: it funds its
// base leg from a cross-market pool rather than this market's seat,
// and that pool can only be drawn down safely by a resting maker
// caught by a later taker, not speculatively by an in-flight taker
// without a rollback mechanism this single-pass engine does not have.
// Place rejects Type == OrderGlobal combined with Side == SideBid, and
// treats a Global order as maker-only, resting-only.
type PlaceParams struct {
	Side             Side
	BaseAtoms        uint64
	Price            codec.Price
	ExpirationSlot   HostSlot
	Type             OrderType
	ReverseSpreadBps uint16
	SeatIdx          region.BlockIndex
	CurrentSlot      HostSlot
	Global           GlobalSettler // required once any Global maker can rest on this market

	// GasPrepaidLamports funds a future permissionless GlobalClean call
	// (opcode 12). Only meaningful when Type == OrderGlobal.
	GasPrepaidLamports uint64
}

// Fill records one executed trade, surfaced so callers can publish it
// to the trade tape / outbox (internal/feed, internal/outbox).
type Fill struct {
	TakerSeq   OrderSeq
	MakerSeq   OrderSeq
	MakerSide  Side
	BaseAtoms  uint64
	QuoteAtoms uint64
	MakerPrice codec.Price
}

// PlaceResult is what Place returns to the instruction-dispatch layer.
type PlaceResult struct {
	Seq        OrderSeq
	FilledBase uint64
	Resting    bool
	RestingIdx region.BlockIndex
	Fills      []Fill
}

// Place executes spec.md §4.4's procedure: expire-on-touch, a
// PostOnly crossed-book check, matching against the opposing side in
// price-time priority, then resting any permitted residual. PostOnly
// is rejected before its match loop would even run, so a PostOnly
// rejection never leaves a partial resting order behind.
func (m *Market) Place(p PlaceParams) (PlaceResult, error) {
	if p.Type == OrderGlobal && p.Side == SideBid {
		return PlaceResult{}, ErrGlobalTakerUnsupported
	}

	taker := RestingOrder{
		Price:              p.Price,
		BaseAtoms:          p.BaseAtoms,
		Seq:                m.nextSeq(),
		TraderIndex:        p.SeatIdx,
		LastValidSlot:      p.ExpirationSlot,
		Side:               p.Side,
		Type:               p.Type,
		ReverseSpreadBps:   p.ReverseSpreadBps,
		GasPrepaidLamports: p.GasPrepaidLamports,
	}

	opposite := oppositeSide(p.Side)
	m.expireOnTouch(opposite, p.CurrentSlot)

	if p.Type == OrderPostOnly {
		if bestIdx := m.bestOf(opposite); !bestIdx.IsNil() {
			best := m.Order(bestIdx)
			if crosses(taker.Side, taker.Price, best.Price) {
				return PlaceResult{}, ErrPostOnlyCrossed
			}
		}
	}

	var fills []Fill
	var filledAsTaker uint64
	remaining := taker.BaseAtoms

	for remaining > 0 && taker.Type.AllowedToCross() {
		makerIdx := m.bestOf(opposite)
		if makerIdx.IsNil() {
			break
		}
		maker := m.Order(makerIdx)
		if !crosses(taker.Side, taker.Price, maker.Price) {
			break
		}

		fillBase := remaining
		if maker.BaseAtoms < fillBase {
			fillBase = maker.BaseAtoms
		}
		quoteAtoms, err := codec.QuoteAtomsForFill(fillBase, maker.Price, taker.Side == SideBid)
		if err != nil {
			return PlaceResult{}, err
		}

		ok, err := m.settleFill(taker.Side, maker, makerIdx, p.SeatIdx, fillBase, quoteAtoms, p.Global)
		if err != nil {
			return PlaceResult{}, err
		}
		if !ok {
			// Unbacked Global maker: already removed inside
			// settleFill, no funds moved, taker's remaining is
			// untouched. Retry against the new best.
			continue
		}

		remaining -= fillBase
		filledAsTaker += fillBase
		fills = append(fills, Fill{
			TakerSeq:   taker.Seq,
			MakerSeq:   maker.Seq,
			MakerSide:  maker.Side,
			BaseAtoms:  fillBase,
			QuoteAtoms: quoteAtoms,
			MakerPrice: maker.Price,
		})

		newMakerRemaining := maker.BaseAtoms - fillBase
		if newMakerRemaining == 0 {
			m.freeOrderSlot(opposite, makerIdx)
		} else {
			maker.BaseAtoms = newMakerRemaining
			m.putOrder(makerIdx, maker)
		}
		if maker.Type == OrderReverse {
			m.flipInsert(maker, fillBase)
		}
	}

	result := PlaceResult{Seq: taker.Seq, FilledBase: filledAsTaker, Fills: fills}

	if remaining > 0 && taker.Type.RestsOnPartial() {
		taker.BaseAtoms = remaining
		idx, err := m.insertResting(taker, p.SeatIdx)
		if err != nil {
			return PlaceResult{}, err
		}
		result.Resting = true
		result.RestingIdx = idx
	}

	if taker.Type == OrderReverse && filledAsTaker > 0 {
		// The portion filled as taker flips immediately, same as a
		// Reverse maker would on being hit.
		m.flipInsert(RestingOrder{
			Price:            taker.Price,
			Seq:              taker.Seq,
			TraderIndex:      p.SeatIdx,
			Side:             taker.Side,
			Type:             OrderReverse,
			ReverseSpreadBps: taker.ReverseSpreadBps,
		}, filledAsTaker)
	}

	m.refreshBestCache()
	return result, nil
}

// PreviewSwap walks the opposite side of the book computing a
// market-style fill without mutating any state, so opcode 4/13 (Swap /
// SwapV2) can validate a slippage bound before committing via Place
// with the exact same trade size — since nothing else mutates the
// book between the two calls, Place reproduces this preview exactly.
//
// inIsBase selects which leg is the caller's budget: true means the
// taker provides base (a market sell, walking resting bids highest
// first), false means the taker provides quote (a market buy, walking
// resting asks lowest first). exactIn requires the full inBudget to be
// consumed before success is possible; otherwise inBudget is treated
// as a cap and the walk stops as soon as outTarget is reached.
func (m *Market) PreviewSwap(inIsBase bool, inBudget, outTarget uint64, exactIn bool) (filledIn, filledOut uint64, ok bool) {
	takerSide := SideAsk
	if !inIsBase {
		takerSide = SideBid
	}
	opposite := oppositeSide(takerSide)
	tree := m.treeFor(opposite)
	var idx region.BlockIndex
	if opposite == SideBid {
		idx = tree.MaxIndex()
	} else {
		idx = tree.MinIndex()
	}

	remainingIn := inBudget
	for remainingIn > 0 && !idx.IsNil() {
		maker := m.Order(idx)

		if inIsBase {
			fillBase := remainingIn
			if maker.BaseAtoms < fillBase {
				fillBase = maker.BaseAtoms
			}
			quote, err := codec.QuoteAtomsForFill(fillBase, maker.Price, false)
			if err != nil {
				break
			}
			filledIn += fillBase
			filledOut += quote
			remainingIn -= fillBase
		} else {
			num, den := maker.Price.Fraction()
			budget := new(big.Int).SetUint64(remainingIn)
			affordable := budget.Mul(budget, den)
			affordable.Quo(affordable, num)
			fillBase := maker.BaseAtoms
			if affordable.IsUint64() && affordable.Uint64() < fillBase {
				fillBase = affordable.Uint64()
			}
			if fillBase == 0 {
				break
			}
			quote, err := codec.QuoteAtomsForFill(fillBase, maker.Price, true)
			if err != nil {
				break
			}
			if quote > remainingIn {
				quote = remainingIn
			}
			filledIn += quote
			filledOut += fillBase
			remainingIn -= quote
		}

		if !exactIn && filledOut >= outTarget {
			break
		}
		if opposite == SideBid {
			idx = tree.Predecessor(idx)
		} else {
			idx = tree.Successor(idx)
		}
	}

	if exactIn {
		ok = filledIn == inBudget && filledOut >= outTarget
	} else {
		ok = filledOut >= outTarget
	}
	return filledIn, filledOut, ok
}

// bestOf returns the current best resting index for side.
func (m *Market) bestOf(side Side) region.BlockIndex {
	if side == SideBid {
		return m.BestBid()
	}
	return m.BestAsk()
}

// settleFill applies one fill's fund movement. Returns ok=false
// (no error) when the maker is an unbacked Global order: the maker is
// removed and the caller must retry against the new best.
func (m *Market) settleFill(takerSide Side, maker RestingOrder, makerIdx region.BlockIndex, takerSeat region.BlockIndex, baseAtoms, quoteAtoms uint64, global GlobalSettler) (bool, error) {
	if maker.Type == OrderGlobal {
		if takerSide != SideBid {
			// A Global maker only ever rests on the ask side (Place
			// rejects Global bids), so the taker here is always a
			// buyer; this branch exists purely as an invariant guard.
			return false, fmt.Errorf("market: global maker %d resting on unexpected side", maker.Seq)
		}
		if global == nil {
			return false, fmt.Errorf("market: global maker order %d has no GlobalSettler wired", maker.Seq)
		}
		makerSeat, err := m.Seat(maker.TraderIndex)
		if err != nil {
			return false, err
		}
		ok, err := global.DebitGlobal(makerSeat.Trader, baseAtoms)
		if err != nil {
			return false, err
		}
		if !ok {
			m.freeOrderSlot(oppositeSide(takerSide), makerIdx)
			return false, nil
		}
		return true, m.applyFillGlobalMakerAsk(takerSeat, baseAtoms, quoteAtoms, maker.TraderIndex)
	}

	buyerSeat, sellerSeat := takerSeat, maker.TraderIndex
	takerIsBuyer := takerSide == SideBid
	if !takerIsBuyer {
		buyerSeat, sellerSeat = maker.TraderIndex, takerSeat
	}
	return true, m.applyFill(buyerSeat, sellerSeat, baseAtoms, quoteAtoms, takerIsBuyer)
}

// applyFillGlobalMakerAsk credits the taker (buyer) its base leg and
// debits its quote leg — the taker locks nothing up front, so this
// fill is the only place its outgoing quote is ever removed — while
// the Global maker's market seat is credited only the quote leg; its
// base leg was already settled against the global pool.
func (m *Market) applyFillGlobalMakerAsk(buyerSeat region.BlockIndex, baseAtoms, quoteAtoms uint64, makerSeatIdx region.BlockIndex) error {
	buyer, err := m.Seat(buyerSeat)
	if err != nil {
		return err
	}
	maker, err := m.Seat(makerSeatIdx)
	if err != nil {
		return err
	}
	if codec.AddOverflows(buyer.BaseWithdrawable, baseAtoms) {
		return ErrOverflow
	}
	if codec.AddOverflows(buyer.LifetimeQuoteVolume, quoteAtoms) {
		return ErrOverflow
	}
	if codec.AddOverflows(maker.QuoteWithdrawable, quoteAtoms) {
		return ErrOverflow
	}
	if codec.AddOverflows(maker.LifetimeQuoteVolume, quoteAtoms) {
		return ErrOverflow
	}
	if buyer.QuoteWithdrawable < quoteAtoms {
		return ErrInsufficientFunds
	}
	buyer.BaseWithdrawable += baseAtoms
	buyer.LifetimeQuoteVolume += quoteAtoms
	buyer.QuoteWithdrawable -= quoteAtoms
	maker.QuoteWithdrawable += quoteAtoms
	maker.LifetimeQuoteVolume += quoteAtoms
	m.putSeat(buyerSeat, buyer)
	m.putSeat(makerSeatIdx, maker)
	m.Header.CumulativeQuoteVolume += quoteAtoms
	return nil
}

// expireOnTouch drops resting orders whose last_valid_slot has passed,
// starting from the best of side, repeating until the best is live or
// the side is empty (spec.md §4.4 step 1).
func (m *Market) expireOnTouch(side Side, currentSlot HostSlot) {
	for {
		idx := m.bestOf(side)
		if idx.IsNil() {
			return
		}
		o := m.Order(idx)
		if o.LastValidSlot == 0 || o.LastValidSlot >= currentSlot {
			return
		}
		m.removeResting(side, idx)
	}
}

// freeOrderSlot deletes a resting order from its tree, frees its slot
// and decrements its seat's live-order count, without touching any
// locked funds. Used when a maker is removed because it was fully
// filled: its locked funds were already moved by applyFill, so
// unlocking them again here would mint free balance.
func (m *Market) freeOrderSlot(side Side, idx region.BlockIndex) RestingOrder {
	o := m.Order(idx)
	freed := m.treeFor(side).Remove(idx)
	_ = m.Region.Free(freed)
	m.liveOrders[o.TraderIndex]--
	return o
}

// removeResting is freeOrderSlot plus restoring the funds the order
// had locked — the cancel/expire path, where the order never traded
// and its reservation must come back in full (Global orders locked no
// funds on this market, so nothing is restored for them).
func (m *Market) removeResting(side Side, idx region.BlockIndex) {
	o := m.freeOrderSlot(side, idx)
	if o.Type == OrderGlobal {
		return
	}
	if side == SideBid {
		_ = m.unlockBid(o.TraderIndex, o.BaseAtoms, o.Price)
	} else {
		_ = m.unlockAsk(o.TraderIndex, o.BaseAtoms)
	}
}

// Cancel removes a live resting order, restoring its locked funds.
func (m *Market) Cancel(side Side, idx region.BlockIndex) error {
	if idx.IsNil() || idx >= region.BlockIndex(m.Region.Len()) {
		return ErrOrderNotFound
	}
	if m.Region.Slot(idx).Tag != TagRestingOrder {
		return ErrOrderNotFound
	}
	m.removeResting(side, idx)
	m.refreshBestCache()
	return nil
}

// ErrGlobalOrderStillBacked is returned by CleanGlobalOrder when the
// targeted order's pool balance still covers its remaining size, so
// there is nothing to clean up.
var ErrGlobalOrderStillBacked = errors.New("market: global order is still fully backed")

// CleanGlobalOrder implements opcode 12 (GlobalClean): a permissionless
// sweep that removes a resting Global ask whose pool backing has
// dropped below its remaining size, paying the caller the gas bounty
// the order's placer prepaid (spec.md §4.6). It returns the bounty so
// the instruction layer can transfer it to whoever submitted the call.
func (m *Market) CleanGlobalOrder(idx region.BlockIndex, settler GlobalSettler) (uint64, error) {
	if idx.IsNil() || idx >= region.BlockIndex(m.Region.Len()) {
		return 0, ErrOrderNotFound
	}
	if m.Region.Slot(idx).Tag != TagRestingOrder {
		return 0, ErrOrderNotFound
	}
	o := m.Order(idx)
	if o.Type != OrderGlobal {
		return 0, fmt.Errorf("market: order %d is not a global order", o.Seq)
	}
	seat, err := m.Seat(o.TraderIndex)
	if err != nil {
		return 0, err
	}
	balance, err := settler.PeekGlobalBalance(seat.Trader)
	if err != nil {
		return 0, err
	}
	if balance >= o.BaseAtoms {
		return 0, ErrGlobalOrderStillBacked
	}
	// Global orders lock no market funds, so a plain freeOrderSlot
	// (not removeResting) is correct here too.
	m.freeOrderSlot(o.Side, idx)
	m.refreshBestCache()
	return o.GasPrepaidLamports, nil
}

func (m *Market) putOrder(idx region.BlockIndex, o RestingOrder) {
	slot := m.Region.Slot(idx)
	o.EncodeInto(&slot.Payload)
}

// insertResting locks the residual's funds (unless it is a Global
// order, which draws on the pool instead), allocates a slot, and
// inserts it into the appropriate side tree.
func (m *Market) insertResting(o RestingOrder, seatIdx region.BlockIndex) (region.BlockIndex, error) {
	if o.Type != OrderGlobal {
		var err error
		if o.Side == SideBid {
			err = m.lockForBid(seatIdx, o.BaseAtoms, o.Price)
		} else {
			err = m.lockForAsk(seatIdx, o.BaseAtoms)
		}
		if err != nil {
			return region.NilIndex, err
		}
	}
	idx, err := m.Region.Allocate()
	if err != nil {
		return region.NilIndex, err
	}
	slot := m.Region.Slot(idx)
	slot.Tag = TagRestingOrder
	o.EncodeInto(&slot.Payload)
	m.treeFor(o.Side).Insert(idx)
	m.liveOrders[seatIdx]++
	return idx, nil
}

// flipInsert re-inserts a Reverse order's filled portion on the
// opposite side at the spread-adjusted price (spec.md §4.4 / §8
// scenario 5). The funds for this new resting order are exactly the
// proceeds the fill just credited to seatIdx's withdrawable balance,
// so locking it here draws from funds already present.
func (m *Market) flipInsert(filled RestingOrder, filledBase uint64) {
	if filledBase == 0 {
		return
	}
	flipSide := oppositeSide(filled.Side)
	flipped := RestingOrder{
		Price:            reversePrice(filled.Price, filled.ReverseSpreadBps, filled.Side),
		BaseAtoms:        filledBase,
		Seq:              m.nextSeq(),
		TraderIndex:      filled.TraderIndex,
		LastValidSlot:    0,
		Side:             flipSide,
		Type:             OrderReverse,
		ReverseSpreadBps: filled.ReverseSpreadBps,
	}
	_, _ = m.insertResting(flipped, filled.TraderIndex)
}

// crosses reports whether a resting maker at makerPrice would trade
// against a taker at takerPrice: a bid crosses asks at or below its
// price, an ask crosses bids at or above its price.
func crosses(takerSide Side, takerPrice, makerPrice codec.Price) bool {
	if takerSide == SideBid {
		return makerPrice.Compare(takerPrice) <= 0
	}
	return makerPrice.Compare(takerPrice) >= 0
}

func oppositeSide(s Side) Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

// reversePrice computes the flip price for a Reverse order's residual
// re-insertion: a filled ask flips to a bid at price*(1-spread), a
// filled bid flips to an ask at price*(1+spread) (spec.md §4.4 / §8
// scenario 5).
func reversePrice(p codec.Price, spreadBps uint16, filledSide Side) codec.Price {
	factor := int64(10000)
	if filledSide == SideAsk {
		factor -= int64(spreadBps)
	} else {
		factor += int64(spreadBps)
	}
	newMantissa := (int64(p.Mantissa) * factor) / 10000
	if newMantissa < 0 {
		newMantissa = 0
	}
	return codec.Price{Mantissa: uint32(newMantissa), Exponent: p.Exponent}
}
