package instruction

import (
	"errors"
	"math"

	"hypertree/pkg/codec"
	"hypertree/pkg/globalacct"
	"hypertree/pkg/market"
	"hypertree/pkg/region"
)

var (
	ErrSwapSlippage    = errors.New("instruction: swap would violate its in/out bound")
	ErrNoGlobalAccount = errors.New("instruction: market has no global account attached")
)

// Dispatcher is the L7 entry point: one market paired with (at most)
// one attached global account, the wiring a single instruction stream
// addresses (spec.md §6.1). Nothing here owns any persistence — it
// drives pkg/market and pkg/globalacct exactly as a host transaction
// handler would.
type Dispatcher struct {
	Market *market.Market
	Global *globalacct.Account
}

// NewDispatcher implements opcode 0 (CreateMarket): an empty market
// with a freshly initialized header.
func NewDispatcher(header market.Header, initialCapacity uint32) *Dispatcher {
	return &Dispatcher{Market: market.NewMarket(header, initialCapacity)}
}

// AttachGlobal wires a global account (opcode 7, GlobalCreate, is the
// account's own constructor — globalacct.Create) so that Global orders
// placed on this market can settle against it.
func (d *Dispatcher) AttachGlobal(acct *globalacct.Account) { d.Global = acct }

func (d *Dispatcher) resolveSeat(trader market.TraderKey, hint region.BlockIndex) (region.BlockIndex, error) {
	if !hint.IsNil() {
		if seat, err := d.Market.Seat(hint); err == nil && seat.Trader == trader {
			return hint, nil
		}
	}
	return d.Market.FindSeat(trader)
}

// ClaimSeat implements opcode 1.
func (d *Dispatcher) ClaimSeat(trader market.TraderKey) (region.BlockIndex, error) {
	return d.Market.ClaimSeat(trader)
}

// Deposit implements opcode 2.
func (d *Dispatcher) Deposit(trader market.TraderKey, p DepositParams) error {
	seatIdx, err := d.resolveSeat(trader, p.SeatHint)
	if err != nil {
		return err
	}
	if p.IsBase {
		return d.Market.DepositBase(seatIdx, p.Amount)
	}
	return d.Market.DepositQuote(seatIdx, p.Amount)
}

// Withdraw implements opcode 3.
func (d *Dispatcher) Withdraw(trader market.TraderKey, p WithdrawParams) error {
	seatIdx, err := d.resolveSeat(trader, p.SeatHint)
	if err != nil {
		return err
	}
	if p.IsBase {
		return d.Market.WithdrawBase(seatIdx, p.Amount)
	}
	return d.Market.WithdrawQuote(seatIdx, p.Amount)
}

// Expand implements opcode 5.
func (d *Dispatcher) Expand(p ExpandParams) {
	d.Market.Expand(p.Blocks)
}

// PlaceOrder applies one PlaceOrderParams against the market, shared
// by direct order placement and BatchUpdate. The opcode-4/13 Swap
// variants commit through Market.Place directly.
func (d *Dispatcher) PlaceOrder(seatIdx region.BlockIndex, p PlaceOrderParams, currentSlot market.HostSlot) (market.PlaceResult, error) {
	side := market.SideAsk
	if p.IsBid {
		side = market.SideBid
	}
	return d.Market.Place(market.PlaceParams{
		Side:             side,
		BaseAtoms:        p.BaseAtoms,
		Price:            priceOf(p),
		ExpirationSlot:   market.HostSlot(p.LastValidSlot),
		Type:             market.OrderType(p.OrderType),
		ReverseSpreadBps: p.ReverseSpreadBps,
		SeatIdx:          seatIdx,
		CurrentSlot:      currentSlot,
		Global:           d.Global,
	})
}

func priceOf(p PlaceOrderParams) codec.Price {
	return codec.Price{Mantissa: p.PriceMantissa, Exponent: p.PriceExponent}
}

// Cancel resolves seq (optionally via hint) and removes the resting
// order, restoring its locked funds.
func (d *Dispatcher) Cancel(seq market.OrderSeq, hint region.BlockIndex) error {
	side, idx, err := d.Market.FindOrderByHintAnySide(seq, hint)
	if err != nil {
		return err
	}
	return d.Market.Cancel(side, idx)
}

// BatchUpdate implements opcode 6: cancels first, then places, all
// against one resolved seat, in the order submitted (spec.md §6.1).
// A failure partway through still reflects every mutation applied so
// far in the in-memory Market — exactly like every other opcode, the
// host is responsible for discarding the whole transaction's writes on
// error (spec.md §7: "either... succeeds and all declared mutations
// are visible, or it fails and no mutation is visible" is a host-level
// guarantee, not one this engine enforces internally).
func (d *Dispatcher) BatchUpdate(trader market.TraderKey, p BatchUpdateParams, currentSlot market.HostSlot) ([]market.PlaceResult, error) {
	seatIdx, err := d.resolveSeat(trader, p.SeatHint)
	if err != nil {
		return nil, err
	}

	for _, c := range p.Cancels {
		if err := d.Cancel(market.OrderSeq(c.OrderSeq), c.Hint); err != nil {
			return nil, err
		}
	}

	results := make([]market.PlaceResult, 0, len(p.Orders))
	for _, o := range p.Orders {
		res, err := d.PlaceOrder(seatIdx, o, currentSlot)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Swap implements opcode 4 (and, via SwapV2, opcode 13): it previews
// the trade against the current book without mutating anything, and
// only commits via Market.Place once the in/out bound is satisfied, so a
// rejected swap leaves the market untouched (see market.PreviewSwap).
func (d *Dispatcher) Swap(trader market.TraderKey, seatHint region.BlockIndex, p SwapParams, currentSlot market.HostSlot) (market.PlaceResult, error) {
	seatIdx, err := d.resolveSeat(trader, seatHint)
	if err != nil {
		return market.PlaceResult{}, err
	}

	filledIn, filledOut, ok := d.Market.PreviewSwap(p.IsBaseIn, p.InAtoms, p.OutAtoms, p.IsExactIn)
	if !ok {
		return market.PlaceResult{}, ErrSwapSlippage
	}

	side := market.SideAsk
	baseAtoms := filledIn
	limit := codec.Price{Mantissa: 0, Exponent: 0}
	if !p.IsBaseIn {
		side = market.SideBid
		baseAtoms = filledOut
		limit = codec.Price{Mantissa: math.MaxUint32, Exponent: 20}
	}

	return d.Market.Place(market.PlaceParams{
		Side:        side,
		BaseAtoms:   baseAtoms,
		Price:       limit,
		Type:        market.OrderImmediateOrCancel,
		SeatIdx:     seatIdx,
		CurrentSlot: currentSlot,
		Global:      d.Global,
	})
}

// SwapV2 implements opcode 13: identical matching semantics to Swap,
// but the host distinguishes a separate fee payer from the seat owner.
// The engine has no raw account list to bill a payer against, so payer
// is accepted and otherwise unused — documented as a simplification
// (spec.md §1 scopes the host's account/signature model out of the
// engine's concern).
func (d *Dispatcher) SwapV2(owner, payer market.TraderKey, seatHint region.BlockIndex, p SwapParams, currentSlot market.HostSlot) (market.PlaceResult, error) {
	_ = payer
	return d.Swap(owner, seatHint, p, currentSlot)
}

/* ---------------- Global account opcodes (7-12) ---------------- */

// GlobalCreate implements opcode 7.
func (d *Dispatcher) GlobalCreate(p GlobalCreateParams, initialRegionCapacity uint32) {
	d.Global = globalacct.Create(globalacct.MintID(p.Mint), p.Capacity, initialRegionCapacity)
}

// GlobalAddTrader implements opcode 8.
func (d *Dispatcher) GlobalAddTrader(trader market.TraderKey) (region.BlockIndex, error) {
	if d.Global == nil {
		return region.NilIndex, ErrNoGlobalAccount
	}
	return d.Global.AddTrader(trader)
}

// GlobalDeposit implements opcode 9.
func (d *Dispatcher) GlobalDeposit(trader market.TraderKey, p AmountParams) (*globalacct.Evicted, error) {
	if d.Global == nil {
		return nil, ErrNoGlobalAccount
	}
	return d.Global.Deposit(trader, p.Amount)
}

// GlobalWithdraw implements opcode 10.
func (d *Dispatcher) GlobalWithdraw(trader market.TraderKey, p AmountParams) error {
	if d.Global == nil {
		return ErrNoGlobalAccount
	}
	return d.Global.Withdraw(trader, p.Amount)
}

// GlobalEvict implements opcode 11.
func (d *Dispatcher) GlobalEvict() (*globalacct.Evicted, error) {
	if d.Global == nil {
		return nil, ErrNoGlobalAccount
	}
	return d.Global.EvictMinimum()
}

// GlobalClean implements opcode 12: sweeps a resting Global order
// whose pool backing has dropped below its remaining size.
func (d *Dispatcher) GlobalClean(p GlobalCleanParams) (uint64, error) {
	if d.Global == nil {
		return 0, ErrNoGlobalAccount
	}
	_, idx, err := d.Market.FindOrderByHintAnySide(market.OrderSeq(p.OrderSeq), p.Hint)
	if err != nil {
		return 0, err
	}
	return d.Market.CleanGlobalOrder(idx, d.Global)
}
