package market

import (
	"errors"

	"hypertree/pkg/codec"
	"hypertree/pkg/region"
)

var (
	ErrInsufficientFunds = errors.New("market: insufficient withdrawable balance")
	ErrOverflow          = errors.New("market: arithmetic overflow")
)

// DepositBase moves amount base atoms from the host's token-vault
// transfer (external to the engine, per spec.md §6.3) into seatIdx's
// withdrawable base balance.
func (m *Market) DepositBase(seatIdx region.BlockIndex, amount uint64) error {
	seat, err := m.Seat(seatIdx)
	if err != nil {
		return err
	}
	if codec.AddOverflows(seat.BaseWithdrawable, amount) {
		return ErrOverflow
	}
	seat.BaseWithdrawable += amount
	m.putSeat(seatIdx, seat)
	return nil
}

// DepositQuote is DepositBase's quote-side mirror.
func (m *Market) DepositQuote(seatIdx region.BlockIndex, amount uint64) error {
	seat, err := m.Seat(seatIdx)
	if err != nil {
		return err
	}
	if codec.AddOverflows(seat.QuoteWithdrawable, amount) {
		return ErrOverflow
	}
	seat.QuoteWithdrawable += amount
	m.putSeat(seatIdx, seat)
	return nil
}

// WithdrawBase moves amount base atoms out of seatIdx's withdrawable
// balance (the host performs the corresponding vault transfer out of
// band). Fails if withdrawable is less than amount.
func (m *Market) WithdrawBase(seatIdx region.BlockIndex, amount uint64) error {
	seat, err := m.Seat(seatIdx)
	if err != nil {
		return err
	}
	if seat.BaseWithdrawable < amount {
		return ErrInsufficientFunds
	}
	seat.BaseWithdrawable -= amount
	m.putSeat(seatIdx, seat)
	return nil
}

// WithdrawQuote is WithdrawBase's quote-side mirror.
func (m *Market) WithdrawQuote(seatIdx region.BlockIndex, amount uint64) error {
	seat, err := m.Seat(seatIdx)
	if err != nil {
		return err
	}
	if seat.QuoteWithdrawable < amount {
		return ErrInsufficientFunds
	}
	seat.QuoteWithdrawable -= amount
	m.putSeat(seatIdx, seat)
	return nil
}

// lockForBid reserves quote atoms for a resting bid's remaining size,
// rounding up so the taker never under-reserves (spec.md §4.4 step 4).
func (m *Market) lockForBid(seatIdx region.BlockIndex, baseAtoms uint64, price codec.Price) error {
	quote, err := codec.QuoteAtomsForFill(baseAtoms, price, true)
	if err != nil {
		return err
	}
	return m.WithdrawQuote(seatIdx, quote)
}

// lockForAsk reserves base atoms for a resting ask's remaining size.
func (m *Market) lockForAsk(seatIdx region.BlockIndex, baseAtoms uint64) error {
	return m.WithdrawBase(seatIdx, baseAtoms)
}

// unlockBid restores quote atoms previously locked by a cancelled or
// expired resting bid.
func (m *Market) unlockBid(seatIdx region.BlockIndex, baseAtoms uint64, price codec.Price) error {
	quote, err := codec.QuoteAtomsForFill(baseAtoms, price, true)
	if err != nil {
		return err
	}
	return m.DepositQuote(seatIdx, quote)
}

// unlockAsk restores base atoms previously locked by a cancelled or
// expired resting ask.
func (m *Market) unlockAsk(seatIdx region.BlockIndex, baseAtoms uint64) error {
	return m.DepositBase(seatIdx, baseAtoms)
}

// applyFill credits/debits the maker and taker seats for a fill of
// baseAtoms at quoteAtoms (maker's price), per spec.md §4.5: buyer's
// quote withdrawable decreases, base withdrawable increases; seller
// mirrors. The maker's outgoing leg was already removed from
// withdrawable when its order was locked at placement time, so only
// its credited leg touches withdrawable here — but the taker locks
// nothing up front, so takerIsBuyer selects which side is the taker
// and its outgoing leg is debited directly against this fill.
func (m *Market) applyFill(buyerSeat, sellerSeat region.BlockIndex, baseAtoms, quoteAtoms uint64, takerIsBuyer bool) error {
	buyer, err := m.Seat(buyerSeat)
	if err != nil {
		return err
	}
	seller, err := m.Seat(sellerSeat)
	if err != nil {
		return err
	}
	if codec.AddOverflows(buyer.BaseWithdrawable, baseAtoms) {
		return ErrOverflow
	}
	if codec.AddOverflows(seller.QuoteWithdrawable, quoteAtoms) {
		return ErrOverflow
	}
	if codec.AddOverflows(seller.LifetimeQuoteVolume, quoteAtoms) {
		return ErrOverflow
	}
	if codec.AddOverflows(buyer.LifetimeQuoteVolume, quoteAtoms) {
		return ErrOverflow
	}
	if takerIsBuyer {
		if buyer.QuoteWithdrawable < quoteAtoms {
			return ErrInsufficientFunds
		}
	} else if seller.BaseWithdrawable < baseAtoms {
		return ErrInsufficientFunds
	}
	buyer.BaseWithdrawable += baseAtoms
	buyer.LifetimeQuoteVolume += quoteAtoms
	seller.QuoteWithdrawable += quoteAtoms
	seller.LifetimeQuoteVolume += quoteAtoms
	if takerIsBuyer {
		buyer.QuoteWithdrawable -= quoteAtoms
	} else {
		seller.BaseWithdrawable -= baseAtoms
	}
	m.putSeat(buyerSeat, buyer)
	m.putSeat(sellerSeat, seller)
	m.Header.CumulativeQuoteVolume += quoteAtoms
	return nil
}
