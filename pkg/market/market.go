package market

import (
	"bytes"
	"errors"
	"fmt"

	"hypertree/pkg/region"
)

var (
	ErrSeatNotFound     = errors.New("market: seat not found")
	ErrSeatAlreadyExists = errors.New("market: seat already claimed")
	ErrSeatNotEmpty     = errors.New("market: seat has balance or live orders")
	ErrOrderNotFound    = errors.New("market: order sequence not found")
)

// Market is the L3 state: a header plus the dynamic region holding
// the bids, asks and seats trees. All three trees share one
// region.Region and one free list, per spec.md §3.2/§4.3.
type Market struct {
	Header Header
	Region *region.Region

	bids  *region.Tree
	asks  *region.Tree
	seats *region.Tree

	// liveOrders counts open RestingOrder slots per seat, so a seat
	// cannot be released while orders still reference it (spec.md
	// §3.4 Seat lifecycle).
	liveOrders map[region.BlockIndex]int
}

// NewMarket creates an empty market with the given initial dynamic
// region capacity.
func NewMarket(header Header, initialCapacity uint32) *Market {
	m := &Market{
		Header:     header,
		Region:     region.NewRegion(initialCapacity),
		liveOrders: make(map[region.BlockIndex]int),
	}
	m.wireTrees()
	return m
}

// RestoreMarket reconstructs a Market from a persisted header and a
// region.Snapshot (internal/checkpoint's on-disk format): wireTrees
// rebuilds the three region.Tree views from the header's stored roots,
// and liveOrders — the one piece of Market state that isn't itself
// part of the on-chain-shaped header/region — is recomputed by
// counting resting orders per seat across both book sides.
func RestoreMarket(header Header, snap region.Snapshot) *Market {
	m := &Market{
		Header:     header,
		Region:     region.RestoreRegion(snap),
		liveOrders: make(map[region.BlockIndex]int),
	}
	m.wireTrees()
	for _, side := range [2]Side{SideBid, SideAsk} {
		m.treeFor(side).ForEachAscending(func(idx region.BlockIndex) bool {
			o := m.Order(idx)
			m.liveOrders[o.TraderIndex]++
			return true
		})
	}
	return m
}

func (m *Market) wireTrees() {
	m.bids = region.NewTree(m.Region, &m.Header.BidsRoot, compareOrders)
	m.asks = region.NewTree(m.Region, &m.Header.AsksRoot, compareOrders)
	m.seats = region.NewTree(m.Region, &m.Header.SeatsRoot, compareSeats)
}

// compareOrders orders RestingOrder slots by price ascending; ties are
// broken by OrderSeq so that price-time priority holds (spec.md §4.2
// Determinism requirement). Callers pick MinIndex (asks) or MaxIndex
// (bids) for "best", so equal-price asks sort by ascending seq and
// equal-price bids by descending seq: either way the oldest order at
// the best price is the best node.
func compareOrders(r *region.Region, a, b region.BlockIndex) int {
	oa := DecodeRestingOrder(&r.Slot(a).Payload)
	ob := DecodeRestingOrder(&r.Slot(b).Payload)
	if c := oa.Price.Compare(ob.Price); c != 0 {
		return c
	}
	var c int
	switch {
	case oa.Seq < ob.Seq:
		c = -1
	case oa.Seq > ob.Seq:
		c = 1
	}
	if oa.Side == SideBid {
		c = -c
	}
	return c
}

func compareSeats(r *region.Region, a, b region.BlockIndex) int {
	sa := DecodeClaimedSeat(&r.Slot(a).Payload)
	sb := DecodeClaimedSeat(&r.Slot(b).Payload)
	return bytes.Compare(sa.Trader[:], sb.Trader[:])
}

func keyBySeat(key TraderKey) region.KeyComparator {
	return func(r *region.Region, idx region.BlockIndex) int {
		s := DecodeClaimedSeat(&r.Slot(idx).Payload)
		return bytes.Compare(key[:], s.Trader[:])
	}
}

// Expand grants the market's dynamic region n more fixed-size blocks,
// as if the host had granted the account more bytes (spec.md §4.3).
func (m *Market) Expand(n uint32) {
	m.Region.Expand(n)
}

/* ---------------- Seats (L5 entities, L3 tree) ---------------- */

// ClaimSeat allocates and registers a ClaimedSeat for trader, per
// spec.md §6.1 opcode 1.
func (m *Market) ClaimSeat(trader TraderKey) (region.BlockIndex, error) {
	if idx := m.seats.Find(keyBySeat(trader)); idx != region.NilIndex {
		return region.NilIndex, ErrSeatAlreadyExists
	}
	idx, err := m.Region.Allocate()
	if err != nil {
		return region.NilIndex, fmt.Errorf("market: claim seat: %w", err)
	}
	seat := ClaimedSeat{Trader: trader}
	slot := m.Region.Slot(idx)
	slot.Tag = TagClaimedSeat
	seat.EncodeInto(&slot.Payload)
	m.seats.Insert(idx)
	m.liveOrders[idx] = 0
	return idx, nil
}

// ReleaseSeat frees a seat once its balances are zero and no live
// orders reference it (spec.md §3.4).
func (m *Market) ReleaseSeat(idx region.BlockIndex) error {
	seat, err := m.Seat(idx)
	if err != nil {
		return err
	}
	if seat.BaseWithdrawable != 0 || seat.QuoteWithdrawable != 0 || m.liveOrders[idx] != 0 {
		return ErrSeatNotEmpty
	}
	freed := m.seats.Remove(idx)
	if freed != idx {
		// Two-child removal moved the in-order successor's seat into
		// idx: carry its live-order count over and repoint its orders.
		m.liveOrders[idx] = m.liveOrders[freed]
		for _, side := range [2]Side{SideBid, SideAsk} {
			m.treeFor(side).ForEachAscending(func(o region.BlockIndex) bool {
				if ro := m.Order(o); ro.TraderIndex == freed {
					ro.TraderIndex = idx
					m.putOrder(o, ro)
				}
				return true
			})
		}
	}
	delete(m.liveOrders, freed)
	return m.Region.Free(freed)
}

// Seat decodes the ClaimedSeat payload at idx.
func (m *Market) Seat(idx region.BlockIndex) (ClaimedSeat, error) {
	if idx.IsNil() || idx >= region.BlockIndex(m.Region.Len()) {
		return ClaimedSeat{}, ErrSeatNotFound
	}
	slot := m.Region.Slot(idx)
	if slot.Tag != TagClaimedSeat {
		return ClaimedSeat{}, ErrSeatNotFound
	}
	return DecodeClaimedSeat(&slot.Payload), nil
}

// FindSeat looks a trader's seat up by key.
func (m *Market) FindSeat(trader TraderKey) (region.BlockIndex, error) {
	idx := m.seats.Find(keyBySeat(trader))
	if idx == region.NilIndex {
		return region.NilIndex, ErrSeatNotFound
	}
	return idx, nil
}

func (m *Market) putSeat(idx region.BlockIndex, seat ClaimedSeat) {
	slot := m.Region.Slot(idx)
	seat.EncodeInto(&slot.Payload)
}

/* ---------------- Order lookups ---------------- */

// FindOrderBySeq performs a linear scan over the side tree for the
// given OrderSeq. Cancellation in spec.md §6.1 BatchUpdate also
// accepts an optional block-index hint to skip this scan; see
// FindOrderByHint.
func (m *Market) FindOrderBySeq(side Side, seq OrderSeq) (region.BlockIndex, error) {
	tree := m.treeFor(side)
	var found region.BlockIndex = region.NilIndex
	tree.ForEachAscending(func(idx region.BlockIndex) bool {
		o := DecodeRestingOrder(&m.Region.Slot(idx).Payload)
		if o.Seq == seq {
			found = idx
			return false
		}
		return true
	})
	if found == region.NilIndex {
		return region.NilIndex, ErrOrderNotFound
	}
	return found, nil
}

// FindOrderByHint validates a caller-supplied block-index hint against
// seq and side, falling back to FindOrderBySeq if the hint is stale.
func (m *Market) FindOrderByHint(side Side, seq OrderSeq, hint region.BlockIndex) (region.BlockIndex, error) {
	if !hint.IsNil() && hint < region.BlockIndex(m.Region.Len()) {
		slot := m.Region.Slot(hint)
		if slot.Tag == TagRestingOrder {
			o := DecodeRestingOrder(&slot.Payload)
			if o.Seq == seq && o.Side == side {
				return hint, nil
			}
		}
	}
	return m.FindOrderBySeq(side, seq)
}

// FindOrderAnySide resolves seq to whichever book side it rests on,
// for callers that only carry an OrderSeq without its side — as in
// BatchUpdate's cancel list (spec.md §6.1: `{order_seq, hint}`, no
// side field).
func (m *Market) FindOrderAnySide(seq OrderSeq) (Side, region.BlockIndex, error) {
	if idx, err := m.FindOrderBySeq(SideBid, seq); err == nil {
		return SideBid, idx, nil
	}
	if idx, err := m.FindOrderBySeq(SideAsk, seq); err == nil {
		return SideAsk, idx, nil
	}
	return 0, region.NilIndex, ErrOrderNotFound
}

// FindOrderByHintAnySide is FindOrderByHint without a known side: a
// valid hint's own Side field tells us which tree it belongs to, so
// only the fallback path needs to scan both.
func (m *Market) FindOrderByHintAnySide(seq OrderSeq, hint region.BlockIndex) (Side, region.BlockIndex, error) {
	if !hint.IsNil() && hint < region.BlockIndex(m.Region.Len()) {
		slot := m.Region.Slot(hint)
		if slot.Tag == TagRestingOrder {
			o := DecodeRestingOrder(&slot.Payload)
			if o.Seq == seq {
				return o.Side, hint, nil
			}
		}
	}
	return m.FindOrderAnySide(seq)
}

func (m *Market) treeFor(side Side) *region.Tree {
	if side == SideBid {
		return m.bids
	}
	return m.asks
}

// BestBid returns the highest resting bid, or region.NilIndex if none.
func (m *Market) BestBid() region.BlockIndex { return m.bids.MaxIndex() }

// BestAsk returns the lowest resting ask, or region.NilIndex if none.
func (m *Market) BestAsk() region.BlockIndex { return m.asks.MinIndex() }

// refreshBestCache recomputes the header's cached best-index fields,
// satisfying spec.md §3.3 invariant 4. Called after every structural
// mutation of the bids/asks trees.
func (m *Market) refreshBestCache() {
	m.Header.BidsBest = m.bids.MaxIndex()
	m.Header.AsksBest = m.asks.MinIndex()
}

// NoCrossingBook reports whether best_bid.price < best_ask.price, or
// true if either side is empty (spec.md §3.3 invariant 7).
func (m *Market) NoCrossingBook() bool {
	bidIdx, askIdx := m.BestBid(), m.BestAsk()
	if bidIdx.IsNil() || askIdx.IsNil() {
		return true
	}
	bid := DecodeRestingOrder(&m.Region.Slot(bidIdx).Payload)
	ask := DecodeRestingOrder(&m.Region.Slot(askIdx).Payload)
	return bid.Price.Less(ask.Price)
}

// Order decodes the RestingOrder payload at idx.
func (m *Market) Order(idx region.BlockIndex) RestingOrder {
	return DecodeRestingOrder(&m.Region.Slot(idx).Payload)
}

func (m *Market) nextSeq() OrderSeq {
	seq := m.Header.NextOrderSeq
	m.Header.NextOrderSeq++
	return seq
}
