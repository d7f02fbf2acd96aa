// Package market implements the hypertree's L3 (market state), L4
// (order placement & matching) and L5 (balances) layers: a fixed
// header plus a dynamic region holding three red-black trees (bids,
// asks, seats) that share one allocator.
package market

import (
	"hypertree/pkg/codec"
	"hypertree/pkg/region"
)

// TraderKey is a 32-byte opaque trader identifier (a public key).
type TraderKey [32]byte

// OrderSeq is a 64-bit monotonically increasing per-market counter
// assigned at insertion time; it is the permanent order identifier and
// the tie-break key for price-time priority.
type OrderSeq uint64

// HostSlot is the host clock's monotonically non-decreasing counter.
// Zero encodes "no expiration".
type HostSlot uint32

// Side identifies which side of the book an order rests on.
type Side uint8

const (
	SideBid Side = iota
	SideAsk
)

// OrderType selects matching behavior per spec.md §4.4.
type OrderType uint8

const (
	OrderLimit OrderType = iota
	OrderImmediateOrCancel
	OrderPostOnly
	OrderGlobal
	OrderReverse
)

// RestsOnPartial reports whether a residual after matching may be
// inserted as a resting order.
func (t OrderType) RestsOnPartial() bool {
	switch t {
	case OrderLimit, OrderPostOnly, OrderGlobal, OrderReverse:
		return true
	default:
		return false
	}
}

// AllowedToCross reports whether the order type may consume the
// opposing book at all.
func (t OrderType) AllowedToCross() bool {
	return t != OrderPostOnly
}

// Payload type tags for the 1-byte debug-metadata tag in the slot
// header (spec.md §4.2: debug metadata only, not load-bearing for any
// tree's comparator).
const (
	TagFree uint8 = iota
	TagRestingOrder
	TagClaimedSeat
)

// restingOrderSize and claimedSeatSize document how much of the
// 64-byte payload each struct actually uses; both fit comfortably
// under region.PayloadSize with room in reserved padding for future
// fields (spec.md §6.2: unknown fields read back as zero).
const (
	offPriceMantissa    = 0
	offPriceExponent    = 4
	offBaseAtoms        = 8
	offOrderSeq         = 16
	offTraderIndex      = 24
	offLastValidSlot    = 28
	offSide             = 32
	offOrderType        = 33
	offReverseSpreadBps = 34
	offGasPrepaid       = 36
)

// RestingOrder is the payload of a live order resting in the bids or
// asks tree.
type RestingOrder struct {
	Price            codec.Price
	BaseAtoms        uint64
	Seq              OrderSeq
	TraderIndex      region.BlockIndex
	LastValidSlot    HostSlot
	Side             Side
	Type             OrderType
	ReverseSpreadBps uint16

	// GasPrepaidLamports backs a permissionless GlobalClean call: it is
	// only meaningful for OrderType == OrderGlobal, attached at
	// placement time and paid to whoever calls Market.CleanGlobalOrder
	// once the order's pool backing has dropped below its size
	// (spec.md §4.6).
	GasPrepaidLamports uint64
}

// EncodeInto writes the order into a slot payload, little-endian,
// mirroring the teacher's EncodeBinary/DecodeBinary fixed-layout
// style (order.go) but applied to an in-place 64-byte array rather
// than a growable buffer, since the region never relocates a slot's
// bytes.
func (o RestingOrder) EncodeInto(payload *[region.PayloadSize]byte) {
	codec.PutUint32(payload[offPriceMantissa:], o.Price.Mantissa)
	payload[offPriceExponent] = byte(o.Price.Exponent)
	codec.PutUint64(payload[offBaseAtoms:], o.BaseAtoms)
	codec.PutUint64(payload[offOrderSeq:], uint64(o.Seq))
	codec.PutUint32(payload[offTraderIndex:], uint32(o.TraderIndex))
	codec.PutUint32(payload[offLastValidSlot:], uint32(o.LastValidSlot))
	payload[offSide] = byte(o.Side)
	payload[offOrderType] = byte(o.Type)
	codec.PutUint16(payload[offReverseSpreadBps:], o.ReverseSpreadBps)
	codec.PutUint64(payload[offGasPrepaid:], o.GasPrepaidLamports)
}

// DecodeRestingOrder reads a RestingOrder out of a slot payload.
func DecodeRestingOrder(payload *[region.PayloadSize]byte) RestingOrder {
	return RestingOrder{
		Price: codec.Price{
			Mantissa: codec.GetUint32(payload[offPriceMantissa:]),
			Exponent: int8(payload[offPriceExponent]),
		},
		BaseAtoms:          codec.GetUint64(payload[offBaseAtoms:]),
		Seq:                OrderSeq(codec.GetUint64(payload[offOrderSeq:])),
		TraderIndex:        region.BlockIndex(codec.GetUint32(payload[offTraderIndex:])),
		LastValidSlot:      HostSlot(codec.GetUint32(payload[offLastValidSlot:])),
		Side:               Side(payload[offSide]),
		Type:               OrderType(payload[offOrderType]),
		ReverseSpreadBps:   codec.GetUint16(payload[offReverseSpreadBps:]),
		GasPrepaidLamports: codec.GetUint64(payload[offGasPrepaid:]),
	}
}

const (
	offSeatTraderKey        = 0
	offSeatBaseWithdrawable = 32
	offSeatQuoteWithdraw    = 40
	offSeatLifetimeQuoteVol = 48
)

// ClaimedSeat is the payload of a registered trader's per-market
// balance record. Locked funds backing resting orders are not stored
// here (spec.md §4.5: "implicit locked state") — they are recovered
// on cancel directly from the cancelled RestingOrder's remaining size
// and price, so a seat's on-disk shape never needs a locked-balance
// field to restore exactly what the order reserved.
type ClaimedSeat struct {
	Trader              TraderKey
	BaseWithdrawable    uint64
	QuoteWithdrawable   uint64
	LifetimeQuoteVolume uint64
}

func (s ClaimedSeat) EncodeInto(payload *[region.PayloadSize]byte) {
	copy(payload[offSeatTraderKey:], s.Trader[:])
	codec.PutUint64(payload[offSeatBaseWithdrawable:], s.BaseWithdrawable)
	codec.PutUint64(payload[offSeatQuoteWithdraw:], s.QuoteWithdrawable)
	codec.PutUint64(payload[offSeatLifetimeQuoteVol:], s.LifetimeQuoteVolume)
}

func DecodeClaimedSeat(payload *[region.PayloadSize]byte) ClaimedSeat {
	var s ClaimedSeat
	copy(s.Trader[:], payload[offSeatTraderKey:offSeatTraderKey+32])
	s.BaseWithdrawable = codec.GetUint64(payload[offSeatBaseWithdrawable:])
	s.QuoteWithdrawable = codec.GetUint64(payload[offSeatQuoteWithdraw:])
	s.LifetimeQuoteVolume = codec.GetUint64(payload[offSeatLifetimeQuoteVol:])
	return s
}
