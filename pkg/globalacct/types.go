package globalacct

import (
	"hypertree/pkg/codec"
	"hypertree/pkg/market"
	"hypertree/pkg/region"
)

const (
	offTraderKey     = 0
	offTraderDeposit = 32
)

// TraderRecord is a GlobalTrader tree node: it points at its paired
// GlobalDeposit record by block index (spec.md §3.2).
type TraderRecord struct {
	Trader     market.TraderKey
	DepositIdx region.BlockIndex
}

func (t TraderRecord) EncodeInto(payload *[region.PayloadSize]byte) {
	copy(payload[offTraderKey:], t.Trader[:])
	codec.PutUint32(payload[offTraderDeposit:], uint32(t.DepositIdx))
}

func DecodeTraderRecord(payload *[region.PayloadSize]byte) TraderRecord {
	var t TraderRecord
	copy(t.Trader[:], payload[offTraderKey:offTraderKey+32])
	t.DepositIdx = region.BlockIndex(codec.GetUint32(payload[offTraderDeposit:]))
	return t
}

const (
	offDepositKey     = 0
	offDepositBalance = 32
)

// DepositRecord is a GlobalDeposit tree node: the live pooled balance
// for one trader.
type DepositRecord struct {
	Trader  market.TraderKey
	Balance uint64
}

func (d DepositRecord) EncodeInto(payload *[region.PayloadSize]byte) {
	copy(payload[offDepositKey:], d.Trader[:])
	codec.PutUint64(payload[offDepositBalance:], d.Balance)
}

func DecodeDepositRecord(payload *[region.PayloadSize]byte) DepositRecord {
	var d DepositRecord
	copy(d.Trader[:], payload[offDepositKey:offDepositKey+32])
	d.Balance = codec.GetUint64(payload[offDepositBalance:])
	return d
}
