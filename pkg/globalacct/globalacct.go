// Package globalacct implements the hypertree's L6 layer: a
// cross-market pool of one token, bounded-membership admission with
// eviction, and just-in-time settlement for Global resting orders
// placed in pkg/market. It depends on pkg/market for TraderKey and to
// implement market.GlobalSettler — market never imports globalacct,
// keeping the dependency pointed the direction spec.md's layer table
// intends (L6 depends on L3/L4, never the reverse).
package globalacct

import (
	"bytes"
	"errors"
	"fmt"

	"hypertree/pkg/market"
	"hypertree/pkg/region"
)

// DefaultCapacity is the production membership bound (spec.md §4.6);
// tests construct an Account with a smaller capacity directly via
// Create to exercise eviction cheaply.
const DefaultCapacity = 32

var (
	ErrAtCapacity       = errors.New("globalacct: pool at capacity and deposit does not exceed the minimum")
	ErrTraderNotFound   = errors.New("globalacct: trader not registered")
	ErrAlreadyMember    = errors.New("globalacct: trader already registered")
	ErrInsufficientPool = errors.New("globalacct: insufficient pooled balance")
	ErrPoolEmpty        = errors.New("globalacct: no members to evict")
)

// Debug-metadata tags, mirroring pkg/market's TagRestingOrder /
// TagClaimedSeat convention (spec.md §4.2: the tag is inspection-only,
// never load-bearing for a comparator).
const (
	TagTraderRecord uint8 = iota + 1
	TagDepositRecord
)

// MintID mirrors market.MintID's shape without importing it for this
// alone; the global account is a separate buffer over one mint,
// independent of any one market's byte layout (spec.md §3.2).
type MintID [32]byte

// Header is the Account's 96-byte-equivalent fixed prefix.
type Header struct {
	Discriminant uint8
	Mint         MintID
	Capacity     uint32
	TraderCount  uint32
	TraderRoot   region.BlockIndex
	DepositRoot  region.BlockIndex
}

// NewHeader returns a header for a freshly created global account.
func NewHeader(mint MintID, capacity uint32) Header {
	return Header{
		Discriminant: 2,
		Mint:         mint,
		Capacity:     capacity,
		TraderRoot:   region.NilIndex,
		DepositRoot:  region.NilIndex,
	}
}

// Account is the L6 state: a header plus a region holding the
// GlobalTrader and GlobalDeposit trees (spec.md §3.2).
type Account struct {
	Header Header
	Region *region.Region

	traders  *region.Tree
	deposits *region.Tree
}

// Create builds an empty global account with the given capacity.
// Production callers use DefaultCapacity; tests may pass a smaller
// value to exercise eviction without allocating 32 members.
func Create(mint MintID, capacity uint32, initialRegionCapacity uint32) *Account {
	a := &Account{
		Header: NewHeader(mint, capacity),
		Region: region.NewRegion(initialRegionCapacity),
	}
	a.wireTrees()
	return a
}

func (a *Account) wireTrees() {
	a.traders = region.NewTree(a.Region, &a.Header.TraderRoot, compareTraders)
	a.deposits = region.NewTree(a.Region, &a.Header.DepositRoot, compareDepositsReversed)
}

// Expand grants the account's region n more blocks.
func (a *Account) Expand(n uint32) { a.Region.Expand(n) }

func compareTraders(r *region.Region, x, y region.BlockIndex) int {
	rx := DecodeTraderRecord(&r.Slot(x).Payload)
	ry := DecodeTraderRecord(&r.Slot(y).Payload)
	return bytes.Compare(rx.Trader[:], ry.Trader[:])
}

// compareDepositsReversed orders by balance descending (so the
// structural maximum is the minimum-balance trader, per spec.md
// §4.6), tie-broken ascending by trader key for a strict total order.
func compareDepositsReversed(r *region.Region, x, y region.BlockIndex) int {
	dx := DecodeDepositRecord(&r.Slot(x).Payload)
	dy := DecodeDepositRecord(&r.Slot(y).Payload)
	switch {
	case dx.Balance > dy.Balance:
		return -1
	case dx.Balance < dy.Balance:
		return 1
	default:
		return bytes.Compare(dx.Trader[:], dy.Trader[:])
	}
}

func keyByTrader(key market.TraderKey) region.KeyComparator {
	return func(r *region.Region, idx region.BlockIndex) int {
		rec := DecodeTraderRecord(&r.Slot(idx).Payload)
		return bytes.Compare(key[:], rec.Trader[:])
	}
}

func (a *Account) findTrader(trader market.TraderKey) (traderIdx, depositIdx region.BlockIndex, err error) {
	traderIdx = a.traders.Find(keyByTrader(trader))
	if traderIdx == region.NilIndex {
		return region.NilIndex, region.NilIndex, ErrTraderNotFound
	}
	rec := DecodeTraderRecord(&a.Region.Slot(traderIdx).Payload)
	return traderIdx, rec.DepositIdx, nil
}

// Evicted describes a trader removed to make room for a new member;
// the host is responsible for transferring Balance back to Trader's
// token account (spec.md §8 scenario 6: "X's token account receives
// 100 back").
type Evicted struct {
	Trader  market.TraderKey
	Balance uint64
}

// AddTrader registers trader with a zero balance, per opcode 8
// (GlobalAddTrader). It never evicts: an incoming zero balance can
// never exceed the current minimum, so admission-by-eviction is only
// reachable through Deposit (opcode 9).
func (a *Account) AddTrader(trader market.TraderKey) (region.BlockIndex, error) {
	if _, _, err := a.findTrader(trader); err == nil {
		return region.NilIndex, ErrAlreadyMember
	}
	if a.Header.TraderCount >= a.Header.Capacity {
		return region.NilIndex, ErrAtCapacity
	}
	return a.admit(trader, 0)
}

func (a *Account) admit(trader market.TraderKey, balance uint64) (region.BlockIndex, error) {
	depositIdx, err := a.Region.Allocate()
	if err != nil {
		return region.NilIndex, fmt.Errorf("globalacct: admit: %w", err)
	}
	dslot := a.Region.Slot(depositIdx)
	dslot.Tag = TagDepositRecord
	DepositRecord{Trader: trader, Balance: balance}.EncodeInto(&dslot.Payload)
	a.deposits.Insert(depositIdx)

	traderIdx, err := a.Region.Allocate()
	if err != nil {
		return region.NilIndex, fmt.Errorf("globalacct: admit: %w", err)
	}
	tslot := a.Region.Slot(traderIdx)
	tslot.Tag = TagTraderRecord
	TraderRecord{Trader: trader, DepositIdx: depositIdx}.EncodeInto(&tslot.Payload)
	a.traders.Insert(traderIdx)

	a.Header.TraderCount++
	return traderIdx, nil
}

// Deposit adds amount to trader's pooled balance, registering trader
// first if necessary. An unregistered trader joining a pool already at
// capacity is only admitted if amount exceeds the current minimum
// balance, evicting that minimum-balance member (spec.md §4.6, §8
// scenario 6).
func (a *Account) Deposit(trader market.TraderKey, amount uint64) (*Evicted, error) {
	if traderIdx, depositIdx, err := a.findTrader(trader); err == nil {
		return nil, a.creditDeposit(traderIdx, depositIdx, amount)
	}

	if a.Header.TraderCount < a.Header.Capacity {
		_, err := a.admit(trader, amount)
		return nil, err
	}

	minIdx := a.deposits.MaxIndex() // reversed comparator: structural max = minimum balance
	if minIdx.IsNil() {
		return nil, ErrAtCapacity
	}
	min := DecodeDepositRecord(&a.Region.Slot(minIdx).Payload)
	if amount <= min.Balance {
		return nil, ErrAtCapacity
	}
	if err := a.removeMember(min.Trader); err != nil {
		return nil, err
	}
	if _, err := a.admit(trader, amount); err != nil {
		return nil, err
	}
	return &Evicted{Trader: min.Trader, Balance: min.Balance}, nil
}

func (a *Account) creditDeposit(traderIdx, depositIdx region.BlockIndex, amount uint64) error {
	rec := DecodeDepositRecord(&a.Region.Slot(depositIdx).Payload)
	newBalance := rec.Balance + amount
	if newBalance < rec.Balance {
		return fmt.Errorf("globalacct: deposit overflow")
	}
	return a.resortDeposit(traderIdx, depositIdx, DepositRecord{Trader: rec.Trader, Balance: newBalance})
}

// Withdraw removes amount from trader's pooled balance. Per spec.md
// §3.4 ("destroyed ... on voluntary withdrawal to zero"), a withdrawal
// that empties the balance also releases the membership slot.
func (a *Account) Withdraw(trader market.TraderKey, amount uint64) error {
	traderIdx, depositIdx, err := a.findTrader(trader)
	if err != nil {
		return err
	}
	rec := DecodeDepositRecord(&a.Region.Slot(depositIdx).Payload)
	if rec.Balance < amount {
		return ErrInsufficientPool
	}
	remaining := rec.Balance - amount
	if remaining == 0 {
		return a.removeMember(trader)
	}
	return a.resortDeposit(traderIdx, depositIdx, DepositRecord{Trader: trader, Balance: remaining})
}

// DebitGlobal implements market.GlobalSettler: it is called once per
// fill against a Global maker. ok=false (nil error) signals
// insufficient backing, which market.Place treats as "drop this maker,
// try the next" rather than a hard failure (spec.md §4.6).
func (a *Account) DebitGlobal(trader market.TraderKey, amount uint64) (bool, error) {
	traderIdx, depositIdx, err := a.findTrader(trader)
	if err != nil {
		return false, nil
	}
	rec := DecodeDepositRecord(&a.Region.Slot(depositIdx).Payload)
	if rec.Balance < amount {
		return false, nil
	}
	if err := a.resortDeposit(traderIdx, depositIdx, DepositRecord{Trader: trader, Balance: rec.Balance - amount}); err != nil {
		return false, err
	}
	return true, nil
}

// Balance returns trader's current pooled balance.
func (a *Account) Balance(trader market.TraderKey) (uint64, error) {
	_, depositIdx, err := a.findTrader(trader)
	if err != nil {
		return 0, err
	}
	return DecodeDepositRecord(&a.Region.Slot(depositIdx).Payload).Balance, nil
}

// PeekGlobalBalance implements market.GlobalSettler's read-only half,
// used by Market.CleanGlobalOrder to check whether a resting Global
// order's backing has fallen below its remaining size. An unregistered
// trader reports a zero balance rather than an error, since "not a
// member" and "member with nothing left" both mean the same thing to
// a caller only asking "is this order still backed".
func (a *Account) PeekGlobalBalance(trader market.TraderKey) (uint64, error) {
	bal, err := a.Balance(trader)
	if err == ErrTraderNotFound {
		return 0, nil
	}
	return bal, err
}

// removeMember frees both the GlobalTrader and GlobalDeposit records
// for trader.
func (a *Account) removeMember(trader market.TraderKey) error {
	traderIdx, depositIdx, err := a.findTrader(trader)
	if err != nil {
		return err
	}
	freedTrader := a.traders.Remove(traderIdx)
	if err := a.Region.Free(freedTrader); err != nil {
		return err
	}
	freedDeposit := a.deposits.Remove(depositIdx)
	if freedDeposit != depositIdx {
		// Two-child removal moved the successor's GlobalDeposit record
		// into depositIdx; repoint its trader before freedDeposit goes.
		succ := DecodeDepositRecord(&a.Region.Slot(depositIdx).Payload)
		if succTraderIdx := a.traders.Find(keyByTrader(succ.Trader)); succTraderIdx != region.NilIndex {
			strec := DecodeTraderRecord(&a.Region.Slot(succTraderIdx).Payload)
			strec.DepositIdx = depositIdx
			strec.EncodeInto(&a.Region.Slot(succTraderIdx).Payload)
		}
	}
	if err := a.Region.Free(freedDeposit); err != nil {
		return err
	}
	a.Header.TraderCount--
	return nil
}

// resortDeposit re-keys a GlobalDeposit record in place: since balance
// is the tree's sort key, any balance change requires removing and
// reinserting the node rather than overwriting its payload live. The
// same physical slot freed by Remove is reused for the reinsertion, so
// no allocator traffic occurs.
//
// region.Tree.Remove's two-child case is a payload swap, not a
// position swap: it copies the in-order successor's payload into
// depositIdx's slot and frees the successor's *original* slot,
// returning that as freed. So when freed != depositIdx, the
// successor's GlobalDeposit record now physically lives at depositIdx
// while its own GlobalTraderRecord.DepositIdx still points at freed —
// the slot we are about to overwrite with traderIdx's new record. That
// link must be repointed to depositIdx before freed is reused, or the
// successor's trader ends up reading whatever record later lands in
// freed.
func (a *Account) resortDeposit(traderIdx, depositIdx region.BlockIndex, newRec DepositRecord) error {
	freed := a.deposits.Remove(depositIdx)

	if freed != depositIdx {
		succ := DecodeDepositRecord(&a.Region.Slot(depositIdx).Payload)
		if succTraderIdx := a.traders.Find(keyByTrader(succ.Trader)); succTraderIdx != region.NilIndex {
			strec := DecodeTraderRecord(&a.Region.Slot(succTraderIdx).Payload)
			strec.DepositIdx = depositIdx
			strec.EncodeInto(&a.Region.Slot(succTraderIdx).Payload)
		}
	}

	slot := a.Region.Slot(freed)
	newRec.EncodeInto(&slot.Payload)
	a.deposits.Insert(freed)

	trec := DecodeTraderRecord(&a.Region.Slot(traderIdx).Payload)
	trec.DepositIdx = freed
	trec.EncodeInto(&a.Region.Slot(traderIdx).Payload)
	return nil
}

// MinBalance returns the current minimum pooled balance and its
// trader, used by tests and by EvictMinimum.
func (a *Account) MinBalance() (market.TraderKey, uint64, bool) {
	idx := a.deposits.MaxIndex()
	if idx.IsNil() {
		return market.TraderKey{}, 0, false
	}
	rec := DecodeDepositRecord(&a.Region.Slot(idx).Payload)
	return rec.Trader, rec.Balance, true
}

// EvictMinimum implements opcode 11 (GlobalEvict): a standalone forced
// eviction of the current minimum-balance member, independent of
// Deposit's implicit make-room eviction. The host is responsible for
// returning Balance to the evicted trader's token account, same as a
// Deposit-triggered eviction.
func (a *Account) EvictMinimum() (*Evicted, error) {
	trader, balance, found := a.MinBalance()
	if !found {
		return nil, ErrPoolEmpty
	}
	if err := a.removeMember(trader); err != nil {
		return nil, err
	}
	return &Evicted{Trader: trader, Balance: balance}, nil
}
