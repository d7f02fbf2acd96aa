package globalacct

import (
	"testing"

	"hypertree/pkg/market"
)

func trader(b byte) market.TraderKey {
	var k market.TraderKey
	k[0] = b
	return k
}

// Scenario 6 (spec.md §8): global eviction with a test-sized capacity
// of 2. X deposits 100, Y deposits 200, Z fails at 100 (not strictly
// above the current minimum), then succeeds at 101, evicting X.
func TestGlobalEvictionScenario(t *testing.T) {
	a := Create(MintID{9}, 2, 8)
	x, y, z := trader(1), trader(2), trader(3)

	if ev, err := a.Deposit(x, 100); err != nil || ev != nil {
		t.Fatalf("X deposit: ev=%v err=%v", ev, err)
	}
	if ev, err := a.Deposit(y, 200); err != nil || ev != nil {
		t.Fatalf("Y deposit: ev=%v err=%v", ev, err)
	}

	if _, err := a.Deposit(z, 100); err != ErrAtCapacity {
		t.Fatalf("expected Z's 100 to fail at capacity (min is 100), got %v", err)
	}

	ev, err := a.Deposit(z, 101)
	if err != nil {
		t.Fatalf("Z's 101 should succeed and evict X: %v", err)
	}
	if ev == nil || ev.Trader != x || ev.Balance != 100 {
		t.Fatalf("expected X evicted with balance 100, got %+v", ev)
	}

	if _, err := a.Balance(x); err != ErrTraderNotFound {
		t.Fatalf("X should no longer be a member, got err=%v", err)
	}
	zBal, err := a.Balance(z)
	if err != nil || zBal != 101 {
		t.Fatalf("Z's balance should be 101, got %d err=%v", zBal, err)
	}
	if a.Header.TraderCount != 2 {
		t.Fatalf("expected trader count to remain at capacity 2, got %d", a.Header.TraderCount)
	}
}

func TestDebitGlobalInsufficientIsNotAnError(t *testing.T) {
	a := Create(MintID{9}, DefaultCapacity, 8)
	x := trader(1)
	if _, err := a.Deposit(x, 50); err != nil {
		t.Fatal(err)
	}
	ok, err := a.DebitGlobal(x, 100)
	if err != nil {
		t.Fatalf("insufficient debit must not be a hard error, got %v", err)
	}
	if ok {
		t.Fatalf("expected debit of 100 against balance 50 to fail")
	}
	bal, _ := a.Balance(x)
	if bal != 50 {
		t.Fatalf("failed debit must not move balance, got %d", bal)
	}
}

func TestDebitGlobalSucceedsAndReindexes(t *testing.T) {
	a := Create(MintID{9}, DefaultCapacity, 8)
	x, y := trader(1), trader(2)
	if _, err := a.Deposit(x, 100); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Deposit(y, 50); err != nil {
		t.Fatal(err)
	}
	// x is currently the max balance; debiting it below y's balance
	// must flip the eviction-minimum lookup to point at whichever is
	// smaller afterward.
	ok, err := a.DebitGlobal(x, 70)
	if err != nil || !ok {
		t.Fatalf("debit should succeed: ok=%v err=%v", ok, err)
	}
	minTrader, minBal, found := a.MinBalance()
	if !found || minTrader != x || minBal != 30 {
		t.Fatalf("expected x (30) to now be the minimum, got %x/%d", minTrader, minBal)
	}
	if err := a.Region.ValidateFreeList(); err != nil {
		t.Fatalf("free list corrupted after reindex: %v", err)
	}
	if err := a.deposits.Validate(); err != nil {
		t.Fatalf("deposit tree invalid after reindex: %v", err)
	}
	if err := a.traders.Validate(); err != nil {
		t.Fatalf("trader tree invalid after reindex: %v", err)
	}
}

func TestWithdrawToZeroReleasesMembership(t *testing.T) {
	a := Create(MintID{9}, DefaultCapacity, 8)
	x := trader(1)
	if _, err := a.Deposit(x, 100); err != nil {
		t.Fatal(err)
	}
	if err := a.Withdraw(x, 100); err != nil {
		t.Fatalf("withdraw to zero: %v", err)
	}
	if _, err := a.Balance(x); err != ErrTraderNotFound {
		t.Fatalf("expected membership released after withdraw to zero, got %v", err)
	}
	if a.Header.TraderCount != 0 {
		t.Fatalf("expected trader count 0, got %d", a.Header.TraderCount)
	}
	if err := a.Region.ValidateFreeList(); err != nil {
		t.Fatalf("free list corrupted: %v", err)
	}
}

func TestPeekGlobalBalanceUnregisteredIsZero(t *testing.T) {
	a := Create(MintID{9}, DefaultCapacity, 8)
	bal, err := a.PeekGlobalBalance(trader(1))
	if err != nil {
		t.Fatalf("peek on unregistered trader must not error, got %v", err)
	}
	if bal != 0 {
		t.Fatalf("expected 0, got %d", bal)
	}
}

func TestEvictMinimumRemovesLowestBalance(t *testing.T) {
	a := Create(MintID{9}, DefaultCapacity, 8)
	x, y := trader(1), trader(2)
	if _, err := a.Deposit(x, 100); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Deposit(y, 200); err != nil {
		t.Fatal(err)
	}

	ev, err := a.EvictMinimum()
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if ev.Trader != x || ev.Balance != 100 {
		t.Fatalf("expected x (100) evicted, got %+v", ev)
	}
	if _, err := a.Balance(x); err != ErrTraderNotFound {
		t.Fatalf("x should no longer be a member, got %v", err)
	}
	if a.Header.TraderCount != 1 {
		t.Fatalf("expected trader count 1, got %d", a.Header.TraderCount)
	}
}

func TestEvictMinimumOnEmptyPool(t *testing.T) {
	a := Create(MintID{9}, DefaultCapacity, 8)
	if _, err := a.EvictMinimum(); err != ErrPoolEmpty {
		t.Fatalf("expected ErrPoolEmpty, got %v", err)
	}
}

// With three members deposited as 100/200/50, the balance tree's
// reversed comparator (bigger balance sorts first) gives x(100) two
// children: y(200) to one side, z(50) to the other — z is x's in-order
// successor. Changing x's balance forces resortDeposit to remove and
// reinsert x's node, and removing a two-child node is a payload swap
// against that successor (region.Tree.Remove), not a position swap.
// Before the fix, z's TraderRecord.DepositIdx still pointed at its own
// pre-swap slot, which gets reused for x's resorted record — so z's
// balance lookup would silently read x's new balance instead of its
// own.
func TestResortDepositRepointsSuccessorOnTwoChildRemoval(t *testing.T) {
	a := Create(MintID{9}, DefaultCapacity, 8)
	x, y, z := trader(1), trader(2), trader(3)

	if _, err := a.Deposit(x, 100); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Deposit(y, 200); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Deposit(z, 50); err != nil {
		t.Fatal(err)
	}

	ok, err := a.DebitGlobal(x, 10)
	if err != nil || !ok {
		t.Fatalf("debit x: ok=%v err=%v", ok, err)
	}

	if xBal, err := a.Balance(x); err != nil || xBal != 90 {
		t.Fatalf("expected x's balance 90 after debit, got %d err=%v", xBal, err)
	}
	if yBal, err := a.Balance(y); err != nil || yBal != 200 {
		t.Fatalf("expected y's balance unaffected at 200, got %d err=%v", yBal, err)
	}
	if zBal, err := a.Balance(z); err != nil || zBal != 50 {
		t.Fatalf("expected z's balance unaffected at 50, got %d err=%v (dangling DepositIdx after two-child resort)", zBal, err)
	}

	if err := a.deposits.Validate(); err != nil {
		t.Fatalf("deposit tree invalid after resort: %v", err)
	}
	if err := a.traders.Validate(); err != nil {
		t.Fatalf("trader tree invalid after resort: %v", err)
	}
	if err := a.Region.ValidateFreeList(); err != nil {
		t.Fatalf("free list corrupted after resort: %v", err)
	}
}

func TestAddTraderNeverEvicts(t *testing.T) {
	a := Create(MintID{9}, 1, 8)
	x := trader(1)
	if _, err := a.AddTrader(x); err != nil {
		t.Fatal(err)
	}
	y := trader(2)
	if _, err := a.AddTrader(y); err != ErrAtCapacity {
		t.Fatalf("AddTrader must never evict, expected ErrAtCapacity, got %v", err)
	}
}
