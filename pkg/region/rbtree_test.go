package region

import (
	"encoding/binary"
	"math/rand"
	"testing"
)

// test fixture: an int64 key stored in the first 8 payload bytes, tie
// broken by nothing (keys are unique in these tests).

func setKey(r *Region, idx BlockIndex, key int64) {
	binary.LittleEndian.PutUint64(r.Slot(idx).Payload[0:8], uint64(key))
}

func getKey(r *Region, idx BlockIndex) int64 {
	return int64(binary.LittleEndian.Uint64(r.Slot(idx).Payload[0:8]))
}

func intCmp(r *Region, a, b BlockIndex) int {
	ka, kb := getKey(r, a), getKey(r, b)
	switch {
	case ka < kb:
		return -1
	case ka > kb:
		return 1
	default:
		return 0
	}
}

func newIntTree(capacity uint32) (*Region, *Tree, *BlockIndex) {
	r := NewRegion(capacity)
	root := new(BlockIndex)
	*root = NilIndex
	return r, NewTree(r, root, intCmp), root
}

func insertKey(t *testing.T, r *Region, tree *Tree, key int64) BlockIndex {
	t.Helper()
	idx, err := r.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	setKey(r, idx, key)
	tree.Insert(idx)
	return idx
}

func TestRBTreeInsertAscendingOrder(t *testing.T) {
	r, tree, _ := newIntTree(64)
	keys := []int64{50, 10, 90, 30, 70, 20, 80, 40, 60, 5}
	for _, k := range keys {
		insertKey(t, r, tree, k)
	}
	if err := tree.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	var got []int64
	tree.ForEachAscending(func(idx BlockIndex) bool {
		got = append(got, getKey(r, idx))
		return true
	})
	want := append([]int64{}, keys...)
	sortInts(want)
	if !equalInts(got, want) {
		t.Fatalf("ascending order mismatch: got %v want %v", got, want)
	}
}

func TestRBTreeMinMax(t *testing.T) {
	r, tree, _ := newIntTree(16)
	keys := []int64{7, 3, 9, 1, 5}
	for _, k := range keys {
		insertKey(t, r, tree, k)
	}
	if got := getKey(r, tree.MinIndex()); got != 1 {
		t.Fatalf("min: got %d want 1", got)
	}
	if got := getKey(r, tree.MaxIndex()); got != 9 {
		t.Fatalf("max: got %d want 9", got)
	}
}

func TestRBTreeSuccessorPredecessor(t *testing.T) {
	r, tree, _ := newIntTree(16)
	idxByKey := map[int64]BlockIndex{}
	for _, k := range []int64{10, 20, 30, 40, 50} {
		idxByKey[k] = insertKey(t, r, tree, k)
	}
	if got := getKey(r, tree.Successor(idxByKey[20])); got != 30 {
		t.Fatalf("successor(20): got %d want 30", got)
	}
	if got := getKey(r, tree.Predecessor(idxByKey[20])); got != 10 {
		t.Fatalf("predecessor(20): got %d want 10", got)
	}
	if tree.Successor(idxByKey[50]) != NilIndex {
		t.Fatalf("successor of max should be nil")
	}
	if tree.Predecessor(idxByKey[10]) != NilIndex {
		t.Fatalf("predecessor of min should be nil")
	}
}

func TestRBTreeDeleteMaintainsInvariantsRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		r, tree, _ := newIntTree(512)
		n := 200
		var keys []int64
		present := map[int64]bool{}
		for i := 0; i < n; i++ {
			var k int64
			for {
				k = rng.Int63n(100000)
				if !present[k] {
					break
				}
			}
			present[k] = true
			insertKey(t, r, tree, k)
			keys = append(keys, k)
			if i%10 == 0 {
				if err := tree.Validate(); err != nil {
					t.Fatalf("trial %d insert %d: %v", trial, i, err)
				}
			}
		}
		rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
		for i, k := range keys {
			// A two-child Remove moves the successor's payload into the
			// removed slot, so each key's current block is looked up
			// rather than remembered from insertion.
			idx := tree.Find(func(reg *Region, b BlockIndex) int {
				switch kb := getKey(reg, b); {
				case k < kb:
					return -1
				case k > kb:
					return 1
				}
				return 0
			})
			if idx.IsNil() {
				t.Fatalf("trial %d: key %d not found before delete", trial, k)
			}
			freed := tree.Remove(idx)
			if err := r.Free(freed); err != nil {
				t.Fatalf("free: %v", err)
			}
			if i%10 == 0 {
				if err := tree.Validate(); err != nil {
					t.Fatalf("trial %d delete %d: %v", trial, i, err)
				}
			}
		}
		if tree.Root() != NilIndex {
			t.Fatalf("trial %d: tree not empty after deleting all", trial)
		}
		if err := r.ValidateFreeList(); err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}
	}
}

func TestRBTreeDeleteTwoChildrenSwapsPayloadNotPosition(t *testing.T) {
	r, tree, _ := newIntTree(16)
	idxByKey := map[int64]BlockIndex{}
	for _, k := range []int64{20, 10, 30, 25, 35} {
		idxByKey[k] = insertKey(t, r, tree, k)
	}
	// 30 has two children (25, 35); its in-order successor is 35.
	target := idxByKey[30]
	freed := tree.Remove(target)
	if freed != idxByKey[35] {
		t.Fatalf("expected successor's original slot (%d) to be freed, got %d", idxByKey[35], freed)
	}
	// target's block index now holds the former successor's key.
	if getKey(r, target) != 35 {
		t.Fatalf("expected payload of removed node's slot to become 35, got %d", getKey(r, target))
	}
	if err := tree.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestRBTreeFindByKey(t *testing.T) {
	r, tree, _ := newIntTree(16)
	for _, k := range []int64{1, 2, 3, 4, 5} {
		insertKey(t, r, tree, k)
	}
	find := func(target int64) KeyComparator {
		return func(reg *Region, idx BlockIndex) int {
			k := getKey(reg, idx)
			switch {
			case target < k:
				return -1
			case target > k:
				return 1
			default:
				return 0
			}
		}
	}
	idx := tree.Find(find(3))
	if idx == NilIndex || getKey(r, idx) != 3 {
		t.Fatalf("expected to find key 3")
	}
	if tree.Find(find(99)) != NilIndex {
		t.Fatalf("expected not to find key 99")
	}
}

func sortInts(s []int64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func equalInts(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
