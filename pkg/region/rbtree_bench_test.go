package region

import (
	"math/rand"
	"testing"
)

func BenchmarkRBTreeInsert(b *testing.B) {
	r, tree, _ := newIntTree(uint32(b.N + 1))
	rng := rand.New(rand.NewSource(1))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx, err := r.Allocate()
		if err != nil {
			b.Fatalf("allocate: %v", err)
		}
		setKey(r, idx, rng.Int63())
		tree.Insert(idx)
	}
}

func BenchmarkRBTreeLookup(b *testing.B) {
	const n = 1 << 16
	r, tree, _ := newIntTree(n)
	idxs := make([]BlockIndex, n)
	for i := 0; i < n; i++ {
		idx, _ := r.Allocate()
		setKey(r, idx, int64(i))
		tree.Insert(idx)
		idxs[i] = idx
	}
	rng := rand.New(rand.NewSource(2))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		target := int64(rng.Intn(n))
		tree.Find(func(reg *Region, idx BlockIndex) int {
			k := getKey(reg, idx)
			switch {
			case target < k:
				return -1
			case target > k:
				return 1
			default:
				return 0
			}
		})
	}
}
