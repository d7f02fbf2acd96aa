package region

import "testing"

func TestAllocateFreeRoundTrip(t *testing.T) {
	r := NewRegion(4)
	if r.FreeLen() != 4 {
		t.Fatalf("expected 4 free slots, got %d", r.FreeLen())
	}
	var got []BlockIndex
	for i := 0; i < 4; i++ {
		idx, err := r.Allocate()
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		got = append(got, idx)
	}
	if _, err := r.Allocate(); err != ErrOutOfSpace {
		t.Fatalf("expected ErrOutOfSpace, got %v", err)
	}
	if err := r.ValidateFreeList(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	for _, idx := range got {
		if err := r.Free(idx); err != nil {
			t.Fatalf("free %d: %v", idx, err)
		}
	}
	if r.FreeLen() != 4 {
		t.Fatalf("expected 4 free after freeing all, got %d", r.FreeLen())
	}
	if err := r.ValidateFreeList(); err != nil {
		t.Fatalf("validate after free: %v", err)
	}
}

func TestExpandGrowsCapacity(t *testing.T) {
	r := NewRegion(1)
	_, _ = r.Allocate()
	if _, err := r.Allocate(); err != ErrOutOfSpace {
		t.Fatalf("expected out of space before expand")
	}
	r.Expand(2)
	if r.Len() != 3 {
		t.Fatalf("expected capacity 3 after expand, got %d", r.Len())
	}
	for i := 0; i < 2; i++ {
		if _, err := r.Allocate(); err != nil {
			t.Fatalf("allocate after expand: %v", err)
		}
	}
	if err := r.ValidateFreeList(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestFreedSlotIsZeroed(t *testing.T) {
	r := NewRegion(2)
	idx, _ := r.Allocate()
	copy(r.Slot(idx).Payload[:], []byte{1, 2, 3, 4})
	r.Slot(idx).Tag = 7
	_ = r.Free(idx)
	idx2, _ := r.Allocate()
	if idx2 != idx {
		t.Skip("LIFO free list reuse not guaranteed to return same index here")
	}
	for i, b := range r.Slot(idx2).Payload {
		if b != 0 {
			t.Fatalf("payload byte %d not zeroed: %d", i, b)
		}
	}
	if r.Slot(idx2).Tag != 0 {
		t.Fatalf("tag not zeroed")
	}
}
