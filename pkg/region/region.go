// Package region implements the hypertree's L0/L1 layer: a fixed-block
// allocator over a single contiguous byte-addressable region, indexed
// by 32-bit block indices rather than pointers so that the whole
// region can be serialized as an account's raw bytes.
package region

import (
	"errors"
	"fmt"
)

// BlockIndex is a 32-bit offset identifying one fixed-size slot inside
// the dynamic region. It is not a byte offset: slot k lives at
// header_size + k*SlotSize.
type BlockIndex uint32

// NilIndex is the sentinel meaning "no slot".
const NilIndex BlockIndex = 1<<32 - 1

func (b BlockIndex) IsNil() bool { return b == NilIndex }

// Color is the red-black color of a tree node. A free-list node's
// color is meaningless and left at ColorBlack.
type Color uint8

const (
	ColorRed Color = iota
	ColorBlack
)

// PayloadSize is the fixed payload carried by every slot, independent
// of which logical tree (or free list) currently owns it.
const PayloadSize = 64

// Slot is one 80-byte fixed-size block: a 16-byte tree header (left,
// right, parent, color, payload-type tag, padding) followed by a
// 64-byte polymorphic payload. Every live slot belongs to exactly one
// tree; every free slot is linked into the free list via the first
// four bytes of Payload (reinterpreted as a BlockIndex).
type Slot struct {
	Left, Right, Parent BlockIndex
	Color               Color
	Tag                 uint8
	_                    [2]byte
	Payload              [PayloadSize]byte
}

// ErrOutOfSpace is returned by Allocate when the free list is empty
// and the caller has not granted the region more bytes (see Expand).
var ErrOutOfSpace = errors.New("region: out of space")

// ErrDoubleFree names the double-free programming error: freeing an
// index twice without an intervening allocate corrupts the free list.
// Free does not detect this case and never returns ErrDoubleFree.
var ErrDoubleFree = errors.New("region: double free")

// Region is the dynamic area of one account: an array of fixed-size
// slots plus a singly-linked free list threaded through unused slots.
type Region struct {
	slots    []Slot
	freeHead BlockIndex
	freeLen  uint32
}

// NewRegion allocates an empty region with the given initial slot
// capacity, all of it on the free list.
func NewRegion(capacity uint32) *Region {
	r := &Region{
		slots:    make([]Slot, capacity),
		freeHead: NilIndex,
	}
	for i := capacity; i > 0; i-- {
		idx := BlockIndex(i - 1)
		r.slots[idx] = Slot{Color: ColorBlack}
		r.setFreeNext(idx, r.freeHead)
		r.freeHead = idx
	}
	r.freeLen = capacity
	return r
}

// Len returns the total slot capacity (live + free).
func (r *Region) Len() uint32 { return uint32(len(r.slots)) }

// FreeLen returns the number of slots currently on the free list.
func (r *Region) FreeLen() uint32 { return r.freeLen }

// LiveLen returns the number of slots not on the free list.
func (r *Region) LiveLen() uint32 { return r.Len() - r.freeLen }

// Slot returns a pointer to the slot at idx. Callers must not retain
// the pointer across a call to Expand, which may reallocate the
// backing array.
func (r *Region) Slot(idx BlockIndex) *Slot {
	return &r.slots[idx]
}

// Expand appends n freshly-zeroed blocks to the region and pushes them
// onto the free list head, as if the host had granted more bytes to
// the account. Idempotent in the sense that calling it repeatedly only
// ever grows the region.
func (r *Region) Expand(n uint32) {
	base := BlockIndex(len(r.slots))
	r.slots = append(r.slots, make([]Slot, n)...)
	for i := n; i > 0; i-- {
		idx := base + BlockIndex(i-1)
		r.slots[idx] = Slot{Color: ColorBlack}
		r.setFreeNext(idx, r.freeHead)
		r.freeHead = idx
	}
	r.freeLen += n
}

// Snapshot copies out every slot plus free-list bookkeeping, enough
// for RestoreRegion to reconstruct byte-identical state. Used by
// internal/checkpoint to persist a market off-chain between restarts,
// independent of whatever the host chain itself durably commits.
type Snapshot struct {
	Slots    []Slot
	FreeHead BlockIndex
	FreeLen  uint32
}

func (r *Region) Snapshot() Snapshot {
	slots := make([]Slot, len(r.slots))
	copy(slots, r.slots)
	return Snapshot{Slots: slots, FreeHead: r.freeHead, FreeLen: r.freeLen}
}

// RestoreRegion rebuilds a Region from a Snapshot taken by Snapshot.
func RestoreRegion(s Snapshot) *Region {
	slots := make([]Slot, len(s.Slots))
	copy(slots, s.Slots)
	return &Region{slots: slots, freeHead: s.FreeHead, freeLen: s.FreeLen}
}

// Allocate pops the free-list head and returns it. It never returns
// NilIndex on success.
func (r *Region) Allocate() (BlockIndex, error) {
	if r.freeHead.IsNil() {
		return NilIndex, ErrOutOfSpace
	}
	idx := r.freeHead
	next := r.freeNext(idx)
	r.freeHead = next
	r.freeLen--
	r.slots[idx] = Slot{Color: ColorBlack}
	return idx, nil
}

// Free zeroes the slot's payload and header and pushes it back onto
// the free list. Callers must not retain references to idx afterward.
func (r *Region) Free(idx BlockIndex) error {
	if idx.IsNil() || int(idx) >= len(r.slots) {
		return fmt.Errorf("region: free of invalid index %d", idx)
	}
	r.slots[idx] = Slot{Color: ColorBlack}
	r.setFreeNext(idx, r.freeHead)
	r.freeHead = idx
	r.freeLen++
	return nil
}

// FreeHead exposes the free-list head, mirroring MarketHeader's
// persisted free_list_head field.
func (r *Region) FreeHead() BlockIndex { return r.freeHead }

// ValidateFreeList walks the free list from freeHead and returns an
// error if it revisits a slot or fails to terminate at NilIndex within
// capacity steps, and checks that free+live == capacity.
func (r *Region) ValidateFreeList() error {
	seen := make(map[BlockIndex]bool, r.freeLen)
	n := r.freeHead
	count := uint32(0)
	for !n.IsNil() {
		if seen[n] {
			return fmt.Errorf("region: free list cycle at %d", n)
		}
		seen[n] = true
		count++
		if count > r.Len() {
			return errors.New("region: free list longer than capacity")
		}
		n = r.freeNext(n)
	}
	if count != r.freeLen {
		return fmt.Errorf("region: free list length mismatch: walked %d, tracked %d", count, r.freeLen)
	}
	if r.freeLen+r.LiveLen() != r.Len() {
		return errors.New("region: free+live != capacity")
	}
	return nil
}

func (r *Region) freeNext(idx BlockIndex) BlockIndex {
	return BlockIndex(leUint32(r.slots[idx].Payload[0:4]))
}

func (r *Region) setFreeNext(idx BlockIndex, next BlockIndex) {
	putLEUint32(r.slots[idx].Payload[0:4], uint32(next))
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLEUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
