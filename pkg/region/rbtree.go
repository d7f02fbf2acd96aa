package region

import "fmt"

// Comparator orders two already-populated slots by the tree's logical
// key (e.g. (price, sequence) for bids/asks, trader key for seats).
// Every tree instance uses exactly one comparator for its lifetime;
// the per-slot Tag byte is debug metadata only (see package doc).
type Comparator func(r *Region, a, b BlockIndex) int

// KeyComparator compares the slot at idx against an external probe
// key captured in the closure. Used for Find, independent of any
// already-inserted node.
type KeyComparator func(r *Region, idx BlockIndex) int

// Tree is a red-black tree over a Region's slots, linked purely
// through BlockIndex fields in the slot header. The tree does not own
// the region; several trees may share one region, each with its own
// root pointer (usually a field inside a market/global header).
type Tree struct {
	region *Region
	root   *BlockIndex
	cmp    Comparator
}

// NewTree builds a tree view over region, rooted at *root (typically
// a field inside a persisted header so the tree survives
// serialization), ordered by cmp.
func NewTree(r *Region, root *BlockIndex, cmp Comparator) *Tree {
	return &Tree{region: r, root: root, cmp: cmp}
}

func (t *Tree) slot(idx BlockIndex) *Slot { return t.region.Slot(idx) }

func (t *Tree) color(idx BlockIndex) Color {
	if idx.IsNil() {
		return ColorBlack
	}
	return t.slot(idx).Color
}

func (t *Tree) setColor(idx BlockIndex, c Color) {
	if idx.IsNil() {
		return
	}
	t.slot(idx).Color = c
}

// Root returns the tree's current root (NilIndex if empty).
func (t *Tree) Root() BlockIndex { return *t.root }

// Find walks the tree by key comparator, returning NilIndex if absent.
func (t *Tree) Find(cmp KeyComparator) BlockIndex {
	n := *t.root
	for !n.IsNil() {
		c := cmp(t.region, n)
		switch {
		case c < 0:
			n = t.slot(n).Left
		case c > 0:
			n = t.slot(n).Right
		default:
			return n
		}
	}
	return NilIndex
}

// Insert links an already-allocated, already-populated block into the
// tree at the position dictated by the comparator, then rebalances.
// The caller must not insert a block whose key collides with an
// existing one (trees carrying a permanent tie-break key such as
// OrderSeq never produce genuine duplicates).
func (t *Tree) Insert(z BlockIndex) {
	y := NilIndex
	x := *t.root
	for !x.IsNil() {
		y = x
		if t.cmp(t.region, z, x) < 0 {
			x = t.slot(x).Left
		} else {
			x = t.slot(x).Right
		}
	}
	zs := t.slot(z)
	zs.Parent = y
	zs.Left = NilIndex
	zs.Right = NilIndex
	zs.Color = ColorRed
	if y.IsNil() {
		*t.root = z
	} else if t.cmp(t.region, z, y) < 0 {
		t.slot(y).Left = z
	} else {
		t.slot(y).Right = z
	}
	t.insertFixup(z)
}

// Remove deletes the logical element at idx. Per spec, a node with two
// children is removed by copying its in-order successor's *payload*
// (not its tree position) into idx, then structurally deleting the
// successor. Remove returns the BlockIndex that is now free for the
// caller (L1) to reclaim: either idx itself (0 or 1 child) or the
// successor's original index (two children).
func (t *Tree) Remove(idx BlockIndex) BlockIndex {
	z := idx
	if !t.slot(z).Left.IsNil() && !t.slot(z).Right.IsNil() {
		succ := t.minNode(t.slot(z).Right)
		t.slot(z).Payload = t.slot(succ).Payload
		t.slot(z).Tag = t.slot(succ).Tag
		z = succ
	}
	t.deleteNode(z)
	return z
}

// MinIndex returns the block index of the structural minimum (used by
// asks, and by GlobalDeposit's reversed ordering for eviction lookup
// via MaxIndex instead).
func (t *Tree) MinIndex() BlockIndex { return t.minNode(*t.root) }

// MaxIndex returns the block index of the structural maximum (used by
// bids' best-bid cache).
func (t *Tree) MaxIndex() BlockIndex { return t.maxNode(*t.root) }

// Successor returns the in-order successor of idx, or NilIndex.
func (t *Tree) Successor(idx BlockIndex) BlockIndex {
	if !t.slot(idx).Right.IsNil() {
		return t.minNode(t.slot(idx).Right)
	}
	p := t.slot(idx).Parent
	n := idx
	for !p.IsNil() && n == t.slot(p).Right {
		n = p
		p = t.slot(p).Parent
	}
	return p
}

// Predecessor returns the in-order predecessor of idx, or NilIndex.
func (t *Tree) Predecessor(idx BlockIndex) BlockIndex {
	if !t.slot(idx).Left.IsNil() {
		return t.maxNode(t.slot(idx).Left)
	}
	p := t.slot(idx).Parent
	n := idx
	for !p.IsNil() && n == t.slot(p).Left {
		n = p
		p = t.slot(p).Parent
	}
	return p
}

// ForEachAscending visits every element in non-decreasing key order
// until fn returns false.
func (t *Tree) ForEachAscending(fn func(BlockIndex) bool) {
	for n := t.minNode(*t.root); !n.IsNil(); n = t.next(n) {
		if !fn(n) {
			return
		}
	}
}

// ForEachDescending visits every element in non-increasing key order
// until fn returns false.
func (t *Tree) ForEachDescending(fn func(BlockIndex) bool) {
	for n := t.maxNode(*t.root); !n.IsNil(); n = t.prev(n) {
		if !fn(n) {
			return
		}
	}
}

// Size counts live nodes by full traversal; intended for tests and
// invariant checks, not the hot path.
func (t *Tree) Size() int {
	n := 0
	t.ForEachAscending(func(BlockIndex) bool { n++; return true })
	return n
}

/* ---------------- internals ---------------- */

func (t *Tree) minNode(n BlockIndex) BlockIndex {
	if n.IsNil() {
		return NilIndex
	}
	for !t.slot(n).Left.IsNil() {
		n = t.slot(n).Left
	}
	return n
}

func (t *Tree) maxNode(n BlockIndex) BlockIndex {
	if n.IsNil() {
		return NilIndex
	}
	for !t.slot(n).Right.IsNil() {
		n = t.slot(n).Right
	}
	return n
}

func (t *Tree) next(n BlockIndex) BlockIndex {
	if n.IsNil() {
		return NilIndex
	}
	if !t.slot(n).Right.IsNil() {
		return t.minNode(t.slot(n).Right)
	}
	p := t.slot(n).Parent
	for !p.IsNil() && n == t.slot(p).Right {
		n = p
		p = t.slot(p).Parent
	}
	return p
}

func (t *Tree) prev(n BlockIndex) BlockIndex {
	if n.IsNil() {
		return NilIndex
	}
	if !t.slot(n).Left.IsNil() {
		return t.maxNode(t.slot(n).Left)
	}
	p := t.slot(n).Parent
	for !p.IsNil() && n == t.slot(p).Left {
		n = p
		p = t.slot(p).Parent
	}
	return p
}

func (t *Tree) leftRotate(x BlockIndex) {
	y := t.slot(x).Right
	t.slot(x).Right = t.slot(y).Left
	if !t.slot(y).Left.IsNil() {
		t.slot(t.slot(y).Left).Parent = x
	}
	t.slot(y).Parent = t.slot(x).Parent
	xp := t.slot(x).Parent
	if xp.IsNil() {
		*t.root = y
	} else if x == t.slot(xp).Left {
		t.slot(xp).Left = y
	} else {
		t.slot(xp).Right = y
	}
	t.slot(y).Left = x
	t.slot(x).Parent = y
}

func (t *Tree) rightRotate(y BlockIndex) {
	x := t.slot(y).Left
	t.slot(y).Left = t.slot(x).Right
	if !t.slot(x).Right.IsNil() {
		t.slot(t.slot(x).Right).Parent = y
	}
	t.slot(x).Parent = t.slot(y).Parent
	yp := t.slot(y).Parent
	if yp.IsNil() {
		*t.root = x
	} else if y == t.slot(yp).Right {
		t.slot(yp).Right = x
	} else {
		t.slot(yp).Left = x
	}
	t.slot(x).Right = y
	t.slot(y).Parent = x
}

func (t *Tree) insertFixup(z BlockIndex) {
	for {
		zp := t.slot(z).Parent
		if zp.IsNil() || t.color(zp) == ColorBlack {
			break
		}
		zpp := t.slot(zp).Parent
		if zp == t.slot(zpp).Left {
			y := t.slot(zpp).Right
			if t.color(y) == ColorRed {
				t.setColor(zp, ColorBlack)
				t.setColor(y, ColorBlack)
				t.setColor(zpp, ColorRed)
				z = zpp
			} else {
				if z == t.slot(zp).Right {
					z = zp
					t.leftRotate(z)
					zp = t.slot(z).Parent
					zpp = t.slot(zp).Parent
				}
				t.setColor(zp, ColorBlack)
				t.setColor(zpp, ColorRed)
				t.rightRotate(zpp)
			}
		} else {
			y := t.slot(zpp).Left
			if t.color(y) == ColorRed {
				t.setColor(zp, ColorBlack)
				t.setColor(y, ColorBlack)
				t.setColor(zpp, ColorRed)
				z = zpp
			} else {
				if z == t.slot(zp).Left {
					z = zp
					t.rightRotate(z)
					zp = t.slot(z).Parent
					zpp = t.slot(zp).Parent
				}
				t.setColor(zp, ColorBlack)
				t.setColor(zpp, ColorRed)
				t.leftRotate(zpp)
			}
		}
	}
	t.setColor(*t.root, ColorBlack)
}

func (t *Tree) transplant(u, v BlockIndex) {
	up := t.slot(u).Parent
	if up.IsNil() {
		*t.root = v
	} else if u == t.slot(up).Left {
		t.slot(up).Left = v
	} else {
		t.slot(up).Right = v
	}
	if !v.IsNil() {
		t.slot(v).Parent = up
	}
}

func (t *Tree) deleteNode(z BlockIndex) {
	y := z
	yOrigColor := t.color(y)
	var x BlockIndex
	// x may be NilIndex; deleteFixup needs to operate "as if" x has a
	// parent even when x is the sentinel, so we track xParent
	// explicitly rather than relying on a mutable sentinel node.
	var xParent BlockIndex

	if t.slot(z).Left.IsNil() {
		x = t.slot(z).Right
		xParent = t.slot(z).Parent
		t.transplant(z, x)
	} else if t.slot(z).Right.IsNil() {
		x = t.slot(z).Left
		xParent = t.slot(z).Parent
		t.transplant(z, x)
	} else {
		y = t.minNode(t.slot(z).Right)
		yOrigColor = t.color(y)
		x = t.slot(y).Right
		if t.slot(y).Parent == z {
			xParent = y
		} else {
			xParent = t.slot(y).Parent
			t.transplant(y, x)
			t.slot(y).Right = t.slot(z).Right
			t.slot(t.slot(y).Right).Parent = y
		}
		t.transplant(z, y)
		t.slot(y).Left = t.slot(z).Left
		t.slot(t.slot(y).Left).Parent = y
		t.setColor(y, t.color(z))
	}

	if yOrigColor == ColorBlack {
		t.deleteFixup(x, xParent)
	}
}

func (t *Tree) deleteFixup(x BlockIndex, xParent BlockIndex) {
	for x != *t.root && t.color(x) == ColorBlack {
		if xParent.IsNil() {
			break
		}
		if x == t.slot(xParent).Left {
			w := t.slot(xParent).Right
			if t.color(w) == ColorRed {
				t.setColor(w, ColorBlack)
				t.setColor(xParent, ColorRed)
				t.leftRotate(xParent)
				w = t.slot(xParent).Right
			}
			if t.color(t.slot(w).Left) == ColorBlack && t.color(t.slot(w).Right) == ColorBlack {
				t.setColor(w, ColorRed)
				x = xParent
				xParent = t.slot(x).Parent
			} else {
				if t.color(t.slot(w).Right) == ColorBlack {
					t.setColor(t.slot(w).Left, ColorBlack)
					t.setColor(w, ColorRed)
					t.rightRotate(w)
					w = t.slot(xParent).Right
				}
				t.setColor(w, t.color(xParent))
				t.setColor(xParent, ColorBlack)
				t.setColor(t.slot(w).Right, ColorBlack)
				t.leftRotate(xParent)
				x = *t.root
				xParent = NilIndex
			}
		} else {
			w := t.slot(xParent).Left
			if t.color(w) == ColorRed {
				t.setColor(w, ColorBlack)
				t.setColor(xParent, ColorRed)
				t.rightRotate(xParent)
				w = t.slot(xParent).Left
			}
			if t.color(t.slot(w).Right) == ColorBlack && t.color(t.slot(w).Left) == ColorBlack {
				t.setColor(w, ColorRed)
				x = xParent
				xParent = t.slot(x).Parent
			} else {
				if t.color(t.slot(w).Left) == ColorBlack {
					t.setColor(t.slot(w).Right, ColorBlack)
					t.setColor(w, ColorRed)
					t.leftRotate(w)
					w = t.slot(xParent).Left
				}
				t.setColor(w, t.color(xParent))
				t.setColor(xParent, ColorBlack)
				t.setColor(t.slot(w).Left, ColorBlack)
				t.rightRotate(xParent)
				x = *t.root
				xParent = NilIndex
			}
		}
	}
	t.setColor(x, ColorBlack)
}

// Validate checks BST ordering, red-red absence, and equal
// black-height on every root-to-nil path. Intended for tests.
func (t *Tree) Validate() error {
	_, err := t.validate(*t.root)
	return err
}

func (t *Tree) validate(n BlockIndex) (blackHeight int, err error) {
	if n.IsNil() {
		return 1, nil
	}
	s := t.slot(n)
	if s.Color == ColorRed {
		if t.color(s.Left) == ColorRed || t.color(s.Right) == ColorRed {
			return 0, fmt.Errorf("region: red node %d has red child", n)
		}
	}
	if !s.Left.IsNil() {
		if t.cmp(t.region, s.Left, n) > 0 {
			return 0, fmt.Errorf("region: BST violation at %d (left)", n)
		}
		if t.slot(s.Left).Parent != n {
			return 0, fmt.Errorf("region: parent link broken at %d (left)", n)
		}
	}
	if !s.Right.IsNil() {
		if t.cmp(t.region, s.Right, n) < 0 {
			return 0, fmt.Errorf("region: BST violation at %d (right)", n)
		}
		if t.slot(s.Right).Parent != n {
			return 0, fmt.Errorf("region: parent link broken at %d (right)", n)
		}
	}
	lh, err := t.validate(s.Left)
	if err != nil {
		return 0, err
	}
	rh, err := t.validate(s.Right)
	if err != nil {
		return 0, err
	}
	if lh != rh {
		return 0, fmt.Errorf("region: black-height mismatch at %d (%d vs %d)", n, lh, rh)
	}
	add := 0
	if s.Color == ColorBlack {
		add = 1
	}
	return lh + add, nil
}
