// ════════════════════════════════════════════════════════════════════════════════════════════════
// AVL Interval Tree
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Relaxed LSM Priority Queue
// Component: Order-Statistic Set of Taken Indices
//
// Description:
//   Stores a set of integers presented one at a time, collapsing adjacent runs into closed
//   intervals [k1, k2]. Each node additionally carries v, the count of taken indices in its
//   LEFT subtree, which powers the order-statistic queries the quality evaluator leans on:
//   how many taken indices precede x, and where the n-th untaken index sits.
//
// Invariants:
//   - Intervals are pairwise disjoint and non-adjacent (adjacency merges on insert).
//   - AVL balance holds after every insert; rotations maintain v incrementally.
//   - The left-subtree convention for v is applied uniformly, including both rotation
//     directions; count(subtree) = (k2-k1+1) + v + count(right).
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package intervaltree

type node struct {
	l, r   *node
	k1, k2 uint64
	v      uint64 // taken indices in the left subtree
	h      int8
}

// Tree is the interval set. Not safe for concurrent use.
type Tree struct {
	root  *node
	taken uint64
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{}
}

//go:inline
func height(n *node) int {
	if n == nil {
		return -1
	}
	return int(n.h)
}

//go:inline
func setHeight(n *node) {
	lh, rh := height(n.l), height(n.r)
	if lh > rh {
		n.h = int8(lh + 1)
	} else {
		n.h = int8(rh + 1)
	}
}

//go:inline
func length(n *node) uint64 {
	return n.k2 - n.k1 + 1
}

// count returns the number of taken indices in the subtree. Walks only the
// right spine, so it costs O(height); rebalancing uses it to rebuild v where a
// rotation hands a node a new left subtree.
func count(n *node) uint64 {
	var c uint64
	for n != nil {
		c += length(n) + n.v
		n = n.r
	}
	return c
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// INSERT
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// insertState tracks the adjacency candidates met on the way down: u is the
// first node whose interval touches the new index, l the second. When both
// exist the index is the one-element gap between them and the descent ends in
// a merge of l into u.
type insertState struct {
	u, l *node
}

// Insert adds an index to the set. Returns false (leaving the tree
// untouched) when the index is already present; the quality replay treats
// that as a corrupt log and aborts its pass.
func (t *Tree) Insert(ix uint64) bool {
	var st insertState
	if !t.insert(ix, &t.root, &st) {
		return false
	}
	t.taken++
	return true
}

func (t *Tree) insert(ix uint64, root **node, st *insertState) bool {
	n := *root
	if n == nil {
		switch {
		case st.l != nil:
			mergeNodes(st.u, st.l)
		case st.u != nil:
			extendNode(st.u, ix)
		default:
			*root = &node{k1: ix, k2: ix}
		}
		return true
	}

	switch {
	case ix < n.k1:
		if !t.descendLeft(ix, root, st) {
			return false
		}
	case ix > n.k2:
		if !t.descendRight(ix, root, st) {
			return false
		}
	default:
		return false // already taken
	}

	rebalance(root)
	setHeight(n)
	return true
}

func (t *Tree) descendLeft(ix uint64, root **node, st *insertState) bool {
	n := *root

	if n.k1 == ix+1 {
		if st.u == nil {
			st.u = n
		} else {
			st.l = n
		}
	}
	belowMerge := st.u != nil

	// With no upper candidate the index lands as new mass in the left
	// subtree; with one, it will be absorbed into u's interval instead.
	counted := st.u == nil
	if counted {
		n.v++
	}

	if !t.insert(ix, &n.l, st) {
		if counted {
			n.v--
		}
		return false
	}

	// Unlink the merged-away lower node if it is our immediate left child.
	// Its gap-side child is necessarily nil, so the other child steps up.
	if st.l != nil && st.l == n.l {
		if ix == st.l.k2+1 {
			n.l = st.l.l
		} else {
			n.l = st.l.r
		}
	}

	// A merge below an at-or-above upper moved the lower node's indices out
	// of this left subtree.
	if st.l != nil && st.l != n && belowMerge {
		n.v -= length(st.l)
	}
	return true
}

func (t *Tree) descendRight(ix uint64, root **node, st *insertState) bool {
	n := *root

	if n.k2 == ix-1 {
		if st.u == nil {
			st.u = n
		} else {
			st.l = n
		}
	}

	if !t.insert(ix, &n.r, st) {
		return false
	}

	if st.l != nil && st.l == n.r {
		if ix == st.l.k2+1 {
			n.r = st.l.l
		} else {
			n.r = st.l.r
		}
	}
	return true
}

// mergeNodes absorbs lower into upper across the one-index gap between them.
// Lower stays allocated; its parent unlinks it on the way back up.
func mergeNodes(upper, lower *node) {
	if upper.k1 > lower.k2 {
		upper.k1 = lower.k1
	} else {
		upper.k2 = lower.k2
	}
}

// extendNode grows the interval by one adjacent index.
func extendNode(upper *node, ix uint64) {
	if ix < upper.k1 {
		upper.k1 = ix
	} else {
		upper.k2 = ix
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// REBALANCE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// rebalance applies the standard AVL single/double rotations, recomputing the
// affected v counters incrementally (or via the right-spine count where the
// rotation rewires a left subtree wholesale).
func rebalance(root **node) {
	n := *root
	lh, rh := height(n.l), height(n.r)
	if lh-rh < 2 && rh-lh < 2 {
		return
	}

	if lh < rh {
		r := n.r

		// Right-left: rotate the child pair first.
		if height(r.l) > height(r.r) {
			n.r = r.l
			r.l = n.r.r
			n.r.r = r
			r.v = count(r.l)
			setHeight(r)
			r = n.r
		}

		// Right-right.
		n.r = r.l
		r.l = n
		*root = r
		r.v += n.v + length(n)
		setHeight(n)
		setHeight(r)
	} else {
		l := n.l

		// Left-right.
		if height(l.r) > height(l.l) {
			n.l = l.r
			l.r = n.l.l
			n.l.l = l
			n.l.v += l.v + length(l)
			setHeight(l)
			l = n.l
		}

		// Left-left.
		n.l = l.r
		l.r = n
		*root = l
		n.v = count(n.l)
		setHeight(n)
		setHeight(l)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// QUERIES
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// TakenBefore returns the number of taken indices strictly below ix.
func (t *Tree) TakenBefore(ix uint64) uint64 {
	var acc uint64
	n := t.root
	for n != nil {
		switch {
		case ix <= n.k1:
			n = n.l
		case ix > n.k2:
			acc += n.v + length(n)
			n = n.r
		default: // k1 < ix <= k2
			return acc + n.v + (ix - n.k1)
		}
	}
	return acc
}

// NumUntakenBefore returns the number of untaken indices strictly below ix.
func (t *Tree) NumUntakenBefore(ix uint64) uint64 {
	return ix - t.TakenBefore(ix)
}

// TotalTaken returns the cardinality of the set.
func (t *Tree) TotalTaken() uint64 {
	return t.taken
}

const notFound = ^uint64(0)

// NthUntakenIx returns the n-th (0-based) index absent from the set.
func (t *Tree) NthUntakenIx(n uint64) uint64 {
	if r := nthUntaken(t.root, n, 0); r != notFound {
		return r
	}
	// Empty tree, or the target precedes every interval.
	return n
}

func nthUntaken(nd *node, n, takenToLeft uint64) uint64 {
	if nd == nil {
		return notFound
	}
	untakenLeft := nd.k1 - takenToLeft - nd.v
	if untakenLeft > n {
		return nthUntaken(nd.l, n, takenToLeft)
	}
	if r := nthUntaken(nd.r, n, takenToLeft+nd.v+length(nd)); r != notFound {
		return r
	}
	// Everything above k2 in this subtree is untaken: step past the interval
	// and take the remaining strides.
	return nd.k2 + 1 + (n - untakenLeft)
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Clear empties the set.
func (t *Tree) Clear() {
	t.root = nil
	t.taken = 0
}

// Clone returns an independent copy. A full deep copy: no nodes are shared
// between the original and the clone.
func (t *Tree) Clone() *Tree {
	return &Tree{root: cloneNode(t.root), taken: t.taken}
}

func cloneNode(n *node) *node {
	if n == nil {
		return nil
	}
	c := *n
	c.l = cloneNode(n.l)
	c.r = cloneNode(n.r)
	return &c
}
