package vm

// holenode_t is a node of the hole tree: an ordered-by-base binary
// search tree over free virtual ranges, augmented with the max free
// run length anywhere in the subtree so a best-fit search can prune
// whole subtrees in O(log n) on a balanced tree. Rebalancing is not
// implemented (insert/delete are plain unbalanced BST operations);
// the augmentation contract is what callers depend on, not a bound
// on tree height.
type holenode_t struct {
	base, len   uintptr
	left, right *holenode_t
	max         uintptr
}

func (n *holenode_t) recalc() {
	n.max = n.len
	if n.left != nil && n.left.max > n.max {
		n.max = n.left.max
	}
	if n.right != nil && n.right.max > n.max {
		n.max = n.right.max
	}
}

func holeinsert(n *holenode_t, base, len uintptr) *holenode_t {
	if n == nil {
		return &holenode_t{base: base, len: len, max: len}
	}
	if base < n.base {
		n.left = holeinsert(n.left, base, len)
	} else {
		n.right = holeinsert(n.right, base, len)
	}
	n.recalc()
	return n
}

// holebestfit finds the leftmost hole with len >= need, using the
// subtree-max augmentation to prune.
func holebestfit(n *holenode_t, need uintptr) *holenode_t {
	if n == nil || n.max < need {
		return nil
	}
	if left := holebestfit(n.left, need); left != nil {
		return left
	}
	if n.len >= need {
		return n
	}
	return holebestfit(n.right, need)
}

func holemin(n *holenode_t) *holenode_t {
	for n.left != nil {
		n = n.left
	}
	return n
}

func holedelete(n *holenode_t, base uintptr) *holenode_t {
	if n == nil {
		return nil
	}
	switch {
	case base < n.base:
		n.left = holedelete(n.left, base)
	case base > n.base:
		n.right = holedelete(n.right, base)
	default:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		succ := holemin(n.right)
		n.base, n.len = succ.base, succ.len
		n.right = holedelete(n.right, succ.base)
	}
	n.recalc()
	return n
}

// holewalk calls f with every (base,len) pair in ascending base order.
func holewalk(n *holenode_t, f func(base, len uintptr)) {
	if n == nil {
		return
	}
	holewalk(n.left, f)
	f(n.base, n.len)
	holewalk(n.right, f)
}

/// Vmregion_t is one address space's hole tree and mapping tree.
/// Every user-virtual page is in exactly one or the other. Mappings
/// are kept in a second, separately-keyed BST over Vminfo_t nodes
/// (reusing Vminfo_t.left/right rather than a parallel node type,
/// since a mapping is already the payload callers want back from a
/// lookup).
type Vmregion_t struct {
	holes *holenode_t
	maps  *Vminfo_t
	novm  bool
}

func mapinsert(n, v *Vminfo_t) *Vminfo_t {
	if n == nil {
		return v
	}
	if v.Pgn < n.Pgn {
		n.left = mapinsert(n.left, v)
	} else {
		n.right = mapinsert(n.right, v)
	}
	return n
}

func maplookup(n *Vminfo_t, pgn uintptr) *Vminfo_t {
	for n != nil {
		if pgn < n.Pgn {
			n = n.left
		} else if pgn >= n.end() {
			n = n.right
		} else {
			return n
		}
	}
	return nil
}

func mapdelete(n *Vminfo_t, pgn uintptr) *Vminfo_t {
	if n == nil {
		return nil
	}
	switch {
	case pgn < n.Pgn:
		n.left = mapdelete(n.left, pgn)
	case pgn >= n.end():
		n.right = mapdelete(n.right, pgn)
	default:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		succ := n.right
		for succ.left != nil {
			succ = succ.left
		}
		succcopy := *succ
		succcopy.left, succcopy.right = n.left, n.right
		newn := &succcopy
		newn.right = mapdelete(n.right, succ.Pgn)
		return newn
	}
	return n
}

func mapwalk(n *Vminfo_t, f func(*Vminfo_t)) {
	if n == nil {
		return
	}
	mapwalk(n.left, f)
	f(n)
	mapwalk(n.right, f)
}

// / Lookup finds the mapping, if any, containing virtual address va.
func (vr *Vmregion_t) Lookup(va uintptr) (*Vminfo_t, bool) {
	pgn := va >> PGSHIFT
	n := maplookup(vr.maps, pgn)
	if n == nil {
		return nil, false
	}
	return n, true
}

// insert adds a mapping to the mapping tree and removes the
// corresponding range from the hole tree (the caller is responsible
// for ensuring the range really was a hole — insert is used both for
// fresh, caller-placed mappings from Vmadd_* and for splits performed
// by map()).
func (vr *Vmregion_t) insert(vmi *Vminfo_t) {
	vr.maps = mapinsert(vr.maps, vmi)
	vr.consumehole(vmi.Pgn<<PGSHIFT, uintptr(vmi.Pglen)*uintptr(PGSIZE))
}

// consumehole removes [base,base+len) from the hole tree, splitting
// the hole that contains it if the hole is larger than the consumed
// range. It is a no-op, not a panic, when no hole is found there; the
// hole tree is advisory bookkeeping for create_hole's coalescing and
// for Unusedva_inner. The mapping tree does not reject an overlapping
// insert either; keeping ranges disjoint is the caller's job.
func (vr *Vmregion_t) consumehole(base, len uintptr) {
	var found *holenode_t
	var rec func(n *holenode_t)
	rec = func(n *holenode_t) {
		if n == nil || found != nil {
			return
		}
		if base >= n.base && base+len <= n.base+n.len {
			found = n
			return
		}
		rec(n.left)
		rec(n.right)
	}
	rec(vr.holes)
	if found == nil {
		return
	}
	fbase, flen := found.base, found.len
	vr.holes = holedelete(vr.holes, fbase)
	if fbase < base {
		vr.holes = holeinsert(vr.holes, fbase, base-fbase)
	}
	fend := fbase + flen
	bend := base + len
	if bend < fend {
		vr.holes = holeinsert(vr.holes, bend, fend-bend)
	}
}

// / create_hole merges [base,base+length) back into the hole tree,
// / coalescing with a neighbor that abuts exactly.
func (vr *Vmregion_t) create_hole(base, length uintptr) {
	var left, right *holenode_t
	holewalk(vr.holes, func(b, l uintptr) {
		if b+l == base {
			left = &holenode_t{base: b, len: l}
		}
		if base+length == b {
			right = &holenode_t{base: b, len: l}
		}
	})
	nb, nl := base, length
	if left != nil {
		vr.holes = holedelete(vr.holes, left.base)
		nb = left.base
		nl += left.len
	}
	if right != nil {
		vr.holes = holedelete(vr.holes, right.base)
		nl += right.len
	}
	vr.holes = holeinsert(vr.holes, nb, nl)
}

// / empty finds an unused virtual range of the given length at or
// / after startva, for mmap(NULL, ...) placement hints.
func (vr *Vmregion_t) empty(startva, len uintptr) (uintptr, uintptr) {
	n := holebestfit(vr.holes, len)
	if n == nil {
		return startva, len
	}
	base := n.base
	if base < startva {
		base = startva
	}
	return base, n.len
}

// / unmap removes the mappings covering [base,base+length), invoking
// / each file mapping's unpin callback or releasing the frame through
// / the refcount table, splitting any mapping only partially covered.
func (vr *Vmregion_t) unmap(base, length uintptr, release func(*Vminfo_t, uintptr)) {
	startpg := base >> PGSHIFT
	endpg := (base + length) >> PGSHIFT
	for pgn := startpg; pgn < endpg; {
		n := maplookup(vr.maps, pgn)
		if n == nil {
			pgn++
			continue
		}
		release(n, pgn<<PGSHIFT)
		if n.Pgn == pgn && n.end() == pgn+1 {
			vr.maps = mapdelete(vr.maps, n.Pgn)
		} else if n.Pgn == pgn {
			n.Pgn++
			n.Pglen--
		} else if n.end() == pgn+1 {
			n.Pglen--
		}
		pgn++
	}
	vr.create_hole(base, length)
}

// / Clear drops every mapping and hole, releasing each VFILE mapping's
// / hold on its backing file.
func (vr *Vmregion_t) Clear() {
	mapwalk(vr.maps, func(v *Vminfo_t) {
		if v.Mtype == VFILE && v.file.mfile != nil && v.file.mfile.mfops != nil {
			v.file.mfile.mfops.Close()
		}
	})
	vr.maps = nil
	vr.holes = nil
}

// / clone deep-copies the mapping tree (used by fork); physical pages
// / are not duplicated here — the caller arranges copy-on-write by
// / walking the child's pmap separately.
func (vr *Vmregion_t) clone() Vmregion_t {
	var nr Vmregion_t
	mapwalk(vr.maps, func(v *Vminfo_t) {
		cp := *v
		cp.left, cp.right = nil, nil
		nr.maps = mapinsert(nr.maps, &cp)
	})
	holewalk(vr.holes, func(b, l uintptr) {
		nr.holes = holeinsert(nr.holes, b, l)
	})
	return nr
}
