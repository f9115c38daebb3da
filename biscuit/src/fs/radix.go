package fs

// radixtree_t maps a block-aligned page number to its resident
// Bdev_block_t in O(1) per lookup for any device smaller than 2^32
// pages (16 TiB at a 4 KiB page size): each lookup walks 4 fixed
// levels, one byte of the key per level, mirroring the page-table
// walk vm.pmap_walk performs over physical memory.
type radixtree_t struct {
	root *radixnode_t
}

type radixnode_t struct {
	children [256]*radixnode_t
	leaf     *Bdev_block_t
}

func radixbyte(pgn uint32, level int) uint32 {
	return (pgn >> uint(8*(3-level))) & 0xff
}

func (rt *radixtree_t) lookup(pgn uint32) *Bdev_block_t {
	n := rt.root
	for level := 0; n != nil && level < 4; level++ {
		n = n.children[radixbyte(pgn, level)]
	}
	if n == nil {
		return nil
	}
	return n.leaf
}

func (rt *radixtree_t) insert(pgn uint32, b *Bdev_block_t) {
	if rt.root == nil {
		rt.root = &radixnode_t{}
	}
	n := rt.root
	for level := 0; level < 4; level++ {
		idx := radixbyte(pgn, level)
		if n.children[idx] == nil {
			n.children[idx] = &radixnode_t{}
		}
		n = n.children[idx]
	}
	n.leaf = b
}

func (rt *radixtree_t) remove(pgn uint32) {
	n := rt.root
	for level := 0; n != nil && level < 4; level++ {
		n = n.children[radixbyte(pgn, level)]
	}
	if n != nil {
		n.leaf = nil
	}
}

// apply calls f for every resident block in the tree, in no
// particular order.
func (rt *radixtree_t) apply(f func(*Bdev_block_t)) {
	var walk func(n *radixnode_t)
	walk = func(n *radixnode_t) {
		if n == nil {
			return
		}
		if n.leaf != nil {
			f(n.leaf)
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(rt.root)
}
