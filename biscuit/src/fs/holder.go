package fs

import "runtime"
import "sync"

import "golang.org/x/sync/semaphore"

import "klog"
import "limits"
import "wait"

// maxConcurrentIO bounds how many service() calls the sync thread runs
// at once across every registered holder, so a burst of misses across
// many devices can't all hit the disk layer simultaneously.
const maxConcurrentIO = 8

var ioSem = semaphore.NewWeighted(maxConcurrentIO)

// / request_t describes one split, page-aligned span of an in-flight
// / request_io call that missed the cache and has to wait for the
// / sync thread to service it.
type request_t struct {
	pgn    uint32
	within int
	buf    []uint8
	write  bool
	corr   int
}

// / Holder is the page cache for a single block device: a radix tree
// / from page-aligned device offset to resident block, a FIFO of
// / misses waiting on the sync thread, and a dirty list the sync
// / thread drains on flush. At most one I/O is ever outstanding for a
// / given page: a second request_io that misses the same page while
// / the first is in flight is queued behind it rather than issuing a
// / redundant read, since service() checks residency again once it
// / finally runs.
type Holder struct {
	sync.Mutex
	mm    Blockmem_i
	disk  Disk_i
	pages radixtree_t
	dirty *BlkList_t

	pending map[uint32]bool // pages with a service() already queued
	queue   []*request_t
	corrseq int
	done    wait.Wire_t // correlates completions back to request_io
}

// / NewHolder returns an empty cache for a block device, registering
// / it with the package-wide sync thread.
func NewHolder(mm Blockmem_i, disk Disk_i) *Holder {
	h := &Holder{
		mm:      mm,
		disk:    disk,
		dirty:   MkBlkList(),
		pending: map[uint32]bool{},
	}
	registerHolder(h)
	return h
}

func pagenum(offset int) uint32 { return uint32(offset / BSIZE) }

// / RequestIO copies len(buf) bytes between buf and the device
// / starting at offset, splitting the transfer at page boundaries. A
// / span whose page is already resident is copied in line; a span
// / whose page is not resident is handed to the sync thread and the
// / caller blocks until that span's BLOCK_FIN fires. write selects
// / read (false) or write (true).
func (h *Holder) RequestIO(buf []uint8, offset int, write bool) int {
	did := 0
	for did < len(buf) {
		pgoff := offset + did
		pgn := pagenum(pgoff)
		within := pgoff - int(pgn)*BSIZE
		n := BSIZE - within
		if rem := len(buf) - did; n > rem {
			n = rem
		}
		span := buf[did : did+n]

		h.Lock()
		blk := h.pages.lookup(pgn)
		if blk != nil && !h.pending[pgn] {
			if write {
				copy(blk.Data[within:], span)
				blk.Dirty = true
				h.dirty.PushBack(blk)
			} else {
				copy(span, blk.Data[within:])
			}
			h.Unlock()
		} else {
			corr := h.corrseq
			h.corrseq++
			h.pending[pgn] = true
			h.queue = append(h.queue, &request_t{
				pgn: pgn, within: within, buf: span, write: write, corr: corr,
			})
			h.Unlock()
			h.done.Wait(corr)
		}
		did += n
	}
	return did
}

// popRequest removes and returns the oldest queued request, if any.
func (h *Holder) popRequest() (*request_t, bool) {
	h.Lock()
	defer h.Unlock()
	if len(h.queue) == 0 {
		return nil, false
	}
	req := h.queue[0]
	h.queue = h.queue[1:]
	return req, true
}

// requeueFront puts req back at the head of the queue, used when the
// sync thread pops it but the concurrent-I/O semaphore has no spare
// slot this pass.
func (h *Holder) requeueFront(req *request_t) {
	h.Lock()
	h.queue = append([]*request_t{req}, h.queue...)
	h.Unlock()
}

// service performs req's I/O against the resident or newly-read page
// and wakes whoever is parked on req.corr.
func (h *Holder) service(req *request_t) {
	h.Lock()
	blk := h.pages.lookup(req.pgn)
	h.Unlock()
	if blk == nil {
		if !limits.Syslimit.Blocks.Take() {
			klog.Logf(klog.Warn, "holder: page cache over its configured block quota, admitting page %d anyway", req.pgn)
		}
		blk = MkBlock_newpage(int(req.pgn), "holder", h.mm, h.disk, nil)
		blk.Ref = &Objref_t{count: 1, holder: h}
		blk.Read()
		h.Lock()
		h.pages.insert(req.pgn, blk)
		h.Unlock()
	}
	if req.write {
		copy(blk.Data[req.within:], req.buf)
		h.Lock()
		blk.Dirty = true
		h.dirty.PushBack(blk)
		h.Unlock()
	} else {
		copy(req.buf, blk.Data[req.within:])
	}
	h.Lock()
	delete(h.pending, req.pgn)
	h.Unlock()
	h.done.Arise(req.corr)
}

// / FlushDirty writes every dirty page back and clears the dirty list.
// / Called by the sync thread's idle pass and by explicit sync
// / requests.
func (h *Holder) FlushDirty() {
	h.Lock()
	pending := h.dirty
	h.dirty = MkBlkList()
	h.Unlock()
	pending.Apply(func(b *Bdev_block_t) {
		b.Lock()
		dirty := b.Dirty
		b.Dirty = false
		b.Unlock()
		if dirty {
			b.Write()
		}
	})
}

// / Evict drops a clean, non-pending page from the cache so its frame
// / can be reused. It is a no-op for a dirty or in-flight page.
func (h *Holder) Evict(pgn uint32) bool {
	h.Lock()
	defer h.Unlock()
	blk := h.pages.lookup(pgn)
	if blk == nil || h.pending[pgn] {
		return false
	}
	blk.Lock()
	dirty := blk.Dirty
	blk.Unlock()
	if dirty {
		return false
	}
	h.pages.remove(pgn)
	blk.EvictFromCache()
	blk.EvictDone()
	limits.Syslimit.Blocks.Give()
	return true
}

// package-wide sync thread: a single background goroutine loops over
// every registered holder's pending queue, per the page-cache design
// this package implements. holder-local locking makes the registry
// itself the only thing needing its own lock.
var syncer struct {
	sync.Mutex
	holders []*Holder
	halt    chan struct{}
	started bool
	halted  bool
}

func registerHolder(h *Holder) {
	syncer.Lock()
	syncer.holders = append(syncer.holders, h)
	needStart := !syncer.started
	if needStart {
		syncer.started = true
		syncer.halt = make(chan struct{})
	}
	syncer.Unlock()
	if needStart {
		go syncLoop(syncer.halt)
	}
}

func syncLoop(halt chan struct{}) {
	for {
		select {
		case <-halt:
			return
		default:
		}
		syncer.Lock()
		hs := make([]*Holder, len(syncer.holders))
		copy(hs, syncer.holders)
		syncer.Unlock()

		progressed := false
		var wg sync.WaitGroup
		for _, h := range hs {
			req, ok := h.popRequest()
			if !ok {
				continue
			}
			if !ioSem.TryAcquire(1) {
				h.requeueFront(req)
				continue
			}
			progressed = true
			wg.Add(1)
			go func(h *Holder, req *request_t) {
				defer wg.Done()
				defer ioSem.Release(1)
				h.service(req)
			}(h, req)
		}
		wg.Wait()
		if !progressed {
			for _, h := range hs {
				h.FlushDirty()
			}
			runtime.Gosched()
		}
	}
}

// / HaltSync stops the package-wide sync thread. Intended for
// / shutdown; a halted syncer never restarts even if new holders are
// / registered afterward.
func HaltSync() {
	syncer.Lock()
	defer syncer.Unlock()
	if syncer.halted || syncer.halt == nil {
		return
	}
	syncer.halted = true
	close(syncer.halt)
}
