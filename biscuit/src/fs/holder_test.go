package fs

import "sync"
import "testing"
import "time"

import "github.com/stretchr/testify/require"

import "mem"

type fakeMem struct {
	sync.Mutex
	next mem.Pa_t
	pgs  map[mem.Pa_t]*mem.Bytepg_t
}

func newFakeMem() *fakeMem { return &fakeMem{pgs: map[mem.Pa_t]*mem.Bytepg_t{}} }

func (f *fakeMem) Alloc() (mem.Pa_t, *mem.Bytepg_t, bool) {
	f.Lock()
	defer f.Unlock()
	f.next += mem.Pa_t(mem.PGSIZE)
	pg := &mem.Bytepg_t{}
	f.pgs[f.next] = pg
	return f.next, pg, true
}
func (f *fakeMem) Free(pa mem.Pa_t) {
	f.Lock()
	defer f.Unlock()
	delete(f.pgs, pa)
}
func (f *fakeMem) Refup(mem.Pa_t) {}

type fakeDisk struct{}

func (fakeDisk) Start(req *Bdev_req_t) bool {
	req.Blks.Apply(func(b *Bdev_block_t) {
		if req.Cmd == BDEV_READ {
			// leave pre-seeded Data alone; a freshly faulted-in block
			// reads as zeroes, matching a new_page allocation.
		}
	})
	// AckCh is unbuffered and the caller only receives from it once
	// Start has returned true, so the ack has to come from elsewhere.
	go func() { req.AckCh <- true }()
	return true
}
func (fakeDisk) Stats() string { return "fake" }

func TestRequestIOMissThenHit(t *testing.T) {
	h := NewHolder(newFakeMem(), fakeDisk{})
	defer HaltSync()

	buf := make([]uint8, 8)
	for i := range buf {
		buf[i] = uint8(i + 1)
	}
	n := h.RequestIO(buf, 0, true)
	require.Equal(t, len(buf), n)

	out := make([]uint8, 8)
	// give the background sync thread a moment in case this read races
	// a concurrently-queued write to the same page.
	deadline := time.Now().Add(time.Second)
	for {
		n = h.RequestIO(out, 0, false)
		if n == len(out) && out[0] == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("read never observed the prior write: %v", out)
		}
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, buf, out)
}

func TestEvictRefusesDirtyPage(t *testing.T) {
	h := NewHolder(newFakeMem(), fakeDisk{})
	defer HaltSync()

	blk := MkBlock_newpage(9, "t", h.mm, h.disk, nil)
	blk.Dirty = true
	h.Lock()
	h.pages.insert(9, blk)
	h.Unlock()

	require.False(t, h.Evict(9))

	blk.Lock()
	blk.Dirty = false
	blk.Unlock()
	require.True(t, h.Evict(9))
}

func TestRadixTreeInsertLookupRemove(t *testing.T) {
	var rt radixtree_t
	b := &Bdev_block_t{Block: 5}
	require.Nil(t, rt.lookup(5))
	rt.insert(5, b)
	require.Same(t, b, rt.lookup(5))
	rt.remove(5)
	require.Nil(t, rt.lookup(5))
}
