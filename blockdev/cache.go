package blockdev

import (
	"container/list"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// NBUF is the number of buffers kept pinned in the cache, mirroring
// xv6's fixed-size buffer cache (bio.c).
const NBUF = 64

// Buf is a pinned, refcounted sector buffer. Callers must not retain
// Data past the matching Brelse.
type Buf struct {
	Sector uint32
	Data   []byte

	dirty bool
	ref   int
	elem  *list.Element
}

// Cache is a pinned sector buffer cache sitting in front of a Device,
// with a transaction bracket for grouping dirty writes. It is the Go
// rendering of bread/bwrite/brelse/log_write/begin_trans/commit_trans.
type Cache struct {
	mu   sync.Mutex
	dev  Device
	lru  *list.List // least-recently-used Buf, front = most recent
	bufs map[uint32]*list.Element

	inTrans bool
	dirty   map[uint32]*Buf

	log *slog.Logger
}

// NewCache wraps dev with a pinned buffer cache. log may be nil.
func NewCache(dev Device, log *slog.Logger) *Cache {
	return &Cache{
		dev:   dev,
		lru:   list.New(),
		bufs:  make(map[uint32]*list.Element, NBUF),
		dirty: make(map[uint32]*Buf),
		log:   log,
	}
}

func (c *Cache) trace(msg string, args ...any) {
	if c.log != nil {
		c.log.Debug(msg, args...)
	}
}

// Bread returns a pinned buffer holding the contents of sector,
// reading through to the device on a cache miss.
func (c *Cache) Bread(sector uint32) (*Buf, error) {
	c.mu.Lock()
	if e, ok := c.bufs[sector]; ok {
		b := e.Value.(*Buf)
		b.ref++
		c.lru.MoveToFront(e)
		c.mu.Unlock()
		c.trace("blockdev:bread:hit", slog.Uint64("sector", uint64(sector)))
		return b, nil
	}
	b := &Buf{Sector: sector, Data: make([]byte, SectorSize), ref: 1}
	c.evictLocked()
	b.elem = c.lru.PushFront(b)
	c.bufs[sector] = b.elem
	c.mu.Unlock()

	c.trace("blockdev:bread:miss", slog.Uint64("sector", uint64(sector)))
	if err := c.dev.ReadSector(sector, b.Data); err != nil {
		return nil, fmt.Errorf("blockdev: read sector %d: %w", sector, err)
	}
	return b, nil
}

// evictLocked drops the least-recently-used unpinned buffer if the
// cache is at capacity. Must be called with c.mu held.
func (c *Cache) evictLocked() {
	if c.lru.Len() < NBUF {
		return
	}
	for e := c.lru.Back(); e != nil; e = e.Prev() {
		b := e.Value.(*Buf)
		if b.ref == 0 && !b.dirty {
			c.lru.Remove(e)
			delete(c.bufs, b.Sector)
			return
		}
	}
	// All buffers pinned or dirty: exceed capacity rather than lose data.
}

// Bwrite marks b dirty and, outside a transaction, writes it through
// immediately.
func (c *Cache) Bwrite(b *Buf) error {
	b.dirty = true
	if c.inTransaction() {
		c.mu.Lock()
		c.dirty[b.Sector] = b
		c.mu.Unlock()
		return nil
	}
	return c.writeThrough(b)
}

// LogWrite enqueues b under the current transaction bracket. Outside a
// bracket it behaves like Bwrite.
func (c *Cache) LogWrite(b *Buf) error {
	return c.Bwrite(b)
}

func (c *Cache) writeThrough(b *Buf) error {
	if err := c.dev.WriteSector(b.Sector, b.Data); err != nil {
		return fmt.Errorf("blockdev: write sector %d: %w", b.Sector, err)
	}
	b.dirty = false
	return nil
}

// Brelse releases a pin acquired by Bread.
func (c *Cache) Brelse(b *Buf) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b.ref > 0 {
		b.ref--
	}
}

func (c *Cache) inTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inTrans
}

// Begin opens a transaction bracket: subsequent LogWrite/Bwrite calls
// are deferred until Commit. Brackets do not nest.
func (c *Cache) Begin() {
	c.mu.Lock()
	c.inTrans = true
	c.mu.Unlock()
}

// Commit flushes every buffer dirtied since Begin, in sector order,
// and closes the bracket. It flushes whatever is dirty even if the
// caller is committing after a mid-operation failure, per spec.
func (c *Cache) Commit() error {
	c.mu.Lock()
	pending := c.dirty
	c.dirty = make(map[uint32]*Buf)
	c.inTrans = false
	c.mu.Unlock()

	sectors := make([]uint32, 0, len(pending))
	for s := range pending {
		sectors = append(sectors, s)
	}
	sort.Slice(sectors, func(i, j int) bool { return sectors[i] < sectors[j] })

	var firstErr error
	for _, s := range sectors {
		if err := c.writeThrough(pending[s]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Zero zeroes sector through the cache, for SFS's bzero and FAT's cluster clear.
func (c *Cache) Zero(sector uint32) error {
	b, err := c.Bread(sector)
	if err != nil {
		return err
	}
	defer c.Brelse(b)
	for i := range b.Data {
		b.Data[i] = 0
	}
	return c.LogWrite(b)
}
