// Package icache implements the process-wide inode cache and lock
// manager shared by both the sfs and fat32 engines (spec §4.1): a
// single fixed-size table of in-memory inode slots keyed by
// (fstype, dev, inum), with BUSY/VALID flags and sleep/wakeup on
// contention.
package icache

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// FSType tags which engine owns a cached inode.
type FSType uint8

const (
	SFS FSType = iota + 1
	FAT
)

func (t FSType) String() string {
	switch t {
	case SFS:
		return "sfs"
	case FAT:
		return "fat"
	default:
		return "unknown"
	}
}

// NINODE is the fixed size of the shared inode cache table.
const NINODE = 256

// FatalError marks the out-of-resources / on-disk-inconsistency class of
// error described in spec: the core panics rather than returning an
// error, because the condition indicates a violated design budget, not
// a user mistake. fsapi's syscall boundary is the only place that
// recovers these.
type FatalError struct {
	Op  string
	Err error
}

func (e FatalError) Error() string {
	if e.Err == nil {
		return "dualfs: fatal: " + e.Op
	}
	return "dualfs: fatal: " + e.Op + ": " + e.Err.Error()
}

func (e FatalError) Unwrap() error { return e.Err }

// Fatalf panics with a FatalError built from op and a formatted message.
func Fatalf(op, format string, args ...any) {
	panic(FatalError{Op: op, Err: fmt.Errorf(format, args...)})
}

type flags uint8

const (
	flagBusy flags = 1 << iota
	flagValid
)

// Key identifies a cached inode across both engines.
type Key struct {
	FSType FSType
	Dev    uint32
	Inum   uint32
}

// Payload is implemented by each engine's in-memory inode so the cache
// can load and truncate it generically.
type Payload interface {
	// Load reads on-disk metadata into the payload. Called once, with
	// the slot BUSY, the first time the slot is locked after iget.
	Load() error
	// NLink returns the payload's current link count.
	NLink() int16
	// Truncate frees the on-disk storage owned by the payload and
	// resets its on-disk type to "free". Called with the slot BUSY,
	// only when ref has dropped to zero, NLink()==0, and the slot was
	// VALID.
	Truncate() error
}

// Slot is one cached inode. Exactly one of ref>0 cases is "free".
type Slot struct {
	Key     Key
	Payload Payload

	ref   int
	flags flags
}

// Busy reports whether the slot is currently locked by some caller.
func (s *Slot) Busy() bool { return s.flags&flagBusy != 0 }

// Valid reports whether the payload has been loaded from disk.
func (s *Slot) Valid() bool { return s.flags&flagValid != 0 }

// Ref returns the slot's current reference count. Callers holding only
// a reference (not the lock) may read this field's caller-visible
// snapshot but must not rely on it staying fixed without the lock.
func (s *Slot) Ref() int { return s.ref }

// Cache is the shared, fixed-size inode cache and lock manager.
type Cache struct {
	mu    sync.Mutex
	cond  *sync.Cond
	slots [NINODE]Slot

	log *slog.Logger

	hits   prometheus.Counter
	misses prometheus.Counter
	inUse  prometheus.Gauge
}

// New builds an empty cache. log and reg may both be nil.
func New(log *slog.Logger, reg prometheus.Registerer) *Cache {
	c := &Cache{log: log}
	c.cond = sync.NewCond(&c.mu)
	c.hits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dualfs_icache_hits_total",
		Help: "Inode cache lookups that found an already-cached slot.",
	})
	c.misses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dualfs_icache_misses_total",
		Help: "Inode cache lookups that allocated a fresh slot.",
	})
	c.inUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dualfs_icache_slots_in_use",
		Help: "Number of inode cache slots with ref > 0.",
	})
	if reg != nil {
		reg.MustRegister(c.hits, c.misses, c.inUse)
	}
	return c
}

func (c *Cache) trace(msg string, args ...any) {
	if c.log != nil {
		c.log.Debug(msg, args...)
	}
}

// Get is iget: returns an existing slot matching key with ref
// incremented, or allocates a free slot (ref==0) with flags cleared.
// newPayload is called exactly once, only when a fresh slot is
// allocated, to build the engine-specific payload that will later be
// populated by Payload.Load on first Lock.
//
// Panics (fatally, per spec §7's out-of-resources class) if no slot is
// free.
func (c *Cache) Get(key Key, newPayload func() Payload) *Slot {
	c.mu.Lock()
	defer c.mu.Unlock()

	var empty *Slot
	for i := range c.slots {
		s := &c.slots[i]
		if s.ref > 0 && s.Key == key {
			s.ref++
			c.hits.Inc()
			c.inUse.Set(c.countInUseLocked())
			c.trace("icache:get:hit", slog.String("fstype", key.FSType.String()), slog.Uint64("inum", uint64(key.Inum)))
			return s
		}
		if empty == nil && s.ref == 0 {
			empty = s
		}
	}
	if empty == nil {
		Fatalf("icache.Get", "no free slot for %+v (NINODE=%d exhausted)", key, NINODE)
	}
	empty.Key = key
	empty.ref = 1
	empty.flags = 0
	empty.Payload = newPayload()
	c.misses.Inc()
	c.inUse.Set(c.countInUseLocked())
	c.trace("icache:get:miss", slog.String("fstype", key.FSType.String()), slog.Uint64("inum", uint64(key.Inum)))
	return empty
}

func (c *Cache) countInUseLocked() float64 {
	n := 0
	for i := range c.slots {
		if c.slots[i].ref > 0 {
			n++
		}
	}
	return float64(n)
}

// Dup is idup: increments ref under the cache lock.
func (c *Cache) Dup(s *Slot) *Slot {
	c.mu.Lock()
	s.ref++
	c.mu.Unlock()
	return s
}

// Lock is ilock: waits until BUSY clears, sets BUSY, and loads the
// payload from disk on first lock of a not-yet-VALID slot.
func (c *Cache) Lock(s *Slot) error {
	c.mu.Lock()
	if s.ref < 1 {
		c.mu.Unlock()
		panic("icache: ilock on slot with ref < 1")
	}
	for s.Busy() {
		c.cond.Wait()
	}
	s.flags |= flagBusy
	c.mu.Unlock()

	if !s.Valid() {
		if err := s.Payload.Load(); err != nil {
			// Reading on-disk metadata failed: unlock before
			// propagating so the caller isn't left holding a busy
			// slot it can never unlock cleanly.
			c.Unlock(s)
			return err
		}
		c.mu.Lock()
		s.flags |= flagValid
		c.mu.Unlock()
	}
	return nil
}

// Unlock is iunlock: clears BUSY and wakes all waiters.
func (c *Cache) Unlock(s *Slot) {
	c.mu.Lock()
	if !s.Busy() || s.ref < 1 {
		c.mu.Unlock()
		panic("icache: iunlock on non-busy or unreferenced slot")
	}
	s.flags &^= flagBusy
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Put is iput: drops a reference, truncating and freeing on-disk
// storage if this was the last reference to a VALID inode whose
// link count has fallen to zero.
func (c *Cache) Put(s *Slot) error {
	c.mu.Lock()
	if s.ref == 1 && s.Valid() && s.Payload.NLink() == 0 {
		if s.Busy() {
			c.mu.Unlock()
			panic("icache: iput on slot already BUSY")
		}
		s.flags |= flagBusy
		c.mu.Unlock()

		err := s.Payload.Truncate()

		c.mu.Lock()
		s.flags = 0
		c.mu.Unlock()
		c.cond.Broadcast()

		c.mu.Lock()
		s.ref--
		c.inUse.Set(c.countInUseLocked())
		c.mu.Unlock()
		return err
	}
	s.ref--
	c.inUse.Set(c.countInUseLocked())
	c.mu.Unlock()
	return nil
}

// UnlockPut is iunlockput: Unlock followed by Put.
func (c *Cache) UnlockPut(s *Slot) error {
	c.Unlock(s)
	return c.Put(s)
}
