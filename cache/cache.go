// Package cache implements the buffer cache sitting between the
// indexed inode and the block device: a fixed array of slots with
// clock/second-chance eviction, write-back, a background flusher, and
// non-blocking read-ahead. Every public operation is globally
// serialized by one mutex; this is deliberate (see spec.md §4.1) and
// should be preserved rather than "fixed" into something more
// concurrent.
package cache

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sectorfs/sectorfs/sector"
)

// NSlots is the fixed number of slots in the buffer cache.
const NSlots = 64

// defaultFlushInterval is the "tens of seconds" the storage core's
// periodic flusher sleeps between passes.
const defaultFlushInterval = 30 * time.Second

// readAheadQueueSize bounds how many outstanding read-ahead requests
// can be buffered; once it is full, ReadAhead drops further hints
// rather than blocking. It is sized generously since read-ahead is a
// best-effort hint, not a correctness requirement.
const readAheadQueueSize = 256

// Device is the slice of sectordev.Device the cache needs.
type Device interface {
	ReadSector(n sector.Number, buf []byte) error
	WriteSector(n sector.Number, buf []byte) error
}

type slot struct {
	occupied bool
	disk     sector.Number
	buffer   [sector.Size]byte
	dirty    bool
	ref      bool
}

// Cache is the fixed-size sector buffer cache. mu is the single
// global lock spec.md §4.1 requires: every public operation acquires
// it on entry and releases it on exit, so any two cached operations
// are totally ordered.
type Cache struct {
	dev Device

	mu    sync.Mutex
	slots [NSlots]slot
	hand  int

	readAhead chan sector.Number

	cancel context.CancelFunc
	group  *errgroup.Group
}

// Option configures a Cache at construction time.
type Option func(*Cache, *options)

type options struct {
	flushInterval time.Duration
}

// WithFlushInterval overrides the default periodic write-back
// interval.
func WithFlushInterval(d time.Duration) Option {
	return func(_ *Cache, o *options) { o.flushInterval = d }
}

// New creates a cache over dev, starting its background flusher and
// read-ahead drain goroutine immediately.
func New(dev Device, opts ...Option) *Cache {
	o := options{flushInterval: defaultFlushInterval}
	c := &Cache{
		dev:       dev,
		readAhead: make(chan sector.Number, readAheadQueueSize),
	}
	for _, opt := range opts {
		opt(c, &o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	c.group = g

	g.Go(func() error {
		c.flushLoop(gctx, o.flushInterval)
		return nil
	})
	g.Go(func() error {
		c.readAheadLoop(gctx)
		return nil
	})

	return c
}

func (c *Cache) flushLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.FlushAll(); err != nil {
				log.Printf("cache: periodic flush failed: %v", err)
			}
		}
	}
}

func (c *Cache) readAheadLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-c.readAhead:
			c.mu.Lock()
			_, err := c.fillLocked(s)
			c.mu.Unlock()
			if err != nil {
				// Failures in read-ahead are never reported to a
				// caller, only logged: it is a hint, never a
				// correctness requirement.
				log.Printf("cache: read-ahead of sector %d failed: %v", s, err)
			}
		}
	}
}

// lookupLocked scans occupied slots for disk_sector == s. Must be
// called with mu held.
func (c *Cache) lookupLocked(s sector.Number) *slot {
	for i := range c.slots {
		if c.slots[i].occupied && c.slots[i].disk == s {
			return &c.slots[i]
		}
	}
	return nil
}

// evictLocked runs the clock/second-chance policy and returns a slot
// ready to be refilled. If the victim was dirty, its buffer is
// written back first; a write-back failure is logged and the slot is
// evicted anyway (the dirty data is lost — see spec.md §4.1's failure
// model for eviction write-back errors).
func (c *Cache) evictLocked() *slot {
	for {
		s := &c.slots[c.hand]
		if !s.occupied {
			return s
		}
		if s.ref {
			s.ref = false
			c.hand = (c.hand + 1) % NSlots
			continue
		}
		break
	}
	victim := &c.slots[c.hand]
	if victim.dirty {
		if err := c.dev.WriteSector(victim.disk, victim.buffer[:]); err != nil {
			log.Printf("cache: eviction write-back of sector %d failed, data lost: %v", victim.disk, err)
		}
		victim.dirty = false
	}
	victim.occupied = false
	return victim
}

// fillLocked returns the slot holding sector s, reading it from disk
// on a miss. Must be called with mu held.
func (c *Cache) fillLocked(s sector.Number) (*slot, error) {
	if slot := c.lookupLocked(s); slot != nil {
		return slot, nil
	}
	slot := c.evictLocked()
	if err := c.dev.ReadSector(s, slot.buffer[:]); err != nil {
		return nil, fmt.Errorf("cache: fill sector %d: %w", s, err)
	}
	slot.occupied = true
	slot.disk = s
	slot.dirty = false
	return slot, nil
}

// Read copies the full sector s into out.
func (c *Cache) Read(s sector.Number, out []byte) error {
	if len(out) != sector.Size {
		panic("cache: Read buffer must be exactly one sector")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, err := c.fillLocked(s)
	if err != nil {
		return err
	}
	slot.ref = true
	copy(out, slot.buffer[:])
	return nil
}

// ReadPartial copies length bytes starting at offset within sector s
// into out.
func (c *Cache) ReadPartial(s sector.Number, out []byte, offset, length int) error {
	checkPartialBounds(offset, length)
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, err := c.fillLocked(s)
	if err != nil {
		return err
	}
	slot.ref = true
	copy(out[:length], slot.buffer[offset:offset+length])
	return nil
}

// Write writes the full sector in to sector s, write-through the
// cache.
func (c *Cache) Write(s sector.Number, in []byte) error {
	if len(in) != sector.Size {
		panic("cache: Write buffer must be exactly one sector")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// A full-sector write still reads-before-write via fillLocked on a
	// miss; spec.md §4.1 allows this simpler behavior to be kept for
	// the full-SECTOR_SIZE case even though the read result is fully
	// overwritten.
	slot, err := c.fillLocked(s)
	if err != nil {
		return err
	}
	slot.ref = true
	slot.dirty = true
	copy(slot.buffer[:], in)
	return nil
}

// WritePartial writes length bytes from in into sector s starting at
// offset, leaving the rest of the sector's cached bytes untouched.
func (c *Cache) WritePartial(s sector.Number, in []byte, offset, length int) error {
	checkPartialBounds(offset, length)
	c.mu.Lock()
	defer c.mu.Unlock()
	// The unmodified bytes must remain valid, so a miss must read the
	// sector before the partial write lands on top of it.
	slot, err := c.fillLocked(s)
	if err != nil {
		return err
	}
	slot.ref = true
	slot.dirty = true
	copy(slot.buffer[offset:offset+length], in[:length])
	return nil
}

func checkPartialBounds(offset, length int) {
	if offset < 0 || offset >= sector.Size {
		panic(fmt.Sprintf("cache: invalid offset %d", offset))
	}
	if length < 0 || offset+length > sector.Size {
		panic(fmt.Sprintf("cache: offset %d + length %d exceeds sector size", offset, length))
	}
}

// ReadAhead submits a non-blocking hint to warm the cache for sector
// s. It never blocks the caller and never guarantees s becomes
// resident: if the queue is full the hint is simply dropped.
func (c *Cache) ReadAhead(s sector.Number) {
	select {
	case c.readAhead <- s:
	default:
		// Queue full: drop the hint. Read-ahead never guarantees
		// residency, so dropping it silently is within contract.
	}
}

// FlushAll writes every dirty occupied slot back to disk.
func (c *Cache) FlushAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.slots {
		s := &c.slots[i]
		if !s.occupied || !s.dirty {
			continue
		}
		if err := c.dev.WriteSector(s.disk, s.buffer[:]); err != nil {
			return fmt.Errorf("cache: flush sector %d: %w", s.disk, err)
		}
		s.dirty = false
	}
	return nil
}

// Destroy flushes every dirty slot and stops the background flusher
// and read-ahead goroutines. It sets no closed state: Read, Write and
// the other operations still work on the cache afterwards, with no
// periodic flush and with read-ahead hints left unserved. Unlike the
// source design (which flushes clean slots too, spec.md §9), this
// flushes only dirty slots: cheaper, and equivalent since a clean
// slot's on-disk copy is already current.
func (c *Cache) Destroy() error {
	err := c.FlushAll()
	c.cancel()
	if werr := c.group.Wait(); werr != nil && err == nil {
		err = werr
	}
	return err
}
