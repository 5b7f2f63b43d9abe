// Package framebus holds the most recent encoded frame and wakes every reader
// waiting for something newer than what it last saw.
//
// The bus is a single slot. Publish overwrites it, so a slow reader skips
// ahead to the latest frame rather than working through a backlog. Frames are
// shared by pointer: every reader woken by one Publish gets the same *Frame.
package framebus

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrClosed is returned to waiters once the bus is closed or reset under them.
var ErrClosed = errors.New("framebus: closed")

// Frame is one JPEG image. Data must not be modified after Publish.
type Frame struct {
	Data      []byte
	Seq       uint64
	Timestamp time.Time
}

// Bus is safe for one publisher and any number of readers.
type Bus struct {
	mu     sync.Mutex
	cond   *sync.Cond
	cur    *Frame
	gen    uint64
	closed bool
	pubs   uint64
}

func New() *Bus {
	b := &Bus{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Publish replaces the current frame and wakes all waiters.
func (b *Bus) Publish(f *Frame) {
	b.mu.Lock()
	b.cur = f
	b.pubs++
	b.cond.Broadcast()
	b.mu.Unlock()
}

// AwaitNext blocks until the current frame has a sequence number greater than
// lastSeen and returns it.
func (b *Bus) AwaitNext(ctx context.Context, lastSeen uint64) (*Frame, error) {
	return b.await(ctx, 0, false, lastSeen)
}

func (b *Bus) await(ctx context.Context, gen uint64, pinned bool, lastSeen uint64) (*Frame, error) {
	// sync.Cond has no cancellation; wake everyone when ctx ends and let each
	// waiter recheck its own context.
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if b.closed || (pinned && b.gen != gen) {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if b.cur != nil && b.cur.Seq > lastSeen {
			return b.cur, nil
		}
		b.cond.Wait()
	}
}

// Current returns the latest frame, or nil if nothing was published since the last Reset.
func (b *Bus) Current() *Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cur
}

// Published is the number of Publish calls over the bus lifetime.
func (b *Bus) Published() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pubs
}

// Reset empties the slot and reopens the bus for a new run. Cursors taken
// before the reset fail with ErrClosed.
func (b *Bus) Reset() {
	b.mu.Lock()
	b.cur = nil
	b.gen++
	b.closed = false
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Close wakes every waiter with ErrClosed until the next Reset.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Cursor tracks one reader's position within the current run.
type Cursor struct {
	bus  *Bus
	gen  uint64
	last uint64
}

// Cursor starts a reader at the beginning of the current run.
func (b *Bus) Cursor() *Cursor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &Cursor{bus: b, gen: b.gen}
}

// Next waits for a frame newer than the last one returned.
func (c *Cursor) Next(ctx context.Context) (*Frame, error) {
	f, err := c.bus.await(ctx, c.gen, true, c.last)
	if err != nil {
		return nil, err
	}
	c.last = f.Seq
	return f, nil
}

// Last is the sequence number of the last frame returned by Next.
func (c *Cursor) Last() uint64 { return c.last }
