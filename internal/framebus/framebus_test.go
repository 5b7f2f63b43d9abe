package framebus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func frame(seq uint64) *Frame {
	return &Frame{Data: []byte{byte(seq)}, Seq: seq, Timestamp: time.Now()}
}

// TestAwaitBlocksUntilFirstPublish validates a reader that arrives before any
// frame waits for the first publish and then gets it immediately.
func TestAwaitBlocksUntilFirstPublish(t *testing.T) {
	bus := New()
	got := make(chan *Frame, 1)
	go func() {
		f, err := bus.AwaitNext(context.Background(), 0)
		if err != nil {
			t.Errorf("AwaitNext: %v", err)
		}
		got <- f
	}()

	select {
	case <-got:
		t.Fatal("AwaitNext returned before any publish")
	case <-time.After(50 * time.Millisecond):
	}

	want := frame(1)
	bus.Publish(want)

	select {
	case f := <-got:
		if f != want {
			t.Errorf("got frame %v, want %v", f, want)
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitNext did not wake on publish")
	}
}

func TestAwaitReturnsImmediatelyWhenNewer(t *testing.T) {
	bus := New()
	bus.Publish(frame(5))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	f, err := bus.AwaitNext(ctx, 3)
	if err != nil {
		t.Fatalf("AwaitNext: %v", err)
	}
	if f.Seq != 5 {
		t.Errorf("Seq = %d, want 5", f.Seq)
	}
}

// TestSlowReaderSkipsAhead validates overwrite semantics: frames published
// while a reader is busy are never queued for it.
func TestSlowReaderSkipsAhead(t *testing.T) {
	bus := New()
	c := bus.Cursor()
	for i := uint64(1); i <= 10; i++ {
		bus.Publish(frame(i))
	}
	f, err := c.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Seq != 10 {
		t.Errorf("Seq = %d, want 10 (latest)", f.Seq)
	}
}

// TestAllWaitersShareFrame validates that one publish wakes every blocked
// reader with the same frame object.
func TestAllWaitersShareFrame(t *testing.T) {
	const readers = 16
	bus := New()

	var ready, done sync.WaitGroup
	results := make([]*Frame, readers)
	for i := 0; i < readers; i++ {
		ready.Add(1)
		done.Add(1)
		go func(i int) {
			defer done.Done()
			c := bus.Cursor()
			ready.Done()
			f, err := c.Next(context.Background())
			if err != nil {
				t.Errorf("reader %d: %v", i, err)
				return
			}
			results[i] = f
		}(i)
	}
	ready.Wait()

	want := frame(1)
	bus.Publish(want)
	done.Wait()

	for i, f := range results {
		if f != want {
			t.Errorf("reader %d got %p, want %p", i, f, want)
		}
	}
}

// TestReadersSeeIncreasingSequence validates each reader observes a strictly
// increasing sequence under a concurrent publisher.
func TestReadersSeeIncreasingSequence(t *testing.T) {
	const (
		readers = 8
		frames  = 2000
	)
	bus := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			c := bus.Cursor()
			var last uint64
			for {
				f, err := c.Next(ctx)
				if err != nil {
					return
				}
				if f.Seq <= last {
					t.Errorf("reader %d: seq %d after %d", r, f.Seq, last)
					return
				}
				last = f.Seq
				if last == frames {
					return
				}
			}
		}(r)
	}

	for i := uint64(1); i <= frames; i++ {
		bus.Publish(frame(i))
	}
	wg.Wait()
}

func TestAwaitCancelled(t *testing.T) {
	bus := New()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := bus.AwaitNext(ctx, 0)
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitNext ignored cancellation")
	}
}

func TestCloseWakesWaiters(t *testing.T) {
	bus := New()
	errc := make(chan error, 1)
	go func() {
		_, err := bus.Cursor().Next(context.Background())
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	bus.Close()

	select {
	case err := <-errc:
		if err != ErrClosed {
			t.Errorf("err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not wake waiter")
	}
}

// TestResetInvalidatesOldCursors validates that a reader from a previous run
// cannot wait on the next run's restarted sequence numbers.
func TestResetInvalidatesOldCursors(t *testing.T) {
	bus := New()
	old := bus.Cursor()
	bus.Publish(frame(1))
	if _, err := old.Next(context.Background()); err != nil {
		t.Fatalf("Next: %v", err)
	}

	bus.Reset()
	if bus.Current() != nil {
		t.Error("Current() not cleared by Reset")
	}
	bus.Publish(frame(1))

	if _, err := old.Next(context.Background()); err != ErrClosed {
		t.Errorf("old cursor err = %v, want ErrClosed", err)
	}

	f, err := bus.Cursor().Next(context.Background())
	if err != nil || f.Seq != 1 {
		t.Errorf("new cursor = %v, %v; want seq 1", f, err)
	}
}

func TestCursorLast(t *testing.T) {
	bus := New()
	c := bus.Cursor()
	if c.Last() != 0 {
		t.Errorf("Last() before Next = %d, want 0", c.Last())
	}
	bus.Publish(frame(7))
	if _, err := c.Next(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.Last() != 7 {
		t.Errorf("Last() = %d, want 7", c.Last())
	}
}
