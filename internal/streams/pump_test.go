package streams

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/framecast/internal/frame"
)

type recordingDisplay struct {
	mu     sync.Mutex
	frames []frame.Frame
	onShow func(n int)
}

func (d *recordingDisplay) ShowFrame(f frame.Frame) {
	d.mu.Lock()
	d.frames = append(d.frames, f)
	n := len(d.frames)
	d.mu.Unlock()
	if d.onShow != nil {
		d.onShow(n)
	}
}

func (d *recordingDisplay) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.frames)
}

func TestPumpReturnsTerminalError(t *testing.T) {
	c, _ := newTestController(newFakeSource(5), Options{})
	startFile(t, c, StartRequest{})

	d := &recordingDisplay{}
	err := c.Pump(context.Background(), d)
	if !errors.Is(err, ErrEndOfStream) {
		t.Fatalf("Pump() = %v, want END_OF_STREAM", err)
	}
	if n := d.count(); n == 0 || n > 5 {
		t.Errorf("displayed %d frames, want 1..5", n)
	}
	for _, f := range d.frames {
		if f.Order() != frame.OrderRGB {
			t.Fatal("display received native-order frame")
		}
	}
	if c.State() != StateIdle {
		t.Error("stream still running after Pump returned")
	}
}

func TestPumpReturnsNilAfterStop(t *testing.T) {
	src := newFakeSource(1000)
	src.delay = time.Millisecond
	c, _ := newTestController(src, Options{})
	startFile(t, c, StartRequest{})

	var once sync.Once
	d := &recordingDisplay{onShow: func(n int) {
		if n >= 3 {
			once.Do(func() { go c.Stop() })
		}
	}}

	done := make(chan error, 1)
	go func() { done <- c.Pump(context.Background(), d) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Pump() after Stop = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Pump() did not return after Stop")
	}
}

func TestPumpCancelLeavesStreamRunning(t *testing.T) {
	src := newFakeSource(1000)
	src.delay = time.Millisecond
	c, _ := newTestController(src, Options{})
	startFile(t, c, StartRequest{})

	ctx, cancel := context.WithCancel(context.Background())
	d := &recordingDisplay{onShow: func(n int) {
		if n == 2 {
			cancel()
		}
	}}

	if err := c.Pump(ctx, d); !errors.Is(err, context.Canceled) {
		t.Fatalf("Pump() = %v, want context.Canceled", err)
	}
	if c.State() != StateStreaming {
		t.Error("cancelling Pump stopped the stream")
	}
	_ = c.Stop()
}

func TestPumpWhenIdle(t *testing.T) {
	c, _ := newTestController(newFakeSource(1), Options{})
	if err := c.Pump(context.Background(), DisplayFunc(func(frame.Frame) {
		t.Error("frame shown while idle")
	})); err != nil {
		t.Errorf("Pump() while idle = %v, want nil", err)
	}
}

func TestOfferDropsOldest(t *testing.T) {
	queue := make(chan frame.Frame, 2)
	mk := func(v byte) frame.Frame {
		f, _ := frame.New(1, 1, frame.OrderBGR, []byte{v, v, v})
		return f
	}
	for v := byte(1); v <= 4; v++ {
		offer(queue, mk(v))
	}

	first, second := <-queue, <-queue
	if first.Bytes()[0] != 3 || second.Bytes()[0] != 4 {
		t.Errorf("queue holds %d,%d, want newest frames 3,4", first.Bytes()[0], second.Bytes()[0])
	}
}
