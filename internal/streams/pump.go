package streams

import (
	"context"
	"errors"

	"github.com/smazurov/framecast/internal/frame"
)

// pumpQueueSize bounds the frames buffered between NextFrame and the display.
const pumpQueueSize = 2

// Pump pulls frames with NextFrame and hands them to d until the stream ends
// or ctx is done. A slow display loses the oldest queued frame rather than
// stalling the source. It returns nil when the stream was stopped, ctx.Err()
// on cancellation, and the terminal *StreamError otherwise. Cancelling ctx
// does not stop the stream.
func (c *Controller) Pump(ctx context.Context, d Display) error {
	queue := make(chan frame.Frame, pumpQueueSize)
	result := make(chan error, 1)

	go func() {
		defer close(queue)
		for {
			if ctx.Err() != nil {
				result <- ctx.Err()
				return
			}
			f, err := c.NextFrame()
			if err != nil {
				if errors.Is(err, ErrNotStreaming) {
					err = nil
				}
				result <- err
				return
			}
			offer(queue, f)
		}
	}()

	for {
		select {
		case f, ok := <-queue:
			if !ok {
				return <-result
			}
			d.ShowFrame(f)
		case <-ctx.Done():
			// Let the producer observe ctx and exit.
			for range queue {
			}
			return ctx.Err()
		}
	}
}

// offer enqueues f, evicting the oldest frame when the queue is full.
// Only one goroutine sends on queue.
func offer(queue chan frame.Frame, f frame.Frame) {
	for {
		select {
		case queue <- f:
			return
		default:
		}
		select {
		case <-queue:
		default:
		}
	}
}
