package sqlite

import (
	"context"
	"log"
	"sync"

	"marketstream/internal/model"
)

const defaultQueueDepth = 256

// Saver is the durable side of the write-behind queue.
type Saver interface {
	Save(ctx context.Context, records []model.Record) error
}

// WriteBehind decouples the pipeline from storage availability: Save
// enqueues and returns immediately, a single worker drains the queue, and
// write failures are reported through OnError without affecting callers.
// When the queue is full the oldest pending batch is dropped.
type WriteBehind struct {
	saver Saver

	mu      sync.Mutex
	pending [][]model.Record
	depth   int
	wake    chan struct{}
	done    chan struct{}

	// Callbacks, optional.
	OnError func(error)
	OnDrop  func(batchSize int)
}

// NewWriteBehind creates a queue with the given depth (batches, not
// records). depth <= 0 falls back to the default.
func NewWriteBehind(saver Saver, depth int) *WriteBehind {
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	return &WriteBehind{
		saver:   saver,
		pending: make([][]model.Record, 0, 64),
		depth:   depth,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Save enqueues a batch without blocking. Implements pipeline.Persistence.
func (w *WriteBehind) Save(records []model.Record) {
	if len(records) == 0 {
		return
	}
	w.mu.Lock()
	if len(w.pending) >= w.depth {
		dropped := w.pending[0]
		w.pending = w.pending[1:]
		if w.OnDrop != nil {
			w.OnDrop(len(dropped))
		}
	}
	w.pending = append(w.pending, records)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is left.
func (w *WriteBehind) Run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			w.drain(context.Background())
			return
		case <-w.wake:
			w.drain(ctx)
		}
	}
}

// Wait blocks until Run has returned.
func (w *WriteBehind) Wait() { <-w.done }

// PendingBatches returns the number of batches waiting to be written.
func (w *WriteBehind) PendingBatches() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *WriteBehind) drain(ctx context.Context) {
	for {
		w.mu.Lock()
		if len(w.pending) == 0 {
			w.mu.Unlock()
			return
		}
		batch := w.pending[0]
		w.pending = w.pending[1:]
		w.mu.Unlock()

		if err := w.saver.Save(ctx, batch); err != nil {
			// Failed writes are logged and surfaced, never retried:
			// buffer and indicator state are unaffected.
			log.Printf("[write-behind] save failed (%d records): %v", len(batch), err)
			if w.OnError != nil {
				w.OnError(err)
			}
		}
	}
}
