package sink

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"teleop-dash/internal/telemetry"
)

// Errors returned by AsyncWriter.Write.
var (
	ErrQueueFull = errors.New("sink: export queue full, record dropped")
	ErrClosed    = errors.New("sink: writer closed")
)

const (
	defaultQueueSize = 256
	maxBatchSize     = 64
	drainTimeout     = 5 * time.Second
)

// AsyncWriter queues records and hands them to a BatchWriter from its own
// goroutine, so a slow export target never holds up the caller. Write does
// not block: when the queue is full the record is dropped.
type AsyncWriter struct {
	next    BatchWriter
	log     *slog.Logger
	onError func(error)

	mu     sync.RWMutex
	closed bool
	queue  chan telemetry.Record
	done   chan struct{}
}

// NewAsyncWriter starts the export goroutine. size <= 0 selects the default
// queue length. onError, if set, is called from the export goroutine for
// every failed batch.
func NewAsyncWriter(next BatchWriter, size int, log *slog.Logger, onError func(error)) *AsyncWriter {
	if size <= 0 {
		size = defaultQueueSize
	}
	if log == nil {
		log = slog.Default()
	}
	a := &AsyncWriter{
		next:    next,
		log:     log,
		onError: onError,
		queue:   make(chan telemetry.Record, size),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Write enqueues r.
func (a *AsyncWriter) Write(r telemetry.Record) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- r:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting records and waits for the queue to drain, giving up
// after a few seconds.
func (a *AsyncWriter) Close() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()
	select {
	case <-a.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("sink: %d queued records not exported", len(a.queue))
	}
}

func (a *AsyncWriter) run() {
	defer close(a.done)
	for r := range a.queue {
		batch := []telemetry.Record{r}
	fill:
		for len(batch) < maxBatchSize {
			select {
			case next, ok := <-a.queue:
				if !ok {
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}
		if err := a.next.WriteBatch(batch); err != nil {
			a.log.Warn("[AsyncWriter] batch export failed", "rows", len(batch), "err", err)
			if a.onError != nil {
				a.onError(err)
			}
		}
	}
}
