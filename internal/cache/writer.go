package cache

import (
	"context"
	"log"
	"time"

	"sdn-stats/internal/metrics"
	"sdn-stats/internal/models"
)

// LatestStorer stores the latest sample of a subject.
type LatestStorer interface {
	StoreLatest(ctx context.Context, s models.Sample) error
}

// LatestWriter queues samples for a single writer goroutine. When the queue
// is full new samples are dropped; a newer sample of the same subject follows
// soon enough.
type LatestWriter struct {
	store   LatestStorer
	queue   chan models.Sample
	timeout time.Duration
}

// NewLatestWriter creates a writer with room for size pending samples.
func NewLatestWriter(store LatestStorer, size int, timeout time.Duration) *LatestWriter {
	return &LatestWriter{
		store:   store,
		queue:   make(chan models.Sample, size),
		timeout: timeout,
	}
}

// Enqueue queues s without blocking and reports whether it was accepted.
func (w *LatestWriter) Enqueue(s models.Sample) bool {
	select {
	case w.queue <- s:
		return true
	default:
		metrics.RedisOperations.WithLabelValues("store_latest", "dropped").Inc()
		return false
	}
}

// Run writes queued samples until ctx is done.
func (w *LatestWriter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-w.queue:
			w.write(ctx, s)
		}
	}
}

func (w *LatestWriter) write(ctx context.Context, s models.Sample) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if err := w.store.StoreLatest(ctx, s); err != nil {
		log.Printf("Failed to cache latest sample of %s: %v", LatestKey(s), err)
	}
}
