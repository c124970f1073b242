package queue

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"
)

// FlushFunc writes one accumulated batch downstream.
type FlushFunc func(ctx context.Context, batch []json.RawMessage) error

// Batcher is the actor behind batched topics (bulk email, chat fan-out). It
// owns the in-memory buffer and flushes on whichever comes first: the buffer
// reaching Size, or Interval elapsing. A failed flush keeps the batch buffered
// for the next trigger. The buffer is process-local; losing it on crash is
// acceptable because jobs are durable upstream.
type Batcher struct {
	name     string
	size     int
	interval time.Duration
	flush    FlushFunc

	in chan json.RawMessage
}

func NewBatcher(name string, size int, interval time.Duration, flush FlushFunc) *Batcher {
	if size <= 0 {
		size = 100
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Batcher{
		name:     name,
		size:     size,
		interval: interval,
		flush:    flush,
		in:       make(chan json.RawMessage, size*2),
	}
}

// Add hands an item to the batcher. It is the Handler for the batched topic's
// worker: the worker slot is released as soon as the item is buffered.
func (b *Batcher) Add(ctx context.Context, item json.RawMessage) error {
	select {
	case b.in <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs the two-trigger flush loop until ctx is canceled, then attempts
// one final drain.
func (b *Batcher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		var buf []json.RawMessage
		for {
			select {
			case item := <-b.in:
				buf = append(buf, item)
				if len(buf) >= b.size {
					buf = b.tryFlush(ctx, buf)
				}
			case <-ticker.C:
				buf = b.tryFlush(ctx, buf)
			case <-ctx.Done():
				b.drain(&buf)
				b.tryFlush(context.Background(), buf)
				return
			}
		}
	}()
}

func (b *Batcher) drain(buf *[]json.RawMessage) {
	for {
		select {
		case item := <-b.in:
			*buf = append(*buf, item)
		default:
			return
		}
	}
}

// tryFlush returns the remaining buffer: empty on success, unchanged on
// failure so the items are retried on the next trigger.
func (b *Batcher) tryFlush(ctx context.Context, buf []json.RawMessage) []json.RawMessage {
	if len(buf) == 0 {
		return buf
	}
	if err := b.flush(ctx, buf); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"batcher": b.name,
			"pending": len(buf),
		}).Error("Batch flush failed, keeping items buffered")
		return buf
	}
	log.WithFields(log.Fields{
		"batcher": b.name,
		"flushed": len(buf),
	}).Debug("Batch flushed")
	return nil
}
