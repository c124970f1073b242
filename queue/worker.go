package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

// ErrBadPayload marks a malformed job payload. Such jobs are dead-lettered
// immediately; retrying cannot fix them.
var ErrBadPayload = errors.New("bad job payload")

// Handler processes one job payload. Returning an error triggers the retry
// policy; wrap with ErrBadPayload to skip retries.
type Handler func(ctx context.Context, payload json.RawMessage) error

// RateLimit allows at most Max jobs per Window (token bucket, refilled whole).
type RateLimit struct {
	Max    int
	Window time.Duration
}

// Options tunes one topic's worker. Zero values fall back to: concurrency 1,
// 3 attempts, 1s backoff base, no rate limit.
type Options struct {
	Concurrency int
	MaxAttempts int
	BackoffBase time.Duration
	RateLimit   *RateLimit
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	return o
}

// Consume registers a handler for a topic and starts its worker goroutine.
// The handler is invoked at most opts.Concurrency times concurrently; a slot
// is not reused until the handler returns. All failure handling (panic
// recovery, retry with exponential backoff, dead-lettering) happens in one
// wrapper here rather than per call site.
func (b *Broker) Consume(ctx context.Context, topic string, h Handler, opts Options) {
	opts = opts.withDefaults()
	w := &worker{
		broker:  b,
		topic:   topic,
		handler: h,
		opts:    opts,
	}
	if rl := opts.RateLimit; rl != nil {
		w.tokens = rl.Max
		w.windowEnd = time.Now().Add(rl.Window)
	}
	go w.run(ctx)
}

type worker struct {
	broker  *Broker
	topic   string
	handler Handler
	opts    Options

	mu        sync.Mutex
	tokens    int
	windowEnd time.Time
}

func (w *worker) run(ctx context.Context) {
	log.WithFields(log.Fields{
		"topic":       w.topic,
		"concurrency": w.opts.Concurrency,
	}).Info("Queue worker started")

	slots := make(chan struct{}, w.opts.Concurrency)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			log.WithField("topic", w.topic).Info("Queue worker stopped")
			return
		case slots <- struct{}{}:
		}

		job, ok := w.pop(ctx)
		if !ok {
			<-slots
			continue
		}

		w.waitForToken(ctx)

		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			defer func() { <-slots }()
			w.process(ctx, job)
		}(job)
	}
}

// pop blocks up to a second waiting for the next job so that ctx cancellation
// is observed promptly.
func (w *worker) pop(ctx context.Context) (Job, bool) {
	res, err := w.broker.rdb.BRPop(ctx, time.Second, queueKey(w.topic)).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			log.WithError(err).WithField("topic", w.topic).Error("Failed to pop job")
		}
		return Job{}, false
	}
	// BRPOP returns [key, value].
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		log.WithError(err).WithField("topic", w.topic).Error("Discarding undecodable job envelope")
		return Job{}, false
	}
	return job, true
}

func (w *worker) waitForToken(ctx context.Context) {
	rl := w.opts.RateLimit
	if rl == nil {
		return
	}
	for {
		w.mu.Lock()
		now := time.Now()
		if now.After(w.windowEnd) {
			w.tokens = rl.Max
			w.windowEnd = now.Add(rl.Window)
		}
		if w.tokens > 0 {
			w.tokens--
			w.mu.Unlock()
			return
		}
		wait := time.Until(w.windowEnd)
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// process runs the handler once and applies the retry / dead-letter policy.
func (w *worker) process(ctx context.Context, job Job) {
	err := w.invoke(ctx, job)
	if err == nil {
		return
	}

	logCtx := log.WithFields(log.Fields{
		"topic":   w.topic,
		"job_id":  job.ID,
		"attempt": job.Attempts + 1,
	})

	if errors.Is(err, ErrBadPayload) {
		logCtx.WithError(err).Error("Malformed job payload, dead-lettering without retry")
		w.sendToDeadLetter(ctx, job, err, "")
		return
	}

	if job.Attempts+1 >= w.opts.MaxAttempts {
		logCtx.WithError(err).Error("Retry budget exhausted, dead-lettering job")
		w.sendToDeadLetter(ctx, job, err, "")
		return
	}

	delay := w.opts.BackoffBase << uint(job.Attempts)
	logCtx.WithError(err).WithField("retry_in", delay.String()).Warn("Job failed, retrying")

	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	job.Attempts++
	if pushErr := w.broker.push(ctx, job); pushErr != nil {
		logCtx.WithError(pushErr).Error("Failed to re-enqueue job, dead-lettering")
		w.sendToDeadLetter(ctx, job, err, "")
	}
}

// invoke converts handler panics into errors so one crashing job cannot take
// the worker down.
func (w *worker) invoke(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return w.handler(ctx, job.Payload)
}

func (w *worker) sendToDeadLetter(ctx context.Context, job Job, jobErr error, stack string) {
	if err := w.broker.deadLetter(ctx, job, jobErr, stack); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"topic":  w.topic,
			"job_id": job.ID,
		}).Error("Failed to forward job to dead-letter queue")
	}
}
