package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func testBroker(t *testing.T) (*Broker, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewBroker(rdb), rdb
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestEnqueueConsume(t *testing.T) {
	broker, _ := testBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got atomic.Value
	broker.Consume(ctx, "greetings", func(ctx context.Context, payload json.RawMessage) error {
		got.Store(string(payload))
		return nil
	}, Options{})

	if err := broker.Enqueue(ctx, "greetings", map[string]string{"hello": "world"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool { return got.Load() != nil })
	if got.Load().(string) != `{"hello":"world"}` {
		t.Fatalf("unexpected payload %s", got.Load())
	}

	queues, err := broker.ActiveQueues(ctx)
	if err != nil {
		t.Fatalf("ActiveQueues: %v", err)
	}
	found := false
	for _, q := range queues {
		if q == "greetings" {
			found = true
		}
	}
	if !found {
		t.Fatalf("topic not registered, got %v", queues)
	}
}

// A handler that keeps failing must be retried up to the attempt budget and
// then produce exactly one dead-letter record carrying the error.
func TestRetryThenDeadLetter(t *testing.T) {
	broker, _ := testBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts int32
	broker.Consume(ctx, "flaky", func(ctx context.Context, payload json.RawMessage) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("downstream unavailable")
	}, Options{MaxAttempts: 3, BackoffBase: time.Millisecond})

	if err := broker.Enqueue(ctx, "flaky", map[string]int{"n": 1}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		n, _ := broker.Len(context.Background(), DeadLetterTopic)
		return n == 1
	})

	if n := atomic.LoadInt32(&attempts); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}

	raw, err := broker.rdb.LIndex(ctx, queueKey(DeadLetterTopic), 0).Result()
	if err != nil {
		t.Fatalf("read dead-letter: %v", err)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	var dl DeadLetter
	if err := json.Unmarshal(job.Payload, &dl); err != nil {
		t.Fatalf("decode dead-letter: %v", err)
	}
	if dl.Queue != "flaky" || dl.Error == "" {
		t.Fatalf("incomplete dead-letter record: %+v", dl)
	}
}

// Malformed payloads skip the retry budget entirely.
func TestBadPayloadDeadLettersImmediately(t *testing.T) {
	broker, _ := testBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts int32
	broker.Consume(ctx, "strict", func(ctx context.Context, payload json.RawMessage) error {
		atomic.AddInt32(&attempts, 1)
		return fmt.Errorf("%w: missing field", ErrBadPayload)
	}, Options{MaxAttempts: 5, BackoffBase: time.Millisecond})

	if err := broker.Enqueue(ctx, "strict", map[string]string{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		n, _ := broker.Len(context.Background(), DeadLetterTopic)
		return n == 1
	})
	if n := atomic.LoadInt32(&attempts); n != 1 {
		t.Fatalf("expected a single attempt, got %d", n)
	}
}

// Panics are contained and treated like failures.
func TestPanicRecovery(t *testing.T) {
	broker, _ := testBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker.Consume(ctx, "panicky", func(ctx context.Context, payload json.RawMessage) error {
		panic("boom")
	}, Options{MaxAttempts: 1, BackoffBase: time.Millisecond})

	if err := broker.Enqueue(ctx, "panicky", 42); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		n, _ := broker.Len(context.Background(), DeadLetterTopic)
		return n == 1
	})
}
