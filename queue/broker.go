package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// DeadLetterTopic holds jobs that exhausted their retry budget, paired with a
// persisted DeadLetterLog for operator review.
const DeadLetterTopic = "dead-letter"

// activeQueuesKey registers every topic that has ever been enqueued to, so a
// restarted process can observe which queues exist.
const activeQueuesKey = "queues:active"

func queueKey(topic string) string { return "queue:" + topic }

// Job is the wire envelope for every queued payload. Delivery is
// at-least-once: handlers must be idempotent or externally deduplicated.
type Job struct {
	ID         string          `json:"id"`
	Topic      string          `json:"topic"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// DeadLetter is the payload carried on the dead-letter topic.
type DeadLetter struct {
	Queue    string          `json:"queue"`
	Original json.RawMessage `json:"original"`
	Error    string          `json:"error"`
	Stack    string          `json:"stack,omitempty"`
}

// Broker provides durable, named work queues over a shared Redis instance.
// LPUSH + BRPOP keeps per-topic FIFO order; a retried job is appended like a
// fresh one, so ordering is not preserved across retries.
type Broker struct {
	rdb *redis.Client
}

func NewBroker(rdb *redis.Client) *Broker {
	return &Broker{rdb: rdb}
}

// Enqueue durably appends a job and returns once Redis accepts it.
func (b *Broker) Enqueue(ctx context.Context, topic string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	return b.push(ctx, Job{
		ID:         uuid.NewString(),
		Topic:      topic,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	})
}

func (b *Broker) push(ctx context.Context, job Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := b.rdb.SAdd(ctx, activeQueuesKey, job.Topic).Err(); err != nil {
		return fmt.Errorf("register queue %s: %w", job.Topic, err)
	}
	if err := b.rdb.LPush(ctx, queueKey(job.Topic), raw).Err(); err != nil {
		return fmt.Errorf("enqueue to %s: %w", job.Topic, err)
	}
	return nil
}

// deadLetter routes a failed job and its error to the dead-letter topic
// instead of dropping it.
func (b *Broker) deadLetter(ctx context.Context, job Job, jobErr error, stack string) error {
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	return b.Enqueue(ctx, DeadLetterTopic, DeadLetter{
		Queue:    job.Topic,
		Original: job.Payload,
		Error:    msg,
		Stack:    stack,
	})
}

// ReportFailure files a dead-letter record for a failure detected outside the
// worker wrapper, such as a refund escalation that must never be retried.
func (b *Broker) ReportFailure(ctx context.Context, queueName string, original interface{}, jobErr error) error {
	raw, err := json.Marshal(original)
	if err != nil {
		return fmt.Errorf("marshal dead-letter original: %w", err)
	}
	return b.Enqueue(ctx, DeadLetterTopic, DeadLetter{
		Queue:    queueName,
		Original: raw,
		Error:    jobErr.Error(),
	})
}

// ActiveQueues lists every topic registered so far.
func (b *Broker) ActiveQueues(ctx context.Context) ([]string, error) {
	return b.rdb.SMembers(ctx, activeQueuesKey).Result()
}

// Len reports the number of pending jobs on a topic.
func (b *Broker) Len(ctx context.Context, topic string) (int64, error) {
	return b.rdb.LLen(ctx, queueKey(topic)).Result()
}
