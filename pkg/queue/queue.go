// Package queue is a Redis-list job queue used for producer reconciliation:
// when a best-effort closeProducer call to the media server fails, the handle
// is parked here and retried until it closes or lands in the DLQ.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueProducerCloses is the Redis list key for pending producer closes.
	QueueProducerCloses = "worker:producer_closes"
	// QueueDLQ is the dead-letter queue for jobs that kept failing.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 5
	// RetryBackoff is the delay between retries.
	RetryBackoff = 30 * time.Second
)

// ProducerClosePayload identifies one producer to close on the media server.
type ProducerClosePayload struct {
	SessionID  uuid.UUID `json:"session_id"`
	ProducerID string    `json:"producer_id"`
}

// Job is the queue envelope.
type Job struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueueProducerClose parks a producer handle for the reconciliation worker.
// Errors are logged, not returned: the enqueue itself is best-effort and the
// periodic orphan sweep is the backstop.
func (q *Queue) EnqueueProducerClose(ctx context.Context, sessionID uuid.UUID, producerID string) {
	body, err := json.Marshal(ProducerClosePayload{SessionID: sessionID, ProducerID: producerID})
	if err != nil {
		return
	}
	job := Job{
		ID:        uuid.New().String(),
		Payload:   body,
		Attempt:   0,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return
	}
	if err := q.client.RPush(ctx, QueueProducerCloses, raw).Err(); err != nil {
		q.logger.Warn("enqueue producer close failed",
			zap.String("producer_id", producerID), zap.Error(err))
		return
	}
	q.logger.Info("producer close queued for reconciliation",
		zap.String("job_id", job.ID),
		zap.String("producer_id", producerID))
}

// Dequeue blocks until a job is available or the timeout elapses. A nil job
// with nil error means the timeout fired.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueProducerCloses).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("blpop: %w", err)
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries,
// pushes to DLQ instead so operators can inspect what would not close.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, QueueProducerCloses, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
