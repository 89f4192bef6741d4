// Package worker runs background reconciliation against the media server.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classmeet/backend/pkg/queue"
)

const sweepInterval = 5 * time.Minute

// BridgeCloser closes producers on the media server.
type BridgeCloser interface {
	CloseProducer(ctx context.Context, producerID string) error
}

// OrphanStore exposes the store operations the reaper needs.
type OrphanStore interface {
	ListOrphanedProducers(ctx context.Context) (map[uuid.UUID]string, error)
	ClearProducer(ctx context.Context, sessionID uuid.UUID) error
}

// Reaper drains queued producer-close jobs and periodically sweeps the store
// for producer handles left on inactive or non-streaming sessions. This is
// the reconciliation half of the "local state is authoritative" contract:
// the media server may briefly hold producers we no longer know about, and
// the reaper eventually closes them.
type Reaper struct {
	queue  *queue.Queue
	bridge BridgeCloser
	store  OrphanStore
	logger *zap.Logger
}

// NewReaper creates the producer reconciliation worker.
func NewReaper(q *queue.Queue, bridge BridgeCloser, store OrphanStore, logger *zap.Logger) *Reaper {
	return &Reaper{queue: q, bridge: bridge, store: store, logger: logger}
}

// Run processes jobs until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		default:
		}

		job, err := r.queue.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("dequeue failed", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}
		r.process(ctx, job)
	}
}

func (r *Reaper) process(ctx context.Context, job *queue.Job) {
	var p queue.ProducerClosePayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		r.logger.Warn("invalid producer close payload", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if err := r.bridge.CloseProducer(ctx, p.ProducerID); err != nil {
		r.logger.Warn("producer close retry failed",
			zap.String("job_id", job.ID),
			zap.String("producer_id", p.ProducerID),
			zap.Int("attempt", job.Attempt),
			zap.Error(err))
		time.Sleep(queue.RetryBackoff)
		_ = r.queue.Retry(ctx, job)
		return
	}
	r.logger.Info("reconciled producer close",
		zap.String("producer_id", p.ProducerID),
		zap.String("session_id", p.SessionID.String()))
}

// sweep closes producers still recorded on sessions that stopped streaming
// or deactivated, catching handles that never made it onto the queue.
func (r *Reaper) sweep(ctx context.Context) {
	orphans, err := r.store.ListOrphanedProducers(ctx)
	if err != nil {
		r.logger.Warn("orphan sweep failed", zap.Error(err))
		return
	}
	for sessionID, producerID := range orphans {
		if err := r.bridge.CloseProducer(ctx, producerID); err != nil {
			r.logger.Warn("orphan close failed",
				zap.String("session_id", sessionID.String()),
				zap.String("producer_id", producerID),
				zap.Error(err))
			continue
		}
		if err := r.store.ClearProducer(ctx, sessionID); err != nil {
			r.logger.Warn("orphan clear failed", zap.String("session_id", sessionID.String()), zap.Error(err))
			continue
		}
		r.logger.Info("reaped orphaned producer",
			zap.String("session_id", sessionID.String()),
			zap.String("producer_id", producerID))
	}
}
