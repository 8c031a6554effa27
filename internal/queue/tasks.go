package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"slide-ingestion-platform/internal/logger"
)

// Task type for one ingestion shard.
const TaskIngestShard = "ingest:shard"

// QueueIngest is the asynq queue ingestion shards run on.
const QueueIngest = "ingest"

// ShardPayload identifies one shard of one batch.
type ShardPayload struct {
	BatchID    string `json:"batch_id"`
	ShardIndex int    `json:"shard_index"`
	ShardCount int    `json:"shard_count"`
}

// ShardRunner executes one shard of a batch. The ingestion worker satisfies
// this; the indirection keeps this package free of service imports.
type ShardRunner interface {
	Run(ctx context.Context, batchID string, shardIndex, shardCount int) error
}

// NewShardTask builds the asynq task for one shard. Shards are not retried
// by the queue: resume on the next batch covers partial work, and a blind
// re-run would double-count batch counters.
func NewShardTask(payload ShardPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal shard payload: %w", err)
	}
	return asynq.NewTask(TaskIngestShard, data,
		asynq.Queue(QueueIngest),
		asynq.MaxRetry(0),
		asynq.Timeout(4*time.Hour),
	), nil
}

// ShardProcessor adapts a ShardRunner to an asynq handler.
type ShardProcessor struct {
	Runner ShardRunner
}

func (p *ShardProcessor) ProcessShard(ctx context.Context, t *asynq.Task) error {
	var payload ShardPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal shard payload: %v: %w", err, asynq.SkipRetry)
	}

	logger.Info("Processing ingestion shard",
		"batch_id", payload.BatchID,
		"shard_index", payload.ShardIndex,
		"shard_count", payload.ShardCount)

	if err := p.Runner.Run(ctx, payload.BatchID, payload.ShardIndex, payload.ShardCount); err != nil {
		logger.Error("Ingestion shard failed",
			"batch_id", payload.BatchID,
			"shard_index", payload.ShardIndex,
			"error", err)
		return fmt.Errorf("shard %d/%d of batch %s: %v: %w",
			payload.ShardIndex, payload.ShardCount, payload.BatchID, err, asynq.SkipRetry)
	}
	return nil
}
