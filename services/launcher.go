package services

import (
	"context"
	"fmt"

	run "cloud.google.com/go/run/apiv2"
	"cloud.google.com/go/run/apiv2/runpb"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"slide-ingestion-platform/internal/config"
	"slide-ingestion-platform/internal/logger"
	"slide-ingestion-platform/internal/queue"
)

// ShardLauncher fans an accepted batch out into taskCount shards. Launch
// returns once the shards are started (or enqueued), not when they finish.
type ShardLauncher interface {
	Launch(ctx context.Context, batchID string, taskCount int) error
}

// InProcessLauncher runs every shard as a goroutine inside the API process.
// Suited to development and single-instance deployments.
type InProcessLauncher struct {
	Runner queue.ShardRunner
}

func (l *InProcessLauncher) Launch(ctx context.Context, batchID string, taskCount int) error {
	// Shards must outlive the HTTP request that started the batch. Each shard
	// gets its own context: one shard failing must not cancel its siblings,
	// which keep processing their slice of the batch.
	go func() {
		var g errgroup.Group
		for i := 0; i < taskCount; i++ {
			index := i
			g.Go(func() error {
				if err := l.Runner.Run(context.Background(), batchID, index, taskCount); err != nil {
					logger.Error("Shard failed", "batch_id", batchID, "shard", index, "error", err)
					return err
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			logger.Error("In-process batch finished with shard failures", "batch_id", batchID, "error", err)
		}
	}()
	return nil
}

// QueueLauncher enqueues one asynq task per shard; dedicated worker
// processes consume them from the ingest queue.
type QueueLauncher struct {
	Client *asynq.Client
}

func NewQueueLauncher(cfg *config.Config) *QueueLauncher {
	return &QueueLauncher{
		Client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}),
	}
}

func (l *QueueLauncher) Launch(ctx context.Context, batchID string, taskCount int) error {
	for i := 0; i < taskCount; i++ {
		task, err := queue.NewShardTask(queue.ShardPayload{
			BatchID:    batchID,
			ShardIndex: i,
			ShardCount: taskCount,
		})
		if err != nil {
			return err
		}
		if _, err := l.Client.EnqueueContext(ctx, task); err != nil {
			return fmt.Errorf("enqueue shard %d/%d: %w", i, taskCount, err)
		}
	}
	logger.Info("Batch shards enqueued", "batch_id", batchID, "shards", taskCount)
	return nil
}

// CloudRunLauncher executes the worker as a Cloud Run job with taskCount
// parallel tasks. Each task reads its shard identity from
// CLOUD_RUN_TASK_INDEX / CLOUD_RUN_TASK_COUNT and the batch from BATCH_ID.
type CloudRunLauncher struct {
	Jobs        *run.JobsClient
	JobResource string
}

func NewCloudRunLauncher(ctx context.Context, cfg *config.Config) (*CloudRunLauncher, error) {
	client, err := run.NewJobsClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloud Run jobs client: %w", err)
	}
	return &CloudRunLauncher{
		Jobs:        client,
		JobResource: cfg.CloudRunJobResource(),
	}, nil
}

func (l *CloudRunLauncher) Launch(ctx context.Context, batchID string, taskCount int) error {
	req := &runpb.RunJobRequest{
		Name: l.JobResource,
		Overrides: &runpb.RunJobRequest_Overrides{
			TaskCount: int32(taskCount),
			ContainerOverrides: []*runpb.RunJobRequest_Overrides_ContainerOverride{
				{
					Env: []*runpb.EnvVar{
						{Name: "BATCH_ID", Values: &runpb.EnvVar_Value{Value: batchID}},
					},
				},
			},
		},
	}

	if _, err := l.Jobs.RunJob(ctx, req); err != nil {
		return fmt.Errorf("run job %s: %w", l.JobResource, err)
	}
	logger.Info("Cloud Run job started", "batch_id", batchID, "job", l.JobResource, "tasks", taskCount)
	return nil
}

func (l *CloudRunLauncher) Close() error {
	return l.Jobs.Close()
}
