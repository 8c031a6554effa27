package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"slide-ingestion-platform/internal/config"
	"slide-ingestion-platform/internal/logger"
)

// IngestScheduler starts ingestion batches on a cron schedule, so freshly
// uploaded files get picked up without anyone calling the API. Resume makes
// the repeated runs cheap: already-processed files are skipped.
type IngestScheduler struct {
	cfg       *config.Config
	batches   *BatchService
	scheduler *gocron.Scheduler
}

func NewIngestScheduler(cfg *config.Config, batches *BatchService) *IngestScheduler {
	return &IngestScheduler{
		cfg:       cfg,
		batches:   batches,
		scheduler: gocron.NewScheduler(time.UTC),
	}
}

// Start registers the cron job and begins scheduling in the background.
func (s *IngestScheduler) Start() error {
	if s.cfg.IngestCron == "" {
		return fmt.Errorf("no cron expression configured")
	}

	_, err := s.scheduler.Cron(s.cfg.IngestCron).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		batch, err := s.batches.Start(ctx, s.cfg.TaskCount)
		if err != nil {
			logger.Error("Scheduled ingestion failed to start", "error", err)
			return
		}
		logger.Info("Scheduled ingestion started", "batch_id", batch.ID)
	})
	if err != nil {
		return fmt.Errorf("schedule ingestion job: %w", err)
	}

	s.scheduler.StartAsync()
	logger.Info("Ingestion scheduler started", "cron", s.cfg.IngestCron)
	return nil
}

func (s *IngestScheduler) Stop() {
	s.scheduler.Stop()
}
