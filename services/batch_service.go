package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"slide-ingestion-platform/internal/config"
	"slide-ingestion-platform/internal/database"
	"slide-ingestion-platform/internal/logger"
	"slide-ingestion-platform/models"
)

// ErrBatchTerminal is returned when an operation needs a live batch but the
// batch has already finished.
var ErrBatchTerminal = fmt.Errorf("batch is in a terminal state")

// FileRetrier re-runs single files of a batch. *IngestionWorker satisfies it.
type FileRetrier interface {
	RetryFile(ctx context.Context, batchID, filename string) error
}

// BatchService is the control plane: it creates batches, launches shards and
// answers status, search and export queries. It never processes files itself.
type BatchService struct {
	cfg      *config.Config
	store    database.DocumentStore
	blobs    BlobStore
	launcher ShardLauncher
	retrier  FileRetrier
	embedder Embedder
}

func NewBatchService(cfg *config.Config, store database.DocumentStore, blobs BlobStore,
	launcher ShardLauncher, retrier FileRetrier, embedder Embedder) *BatchService {
	return &BatchService{
		cfg:      cfg,
		store:    store,
		blobs:    blobs,
		launcher: launcher,
		retrier:  retrier,
		embedder: embedder,
	}
}

// Start creates a new batch in pending state and launches its shards. The
// batch id is returned immediately; progress is observed via Get.
func (s *BatchService) Start(ctx context.Context, taskCount int) (*models.Batch, error) {
	if taskCount < 1 {
		taskCount = s.cfg.TaskCount
	}

	batch := &models.Batch{
		ID:        uuid.NewString(),
		Status:    models.BatchPending,
		CreatedAt: time.Now(),
	}
	if err := s.store.Set(ctx, models.CollectionBatches, batch.ID, batch); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	if err := s.launcher.Launch(ctx, batch.ID, taskCount); err != nil {
		if mergeErr := s.store.Merge(ctx, models.CollectionBatches, batch.ID, map[string]any{
			"status":       models.BatchFailed,
			"error":        fmt.Sprintf("launch shards: %v", err),
			"completed_at": time.Now(),
		}); mergeErr != nil {
			logger.Error("Failed to mark unlaunchable batch", "batch_id", batch.ID, "error", mergeErr)
		}
		return nil, fmt.Errorf("launch shards for batch %s: %w", batch.ID, err)
	}

	logger.Info("Batch started", "batch_id", batch.ID, "shards", taskCount)
	return batch, nil
}

// List returns batches, most recent first.
func (s *BatchService) List(ctx context.Context, limit int) ([]models.Batch, error) {
	docs, err := s.store.Query(ctx, models.CollectionBatches, nil, "created_at", true, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}

	batches := make([]models.Batch, 0, len(docs))
	for _, doc := range docs {
		var b models.Batch
		if err := database.Decode(doc.Data, &b); err != nil {
			return nil, fmt.Errorf("decode batch %s: %w", doc.ID, err)
		}
		b.ID = doc.ID
		batches = append(batches, b)
	}
	return batches, nil
}

// BatchDetail is a batch plus its per-file results.
type BatchDetail struct {
	Batch models.Batch        `json:"batch"`
	Items []models.ResultItem `json:"items"`
}

// Get returns the batch and its result items, failures sorted to the end of
// the list, ties broken by filename.
func (s *BatchService) Get(ctx context.Context, batchID string) (*BatchDetail, error) {
	data, err := s.store.Get(ctx, models.CollectionBatches, batchID)
	if err != nil {
		return nil, err
	}
	var batch models.Batch
	if err := database.Decode(data, &batch); err != nil {
		return nil, fmt.Errorf("decode batch %s: %w", batchID, err)
	}
	batch.ID = batchID

	docs, err := s.store.Query(ctx, models.CollectionResults,
		[]database.Predicate{{Path: "batch_id", Op: "==", Value: batchID}}, "", false, 0)
	if err != nil {
		return nil, fmt.Errorf("list results for batch %s: %w", batchID, err)
	}

	items := make([]models.ResultItem, 0, len(docs))
	for _, doc := range docs {
		var item models.ResultItem
		if err := database.Decode(doc.Data, &item); err != nil {
			return nil, fmt.Errorf("decode result item %s: %w", doc.ID, err)
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		fi, fj := items[i].Status == models.ItemFailed, items[j].Status == models.ItemFailed
		if fi != fj {
			return fj
		}
		return items[i].Filename < items[j].Filename
	})

	return &BatchDetail{Batch: batch, Items: items}, nil
}

// Cancel requests a soft stop: the batch moves to cancelling and shards stop
// at the next file boundary. Cancelling a terminal batch is an error.
func (s *BatchService) Cancel(ctx context.Context, batchID string) error {
	data, err := s.store.Get(ctx, models.CollectionBatches, batchID)
	if err != nil {
		return err
	}
	var batch models.Batch
	if err := database.Decode(data, &batch); err != nil {
		return fmt.Errorf("decode batch %s: %w", batchID, err)
	}
	if batch.Terminal() {
		return ErrBatchTerminal
	}
	if batch.Status == models.BatchCancelling {
		return nil
	}

	if err := s.store.Merge(ctx, models.CollectionBatches, batchID, map[string]any{
		"status": models.BatchCancelling,
	}); err != nil {
		return fmt.Errorf("mark batch cancelling: %w", err)
	}
	logger.Info("Batch cancellation requested", "batch_id", batchID)
	return nil
}

// Retry re-runs failed files of a batch. With no item ids given every failed
// item is retried. Items are reset to processing synchronously; the pipeline
// runs in the background.
func (s *BatchService) Retry(ctx context.Context, batchID string, itemIDs []string) (int, error) {
	data, err := s.store.Get(ctx, models.CollectionBatches, batchID)
	if err != nil {
		return 0, err
	}
	var batch models.Batch
	if err := database.Decode(data, &batch); err != nil {
		return 0, fmt.Errorf("decode batch %s: %w", batchID, err)
	}

	docs, err := s.store.Query(ctx, models.CollectionResults,
		[]database.Predicate{
			{Path: "batch_id", Op: "==", Value: batchID},
			{Path: "status", Op: "==", Value: models.ItemFailed},
		}, "", false, 0)
	if err != nil {
		return 0, fmt.Errorf("list failed items for batch %s: %w", batchID, err)
	}

	wanted := map[string]bool{}
	for _, id := range itemIDs {
		wanted[id] = true
	}

	type retryTarget struct {
		id       string
		filename string
	}
	var targets []retryTarget
	for _, doc := range docs {
		var item models.ResultItem
		if err := database.Decode(doc.Data, &item); err != nil {
			return 0, fmt.Errorf("decode result item %s: %w", doc.ID, err)
		}
		if len(wanted) > 0 && !wanted[doc.ID] {
			continue
		}
		targets = append(targets, retryTarget{id: doc.ID, filename: item.Filename})
	}
	if len(targets) == 0 {
		return 0, nil
	}

	// Reset before handing off, so a status read right after this call
	// already shows the retry in flight and not the stale failure.
	for _, target := range targets {
		if err := s.store.Merge(ctx, models.CollectionResults, target.id, map[string]any{
			"status": models.ItemProcessing,
			"error":  "",
		}); err != nil {
			return 0, fmt.Errorf("reset item %s: %w", target.id, err)
		}
	}

	logger.Info("Retrying failed files", "batch_id", batchID, "files", len(targets))
	go func() {
		ctx := context.Background()
		for _, target := range targets {
			if err := s.retrier.RetryFile(ctx, batchID, target.filename); err != nil {
				logger.Error("File retry failed", "batch_id", batchID, "filename", target.filename, "error", err)
			}
		}
	}()
	return len(targets), nil
}

// ListFiles lists the raw prefix and annotates each file with its latest
// summary, if any.
func (s *BatchService) ListFiles(ctx context.Context) ([]models.FileInfo, error) {
	objects, err := s.blobs.List(ctx, s.cfg.RawPrefix)
	if err != nil {
		return nil, fmt.Errorf("list raw prefix: %w", err)
	}

	files := make([]models.FileInfo, 0, len(objects))
	for _, obj := range objects {
		name := obj.Name[len(s.cfg.RawPrefix):]
		if name == "" {
			continue
		}
		info := models.FileInfo{
			Name:    name,
			Size:    obj.Size,
			Updated: obj.Updated,
		}

		data, err := s.store.Get(ctx, models.CollectionFileSummaries, models.SanitizeFilename(name))
		if err == nil {
			var summary models.FileSummary
			if err := database.Decode(data, &summary); err == nil {
				info.Status = summary.Status
				info.FilterReason = summary.FilterReason
				info.FirmName = summary.FirmName
				info.DesignRating = summary.DesignRating
				info.PageCount = summary.PageCount
			}
		} else if err != database.ErrNotFound {
			return nil, fmt.Errorf("read summary for %s: %w", name, err)
		}

		files = append(files, info)
	}
	return files, nil
}

// FileURL returns a short-lived signed download URL for a raw file.
func (s *BatchService) FileURL(filename string) (string, error) {
	return s.blobs.SignedURL(s.cfg.RawPrefix+filename, "GET", 15*time.Minute)
}

// SearchSlides embeds the query text and returns the k nearest slides by
// cosine distance.
func (s *BatchService) SearchSlides(ctx context.Context, query string, k int) ([]models.SlideHit, error) {
	if query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if k < 1 {
		k = 10
	}

	vector, err := s.embedder.Embed(ctx, nil, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	docs, err := s.store.VectorQuery(ctx, s.cfg.SlideCollection, "embedding", vector, database.MeasureCosine, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	hits := make([]models.SlideHit, 0, len(docs))
	for _, doc := range docs {
		var record models.SlideRecord
		if err := database.Decode(doc.Data, &record); err != nil {
			return nil, fmt.Errorf("decode slide %s: %w", doc.ID, err)
		}
		hits = append(hits, models.SlideHit{
			URI:           record.URI,
			Filename:      record.Filename,
			PageNumber:    record.PageNumber,
			StructureType: record.StructureType,
			KeyMessage:    record.KeyMessage,
			Description:   record.Description,
		})
	}
	return hits, nil
}
