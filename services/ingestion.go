package services

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"slide-ingestion-platform/internal/ai"
	"slide-ingestion-platform/internal/blob"
	"slide-ingestion-platform/internal/config"
	"slide-ingestion-platform/internal/database"
	"slide-ingestion-platform/internal/logger"
	"slide-ingestion-platform/internal/pdf"
	"slide-ingestion-platform/internal/telemetry"
	"slide-ingestion-platform/models"
)

// BlobStore is the object-storage contract the worker needs. *blob.GCSStore
// satisfies it.
type BlobStore interface {
	Bucket() string
	List(ctx context.Context, prefix string) ([]blob.Object, error)
	Read(ctx context.Context, name string) ([]byte, error)
	Download(ctx context.Context, name, destPath string) error
	Write(ctx context.Context, name string, data []byte, contentType string) error
	Delete(ctx context.Context, name string) error
	SignedURL(name, method string, ttl time.Duration) (string, error)
}

// PageRenderer rasterises PDF pages. *pdf.Renderer satisfies it.
type PageRenderer interface {
	PageCount(path string) (int, error)
	RenderRange(ctx context.Context, path string, first, last int) ([][]byte, error)
}

// Embedder produces multimodal embeddings. *ai.EmbeddingClient satisfies it.
type Embedder interface {
	Dimension() int
	Embed(ctx context.Context, image []byte, contextText string) ([]float32, error)
}

// SlideAnalyzer produces per-slide structural analyses. *ai.VisionClient
// satisfies it.
type SlideAnalyzer interface {
	AnalyzeSlides(ctx context.Context, images [][]byte) ([]ai.SlideAnalysis, error)
}

// DeckEvaluator judges whole-deck quality. *ai.VisionClient satisfies it.
type DeckEvaluator interface {
	EvaluateDeck(ctx context.Context, pages [][]byte) (ai.DeckEvaluation, error)
}

// IngestionWorker processes one shard of an ingestion batch: discovery,
// filter gates, windowed render/analyze/embed, and per-file bookkeeping.
// Shards partition the sorted file list by index modulo count, so no two
// shards ever touch the same file.
type IngestionWorker struct {
	cfg       *config.Config
	blobs     BlobStore
	store     database.DocumentStore
	renderer  PageRenderer
	embedder  Embedder
	analyzer  SlideAnalyzer
	evaluator DeckEvaluator
	metrics   *telemetry.Metrics
}

func NewIngestionWorker(cfg *config.Config, blobs BlobStore, store database.DocumentStore,
	renderer PageRenderer, embedder Embedder, analyzer SlideAnalyzer,
	evaluator DeckEvaluator, metrics *telemetry.Metrics) *IngestionWorker {
	return &IngestionWorker{
		cfg:       cfg,
		blobs:     blobs,
		store:     store,
		renderer:  renderer,
		embedder:  embedder,
		analyzer:  analyzer,
		evaluator: evaluator,
		metrics:   metrics,
	}
}

// fileOutcome is the terminal result of processing one file.
type fileOutcome struct {
	status         string // models.ItemSuccess / ItemFailed / ItemSkipped
	err            string
	filterReason   string
	pagesProcessed int
	firmName       string
	designRating   string
	pageCount      int
}

// Run executes one shard of the batch and returns only on infrastructure
// failure; per-file failures are recorded and never abort the shard.
func (w *IngestionWorker) Run(ctx context.Context, batchID string, shardIndex, shardCount int) error {
	log := logger.Logger.With("batch_id", batchID, "shard_index", shardIndex, "shard_count", shardCount)
	log.Info("Shard starting")

	files, err := w.discover(ctx, batchID, shardIndex, shardCount)
	if err != nil {
		w.failBatchIfPreprocessing(ctx, batchID, err.Error())
		return err
	}
	log.Info("Shard discovered files", "files", len(files))

	for _, filename := range files {
		cancelled, err := w.checkCancelled(ctx, batchID)
		if err != nil {
			return err
		}
		if cancelled {
			log.Info("Batch cancelled, shard stopping")
			return nil
		}

		if resumed, err := w.resume(ctx, batchID, filename); err != nil {
			return err
		} else if resumed {
			log.Debug("File already processed, resumed", "filename", filename)
			continue
		}

		if err := w.markProcessing(ctx, batchID, filename); err != nil {
			return err
		}

		start := time.Now()
		outcome := w.ingestFile(ctx, filename)
		if err := w.finalize(ctx, batchID, filename, outcome, false); err != nil {
			return err
		}

		duration := time.Since(start)
		if w.metrics != nil {
			w.metrics.RecordFileProcessed(outcome.status, duration.Seconds())
		}
		log.Info("File finished",
			"filename", filename,
			"status", outcome.status,
			"pages_processed", outcome.pagesProcessed,
			"duration", duration.String())
	}

	if err := w.maybeComplete(ctx, batchID); err != nil {
		return err
	}
	log.Info("Shard finished")
	return nil
}

// discover lists the raw prefix, records total_files (shard 0 only) and
// creates pending result items for this shard's slice. Returns the slice,
// sorted by object name.
func (w *IngestionWorker) discover(ctx context.Context, batchID string, shardIndex, shardCount int) ([]string, error) {
	if shardIndex == 0 {
		if err := w.store.Merge(ctx, models.CollectionBatches, batchID, map[string]any{
			"status": models.BatchDiscovering,
		}); err != nil {
			return nil, fmt.Errorf("mark batch discovering: %w", err)
		}
	}

	objects, err := w.blobs.List(ctx, w.cfg.RawPrefix)
	if err != nil {
		return nil, fmt.Errorf("list raw prefix: %w", err)
	}

	var all []string
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Name, w.cfg.RawPrefix)
		if name == "" || !strings.HasSuffix(strings.ToLower(name), ".pdf") {
			continue
		}
		all = append(all, name)
	}

	var mine []string
	now := time.Now()
	for i, filename := range all {
		if i%shardCount != shardIndex {
			continue
		}
		mine = append(mine, filename)

		item := models.ResultItem{
			BatchID:   batchID,
			Filename:  filename,
			Status:    models.ItemPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := w.store.Set(ctx, models.CollectionResults, models.ResultItemID(batchID, filename), item); err != nil {
			return nil, fmt.Errorf("create result item for %s: %w", filename, err)
		}
	}

	if shardIndex == 0 {
		if err := w.store.Merge(ctx, models.CollectionBatches, batchID, map[string]any{
			"status":      models.BatchProcessing,
			"total_files": int64(len(all)),
			"started_at":  now,
		}); err != nil {
			return nil, fmt.Errorf("mark batch processing: %w", err)
		}
	}
	return mine, nil
}

// checkCancelled performs the cancelling -> cancelled handoff. Multiple
// shards may race on it; the merge is idempotent.
func (w *IngestionWorker) checkCancelled(ctx context.Context, batchID string) (bool, error) {
	data, err := w.store.Get(ctx, models.CollectionBatches, batchID)
	if err != nil {
		return false, fmt.Errorf("read batch %s: %w", batchID, err)
	}
	var batch models.Batch
	if err := database.Decode(data, &batch); err != nil {
		return false, fmt.Errorf("decode batch %s: %w", batchID, err)
	}

	switch batch.Status {
	case models.BatchCancelling:
		if err := w.store.Merge(ctx, models.CollectionBatches, batchID, map[string]any{
			"status":       models.BatchCancelled,
			"completed_at": time.Now(),
		}); err != nil {
			return false, fmt.Errorf("mark batch cancelled: %w", err)
		}
		return true, nil
	case models.BatchCancelled:
		return true, nil
	}
	return false, nil
}

// resume skips files whose summary already shows success or skipped from an
// earlier batch. The prior summary stays untouched as the durable record;
// this batch's item is marked skipped and counted.
func (w *IngestionWorker) resume(ctx context.Context, batchID, filename string) (bool, error) {
	data, err := w.store.Get(ctx, models.CollectionFileSummaries, models.SanitizeFilename(filename))
	if err == database.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read file summary for %s: %w", filename, err)
	}

	var summary models.FileSummary
	if err := database.Decode(data, &summary); err != nil {
		return false, fmt.Errorf("decode file summary for %s: %w", filename, err)
	}
	if summary.Status != models.ItemSuccess && summary.Status != models.ItemSkipped {
		return false, nil
	}

	if err := w.store.Merge(ctx, models.CollectionResults, models.ResultItemID(batchID, filename), map[string]any{
		"status":        models.ItemSkipped,
		"filter_reason": fmt.Sprintf("Already %s in batch %s", summary.Status, summary.BatchID),
		"updated_at":    time.Now(),
	}); err != nil {
		return false, fmt.Errorf("mark result item resumed for %s: %w", filename, err)
	}

	if err := w.store.AtomicIncrement(ctx, models.CollectionBatches, batchID, map[string]int64{
		"processed_files": 1,
		"skipped_files":   1,
	}); err != nil {
		return false, fmt.Errorf("count resumed file %s: %w", filename, err)
	}
	return true, nil
}

func (w *IngestionWorker) markProcessing(ctx context.Context, batchID, filename string) error {
	now := time.Now()
	if err := w.store.Merge(ctx, models.CollectionResults, models.ResultItemID(batchID, filename), map[string]any{
		"status":     models.ItemProcessing,
		"updated_at": now,
	}); err != nil {
		return fmt.Errorf("mark result item processing for %s: %w", filename, err)
	}
	if err := w.store.Merge(ctx, models.CollectionFileSummaries, models.SanitizeFilename(filename), map[string]any{
		"batch_id":   batchID,
		"filename":   filename,
		"status":     models.ItemProcessing,
		"updated_at": now,
	}); err != nil {
		return fmt.Errorf("mark file summary processing for %s: %w", filename, err)
	}
	return nil
}

// finalize merges the outcome into the result item and file summary and
// adjusts batch counters. retry swaps a previous failure for the new
// terminal state instead of counting the file again.
func (w *IngestionWorker) finalize(ctx context.Context, batchID, filename string, outcome fileOutcome, retry bool) error {
	now := time.Now()
	fields := map[string]any{
		"status":          outcome.status,
		"error":           outcome.err,
		"filter_reason":   outcome.filterReason,
		"pages_processed": outcome.pagesProcessed,
		"firm_name":       outcome.firmName,
		"design_rating":   outcome.designRating,
		"page_count":      outcome.pageCount,
		"updated_at":      now,
	}

	if err := w.store.Merge(ctx, models.CollectionResults, models.ResultItemID(batchID, filename), fields); err != nil {
		return fmt.Errorf("finalize result item for %s: %w", filename, err)
	}

	summaryFields := map[string]any{"batch_id": batchID, "filename": filename}
	for k, v := range fields {
		summaryFields[k] = v
	}
	if err := w.store.Merge(ctx, models.CollectionFileSummaries, models.SanitizeFilename(filename), summaryFields); err != nil {
		return fmt.Errorf("finalize file summary for %s: %w", filename, err)
	}

	var deltas map[string]int64
	if retry {
		// The file was already counted as failed when the batch first ran.
		switch outcome.status {
		case models.ItemSuccess:
			deltas = map[string]int64{"success_files": 1, "failed_files": -1}
		case models.ItemSkipped:
			deltas = map[string]int64{"skipped_files": 1, "failed_files": -1}
		default:
			return nil
		}
	} else {
		deltas = map[string]int64{"processed_files": 1}
		switch outcome.status {
		case models.ItemSuccess:
			deltas["success_files"] = 1
		case models.ItemSkipped:
			deltas["skipped_files"] = 1
		default:
			deltas["failed_files"] = 1
		}
	}

	if err := w.store.AtomicIncrement(ctx, models.CollectionBatches, batchID, deltas); err != nil {
		return fmt.Errorf("count file %s: %w", filename, err)
	}
	return nil
}

// maybeComplete promotes the batch to completed once every file is accounted
// for. Whichever shard observes the final count wins; the others see a
// terminal status and leave it alone.
func (w *IngestionWorker) maybeComplete(ctx context.Context, batchID string) error {
	data, err := w.store.Get(ctx, models.CollectionBatches, batchID)
	if err != nil {
		return fmt.Errorf("read batch %s: %w", batchID, err)
	}
	var batch models.Batch
	if err := database.Decode(data, &batch); err != nil {
		return fmt.Errorf("decode batch %s: %w", batchID, err)
	}

	if batch.Status != models.BatchProcessing {
		return nil
	}
	// An empty prefix completes immediately: zero of zero files processed.
	if batch.ProcessedFiles < batch.TotalFiles {
		return nil
	}

	if err := w.store.Merge(ctx, models.CollectionBatches, batchID, map[string]any{
		"status":       models.BatchCompleted,
		"completed_at": time.Now(),
	}); err != nil {
		return fmt.Errorf("mark batch completed: %w", err)
	}
	logger.Info("Batch completed", "batch_id", batchID,
		"total_files", batch.TotalFiles,
		"success_files", batch.SuccessFiles,
		"failed_files", batch.FailedFiles,
		"skipped_files", batch.SkippedFiles)
	return nil
}

// failBatchIfPreprocessing marks the batch failed, but only while it is
// still pending or discovering. Once files are being processed a shard
// failure must not clobber the other shards' progress.
func (w *IngestionWorker) failBatchIfPreprocessing(ctx context.Context, batchID, reason string) {
	data, err := w.store.Get(ctx, models.CollectionBatches, batchID)
	if err != nil {
		logger.Error("Failed to read batch for failure marking", "batch_id", batchID, "error", err)
		return
	}
	var batch models.Batch
	if err := database.Decode(data, &batch); err != nil {
		logger.Error("Failed to decode batch for failure marking", "batch_id", batchID, "error", err)
		return
	}
	if batch.Status != models.BatchPending && batch.Status != models.BatchDiscovering {
		return
	}

	if err := w.store.Merge(ctx, models.CollectionBatches, batchID, map[string]any{
		"status":       models.BatchFailed,
		"error":        reason,
		"completed_at": time.Now(),
	}); err != nil {
		logger.Error("Failed to mark batch failed", "batch_id", batchID, "error", err)
	}
}

// ingestFile runs the full per-file pipeline: download, filter gates,
// windowed render/analyze/embed, slide persistence. It always returns a
// terminal outcome; errors are folded into it.
func (w *IngestionWorker) ingestFile(ctx context.Context, filename string) fileOutcome {
	objName := w.cfg.RawPrefix + filename

	tmp, err := os.CreateTemp("", "ingest-*.pdf")
	if err != nil {
		return fileOutcome{status: models.ItemFailed, err: fmt.Sprintf("create temp file: %v", err)}
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := w.blobs.Download(ctx, objName, tmpPath); err != nil {
		return fileOutcome{status: models.ItemFailed, err: fmt.Sprintf("download: %v", err)}
	}

	// Unknown page count is not fatal: rendering proceeds window by window
	// until one comes back empty.
	pageCount, err := w.renderer.PageCount(tmpPath)
	if err != nil {
		logger.Warn("Page count unavailable, rendering until exhausted", "filename", filename, "error", err)
		pageCount = 0
	}

	firstPage, err := w.renderer.RenderRange(ctx, tmpPath, 1, 1)
	if err != nil {
		return fileOutcome{status: models.ItemFailed, err: fmt.Sprintf("render first page: %v", err), pageCount: pageCount}
	}
	if len(firstPage) == 0 {
		return fileOutcome{status: models.ItemFailed, err: "document has no renderable pages", pageCount: pageCount}
	}
	width, height, err := pdf.ImageSize(firstPage[0])
	if err != nil {
		return fileOutcome{status: models.ItemFailed, err: fmt.Sprintf("decode first page: %v", err), pageCount: pageCount}
	}
	if height > width {
		return fileOutcome{
			status:       models.ItemSkipped,
			filterReason: "Portrait orientation",
			pageCount:    pageCount,
		}
	}

	if pageCount > w.cfg.MaxPageCount {
		return fileOutcome{
			status:       models.ItemSkipped,
			filterReason: fmt.Sprintf("Page count %d > %d", pageCount, w.cfg.MaxPageCount),
			pageCount:    pageCount,
		}
	}

	evalCount := w.cfg.EvalPageCount
	if pageCount > 0 && pageCount < evalCount {
		evalCount = pageCount
	}
	evalPages, err := w.renderer.RenderRange(ctx, tmpPath, 1, evalCount)
	if err != nil || len(evalPages) == 0 {
		return fileOutcome{status: models.ItemFailed, err: fmt.Sprintf("render evaluation pages: %v", err), pageCount: pageCount}
	}

	// The quality gate fails closed: an unusable verdict skips the file
	// rather than letting unvetted content into the library.
	eval, err := w.evaluator.EvaluateDeck(ctx, evalPages)
	if w.metrics != nil {
		w.metrics.RecordAICall("evaluate", err == nil)
	}
	if err != nil {
		return fileOutcome{
			status:       models.ItemSkipped,
			filterReason: fmt.Sprintf("Evaluation failed: %v", err),
			pageCount:    pageCount,
		}
	}
	if !eval.Accepted() {
		return fileOutcome{
			status:       models.ItemSkipped,
			filterReason: eval.Reason,
			firmName:     eval.FirmName,
			designRating: eval.DesignRating,
			pageCount:    pageCount,
		}
	}

	pagesSuccess := w.processPages(ctx, tmpPath, filename, objName, pageCount)
	if pagesSuccess == 0 {
		return fileOutcome{
			status:       models.ItemFailed,
			err:          "No pages processed successfully",
			firmName:     eval.FirmName,
			designRating: eval.DesignRating,
			pageCount:    pageCount,
		}
	}

	if w.metrics != nil {
		w.metrics.RecordPagesEmbedded(int64(pagesSuccess))
	}
	return fileOutcome{
		status:         models.ItemSuccess,
		pagesProcessed: pagesSuccess,
		firmName:       eval.FirmName,
		designRating:   eval.DesignRating,
		pageCount:      pageCount,
	}
}

// processPages walks the document in fixed windows, analysing and embedding
// each page. Window-level failures drop the window, page-level failures drop
// the page; neither aborts the file.
func (w *IngestionWorker) processPages(ctx context.Context, path, filename, objName string, pageCount int) int {
	sanitized := models.SanitizeFilename(filename)
	uri := fmt.Sprintf("gs://%s/%s", w.blobs.Bucket(), objName)
	window := w.cfg.PageWindow

	pagesSuccess := 0
	for first := 1; ; first += window {
		if pageCount > 0 && first > pageCount {
			break
		}
		last := first + window - 1
		if pageCount > 0 && last > pageCount {
			last = pageCount
		}

		images, err := w.renderer.RenderRange(ctx, path, first, last)
		if err != nil {
			logger.Warn("Window render failed", "filename", filename, "first", first, "last", last, "error", err)
			if pageCount == 0 {
				// Without a page count a render error is indistinguishable
				// from running past the end, so stop here.
				break
			}
			continue
		}
		if len(images) == 0 {
			break
		}

		analyses, err := w.analyzer.AnalyzeSlides(ctx, images)
		if w.metrics != nil {
			w.metrics.RecordAICall("analyze", err == nil)
		}
		if err != nil {
			logger.Warn("Window analysis failed", "filename", filename, "first", first, "error", err)
			continue
		}

		for i, img := range images {
			pageNumber := first + i
			analysis := analyses[i]
			contextText := fmt.Sprintf("%s. %s. %s",
				analysis.StructureType, analysis.KeyMessage, analysis.Description)

			vector, err := w.embedder.Embed(ctx, img, contextText)
			if w.metrics != nil {
				w.metrics.RecordAICall("embed", err == nil)
			}
			if err != nil {
				logger.Warn("Page embedding failed", "filename", filename, "page", pageNumber, "error", err)
				continue
			}

			record := models.SlideRecord{
				URI:           uri,
				Filename:      filename,
				PageNumber:    pageNumber,
				StructureType: analysis.StructureType,
				KeyMessage:    analysis.KeyMessage,
				Description:   analysis.Description,
				Embedding:     vector,
				CreatedAt:     time.Now(),
			}
			id := models.SlideRecordID(sanitized, pageNumber)
			if err := w.store.Set(ctx, w.cfg.SlideCollection, id, record); err != nil {
				logger.Warn("Slide persist failed", "filename", filename, "page", pageNumber, "error", err)
				continue
			}
			pagesSuccess++
		}

		if len(images) < last-first+1 {
			break
		}
	}
	return pagesSuccess
}

// RetryFile re-runs the full pipeline for one previously failed file of a
// batch, swapping the batch counters from failed to the new terminal state.
func (w *IngestionWorker) RetryFile(ctx context.Context, batchID, filename string) error {
	if err := w.markProcessing(ctx, batchID, filename); err != nil {
		return err
	}

	start := time.Now()
	outcome := w.ingestFile(ctx, filename)
	if err := w.finalize(ctx, batchID, filename, outcome, true); err != nil {
		return err
	}

	if w.metrics != nil {
		w.metrics.RecordFileProcessed(outcome.status, time.Since(start).Seconds())
	}
	logger.Info("File retry finished", "batch_id", batchID, "filename", filename, "status", outcome.status)
	return nil
}
