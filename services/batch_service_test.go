package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"slide-ingestion-platform/models"
)

type fakeLauncher struct {
	mu        sync.Mutex
	launched  []string
	taskCount int
	err       error
}

func (l *fakeLauncher) Launch(_ context.Context, batchID string, taskCount int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.launched = append(l.launched, batchID)
	l.taskCount = taskCount
	return nil
}

type fakeRetrier struct {
	calls chan string
}

func (r *fakeRetrier) RetryFile(_ context.Context, batchID, filename string) error {
	r.calls <- batchID + "/" + filename
	return nil
}

func newBatchService(t *testing.T, files ...string) (*BatchService, *testEnv, *fakeLauncher, *fakeRetrier) {
	t.Helper()
	env := newTestEnv(t, files...)
	launcher := &fakeLauncher{}
	retrier := &fakeRetrier{calls: make(chan string, 16)}
	svc := NewBatchService(env.cfg, env.store, env.blobs, launcher, retrier, env.embedder)
	return svc, env, launcher, retrier
}

func TestStartCreatesAndLaunches(t *testing.T) {
	svc, env, launcher, _ := newBatchService(t)

	batch, err := svc.Start(context.Background(), 3)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if batch.Status != models.BatchPending {
		t.Errorf("status = %q, want pending", batch.Status)
	}
	if len(launcher.launched) != 1 || launcher.launched[0] != batch.ID {
		t.Errorf("launched = %v", launcher.launched)
	}
	if launcher.taskCount != 3 {
		t.Errorf("taskCount = %d, want 3", launcher.taskCount)
	}

	stored := env.getBatch(t, batch.ID)
	if stored.Status != models.BatchPending {
		t.Errorf("stored status = %q", stored.Status)
	}
}

func TestStartDefaultsTaskCount(t *testing.T) {
	svc, _, launcher, _ := newBatchService(t)

	if _, err := svc.Start(context.Background(), 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if launcher.taskCount != 1 {
		t.Errorf("taskCount = %d, want config default 1", launcher.taskCount)
	}
}

func TestStartLaunchFailureMarksBatchFailed(t *testing.T) {
	svc, env, launcher, _ := newBatchService(t)
	launcher.err = errors.New("jobs api unavailable")

	_, err := svc.Start(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error from Start")
	}

	batches, listErr := svc.List(context.Background(), 10)
	if listErr != nil {
		t.Fatalf("List: %v", listErr)
	}
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	failed := env.getBatch(t, batches[0].ID)
	if failed.Status != models.BatchFailed || failed.Error == "" {
		t.Errorf("batch = %+v, want failed with error", failed)
	}
}

func TestCancelLifecycle(t *testing.T) {
	svc, env, _, _ := newBatchService(t)
	env.seedBatch(t, "b1")

	if err := svc.Cancel(context.Background(), "b1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := env.getBatch(t, "b1"); got.Status != models.BatchCancelling {
		t.Errorf("status = %q, want cancelling", got.Status)
	}

	// A second cancel is a no-op.
	if err := svc.Cancel(context.Background(), "b1"); err != nil {
		t.Errorf("second Cancel: %v", err)
	}

	// Cancelling a finished batch is rejected.
	if err := env.store.Merge(context.Background(), models.CollectionBatches, "b1",
		map[string]any{"status": models.BatchCompleted}); err != nil {
		t.Fatal(err)
	}
	if err := svc.Cancel(context.Background(), "b1"); err != ErrBatchTerminal {
		t.Errorf("Cancel on terminal batch = %v, want ErrBatchTerminal", err)
	}
}

func TestGetSortsFailuresLast(t *testing.T) {
	svc, env, _, _ := newBatchService(t)
	env.seedBatch(t, "b1")

	items := []models.ResultItem{
		{BatchID: "b1", Filename: "a.pdf", Status: models.ItemSuccess},
		{BatchID: "b1", Filename: "b.pdf", Status: models.ItemFailed, Error: "boom"},
		{BatchID: "b1", Filename: "c.pdf", Status: models.ItemSkipped},
	}
	for _, item := range items {
		if err := env.store.Set(context.Background(), models.CollectionResults,
			models.ResultItemID("b1", item.Filename), item); err != nil {
			t.Fatal(err)
		}
	}
	// An item from another batch must not leak in.
	other := models.ResultItem{BatchID: "b2", Filename: "x.pdf", Status: models.ItemFailed}
	if err := env.store.Set(context.Background(), models.CollectionResults,
		models.ResultItemID("b2", "x.pdf"), other); err != nil {
		t.Fatal(err)
	}

	detail, err := svc.Get(context.Background(), "b1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(detail.Items) != 3 {
		t.Fatalf("got %d items, want 3", len(detail.Items))
	}
	if detail.Items[0].Filename != "a.pdf" || detail.Items[1].Filename != "c.pdf" {
		t.Errorf("leading items = %q, %q, want a.pdf then c.pdf",
			detail.Items[0].Filename, detail.Items[1].Filename)
	}
	if detail.Items[2].Filename != "b.pdf" {
		t.Errorf("last item = %q, want the failed b.pdf", detail.Items[2].Filename)
	}
}

func TestRetryTargetsFailedItems(t *testing.T) {
	svc, env, _, retrier := newBatchService(t)
	env.seedBatch(t, "b1")

	items := []models.ResultItem{
		{BatchID: "b1", Filename: "ok.pdf", Status: models.ItemSuccess},
		{BatchID: "b1", Filename: "bad1.pdf", Status: models.ItemFailed},
		{BatchID: "b1", Filename: "bad2.pdf", Status: models.ItemFailed},
	}
	for _, item := range items {
		if err := env.store.Set(context.Background(), models.CollectionResults,
			models.ResultItemID("b1", item.Filename), item); err != nil {
			t.Fatal(err)
		}
	}

	count, err := svc.Retry(context.Background(), "b1", nil)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case call := <-retrier.calls:
			got[call] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for retry calls")
		}
	}
	if !got["b1/bad1.pdf"] || !got["b1/bad2.pdf"] {
		t.Errorf("retried = %v", got)
	}
}

func TestRetryResetsItemsSynchronously(t *testing.T) {
	svc, env, _, _ := newBatchService(t)
	env.seedBatch(t, "b1")

	item := models.ResultItem{BatchID: "b1", Filename: "bad.pdf",
		Status: models.ItemFailed, Error: "download: connection reset"}
	if err := env.store.Set(context.Background(), models.CollectionResults,
		models.ResultItemID("b1", "bad.pdf"), item); err != nil {
		t.Fatal(err)
	}

	count, err := svc.Retry(context.Background(), "b1", nil)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	// The reset happens before Retry returns; the background pipeline only
	// touches the item again once it reaches a new terminal state.
	got := env.getItem(t, "b1", "bad.pdf")
	if got.Status != models.ItemProcessing {
		t.Errorf("status = %q, want processing", got.Status)
	}
	if got.Error != "" {
		t.Errorf("error = %q, want cleared", got.Error)
	}
}

func TestRetryFiltersByItemID(t *testing.T) {
	svc, env, _, retrier := newBatchService(t)
	env.seedBatch(t, "b1")

	for _, f := range []string{"bad1.pdf", "bad2.pdf"} {
		item := models.ResultItem{BatchID: "b1", Filename: f, Status: models.ItemFailed}
		if err := env.store.Set(context.Background(), models.CollectionResults,
			models.ResultItemID("b1", f), item); err != nil {
			t.Fatal(err)
		}
	}

	count, err := svc.Retry(context.Background(), "b1",
		[]string{models.ResultItemID("b1", "bad2.pdf")})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	select {
	case call := <-retrier.calls:
		if call != "b1/bad2.pdf" {
			t.Errorf("retried %q, want b1/bad2.pdf", call)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for retry call")
	}
}

func TestListFilesAnnotatesSummaries(t *testing.T) {
	svc, env, _, _ := newBatchService(t, "a.pdf", "b.pdf")

	summary := models.FileSummary{
		BatchID:      "b1",
		Filename:     "a.pdf",
		Status:       models.ItemSkipped,
		FilterReason: "Portrait orientation",
		PageCount:    12,
	}
	if err := env.store.Set(context.Background(), models.CollectionFileSummaries,
		models.SanitizeFilename("a.pdf"), summary); err != nil {
		t.Fatal(err)
	}

	files, err := svc.ListFiles(context.Background())
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2", len(files))
	}
	if files[0].Name != "a.pdf" || files[0].Status != models.ItemSkipped ||
		files[0].FilterReason != "Portrait orientation" || files[0].PageCount != 12 {
		t.Errorf("a.pdf info = %+v", files[0])
	}
	if files[1].Name != "b.pdf" || files[1].Status != "" {
		t.Errorf("b.pdf info = %+v", files[1])
	}
}

func TestFileURL(t *testing.T) {
	svc, _, _, _ := newBatchService(t, "a.pdf")

	url, err := svc.FileURL("a.pdf")
	if err != nil {
		t.Fatalf("FileURL: %v", err)
	}
	if url != "https://signed.example.com/GET/consulting_raw/a.pdf" {
		t.Errorf("url = %q", url)
	}
}

func TestSearchSlides(t *testing.T) {
	svc, env, _, _ := newBatchService(t)

	records := []models.SlideRecord{
		{URI: "gs://b/consulting_raw/x.pdf", Filename: "x.pdf", PageNumber: 1,
			StructureType: "2x2 Matrix", KeyMessage: "市場分析", Embedding: make([]float32, 8)},
		{URI: "gs://b/consulting_raw/y.pdf", Filename: "y.pdf", PageNumber: 4,
			StructureType: "Waterfall Chart", KeyMessage: "コスト削減", Embedding: make([]float32, 8)},
	}
	for _, r := range records {
		id := models.SlideRecordID(models.SanitizeFilename(r.Filename), r.PageNumber)
		if err := env.store.Set(context.Background(), env.cfg.SlideCollection, id, r); err != nil {
			t.Fatal(err)
		}
	}

	hits, err := svc.SearchSlides(context.Background(), "市場シェアのマトリクス", 5)
	if err != nil {
		t.Fatalf("SearchSlides: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].StructureType != "2x2 Matrix" || hits[0].PageNumber != 1 {
		t.Errorf("hit = %+v", hits[0])
	}

	if _, err := svc.SearchSlides(context.Background(), "", 5); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestExportBatchProducesWorkbook(t *testing.T) {
	svc, env, _, _ := newBatchService(t)
	env.seedBatch(t, "b1")

	item := models.ResultItem{BatchID: "b1", Filename: "deck.pdf",
		Status: models.ItemSuccess, PagesProcessed: 7, UpdatedAt: time.Now()}
	if err := env.store.Set(context.Background(), models.CollectionResults,
		models.ResultItemID("b1", "deck.pdf"), item); err != nil {
		t.Fatal(err)
	}

	data, err := svc.ExportBatch(context.Background(), "b1")
	if err != nil {
		t.Fatalf("ExportBatch: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty workbook")
	}
	// XLSX files are ZIP archives.
	if data[0] != 'P' || data[1] != 'K' {
		t.Errorf("workbook does not look like a ZIP: % x", data[:4])
	}
}
