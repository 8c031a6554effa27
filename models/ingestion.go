package models

import (
	"time"

	"cloud.google.com/go/firestore"
)

// Document-store collection names. These are contractual: the worker, the
// controller and any external reader all address the same collections.
const (
	CollectionBatches       = "ingestion_batches"
	CollectionResults       = "ingestion_results"
	CollectionFileSummaries = "ingestion_file_summaries"
)

// Batch status values
const (
	BatchPending     = "pending"
	BatchDiscovering = "discovering"
	BatchProcessing  = "processing"
	BatchCancelling  = "cancelling"
	BatchCancelled   = "cancelled"
	BatchCompleted   = "completed"
	BatchFailed      = "failed"
)

// ResultItem / FileSummary status values
const (
	ItemPending    = "pending"
	ItemProcessing = "processing"
	ItemSuccess    = "success"
	ItemFailed     = "failed"
	ItemSkipped    = "skipped"
)

// Batch represents one ingestion run over the raw prefix. Counters are only
// ever mutated through atomic increments; status writes are restricted to the
// transitions described in the worker and controller.
type Batch struct {
	ID             string     `firestore:"-" json:"batch_id"`
	Status         string     `firestore:"status" json:"status"`
	TotalFiles     int64      `firestore:"total_files" json:"total_files"`
	ProcessedFiles int64      `firestore:"processed_files" json:"processed_files"`
	SuccessFiles   int64      `firestore:"success_files" json:"success_files"`
	FailedFiles    int64      `firestore:"failed_files" json:"failed_files"`
	SkippedFiles   int64      `firestore:"skipped_files" json:"skipped_files"`
	CreatedAt      time.Time  `firestore:"created_at" json:"created_at"`
	StartedAt      *time.Time `firestore:"started_at,omitempty" json:"started_at,omitempty"`
	CompletedAt    *time.Time `firestore:"completed_at,omitempty" json:"completed_at,omitempty"`
	Error          string     `firestore:"error,omitempty" json:"error,omitempty"`
}

// Terminal reports whether the batch can no longer change state.
func (b *Batch) Terminal() bool {
	switch b.Status {
	case BatchCancelled, BatchCompleted, BatchFailed:
		return true
	}
	return false
}

// ResultItem is the per-(batch, file) processing record. It is exclusively
// owned by the shard whose slice contains the file.
type ResultItem struct {
	BatchID        string    `firestore:"batch_id" json:"batch_id"`
	Filename       string    `firestore:"filename" json:"filename"`
	Status         string    `firestore:"status" json:"status"`
	Error          string    `firestore:"error,omitempty" json:"error,omitempty"`
	PagesProcessed int       `firestore:"pages_processed,omitempty" json:"pages_processed,omitempty"`
	FirmName       string    `firestore:"firm_name,omitempty" json:"firm_name,omitempty"`
	DesignRating   string    `firestore:"design_rating,omitempty" json:"design_rating,omitempty"`
	FilterReason   string    `firestore:"filter_reason,omitempty" json:"filter_reason,omitempty"`
	PageCount      int       `firestore:"page_count,omitempty" json:"page_count,omitempty"`
	CreatedAt      time.Time `firestore:"created_at" json:"created_at"`
	UpdatedAt      time.Time `firestore:"updated_at" json:"updated_at"`
}

// FileSummary mirrors the latest ResultItem for a filename across batches.
// Keyed by sanitized filename, it drives resume and list-view annotation.
type FileSummary struct {
	BatchID        string    `firestore:"batch_id" json:"batch_id"`
	Filename       string    `firestore:"filename" json:"filename"`
	Status         string    `firestore:"status" json:"status"`
	Error          string    `firestore:"error,omitempty" json:"error,omitempty"`
	PagesProcessed int       `firestore:"pages_processed,omitempty" json:"pages_processed,omitempty"`
	FirmName       string    `firestore:"firm_name,omitempty" json:"firm_name,omitempty"`
	DesignRating   string    `firestore:"design_rating,omitempty" json:"design_rating,omitempty"`
	FilterReason   string    `firestore:"filter_reason,omitempty" json:"filter_reason,omitempty"`
	PageCount      int       `firestore:"page_count,omitempty" json:"page_count,omitempty"`
	UpdatedAt      time.Time `firestore:"updated_at" json:"updated_at"`
}

// SlideRecord is the per-page output row: structural metadata plus a
// multimodal embedding. Its id is deterministic (see SlideRecordID) so
// reprocessing overwrites rather than duplicates.
type SlideRecord struct {
	URI           string             `firestore:"uri" json:"uri"`
	Filename      string             `firestore:"filename" json:"filename"`
	PageNumber    int                `firestore:"page_number" json:"page_number"`
	StructureType string             `firestore:"structure_type" json:"structure_type"`
	KeyMessage    string             `firestore:"key_message" json:"key_message"`
	Description   string             `firestore:"description" json:"description"`
	Embedding     firestore.Vector32 `firestore:"embedding" json:"embedding,omitempty"`
	CreatedAt     time.Time          `firestore:"created_at" json:"created_at"`
}

// SlideHit is a vector-search result: a SlideRecord without the raw vector.
type SlideHit struct {
	URI           string `json:"uri"`
	Filename      string `json:"filename"`
	PageNumber    int    `json:"page_number"`
	StructureType string `json:"structure_type"`
	KeyMessage    string `json:"key_message"`
	Description   string `json:"description"`
}

// FileInfo is a raw-prefix object enriched with its FileSummary, for the
// file list view.
type FileInfo struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	Updated      time.Time `json:"updated"`
	Status       string    `json:"status,omitempty"`
	FilterReason string    `json:"filter_reason,omitempty"`
	FirmName     string    `json:"firm_name,omitempty"`
	DesignRating string    `json:"design_rating,omitempty"`
	PageCount    int       `json:"page_count,omitempty"`
}
