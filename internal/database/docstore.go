package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get and Update when the document does not exist.
var ErrNotFound = errors.New("document not found")

// Distance measures accepted by VectorQuery.
const (
	MeasureCosine    = "cosine"
	MeasureDot       = "dot"
	MeasureEuclidean = "euclidean"
)

// Predicate is a single field filter for Query.
type Predicate struct {
	Path  string
	Op    string // "==", "<", "<=", ">", ">=", "in"
	Value any
}

// Document is a raw query result. Decode maps Data onto a typed model.
type Document struct {
	ID   string
	Data map[string]any
}

// DocumentStore is the document-database contract the ingestion core relies
// on. Single-document updates are linearisable and AtomicIncrement composes
// safely across concurrent shards; nothing here is cross-document
// transactional.
type DocumentStore interface {
	Get(ctx context.Context, collection, id string) (map[string]any, error)
	Set(ctx context.Context, collection, id string, doc any) error
	// Merge writes only the given fields, creating the document if absent.
	Merge(ctx context.Context, collection, id string, fields map[string]any) error
	// Update writes the given fields and fails with ErrNotFound if the
	// document does not exist.
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, preds []Predicate, orderBy string, desc bool, limit int) ([]Document, error)
	// AtomicIncrement adds each delta to its field in a single atomic write.
	AtomicIncrement(ctx context.Context, collection, id string, fields map[string]int64) error
	// VectorQuery returns the k nearest neighbours of vector under the given
	// measure, ordered nearest first. Distances are not exposed.
	VectorQuery(ctx context.Context, collection, field string, vector []float32, measure string, k int) ([]Document, error)
}

// Decode maps a raw document onto dst. Field names follow the json tags,
// which are kept identical to the firestore tags on every model.
func Decode(data map[string]any, dst any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}
