package database

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore implements DocumentStore on Cloud Firestore.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore creates the Firestore-backed document store. It
// centralizes client creation for all services.
func NewFirestoreStore(ctx context.Context, projectID string) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &FirestoreStore{client: client}, nil
}

func (s *FirestoreStore) Get(ctx context.Context, collection, id string) (map[string]any, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return snap.Data(), nil
}

func (s *FirestoreStore) Set(ctx context.Context, collection, id string, doc any) error {
	if _, err := s.client.Collection(collection).Doc(id).Set(ctx, doc); err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *FirestoreStore) Merge(ctx context.Context, collection, id string, fields map[string]any) error {
	if _, err := s.client.Collection(collection).Doc(id).Set(ctx, fields, firestore.MergeAll); err != nil {
		return fmt.Errorf("merge %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *FirestoreStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	updates := make([]firestore.Update, 0, len(fields))
	for path, value := range fields {
		updates = append(updates, firestore.Update{Path: path, Value: value})
	}
	if _, err := s.client.Collection(collection).Doc(id).Update(ctx, updates); err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *FirestoreStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.client.Collection(collection).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *FirestoreStore) Query(ctx context.Context, collection string, preds []Predicate, orderBy string, desc bool, limit int) ([]Document, error) {
	q := s.client.Collection(collection).Query
	for _, p := range preds {
		q = q.Where(p.Path, p.Op, p.Value)
	}
	if orderBy != "" {
		dir := firestore.Asc
		if desc {
			dir = firestore.Desc
		}
		q = q.OrderBy(orderBy, dir)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return drain(q.Documents(ctx), collection)
}

func (s *FirestoreStore) AtomicIncrement(ctx context.Context, collection, id string, fields map[string]int64) error {
	updates := make([]firestore.Update, 0, len(fields))
	for path, delta := range fields {
		updates = append(updates, firestore.Update{Path: path, Value: firestore.Increment(delta)})
	}
	if _, err := s.client.Collection(collection).Doc(id).Update(ctx, updates); err != nil {
		return fmt.Errorf("increment %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *FirestoreStore) VectorQuery(ctx context.Context, collection, field string, vector []float32, measure string, k int) ([]Document, error) {
	var m firestore.DistanceMeasure
	switch measure {
	case MeasureCosine:
		m = firestore.DistanceMeasureCosine
	case MeasureDot:
		m = firestore.DistanceMeasureDotProduct
	case MeasureEuclidean:
		m = firestore.DistanceMeasureEuclidean
	default:
		return nil, fmt.Errorf("unknown distance measure: %s", measure)
	}

	vq := s.client.Collection(collection).FindNearest(field, firestore.Vector32(vector), k, m, nil)
	return drain(vq.Documents(ctx), collection)
}

// Close releases the underlying client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func drain(it *firestore.DocumentIterator, collection string) ([]Document, error) {
	var docs []Document
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate %s: %w", collection, err)
		}
		docs = append(docs, Document{ID: snap.Ref.ID, Data: snap.Data()})
	}
	return docs, nil
}
