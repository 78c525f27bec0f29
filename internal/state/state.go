// Package state persists the per-target scan watermark between runs. Each
// routing target gets one small JSON object keyed by its target key, stored
// in a Cloud Storage bucket.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"

	"cloud.google.com/go/storage"

	"apflow/pkg/models"
)

// Store loads and saves the run state for one routing target.
type Store interface {
	Load(ctx context.Context, targetKey string) (models.RunState, error)
	Save(ctx context.Context, targetKey string, st models.RunState) error
}

// GCSStore keeps one JSON object per target under a common prefix. A
// missing object reads as the zero state, so new targets start from
// document id 0.
type GCSStore struct {
	bucket *storage.BucketHandle
	prefix string
}

// NewGCSStore opens the bucket for state objects.
func NewGCSStore(ctx context.Context, bucketName, prefix string) (*GCSStore, error) {
	const op = "NewGCSStore"

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: create storage client: %w", op, err)
	}
	return &GCSStore{bucket: client.Bucket(bucketName), prefix: prefix}, nil
}

// objectName URL-escapes the target key so credentials-bearing keys stay
// within object naming rules.
func (s *GCSStore) objectName(targetKey string) string {
	return s.prefix + "/" + url.QueryEscape(targetKey) + ".json"
}

// Load reads the target's state; a missing object is the zero state.
func (s *GCSStore) Load(ctx context.Context, targetKey string) (models.RunState, error) {
	const op = "Load"

	var st models.RunState
	r, err := s.bucket.Object(s.objectName(targetKey)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return st, nil
		}
		return st, fmt.Errorf("%s: open state object: %w", op, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return st, fmt.Errorf("%s: read state object: %w", op, err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("%s: decode state: %w", op, err)
	}
	return st, nil
}

// Save overwrites the target's state object.
func (s *GCSStore) Save(ctx context.Context, targetKey string, st models.RunState) error {
	const op = "Save"

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("%s: encode state: %w", op, err)
	}
	w := s.bucket.Object(s.objectName(targetKey)).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("%s: write state object: %w", op, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%s: finalize state object: %w", op, err)
	}
	return nil
}

// MemoryStore is an in-process Store for tests and for deployments without
// a state bucket, where every run rescans from the beginning.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]models.RunState
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]models.RunState)}
}

// Load returns the stored state, or the zero state for unknown keys.
func (s *MemoryStore) Load(_ context.Context, targetKey string) (models.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[targetKey], nil
}

// Save stores the state for the key.
func (s *MemoryStore) Save(_ context.Context, targetKey string, st models.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[targetKey] = st
	return nil
}
