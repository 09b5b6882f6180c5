package rag

import (
	"context"
	"sync"

	"utbk-tutor/internal/models"
)

// VectorStore is the persistence boundary of the vector index. Implementations
// return models.ErrIndexUnavailable when the index cannot serve a request.
type VectorStore interface {
	Add(ctx context.Context, chunks []models.EmbeddedChunk) error
	Query(ctx context.Context, vector []float32, k int) ([]models.RetrievedChunk, error)
	Count(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
}

// Index serializes writers against readers of a VectorStore: queries share
// the read lock, ingestion takes the write lock.
type Index struct {
	mu    sync.RWMutex
	store VectorStore
}

func NewIndex(store VectorStore) *Index {
	return &Index{store: store}
}

func (i *Index) Persist(ctx context.Context, chunks []models.EmbeddedChunk) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.store.Add(ctx, chunks)
}

// Replace drops the current contents and writes chunks under one lock, so
// readers never observe the empty intermediate state. Replacing with nothing
// leaves the index untouched.
func (i *Index) Replace(ctx context.Context, chunks []models.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.store.Reset(ctx); err != nil {
		return err
	}
	return i.store.Add(ctx, chunks)
}

func (i *Index) Search(ctx context.Context, vector []float32, k int) ([]models.RetrievedChunk, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.store.Query(ctx, vector, k)
}

func (i *Index) Count(ctx context.Context) (int, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.store.Count(ctx)
}
