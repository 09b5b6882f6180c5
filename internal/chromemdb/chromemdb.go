package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"utbk-tutor/internal/models"
)

// metadata holds source filename, page number and chunk index

// VectorDBManager encapsulates the chromem-go database operations
type VectorDBManager struct {
	db             *chromem.DB
	collectionName string
	embed          chromem.EmbeddingFunc
	dbPath         string
	compress       bool
}

// NewVectorDBManager opens (or creates) the persistent database at dbPath.
// An empty dbPath keeps everything in memory.
func NewVectorDBManager(dbPath, collectionName string, compress bool, embed chromem.EmbeddingFunc) (*VectorDBManager, error) {
	var db *chromem.DB
	if dbPath == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %w", models.ErrIndexUnavailable, dbPath, err)
		}
	}

	return &VectorDBManager{
		db:             db,
		collectionName: collectionName,
		embed:          embed,
		dbPath:         dbPath,
		compress:       compress,
	}, nil
}

// existing returns the collection or ErrIndexUnavailable when ingestion never ran.
func (m *VectorDBManager) existing() (*chromem.Collection, error) {
	c := m.db.GetCollection(m.collectionName, m.embed)
	if c == nil {
		return nil, fmt.Errorf("%w: collection %q not found, run ingestion first", models.ErrIndexUnavailable, m.collectionName)
	}
	return c, nil
}

// Add stores embedded chunks. Documents with an existing ID are replaced.
// Adding nothing is a no-op.
func (m *VectorDBManager) Add(ctx context.Context, chunks []models.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	c, err := m.db.GetOrCreateCollection(m.collectionName, nil, m.embed)
	if err != nil {
		return fmt.Errorf("%w: create/get collection: %w", models.ErrIndexUnavailable, err)
	}

	docs := make([]chromem.Document, len(chunks))
	for i, ch := range chunks {
		docs[i] = chromem.Document{
			ID:        ch.ID,
			Content:   ch.Text,
			Metadata:  createMetadata(ch.Chunk),
			Embedding: ch.Embedding,
		}
	}

	// one worker: embeddings are precomputed, nothing to parallelize
	if err := c.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("%w: add documents: %w", models.ErrIndexUnavailable, err)
	}
	return nil
}

// Query returns up to k chunks by descending cosine similarity.
func (m *VectorDBManager) Query(ctx context.Context, vector []float32, k int) ([]models.RetrievedChunk, error) {
	c, err := m.existing()
	if err != nil {
		return nil, err
	}
	n := c.Count()
	if n == 0 {
		return nil, fmt.Errorf("%w: collection %q is empty", models.ErrIndexUnavailable, m.collectionName)
	}
	// chromem rejects nResults above the document count
	k = min(k, n)

	results, err := c.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: query by similarity: %w", models.ErrIndexUnavailable, err)
	}

	out := make([]models.RetrievedChunk, 0, len(results))
	for _, r := range results {
		ch, err := parseMetadata(r.ID, r.Content, r.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrIndexUnavailable, err)
		}
		out = append(out, models.RetrievedChunk{Chunk: ch, Similarity: r.Similarity})
	}
	return out, nil
}

func (m *VectorDBManager) Count(_ context.Context) (int, error) {
	c := m.db.GetCollection(m.collectionName, m.embed)
	if c == nil {
		return 0, nil
	}
	return c.Count(), nil
}

// Reset drops the collection; the next Add recreates it.
func (m *VectorDBManager) Reset(_ context.Context) error {
	if m.db.GetCollection(m.collectionName, m.embed) == nil {
		return nil
	}
	if err := m.db.DeleteCollection(m.collectionName); err != nil {
		return fmt.Errorf("%w: drop collection: %w", models.ErrIndexUnavailable, err)
	}
	return nil
}

// Export writes a snapshot of the collection to filePath. A non-empty
// encryptionKey (32 bytes) encrypts the snapshot.
func (m *VectorDBManager) Export(filePath, encryptionKey string) error {
	if filePath == "" {
		return errors.New("export path is required")
	}
	if _, err := m.existing(); err != nil {
		return err
	}

	log.Debug().Str("collection", m.collectionName).Str("file", filePath).Bool("compress", m.compress).Msg("Exporting collection")
	if err := m.db.ExportToFile(filePath, m.compress, encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import loads the collection from a snapshot written by Export.
func (m *VectorDBManager) Import(filePath, encryptionKey string) error {
	if filePath == "" {
		return errors.New("import path is required")
	}
	if err := m.db.ImportFromFile(filePath, encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	return nil
}

func createMetadata(c models.Chunk) map[string]string {
	return map[string]string{
		models.MetaSource:     c.Source,
		models.MetaPage:       strconv.Itoa(c.Page),
		models.MetaChunkIndex: strconv.Itoa(c.Index),
	}
}

func parseMetadata(id, content string, meta map[string]string) (models.Chunk, error) {
	page, err := strconv.Atoi(meta[models.MetaPage])
	if err != nil {
		return models.Chunk{}, fmt.Errorf("document %s has bad page metadata: %w", id, err)
	}
	index, _ := strconv.Atoi(meta[models.MetaChunkIndex])
	return models.Chunk{
		ID:     id,
		Source: meta[models.MetaSource],
		Page:   page,
		Index:  index,
		Text:   content,
	}, nil
}
