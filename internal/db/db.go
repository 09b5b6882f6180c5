package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"utbk-tutor/internal/config"
	"utbk-tutor/internal/models"
)

type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	ID            string          `bun:"id,pk"`
	Content       string          `bun:"content,notnull"`
	Source        string          `bun:"source,notnull"`
	Page          int             `bun:"page,notnull"`
	ChunkIndex    int             `bun:"chunk_index,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,notnull,type:vector"`
	Similarity    float64         `bun:"similarity,scanonly"`
}

// Store keeps chunks in a pgvector column and ranks them by cosine distance.
type Store struct {
	db *bun.DB
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(cfg *config.DatabaseConfig) *sql.DB {
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
}

// Open connects and makes sure the extension and table exist.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*Store, error) {
	s := &Store{db: NewDB(ConnectDB(cfg), cfg.Debug)}
	if err := s.db.PingContext(ctx); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("%w: connect: %w", models.ErrIndexUnavailable, err)
	}
	if err := s.InitDB(ctx); err != nil {
		s.db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) InitDB(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("%w: create extension: %w", models.ErrIndexUnavailable, err)
	}
	if _, err := s.db.NewCreateTable().Model((*Document)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("%w: create table: %w", models.ErrIndexUnavailable, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Add(ctx context.Context, chunks []models.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]Document, len(chunks))
	for i, ch := range chunks {
		docs[i] = Document{
			ID:         ch.ID,
			Content:    ch.Text,
			Source:     ch.Source,
			Page:       ch.Page,
			ChunkIndex: ch.Index,
			Embedding:  pgvector.NewVector(ch.Embedding),
		}
	}
	docs = uniqueByID(docs)
	_, err := s.db.NewInsert().
		Model(&docs).
		On("CONFLICT (id) DO UPDATE").
		Set("content = EXCLUDED.content").
		Set("embedding = EXCLUDED.embedding").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: store documents: %w", models.ErrIndexUnavailable, err)
	}
	return nil
}

// uniqueByID keeps the last document for every ID. A single upsert cannot
// touch the same row twice.
func uniqueByID(docs []Document) []Document {
	pos := make(map[string]int, len(docs))
	out := docs[:0:0]
	for _, d := range docs {
		if i, ok := pos[d.ID]; ok {
			out[i] = d
			continue
		}
		pos[d.ID] = len(out)
		out = append(out, d)
	}
	return out
}

func (s *Store) Query(ctx context.Context, vector []float32, k int) ([]models.RetrievedChunk, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: documents table is empty", models.ErrIndexUnavailable)
	}

	q := pgvector.NewVector(vector)
	var docs []Document
	err = s.db.NewSelect().
		Model(&docs).
		Column("id", "content", "source", "page", "chunk_index").
		ColumnExpr("1 - (embedding <=> ?) AS similarity", q).
		OrderExpr("embedding <=> ?", q).
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: search documents: %w", models.ErrIndexUnavailable, err)
	}

	out := make([]models.RetrievedChunk, len(docs))
	for i, d := range docs {
		out[i] = models.RetrievedChunk{
			Chunk: models.Chunk{
				ID:     d.ID,
				Source: d.Source,
				Page:   d.Page,
				Index:  d.ChunkIndex,
				Text:   d.Content,
			},
			Similarity: float32(d.Similarity),
		}
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.db.NewSelect().Model((*Document)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: count documents: %w", models.ErrIndexUnavailable, err)
	}
	return n, nil
}

// Reset drops and recreates the documents table.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.NewDropTable().Model((*Document)(nil)).IfExists().Exec(ctx); err != nil {
		return fmt.Errorf("%w: drop documents: %w", models.ErrIndexUnavailable, err)
	}
	return s.InitDB(ctx)
}
