package rag

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"utbk-tutor/internal/config"
	"utbk-tutor/internal/embedding"
	"utbk-tutor/internal/helper"
	"utbk-tutor/internal/models"
	"utbk-tutor/internal/parser"
	"utbk-tutor/internal/prompt"
)

// Completer sends a rendered prompt to a chat model.
type Completer interface {
	Complete(ctx context.Context, p models.Prompt, temperature float64) (string, error)
}

// Answer is the model output plus the chunks it was conditioned on.
type Answer struct {
	Text   string
	Chunks []models.RetrievedChunk
}

type IngestReport struct {
	Files  int
	Pages  int
	Chunks int
}

type IngestOptions struct {
	// Reset empties the index before writing.
	Reset bool
}

type RAG struct {
	chunker  *parser.Chunker
	embedder *embedding.Embedder
	index    *Index
	llm      Completer
	cfg      config.RAGConfig

	loadPages func(dir string) ([]models.Page, error)
}

func NewRAG(cfg config.RAGConfig, embedder *embedding.Embedder, store VectorStore, llm Completer) (*RAG, error) {
	chunker, err := parser.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	return &RAG{
		chunker:   chunker,
		embedder:  embedder,
		index:     NewIndex(store),
		llm:       llm,
		cfg:       cfg,
		loadPages: parser.LoadPages,
	}, nil
}

// Preview loads and chunks dir without touching the embedding provider or the index.
func (r *RAG) Preview(dir string) ([]models.Chunk, IngestReport, error) {
	pages, err := r.loadPages(dir)
	if err != nil {
		return nil, IngestReport{}, err
	}
	chunks, err := r.chunker.Split(pages)
	if err != nil {
		return nil, IngestReport{}, fmt.Errorf("%w: %w", models.ErrIngest, err)
	}
	if len(chunks) == 0 {
		return nil, IngestReport{}, fmt.Errorf("%w: no extractable text in %s", models.ErrIngest, dir)
	}
	return chunks, report(pages, chunks), nil
}

// Ingest loads every PDF in dir, chunks, embeds and writes the result to the
// index. A run without any extractable text fails before the index is touched.
// A failure part way leaves already written chunks in place.
func (r *RAG) Ingest(ctx context.Context, dir string, opts IngestOptions) (IngestReport, error) {
	chunks, rep, err := r.Preview(dir)
	if err != nil {
		return IngestReport{}, err
	}
	log.Info().Int("files", rep.Files).Int("pages", rep.Pages).Int("chunks", rep.Chunks).Msg("Chunked documents")

	if err := r.assignIDs(chunks); err != nil {
		return IngestReport{}, err
	}

	embedded, err := r.embedder.EmbedChunks(ctx, chunks)
	if err != nil {
		return IngestReport{}, err
	}

	if opts.Reset {
		err = r.index.Replace(ctx, embedded)
	} else {
		err = r.index.Persist(ctx, embedded)
	}
	if err != nil {
		return IngestReport{}, err
	}

	log.Info().Int("chunks", len(embedded)).Bool("dedup", r.cfg.Dedup).Bool("reset", opts.Reset).Msg("Indexed chunks")
	return rep, nil
}

// assignIDs gives every chunk a random ID, or a content hash when dedup is on.
// Random IDs make re-ingestion append duplicates.
func (r *RAG) assignIDs(chunks []models.Chunk) error {
	for i := range chunks {
		c := &chunks[i]
		if r.cfg.Dedup {
			c.ID = helper.ContentID(c.Source, strconv.Itoa(c.Page), c.Text)
			continue
		}
		id, err := helper.GenerateUUID()
		if err != nil {
			return fmt.Errorf("%w: %w", models.ErrIngest, err)
		}
		c.ID = id
	}
	return nil
}

// Retrieve returns at most k chunks for query, most similar first.
func (r *RAG) Retrieve(ctx context.Context, query string) ([]models.RetrievedChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", models.ErrInvalidInput)
	}
	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	chunks, err := r.index.Search(ctx, vector, r.cfg.TopK)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("chunks", len(chunks)).Msg("Retrieved context")
	return chunks, nil
}

// Solve answers a question from the retrieved context.
func (r *RAG) Solve(ctx context.Context, query string) (Answer, error) {
	return r.answer(ctx, prompt.Solve, query, r.cfg.SolveTemperature)
}

// Generate produces one multiple-choice item about topic as raw JSON text.
func (r *RAG) Generate(ctx context.Context, topic string) (Answer, error) {
	return r.answer(ctx, prompt.Generate, topic, r.cfg.GenerateTemperature)
}

func (r *RAG) answer(ctx context.Context, tmpl prompt.Template, query string, temperature float64) (Answer, error) {
	chunks, err := r.Retrieve(ctx, query)
	if err != nil {
		return Answer{}, err
	}
	text, err := r.llm.Complete(ctx, prompt.Build(tmpl, query, chunks), temperature)
	if err != nil {
		return Answer{}, err
	}
	return Answer{Text: text, Chunks: chunks}, nil
}

// IndexSize reports how many chunks the index holds.
func (r *RAG) IndexSize(ctx context.Context) (int, error) {
	return r.index.Count(ctx)
}

func report(pages []models.Page, chunks []models.Chunk) IngestReport {
	files := map[string]struct{}{}
	for _, p := range pages {
		files[p.Source] = struct{}{}
	}
	return IngestReport{Files: len(files), Pages: len(pages), Chunks: len(chunks)}
}
