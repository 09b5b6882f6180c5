package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"utbk-tutor/internal/chromemdb"
	"utbk-tutor/internal/config"
	"utbk-tutor/internal/embedding"
	"utbk-tutor/internal/helper"
	"utbk-tutor/internal/models"
	"utbk-tutor/internal/prompt"
)

var vocab = []string{"newton", "gaya", "mol", "reaksi", "sel"}

// keywordEmbedder maps text onto keyword counts so similarity is predictable.
type keywordEmbedder struct {
	err error
}

func (k keywordEmbedder) vector(text string) []float32 {
	v := make([]float32, len(vocab)+1)
	lower := strings.ToLower(text)
	for i, w := range vocab {
		v[i] = float32(strings.Count(lower, w))
	}
	v[len(vocab)] = 0.01
	return v
}

func (k keywordEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if k.err != nil {
		return nil, k.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = k.vector(t)
	}
	return out, nil
}

func (k keywordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if k.err != nil {
		return nil, k.err
	}
	return k.vector(text), nil
}

type fakeCompleter struct {
	mu          sync.Mutex
	reply       string
	err         error
	calls       int
	last        models.Prompt
	temperature float64
}

func (f *fakeCompleter) Complete(_ context.Context, p models.Prompt, temperature float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = p
	f.temperature = temperature
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func testPages() []models.Page {
	return []models.Page{
		{Source: "fisika.pdf", Page: 1, Text: "Hukum Newton menjelaskan gaya dan gerak."},
		{Source: "kimia.pdf", Page: 2, Text: "Satu mol zat dan laju reaksi kimia."},
		{Source: "biologi.pdf", Page: 3, Text: "Struktur sel hewan dan sel tumbuhan."},
	}
}

type fixture struct {
	rag   *RAG
	store *chromemdb.VectorDBManager
	llm   *fakeCompleter
}

func newFixture(t *testing.T, mutate func(*config.RAGConfig), emb keywordEmbedder) fixture {
	t.Helper()
	cfg := config.Default().RAG
	if mutate != nil {
		mutate(&cfg)
	}
	store, err := chromemdb.NewVectorDBManager("", "test", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	llm := &fakeCompleter{reply: "jawaban"}
	r, err := NewRAG(cfg, embedding.New(emb, helper.NoRetry()), store, llm)
	if err != nil {
		t.Fatal(err)
	}
	r.loadPages = func(string) ([]models.Page, error) { return testPages(), nil }
	return fixture{rag: r, store: store, llm: llm}
}

func TestIngestThenSolve(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, keywordEmbedder{})

	rep, err := f.rag.Ingest(ctx, "data", IngestOptions{})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if rep != (IngestReport{Files: 3, Pages: 3, Chunks: 3}) {
		t.Fatalf("unexpected report %+v", rep)
	}

	ans, err := f.rag.Solve(ctx, "Apa bunyi hukum Newton tentang gaya?")
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if ans.Text != "jawaban" {
		t.Fatalf("unexpected answer %q", ans.Text)
	}
	if len(ans.Chunks) == 0 || ans.Chunks[0].Source != "fisika.pdf" || ans.Chunks[0].Page != 1 {
		t.Fatalf("expected fisika.pdf p.1 first, got %+v", ans.Chunks)
	}
	if f.llm.last.System != prompt.Solve.System {
		t.Fatal("solve must use the solve system template")
	}
	if !strings.HasPrefix(f.llm.last.User, "[SOAL]: Apa bunyi hukum Newton tentang gaya?\n\n[KONTEKS]:\n[fisika.pdf p.1] ") {
		t.Fatalf("unexpected user turn %q", f.llm.last.User)
	}
	if f.llm.temperature != 0.2 {
		t.Fatalf("expected solve temperature 0.2, got %v", f.llm.temperature)
	}

	gen, err := f.rag.Generate(ctx, "laju reaksi")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if gen.Chunks[0].Source != "kimia.pdf" {
		t.Fatalf("expected kimia.pdf first, got %+v", gen.Chunks[0].Chunk)
	}
	if f.llm.last.Name != "generate" || f.llm.temperature != 0.4 {
		t.Fatalf("expected generate template at 0.4, got %s at %v", f.llm.last.Name, f.llm.temperature)
	}
}

func TestRetrieve_AtMostKRanked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *config.RAGConfig) { c.TopK = 2 }, keywordEmbedder{})
	if _, err := f.rag.Ingest(ctx, "data", IngestOptions{}); err != nil {
		t.Fatal(err)
	}

	for _, q := range []string{"sel", "mol reaksi", "newton", "tidak ada kata kunci"} {
		chunks, err := f.rag.Retrieve(ctx, q)
		if err != nil {
			t.Fatalf("retrieve %q: %v", q, err)
		}
		if len(chunks) > 2 {
			t.Fatalf("expected at most 2 chunks, got %d", len(chunks))
		}
		for i := 1; i < len(chunks); i++ {
			if chunks[i].Similarity > chunks[i-1].Similarity {
				t.Fatalf("%q: ranking not non-increasing", q)
			}
		}
	}
}

func TestIngest_DuplicatesAndDedup(t *testing.T) {
	ctx := context.Background()

	t.Run("random ids append", func(t *testing.T) {
		f := newFixture(t, nil, keywordEmbedder{})
		for i := 0; i < 2; i++ {
			if _, err := f.rag.Ingest(ctx, "data", IngestOptions{}); err != nil {
				t.Fatal(err)
			}
		}
		if n, _ := f.rag.IndexSize(ctx); n != 6 {
			t.Fatalf("expected duplicates on re-ingestion, got %d chunks", n)
		}
	})

	t.Run("content ids overwrite", func(t *testing.T) {
		f := newFixture(t, func(c *config.RAGConfig) { c.Dedup = true }, keywordEmbedder{})
		for i := 0; i < 2; i++ {
			if _, err := f.rag.Ingest(ctx, "data", IngestOptions{}); err != nil {
				t.Fatal(err)
			}
		}
		if n, _ := f.rag.IndexSize(ctx); n != 3 {
			t.Fatalf("expected 3 chunks with dedup, got %d", n)
		}
	})

	t.Run("reset replaces", func(t *testing.T) {
		f := newFixture(t, nil, keywordEmbedder{})
		for i := 0; i < 2; i++ {
			if _, err := f.rag.Ingest(ctx, "data", IngestOptions{Reset: true}); err != nil {
				t.Fatal(err)
			}
		}
		if n, _ := f.rag.IndexSize(ctx); n != 3 {
			t.Fatalf("expected 3 chunks after reset, got %d", n)
		}
	})
}

func TestErrorKindsPropagate(t *testing.T) {
	ctx := context.Background()
	kinds := []error{models.ErrIngest, models.ErrEmbeddingProvider, models.ErrIndexUnavailable, models.ErrCompletionProvider}

	assertKind := func(t *testing.T, err, want error) {
		t.Helper()
		if !errors.Is(err, want) {
			t.Fatalf("expected %v, got %v", want, err)
		}
		for _, k := range kinds {
			if k != want && errors.Is(err, k) {
				t.Fatalf("error %v also matches %v", err, k)
			}
		}
	}

	t.Run("extraction", func(t *testing.T) {
		f := newFixture(t, nil, keywordEmbedder{})
		f.rag.loadPages = func(string) ([]models.Page, error) {
			return nil, errors.Join(models.ErrIngest, errors.New("broken.pdf: malformed xref"))
		}
		_, err := f.rag.Ingest(ctx, "data", IngestOptions{})
		assertKind(t, err, models.ErrIngest)
	})

	t.Run("embedding", func(t *testing.T) {
		f := newFixture(t, nil, keywordEmbedder{err: errors.New("401")})
		_, err := f.rag.Ingest(ctx, "data", IngestOptions{})
		assertKind(t, err, models.ErrEmbeddingProvider)
		if n, _ := f.store.Count(ctx); n != 0 {
			t.Fatalf("expected nothing written, got %d", n)
		}
	})

	t.Run("index open", func(t *testing.T) {
		f := newFixture(t, nil, keywordEmbedder{})
		_, err := f.rag.Solve(ctx, "gaya")
		assertKind(t, err, models.ErrIndexUnavailable)
		if f.llm.calls != 0 {
			t.Fatal("completion must not run without context")
		}
	})

	t.Run("completion", func(t *testing.T) {
		f := newFixture(t, nil, keywordEmbedder{})
		if _, err := f.rag.Ingest(ctx, "data", IngestOptions{}); err != nil {
			t.Fatal(err)
		}
		f.llm.err = errors.Join(models.ErrCompletionProvider, errors.New("429"))
		_, err := f.rag.Generate(ctx, "sel")
		assertKind(t, err, models.ErrCompletionProvider)
	})
}

func TestRealLoaderFailure(t *testing.T) {
	f := newFixture(t, nil, keywordEmbedder{})
	r, err := NewRAG(f.rag.cfg, f.rag.embedder, f.store, f.llm)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Ingest(context.Background(), t.TempDir(), IngestOptions{}); !errors.Is(err, models.ErrIngest) {
		t.Fatalf("expected ErrIngest for a directory without PDFs, got %v", err)
	}
}

func TestEmptyInput(t *testing.T) {
	f := newFixture(t, nil, keywordEmbedder{})
	if _, err := f.rag.Solve(context.Background(), "   "); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.rag.Generate(context.Background(), ""); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if f.llm.calls != 0 {
		t.Fatal("no completion expected for empty input")
	}
}

func TestConcurrentQueriesDuringIngest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, keywordEmbedder{})
	if _, err := f.rag.Ingest(ctx, "data", IngestOptions{}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.rag.Solve(ctx, "mol")
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := f.rag.Ingest(ctx, "data", IngestOptions{Reset: true})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

func TestIngest_NoExtractableTextKeepsIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, keywordEmbedder{})
	if _, err := f.rag.Ingest(ctx, "data", IngestOptions{}); err != nil {
		t.Fatal(err)
	}

	f.rag.loadPages = func(string) ([]models.Page, error) { return nil, nil }
	for _, opts := range []IngestOptions{{Reset: true}, {}} {
		_, err := f.rag.Ingest(ctx, "scans", opts)
		if !errors.Is(err, models.ErrIngest) {
			t.Fatalf("reset=%v: expected ErrIngest, got %v", opts.Reset, err)
		}
		if errors.Is(err, models.ErrIndexUnavailable) {
			t.Fatalf("reset=%v: error also matches ErrIndexUnavailable: %v", opts.Reset, err)
		}
		if n, _ := f.rag.IndexSize(ctx); n != 3 {
			t.Fatalf("reset=%v: expected the index to keep 3 chunks, got %d", opts.Reset, n)
		}
	}

	if _, _, err := f.rag.Preview("scans"); !errors.Is(err, models.ErrIngest) {
		t.Fatalf("expected ErrIngest from preview, got %v", err)
	}
}

func TestIndex_ReplaceWithNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, keywordEmbedder{})
	if _, err := f.rag.Ingest(ctx, "data", IngestOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := f.rag.index.Replace(ctx, nil); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if n, _ := f.store.Count(ctx); n != 3 {
		t.Fatalf("expected 3 chunks, got %d", n)
	}
}
