package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"utbk-tutor/internal/chromemdb"
	"utbk-tutor/internal/config"
	"utbk-tutor/internal/db"
	"utbk-tutor/internal/embedding"
	"utbk-tutor/internal/helper"
	"utbk-tutor/internal/item"
	"utbk-tutor/internal/llmservice"
	"utbk-tutor/internal/rag"
	"utbk-tutor/internal/server"
)

const configFilePath = "./configs/config.yaml"

func main() {
	configPath := flag.String("config", configFilePath, "Path to the YAML config file")
	ingest := flag.Bool("ingest", false, "Ingest every PDF in the data directory")
	dir := flag.String("dir", "", "Directory with PDF files (defaults to the configured data dir)")
	dryRun := flag.Bool("dry-run", false, "Dry run, parse and chunk without embedding or saving")
	reset := flag.Bool("reset", false, "Empty the index before ingesting")
	query := flag.String("query", "", "Question to be solved")
	topic := flag.String("topic", "", "Topic to generate a multiple-choice item for")
	serve := flag.Bool("serve", false, "Start the HTTP server")
	exportPath := flag.String("export", "", "Export the chromem collection to this file")
	importPath := flag.String("import", "", "Import the chromem collection from this file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		// logger is not configured yet
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	helper.SetupLogger(cfg.Log.Level, cfg.Log.Pretty)
	log.Debug().Str("chat_model", cfg.ChatLLM.Model).Str("embedding_model", cfg.EmbedLLM.Model).
		Str("store", cfg.VectorStore.Type).Msg("Loaded config")

	actions := 0
	for _, set := range []bool{*ingest, *query != "", *topic != "", *serve, *exportPath != "", *importPath != ""} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		log.Fatal().Msg("Please provide exactly one of -ingest, -query, -topic, -serve, -export or -import")
	}

	if *dir == "" {
		*dir = cfg.Ingest.SourceDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case *ingest && *dryRun:
		previewDocuments(cfg, *dir)
	case *ingest:
		ingestDocuments(ctx, cfg, *dir, *reset)
	case *query != "":
		solveQuestion(ctx, cfg, *query)
	case *topic != "":
		generateItem(ctx, cfg, *topic)
	case *serve:
		runServer(ctx, cfg)
	case *exportPath != "":
		exportCollection(cfg, *exportPath)
	case *importPath != "":
		importCollection(cfg, *importPath)
	}
}

// newRAG wires the embedder, vector store and chat client from cfg.
// The returned cleanup closes the store.
func newRAG(ctx context.Context, cfg *config.Config) (*rag.RAG, func()) {
	retry := helper.NewRetrier(cfg.Retry)

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM, retry)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}

	llm, err := llmservice.NewClient(&cfg.ChatLLM, retry)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing chat client")
	}

	var store rag.VectorStore
	cleanup := func() {}
	switch cfg.VectorStore.Type {
	case config.StorePostgres:
		pg, err := db.Open(ctx, &cfg.VectorStore.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Error connecting to database")
		}
		store = pg
		cleanup = func() {
			if err := pg.Close(); err != nil {
				log.Warn().Err(err).Msg("Error closing database")
			}
		}
	default:
		store = openChromem(cfg, embedder.ChromemFunc())
	}

	r, err := rag.NewRAG(cfg.RAG, embedder, store, llm)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing pipeline")
	}
	return r, cleanup
}

func openChromem(cfg *config.Config, embed func(ctx context.Context, text string) ([]float32, error)) *chromemdb.VectorDBManager {
	if err := helper.CreateFolder(cfg.VectorStore.Path); err != nil {
		log.Fatal().Err(err).Msg("Error creating folder")
	}
	vdb, err := chromemdb.NewVectorDBManager(cfg.VectorStore.Path, cfg.VectorStore.Collection, cfg.VectorStore.Compress, embed)
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating vector database manager")
	}
	return vdb
}

func previewDocuments(cfg *config.Config, dir string) {
	r, err := rag.NewRAG(cfg.RAG, nil, nil, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing pipeline")
	}
	chunks, report, err := r.Preview(dir)
	if err != nil {
		log.Fatal().Err(err).Msg("Error parsing documents")
	}
	for _, c := range chunks {
		log.Debug().Str("source", c.Source).Int("page", c.Page).Int("chunk", c.Index).Int("chars", len(c.Text)).Msg("Chunk")
	}
	log.Info().Msg("Dry run, nothing was embedded or saved")
	helper.PrettyPrint(report)
}

func ingestDocuments(ctx context.Context, cfg *config.Config, dir string, reset bool) {
	r, cleanup := newRAG(ctx, cfg)
	defer cleanup()

	log.Info().Str("dir", dir).Bool("reset", reset).Msg("Ingesting documents")
	report, err := r.Ingest(ctx, dir, rag.IngestOptions{Reset: reset})
	if err != nil {
		log.Fatal().Err(err).Msg("Error ingesting documents")
	}
	helper.PrettyPrint(report)
}

func solveQuestion(ctx context.Context, cfg *config.Config, query string) {
	r, cleanup := newRAG(ctx, cfg)
	defer cleanup()

	answer, err := r.Solve(ctx, query)
	if err != nil {
		log.Fatal().Err(err).Msg("Error solving question")
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", query)

	printSources(answer)

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", answer.Text)
}

func generateItem(ctx context.Context, cfg *config.Config, topic string) {
	r, cleanup := newRAG(ctx, cfg)
	defer cleanup()

	answer, err := r.Generate(ctx, topic)
	if err != nil {
		log.Fatal().Err(err).Msg("Error generating item")
	}

	log.Info().Msg("Topic: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", topic)

	printSources(answer)

	log.Info().Msg("Item: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", answer.Text)

	if _, err := item.Check(answer.Text); err != nil {
		log.Warn().Err(err).Msg("Generated item does not match the expected format")
		return
	}
	log.Info().Msg("Generated item is well formed")
}

func printSources(answer rag.Answer) {
	log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	for _, c := range answer.Chunks {
		fmt.Printf("%s (%.3f)\n", c.Tag(), c.Similarity)
	}
	fmt.Println()
}

func runServer(ctx context.Context, cfg *config.Config) {
	r, cleanup := newRAG(ctx, cfg)
	defer cleanup()

	if err := server.New(r, cfg.Ingest.SourceDir).Run(ctx, cfg.Server); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
}

func exportCollection(cfg *config.Config, path string) {
	if cfg.VectorStore.Type != config.StoreChromem {
		log.Fatal().Str("store", cfg.VectorStore.Type).Msg("Export is only supported for the chromem store")
	}
	vdb := openChromem(cfg, nil)
	if err := vdb.Export(path, cfg.RAG.EncryptionKey); err != nil {
		log.Fatal().Err(err).Msg("Error exporting collection")
	}
	log.Info().Str("file", path).Msg("Exported collection")
}

func importCollection(cfg *config.Config, path string) {
	if cfg.VectorStore.Type != config.StoreChromem {
		log.Fatal().Str("store", cfg.VectorStore.Type).Msg("Import is only supported for the chromem store")
	}
	vdb := openChromem(cfg, nil)
	if err := vdb.Import(path, cfg.RAG.EncryptionKey); err != nil {
		log.Fatal().Err(err).Msg("Error importing collection")
	}
	log.Info().Str("file", path).Msg("Imported collection")
}
