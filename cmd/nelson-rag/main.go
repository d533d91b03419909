package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	plog "github.com/phuslu/log"

	"github.com/drzee1205/Nelson-books/internal/chunker"
	"github.com/drzee1205/Nelson-books/internal/config"
	"github.com/drzee1205/Nelson-books/internal/embedding/openai"
	"github.com/drzee1205/Nelson-books/internal/pipeline"
	"github.com/drzee1205/Nelson-books/internal/search"
	"github.com/drzee1205/Nelson-books/internal/store"
	"github.com/drzee1205/Nelson-books/internal/store/memory"
	"github.com/drzee1205/Nelson-books/internal/store/postgres"
	"github.com/drzee1205/Nelson-books/internal/tui"
)

func main() {
	_ = godotenv.Load()

	var (
		cfgPath    string
		collection string
		force      bool
	)
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/nelson-rag/config.yaml if not provided)")
	flag.StringVar(&collection, "collection", "nelson_textbook", "Collection to ingest into and search")
	flag.BoolVar(&force, "force", false, "Re-embed records that already have embeddings")
	flag.Parse()
	inputs := flag.Args()

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	col, err := cfg.Collection(collection)
	if err != nil {
		log.Fatalf("%v", err)
	}

	logger := &plog.DefaultLogger

	embedder, err := openai.NewClient(openai.Config{
		BaseURL:           cfg.Embedder.BaseURL,
		APIKeyEnv:         cfg.Embedder.APIKeyEnv,
		Model:             cfg.Embedder.Model,
		Dimension:         col.Dimension,
		Timeout:           time.Duration(cfg.Embedder.TimeoutSecs) * time.Second,
		RequestsPerSecond: cfg.Embedder.RequestsPerSecond,
	})
	if err != nil {
		log.Fatalf("embedder init failed: %v", err)
	}

	ctx := context.Background()
	var st store.Store
	switch cfg.Store.Type {
	case "memory", "":
		st = memory.NewStorage(col.Dimension)
	case "postgres":
		dsn := os.Getenv(cfg.Store.DSNEnv)
		if dsn == "" {
			log.Fatalf("missing postgres DSN in env %s", cfg.Store.DSNEnv)
		}
		db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
		if err != nil {
			log.Fatalf("postgres connect failed: %v", err)
		}
		defer db.Close()
		st, err = postgres.NewStorage(ctx, db, col.Table, col.Dimension, logger)
		if err != nil {
			log.Fatalf("postgres store init failed: %v", err)
		}
	default:
		log.Fatalf("unknown store: %s", cfg.Store.Type)
	}

	banner := fmt.Sprintf("collection %s (dim %d)", collection, col.Dimension)
	if len(inputs) > 0 {
		ch := chunker.New(cfg.Chunker.MinChars, cfg.Chunker.MaxChars)
		gen := pipeline.NewGenerator(embedder, cfg.Embedder.BatchSize, cfg.Embedder.MaxAttempts, logger)
		ing := pipeline.NewIngestor(ch, gen, st, cfg.Chunker.Workers, logger)
		report, err := ing.Run(ctx, inputs, force)
		if err != nil {
			log.Fatalf("ingest failed: %v", err)
		}
		for _, w := range report.Warnings {
			fmt.Fprintln(os.Stderr, "warning:", w)
		}
		banner = report.Summary()
	}

	svc := search.NewService(embedder, st, col.SimilarityThreshold)
	m := tui.New(svc, banner)
	if _, err := tea.NewProgram(m).Run(); err != nil {
		log.Fatal(err)
	}
}
