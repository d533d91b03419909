// Command nelson-dataset moves a collection between the store and its
// on-disk interchange forms (JSONL, CSV).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	plog "github.com/phuslu/log"

	"github.com/drzee1205/Nelson-books/internal/config"
	"github.com/drzee1205/Nelson-books/internal/dataset"
	"github.com/drzee1205/Nelson-books/internal/domain"
	"github.com/drzee1205/Nelson-books/internal/store"
	"github.com/drzee1205/Nelson-books/internal/store/memory"
	"github.com/drzee1205/Nelson-books/internal/store/postgres"
)

func main() {
	_ = godotenv.Load()

	var (
		cfgPath    string
		collection string
		category   string
	)
	flag.StringVar(&cfgPath, "config", "config.yaml", "Path to config YAML")
	flag.StringVar(&collection, "collection", "nelson_textbook", "Collection to export or import")
	flag.StringVar(&category, "category", "", "Export only records in this medical category")
	flag.Parse()
	args := flag.Args()
	if len(args) != 2 || (args[0] != "export" && args[0] != "import") {
		fmt.Println("Usage: nelson-dataset [flags] export|import file.jsonl|file.csv")
		os.Exit(1)
	}
	command, path := args[0], args[1]

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	col, err := cfg.Collection(collection)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx := context.Background()
	logger := &plog.DefaultLogger
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

	switch command {
	case "export":
		if err := export(ctx, st, path, category); err != nil {
			log.Fatalf("export failed: %v", err)
		}
	case "import":
		if err := importFile(ctx, st, path); err != nil {
			log.Fatalf("import failed: %v", err)
		}
	}
}

func export(ctx context.Context, st store.Store, path, category string) error {
	records, err := st.List(ctx, domain.Filters{Category: category}, 0)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	switch format(path) {
	case "csv":
		err = dataset.WriteCSV(f, records)
	default:
		err = dataset.WriteJSONL(f, records)
	}
	if err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("exported %d record(s) to %s\n", len(records), path)
	return nil
}

func importFile(ctx context.Context, st store.Store, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var records []domain.Record
	switch format(path) {
	case "csv":
		records, err = dataset.ReadCSV(f)
	default:
		records, err = dataset.ReadJSONL(f)
	}
	if err != nil {
		return err
	}
	if err := st.Upsert(ctx, records); err != nil {
		return err
	}
	fmt.Printf("imported %d record(s) from %s\n", len(records), path)
	return nil
}

func format(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return "csv"
	}
	return "jsonl"
}
