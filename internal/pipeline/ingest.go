package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"github.com/drzee1205/Nelson-books/internal/chunker"
	"github.com/drzee1205/Nelson-books/internal/domain"
	"github.com/drzee1205/Nelson-books/internal/store"
)

// Report aggregates the outcome of one ingest run. Per-record and per-file
// failures are collected here; none of them abort the run.
type Report struct {
	RunID        string
	Files        int
	FilesSkipped int
	Warnings     []string

	Records          int
	Embedded         int
	EmbeddingSkipped int
	EmbedFailedIDs   []string
	StoreFailedIDs   []string
}

// Summary renders a one-line account of the run.
func (r *Report) Summary() string {
	return fmt.Sprintf(
		"run %s: %d file(s) (%d skipped), %d record(s), %d embedded, %d reused, %d embed failure(s), %d store failure(s)",
		r.RunID, r.Files, r.FilesSkipped, r.Records, r.Embedded,
		r.EmbeddingSkipped, len(r.EmbedFailedIDs), len(r.StoreFailedIDs))
}

// Ingestor drives chunk → embed → upsert for a set of source files.
type Ingestor struct {
	chunker   *chunker.Chunker
	generator *Generator
	store     store.Store
	workers   int
	logger    *log.Logger
}

func NewIngestor(c *chunker.Chunker, g *Generator, st store.Store, workers int, logger *log.Logger) *Ingestor {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = &log.DefaultLogger
	}
	return &Ingestor{chunker: c, generator: g, store: st, workers: workers, logger: logger}
}

// Run ingests the given paths (globs allowed). Unreadable or empty sources
// are reported in the Report and skipped. Records already stored with an
// embedding for unchanged content are not re-embedded unless force is set.
func (in *Ingestor) Run(ctx context.Context, paths []string, force bool) (*Report, error) {
	report := &Report{RunID: uuid.NewString()}

	files := expandPaths(paths)
	if len(files) == 0 {
		return nil, errors.New("no .txt source files found")
	}

	records, err := in.chunkFiles(ctx, files, report)
	if err != nil {
		return report, err
	}
	report.Records = len(records)
	if len(records) == 0 {
		return report, nil
	}

	if err := in.reuseStoredEmbeddings(ctx, records, force); err != nil {
		return report, err
	}

	fill, err := in.generator.Fill(ctx, records, force)
	report.Embedded = fill.Embedded
	report.EmbeddingSkipped = fill.Skipped
	report.EmbedFailedIDs = fill.FailedIDs
	if err != nil {
		return report, err
	}

	in.persist(ctx, records, report)

	in.logger.Info().
		Str("run", report.RunID).
		Int("records", report.Records).
		Int("embedded", report.Embedded).
		Int("embed_failed", len(report.EmbedFailedIDs)).
		Int("store_failed", len(report.StoreFailedIDs)).
		Msg("ingest run complete")
	return report, nil
}

// chunkFiles chunks sources on a bounded worker pool. Results are flattened
// in input-file order so repeated runs are deterministic regardless of
// worker scheduling.
func (in *Ingestor) chunkFiles(ctx context.Context, files []string, report *Report) ([]domain.Record, error) {
	perFile := make([][]domain.Record, len(files))
	warnings := make([]string, len(files))

	var wg sync.WaitGroup
	sem := make(chan struct{}, in.workers)
	for i, path := range files {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if ctx.Err() != nil {
				return
			}
			recs, err := in.chunkFile(path)
			if err != nil {
				warnings[i] = err.Error()
				in.logger.Warn().Str("file", path).Err(err).Msg("source skipped")
				return
			}
			perFile[i] = recs
		}(i, path)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []domain.Record
	for i := range files {
		if warnings[i] != "" {
			report.FilesSkipped++
			report.Warnings = append(report.Warnings, warnings[i])
			continue
		}
		report.Files++
		records = append(records, perFile[i]...)
	}
	return records, nil
}

func (in *Ingestor) chunkFile(path string) ([]domain.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.SourceReadError{Path: path, Reason: err}
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, &domain.SourceReadError{Path: path, Reason: errors.New("file is empty")}
	}
	return in.chunker.Chunk(chunker.Source{
		Name: filepath.Base(path),
		Text: string(data),
	})
}

// reuseStoredEmbeddings carries over vectors already persisted for unchanged
// content, so restarting a partially embedded run only fills the gaps.
// Changed content keeps a nil embedding: a stale vector must never survive a
// content edit.
func (in *Ingestor) reuseStoredEmbeddings(ctx context.Context, records []domain.Record, force bool) error {
	if force {
		return nil
	}
	for i := range records {
		stored, err := in.store.Get(ctx, records[i].ID)
		if err != nil {
			return err
		}
		if stored == nil || !stored.HasEmbedding() {
			continue
		}
		if stored.Content == records[i].Content {
			records[i].Embedding = stored.Embedding
			records[i].CreatedAt = stored.CreatedAt
		}
	}
	return nil
}

const upsertBatchSize = 100

// persist upserts in batches, retrying a failed batch once before recording
// its record IDs in the report.
func (in *Ingestor) persist(ctx context.Context, records []domain.Record, report *Report) {
	for start := 0; start < len(records); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]
		err := in.store.Upsert(ctx, batch)
		if err != nil {
			err = in.store.Upsert(ctx, batch)
		}
		if err != nil {
			var werr *domain.StoreWriteError
			if errors.As(err, &werr) && len(werr.RecordIDs) > 0 {
				report.StoreFailedIDs = append(report.StoreFailedIDs, werr.RecordIDs...)
			} else {
				for _, r := range batch {
					report.StoreFailedIDs = append(report.StoreFailedIDs, r.ID)
				}
			}
			in.logger.Error().Err(err).Int("records", len(batch)).Msg("upsert batch failed")
		}
	}
}

func expandPaths(paths []string) []string {
	var files []string
	for _, p := range paths {
		matches, _ := filepath.Glob(p)
		if matches == nil {
			matches = []string{p}
		}
		for _, m := range matches {
			if strings.HasSuffix(strings.ToLower(m), ".txt") {
				files = append(files, m)
			}
		}
	}
	return files
}
