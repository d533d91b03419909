// Package pipeline runs the chunk → embed → store flow as a restartable
// batch job.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/phuslu/log"

	"github.com/drzee1205/Nelson-books/internal/domain"
	"github.com/drzee1205/Nelson-books/internal/embedding"
)

// batchState tracks one batch through the retry machine.
type batchState int

const (
	statePending batchState = iota
	stateInFlight
	stateRetrying
	stateSucceeded
	stateFailed
)

func (s batchState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateInFlight:
		return "in_flight"
	case stateRetrying:
		return "retrying"
	case stateSucceeded:
		return "succeeded"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// Generator fills the Embedding field of record drafts by calling the
// embedding service in batches. A batch that exhausts its transient retries
// is marked failed and the run continues; records the service rejects
// outright are isolated so the rest of their batch still succeeds.
type Generator struct {
	embedder    embedding.Embedder
	batchSize   int
	maxAttempts int
	sleep       func(context.Context, time.Duration) error
	logger      *log.Logger
}

// GeneratorOption tweaks a Generator; used by tests to inject a fake clock.
type GeneratorOption func(*Generator)

// WithSleep replaces the backoff sleep between retries.
func WithSleep(fn func(context.Context, time.Duration) error) GeneratorOption {
	return func(g *Generator) { g.sleep = fn }
}

func NewGenerator(embedder embedding.Embedder, batchSize, maxAttempts int, logger *log.Logger, opts ...GeneratorOption) *Generator {
	if batchSize <= 0 {
		batchSize = 32
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if logger == nil {
		logger = &log.DefaultLogger
	}
	g := &Generator{
		embedder:    embedder,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		sleep:       sleepCtx,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// FillResult summarizes one generator pass.
type FillResult struct {
	Embedded  int
	Skipped   int      // already embedded, left byte-identical
	FailedIDs []string // embedding left nil after exhausting retries
}

// Fill populates embeddings in place, preserving record order. Records that
// already carry a vector are skipped unless force is set, so a rerun only
// targets the gaps. The returned error is non-nil only for cancellation;
// per-batch failures are reported through FailedIDs.
func (g *Generator) Fill(ctx context.Context, records []domain.Record, force bool) (FillResult, error) {
	var res FillResult

	var todo []int
	for i := range records {
		if records[i].HasEmbedding() && !force {
			res.Skipped++
			continue
		}
		todo = append(todo, i)
	}

	for start := 0; start < len(todo); start += g.batchSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		end := start + g.batchSize
		if end > len(todo) {
			end = len(todo)
		}
		batch := todo[start:end]
		if err := g.fillBatch(ctx, records, batch, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (g *Generator) fillBatch(ctx context.Context, records []domain.Record, batch []int, res *FillResult) error {
	texts := make([]string, len(batch))
	for i, idx := range batch {
		texts[i] = records[idx].Content
	}

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		vectors, err := g.embedder.EmbedBatch(ctx, texts)
		if err == nil {
			g.apply(records, batch, vectors, res)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if domain.IsPermanent(err) {
			return g.isolate(ctx, records, batch, res)
		}
		if attempt == g.maxAttempts {
			break
		}
		delay := backoffFor(err, attempt)
		g.logger.Warn().
			Str("state", stateRetrying.String()).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Err(err).
			Msg("embedding batch retry")
		if err := g.sleep(ctx, delay); err != nil {
			return err
		}
	}

	for _, idx := range batch {
		res.FailedIDs = append(res.FailedIDs, records[idx].ID)
	}
	g.logger.Error().
		Str("state", stateFailed.String()).
		Int("records", len(batch)).
		Msg("embedding batch exhausted retries")
	return nil
}

// isolate re-embeds the batch one record at a time so a single rejected
// input does not take its neighbors down with it.
func (g *Generator) isolate(ctx context.Context, records []domain.Record, batch []int, res *FillResult) error {
	for _, idx := range batch {
		var vec []float32
		var err error
		for attempt := 1; attempt <= g.maxAttempts; attempt++ {
			vec, err = g.embedder.Embed(ctx, records[idx].Content)
			if err == nil || domain.IsPermanent(err) {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt < g.maxAttempts {
				if serr := g.sleep(ctx, backoffFor(err, attempt)); serr != nil {
					return serr
				}
			}
		}
		if err != nil {
			res.FailedIDs = append(res.FailedIDs, records[idx].ID)
			g.logger.Warn().Str("record", records[idx].ID).Err(err).Msg("record isolated from batch")
			continue
		}
		g.apply(records, []int{idx}, [][]float32{vec}, res)
	}
	return nil
}

func (g *Generator) apply(records []domain.Record, batch []int, vectors [][]float32, res *FillResult) {
	now := time.Now().UTC()
	for i, idx := range batch {
		if len(vectors[i]) != g.embedder.Dimension() {
			res.FailedIDs = append(res.FailedIDs, records[idx].ID)
			g.logger.Error().
				Str("record", records[idx].ID).
				Int("got", len(vectors[i])).
				Int("want", g.embedder.Dimension()).
				Msg("embedding dimension mismatch")
			continue
		}
		records[idx].Embedding = vectors[i]
		records[idx].Touch(now)
		res.Embedded++
	}
}

// backoffFor is the retry delay for a failed attempt. A Retry-After hint
// from the service overrides shorter computed delays.
func backoffFor(err error, attempt int) time.Duration {
	d := retryDelay(attempt)
	var te *domain.EmbeddingTransientError
	if errors.As(err, &te) && te.RetryAfter > d {
		d = te.RetryAfter
	}
	return d
}

// retryDelay is exponential backoff from a 200ms base, capped at 5s.
func retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := 200 * time.Millisecond << (attempt - 1)
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
