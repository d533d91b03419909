// Package postgres is the pgvector-backed Store. One table per collection,
// cosine-distance ivfflat index, upserts keyed by record ID.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/phuslu/log"

	"github.com/drzee1205/Nelson-books/internal/domain"
)

// Storage persists one collection's records in a pgvector table.
type Storage struct {
	db        *sqlx.DB
	table     string
	dimension int
	logger    *log.Logger
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// NewStorage validates the table name, verifies the pgvector extension and
// creates the table and index when missing.
func NewStorage(ctx context.Context, db *sqlx.DB, table string, dimension int, logger *log.Logger) (*Storage, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if dimension <= 0 {
		return nil, errors.New("dimension must be positive")
	}
	if logger == nil {
		logger = &log.DefaultLogger
	}

	var exists bool
	if err := db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')").Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check pgvector extension: %w", err)
	}
	if !exists {
		return nil, errors.New("pgvector extension is not installed in the database")
	}

	s := &Storage{db: db, table: table, dimension: dimension, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			seq BIGSERIAL,
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			chapter TEXT NOT NULL DEFAULT '',
			section TEXT NOT NULL DEFAULT '',
			page_number INTEGER NOT NULL DEFAULT 0,
			medical_category TEXT NOT NULL DEFAULT '',
			age_group TEXT NOT NULL DEFAULT '',
			keywords TEXT[] NOT NULL DEFAULT '{}',
			resource_type TEXT NOT NULL DEFAULT '',
			age_range TEXT NOT NULL DEFAULT '',
			weight_range TEXT NOT NULL DEFAULT '',
			embedding vector(%d),
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, s.table, s.dimension)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	idx := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
		s.table, s.table)
	if _, err := s.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("failed to create vector index on %s: %w", s.table, err)
	}
	for _, col := range []string{"medical_category", "chapter", "age_group", "resource_type"} {
		stmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)`, s.table, col, s.table, col)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index on %s.%s: %w", s.table, col, err)
		}
	}
	return nil
}

// Upsert inserts or replaces records keyed by ID. Each record is written in
// its own statement so a conflict on one ID never blocks another.
func (s *Storage) Upsert(ctx context.Context, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, type, source, content, chapter, section, page_number,
			medical_category, age_group, keywords, resource_type,
			age_range, weight_range, embedding, metadata, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14::vector, $15, $16, $17
		)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			chapter = EXCLUDED.chapter,
			section = EXCLUDED.section,
			page_number = EXCLUDED.page_number,
			medical_category = EXCLUDED.medical_category,
			age_group = EXCLUDED.age_group,
			keywords = EXCLUDED.keywords,
			resource_type = EXCLUDED.resource_type,
			age_range = EXCLUDED.age_range,
			weight_range = EXCLUDED.weight_range,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at`, s.table)

	var failed []string
	var lastErr error
	for _, r := range records {
		if r.HasEmbedding() && len(r.Embedding) != s.dimension {
			failed = append(failed, r.ID)
			lastErr = fmt.Errorf("vector dimension %d, want %d", len(r.Embedding), s.dimension)
			continue
		}
		metadataJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			failed = append(failed, r.ID)
			lastErr = fmt.Errorf("failed to marshal metadata: %w", err)
			continue
		}
		var embedding any
		if r.HasEmbedding() {
			embedding = formatVector(r.Embedding)
		}
		_, err = s.db.ExecContext(ctx, query,
			r.ID, r.Kind, r.Source, r.Content, r.Chapter, r.Section, r.PageNumber,
			r.Category, r.AgeGroup, pq.Array(r.Keywords), r.ResourceType,
			r.AgeRange, r.WeightRange, embedding, metadataJSON,
			r.CreatedAt, r.UpdatedAt,
		)
		if err != nil {
			failed = append(failed, r.ID)
			lastErr = err
			s.logger.Warn().Str("record", r.ID).Err(err).Msg("upsert failed")
		}
	}
	if len(failed) > 0 {
		return &domain.StoreWriteError{RecordIDs: failed, Reason: lastErr}
	}
	return nil
}

const recordColumns = `id, type, source, content, chapter, section, page_number,
	medical_category, age_group, keywords, resource_type, age_range,
	weight_range, embedding::text, metadata, created_at, updated_at`

// Get returns the record with the given ID, or (nil, nil) when absent.
func (s *Storage) Get(ctx context.Context, id string) (*domain.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, recordColumns, s.table)
	row := s.db.QueryRowxContext(ctx, query, id)
	rec, _, err := scanRecord(row, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	return rec, nil
}

// Search runs the nearest-neighbor query. Filters constrain the candidate
// set before the LIMIT applies; ties on similarity fall back to insertion
// order via seq.
func (s *Storage) Search(ctx context.Context, vector []float32, k int, threshold float64, filters domain.Filters) ([]domain.Match, error) {
	if len(vector) != s.dimension {
		return nil, &domain.InvalidQueryError{
			Param:  "vector",
			Detail: fmt.Sprintf("dimension %d, want %d", len(vector), s.dimension),
		}
	}
	if k <= 0 {
		k = 5
	}

	where := []string{"embedding IS NOT NULL"}
	args := []any{formatVector(vector)}
	where, args = appendFilters(where, args, filters)
	args = append(args, threshold)
	where = append(where,
		fmt.Sprintf("1 - (embedding <=> $1::vector) > $%d", len(args)))
	args = append(args, k)

	query := fmt.Sprintf(`
		SELECT %s, 1 - (embedding <=> $1::vector) AS similarity
		FROM %s
		WHERE %s
		ORDER BY similarity DESC, seq ASC
		LIMIT $%d`,
		recordColumns, s.table, strings.Join(where, " AND "), len(args))

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search query: %w", err)
	}
	defer rows.Close()

	var matches []domain.Match
	for rows.Next() {
		rec, sim, err := scanRecord(rows, true)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		matches = append(matches, domain.Match{Record: *rec, Similarity: sim})
	}
	return matches, rows.Err()
}

// List is the vector-free fallback path.
func (s *Storage) List(ctx context.Context, filters domain.Filters, limit int) ([]domain.Record, error) {
	where := []string{"TRUE"}
	var args []any
	where, args = appendFilters(where, args, filters)
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY seq ASC`,
		recordColumns, s.table, strings.Join(where, " AND "))
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []domain.Record
	for rows.Next() {
		rec, _, err := scanRecord(rows, false)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Count reports the number of stored records.
func (s *Storage) Count(ctx context.Context) (int, error) {
	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)
	if err := s.db.GetContext(ctx, &n, query); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func appendFilters(where []string, args []any, f domain.Filters) ([]string, []any) {
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("medical_category", f.Category)
	add("chapter", f.Chapter)
	add("age_group", f.AgeGroup)
	add("resource_type", f.ResourceType)
	return where, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one row in recordColumns order. When withSimilarity is
// set it expects a trailing similarity column.
func scanRecord(row rowScanner, withSimilarity bool) (*domain.Record, float64, error) {
	var r domain.Record
	var embedding sql.NullString
	var metadataJSON []byte
	var keywords pq.StringArray
	var sim sql.NullFloat64

	dest := []any{
		&r.ID, &r.Kind, &r.Source, &r.Content, &r.Chapter, &r.Section,
		&r.PageNumber, &r.Category, &r.AgeGroup, &keywords, &r.ResourceType,
		&r.AgeRange, &r.WeightRange, &embedding, &metadataJSON,
		&r.CreatedAt, &r.UpdatedAt,
	}
	if withSimilarity {
		dest = append(dest, &sim)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, 0, err
	}
	r.Keywords = keywords
	if embedding.Valid {
		vec, err := parseVector(embedding.String)
		if err != nil {
			return nil, 0, err
		}
		r.Embedding = vec
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &r.Metadata); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &r, sim.Float64, nil
}

// formatVector renders a vector in pgvector text form: [v1,v2,...].
func formatVector(vector []float32) string {
	elems := make([]string, len(vector))
	for i, v := range vector {
		elems[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(elems, ",") + "]"
}

// parseVector reads pgvector text form back into a vector.
func parseVector(s string) ([]float32, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("failed to parse vector element %d: %w", i, err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}
