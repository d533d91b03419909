package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/phuslu/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drzee1205/Nelson-books/internal/domain"
)

func mockStorage(t *testing.T, dimension int) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Storage{
		db:        sqlx.NewDb(db, "sqlmock"),
		table:     "nelson_textbook",
		dimension: dimension,
		logger:    &log.DefaultLogger,
	}, mock
}

func TestUpsert(t *testing.T) {
	s, mock := mockStorage(t, 3)

	now := time.Now().UTC()
	rec := domain.Record{
		ID:        "rec-001",
		Kind:      domain.KindTextbook,
		Source:    "Nelson Textbook of Pediatrics",
		Content:   "Febrile seizures are the most common seizure disorder in childhood.",
		Chapter:   "The Nervous System",
		Category:  "Neurology",
		AgeGroup:  "Pediatric",
		Keywords:  []string{"seizure", "disorder"},
		Embedding: []float32{0.1, 0.2, 0.3},
		Metadata:  map[string]any{"word_count": 10},
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectExec("INSERT INTO nelson_textbook").
		WithArgs(
			rec.ID, rec.Kind, rec.Source, rec.Content, rec.Chapter, rec.Section,
			rec.PageNumber, rec.Category, rec.AgeGroup, sqlmock.AnyArg(),
			rec.ResourceType, rec.AgeRange, rec.WeightRange,
			"[0.1,0.2,0.3]", sqlmock.AnyArg(), rec.CreatedAt, rec.UpdatedAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Upsert(context.Background(), []domain.Record{rec})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertWithoutEmbeddingWritesNull(t *testing.T) {
	s, mock := mockStorage(t, 3)

	now := time.Now().UTC()
	rec := domain.Record{
		ID:        "rec-002",
		Kind:      domain.KindTextbook,
		Content:   "draft without embedding",
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectExec("INSERT INTO nelson_textbook").
		WithArgs(
			rec.ID, rec.Kind, rec.Source, rec.Content, rec.Chapter, rec.Section,
			rec.PageNumber, rec.Category, rec.AgeGroup, sqlmock.AnyArg(),
			rec.ResourceType, rec.AgeRange, rec.WeightRange,
			nil, sqlmock.AnyArg(), rec.CreatedAt, rec.UpdatedAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Upsert(context.Background(), []domain.Record{rec})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCollectsFailedIDs(t *testing.T) {
	s, mock := mockStorage(t, 3)

	now := time.Now().UTC()
	bad := domain.Record{ID: "bad", Kind: domain.KindTextbook, Content: "x",
		Embedding: []float32{1, 2}, CreatedAt: now, UpdatedAt: now} // wrong dimension
	good := domain.Record{ID: "good", Kind: domain.KindTextbook, Content: "y",
		CreatedAt: now, UpdatedAt: now}

	mock.ExpectExec("INSERT INTO nelson_textbook").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Upsert(context.Background(), []domain.Record{bad, good})
	var werr *domain.StoreWriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, []string{"bad"}, werr.RecordIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var searchColumns = []string{
	"id", "type", "source", "content", "chapter", "section", "page_number",
	"medical_category", "age_group", "keywords", "resource_type", "age_range",
	"weight_range", "embedding", "metadata", "created_at", "updated_at",
	"similarity",
}

func TestSearchMapsRowsAndFilters(t *testing.T) {
	s, mock := mockStorage(t, 3)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(searchColumns).
		AddRow("rec-001", domain.KindTextbook, "Nelson", "content one",
			"The Nervous System", "", 1, "Neurology", "Pediatric", "{seizure}",
			"", "", "", "[0.1,0.2,0.3]", []byte(`{"word_count":3}`), now, now, 0.93).
		AddRow("rec-002", domain.KindTextbook, "Nelson", "content two",
			"The Nervous System", "", 2, "Neurology", "Pediatric", "{}",
			"", "", "", "[0.3,0.2,0.1]", []byte(`{}`), now, now, 0.81)

	mock.ExpectQuery(`1 - \(embedding <=> \$1::vector\) AS similarity`).
		WithArgs("[1,0,0]", "Neurology", 0.5, 5).
		WillReturnRows(rows)

	matches, err := s.Search(context.Background(), []float32{1, 0, 0}, 5, 0.5,
		domain.Filters{Category: "Neurology"})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "rec-001", matches[0].Record.ID)
	assert.InDelta(t, 0.93, matches[0].Similarity, 1e-9)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, matches[0].Record.Embedding)
	assert.Equal(t, []string{"seizure"}, []string(matches[0].Record.Keywords))
	assert.Equal(t, float64(3), matches[0].Record.Metadata["word_count"])
	assert.GreaterOrEqual(t, matches[0].Similarity, matches[1].Similarity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchRejectsWrongDimension(t *testing.T) {
	s, _ := mockStorage(t, 3)
	_, err := s.Search(context.Background(), []float32{1, 0}, 5, 0.5, domain.Filters{})
	var qerr *domain.InvalidQueryError
	assert.ErrorAs(t, err, &qerr)
}

func TestGetMissingRecord(t *testing.T) {
	s, mock := mockStorage(t, 3)
	mock.ExpectQuery(`FROM nelson_textbook WHERE id = \$1`).
		WithArgs("absent").
		WillReturnRows(sqlmock.NewRows(searchColumns[:17]))

	rec, err := s.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 3}
	s := formatVector(vec)
	assert.Equal(t, "[0.25,-1.5,3]", s)

	back, err := parseVector(s)
	require.NoError(t, err)
	assert.Equal(t, vec, back)
}

func TestInvalidTableName(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewStorage(context.Background(), sqlx.NewDb(db, "sqlmock"),
		"nelson; DROP TABLE students", 1536, nil)
	assert.Error(t, err)
}
