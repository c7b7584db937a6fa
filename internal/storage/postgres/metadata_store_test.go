package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
)

func TestMetadataStoreAppend(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectEmptyLoad(mock, "kenyalaw")
	store, err := NewProgressStoreWithPool(context.Background(), mock, ProgressStoreConfig{Checkpoint: "kenyalaw"})
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS judgment_metadata").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	meta, err := store.MetadataStore(context.Background(), true)
	require.NoError(t, err)

	scraped := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := crawler.MetadataRecord{
		ID:         "akn-ke-2024-1",
		CaseNumber: "Petition E001 of 2024",
		Title:      "A v B",
		Court:      "Supreme Court",
		Date:       "1 March 2024",
		Judges:     "Koome CJ",
		Parties:    "A v B",
		Filename:   "Petition_E001_of_2024.html",
		URL:        "https://example.test/akn-ke-2024-1",
		ScrapedAt:  scraped,
	}
	mock.ExpectExec("INSERT INTO judgment_metadata").
		WithArgs("kenyalaw", rec.ID, rec.CaseNumber, rec.Title, rec.Court, rec.Date,
			rec.Judges, rec.Parties, rec.Filename, rec.URL, scraped).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, meta.Append(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMetadataStoreAppendError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectEmptyLoad(mock, "kenyalaw")
	store, err := NewProgressStoreWithPool(context.Background(), mock, ProgressStoreConfig{Checkpoint: "kenyalaw"})
	require.NoError(t, err)
	meta, err := store.MetadataStore(context.Background(), false)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO judgment_metadata").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err = meta.Append(context.Background(), crawler.MetadataRecord{ID: "akn-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert metadata akn-1")
	require.NoError(t, mock.ExpectationsWereMet())
}
