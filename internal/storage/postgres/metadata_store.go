package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
)

const metadataSchemaSQL = `
CREATE TABLE IF NOT EXISTS judgment_metadata (
	checkpoint  TEXT NOT NULL,
	item_id     TEXT NOT NULL,
	case_number TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	court       TEXT NOT NULL DEFAULT '',
	date        TEXT NOT NULL DEFAULT '',
	judges      TEXT NOT NULL DEFAULT '',
	parties     TEXT NOT NULL DEFAULT '',
	filename    TEXT NOT NULL,
	url         TEXT NOT NULL,
	scraped_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (checkpoint, item_id)
);`

const insertMetadataSQL = `INSERT INTO judgment_metadata
	(checkpoint, item_id, case_number, title, court, date, judges, parties, filename, url, scraped_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (checkpoint, item_id) DO NOTHING`

// MetadataStore mirrors saved judgment metadata into Postgres. It shares the
// pool of the ProgressStore it was created from.
type MetadataStore struct {
	pool       pool
	checkpoint string
}

var _ crawler.MetadataSink = (*MetadataStore)(nil)

// MetadataStore returns a metadata sink writing under the same checkpoint.
// The returned store must not outlive s.
func (s *ProgressStore) MetadataStore(ctx context.Context, migrate bool) (*MetadataStore, error) {
	m := &MetadataStore{pool: s.pool, checkpoint: s.checkpoint}
	if migrate {
		if _, err := s.pool.Exec(ctx, metadataSchemaSQL); err != nil {
			return nil, fmt.Errorf("create metadata schema: %w", err)
		}
	}
	return m, nil
}

// Append inserts rec. Rows already stored for the item are left untouched.
func (m *MetadataStore) Append(ctx context.Context, rec crawler.MetadataRecord) error {
	_, err := m.pool.Exec(ctx, insertMetadataSQL,
		m.checkpoint,
		rec.ID,
		rec.CaseNumber,
		rec.Title,
		rec.Court,
		rec.Date,
		rec.Judges,
		rec.Parties,
		rec.Filename,
		rec.URL,
		rec.ScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("insert metadata %s: %w", rec.ID, err)
	}
	return nil
}
