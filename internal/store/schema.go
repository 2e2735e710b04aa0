package store

import (
	"context"
	"fmt"
)

// upsertChunkSQL writes one chunk row, keyed on (pmid, chunk_index).
// Re-ingesting an article refreshes its rows in place.
const upsertChunkSQL = `
INSERT INTO medical_evidence (
	pmid, chunk_index, content, content_with_context, section_type,
	title, journal, pub_year, authors,
	mesh_terms, major_mesh_terms, chemicals, keywords,
	evidence_level, study_design, sample_size, doi, url,
	token_estimate, embedding
) VALUES (
	$1, $2, $3, $4, $5,
	$6, $7, $8, $9,
	$10, $11, $12, $13,
	$14, $15, $16, $17, $18,
	$19, $20
)
ON CONFLICT (pmid, chunk_index) DO UPDATE SET
	content              = EXCLUDED.content,
	content_with_context = EXCLUDED.content_with_context,
	section_type         = EXCLUDED.section_type,
	title                = EXCLUDED.title,
	journal              = EXCLUDED.journal,
	pub_year             = EXCLUDED.pub_year,
	authors              = EXCLUDED.authors,
	mesh_terms           = EXCLUDED.mesh_terms,
	major_mesh_terms     = EXCLUDED.major_mesh_terms,
	chemicals            = EXCLUDED.chemicals,
	keywords             = EXCLUDED.keywords,
	evidence_level       = EXCLUDED.evidence_level,
	study_design         = EXCLUDED.study_design,
	sample_size          = EXCLUDED.sample_size,
	doi                  = EXCLUDED.doi,
	url                  = EXCLUDED.url,
	token_estimate       = EXCLUDED.token_estimate,
	embedding            = EXCLUDED.embedding,
	updated_at           = now()`

// schemaSQL mirrors scripts/schema.sql; the vector width is interpolated.
const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS medical_evidence (
	id                   BIGSERIAL PRIMARY KEY,
	pmid                 TEXT NOT NULL,
	chunk_index          INTEGER NOT NULL,
	content              TEXT NOT NULL,
	content_with_context TEXT NOT NULL,
	section_type         TEXT NOT NULL DEFAULT 'abstract',
	title                TEXT,
	journal              TEXT,
	pub_year             INTEGER,
	authors              TEXT[],
	mesh_terms           TEXT[],
	major_mesh_terms     TEXT[],
	chemicals            TEXT[],
	keywords             TEXT[],
	evidence_level       INTEGER,
	study_design         TEXT,
	sample_size          INTEGER,
	doi                  TEXT,
	url                  TEXT,
	token_estimate       INTEGER,
	embedding            vector(%d),
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (pmid, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_medical_evidence_pmid
	ON medical_evidence (pmid);
CREATE INDEX IF NOT EXISTS idx_medical_evidence_evidence_level
	ON medical_evidence (evidence_level);
CREATE INDEX IF NOT EXISTS idx_medical_evidence_pub_year
	ON medical_evidence (pub_year);
CREATE INDEX IF NOT EXISTS idx_medical_evidence_mesh_terms
	ON medical_evidence USING GIN (mesh_terms);
CREATE INDEX IF NOT EXISTS idx_medical_evidence_content_fts
	ON medical_evidence USING GIN (to_tsvector('english', content));

DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_indexes
		WHERE indexname = 'idx_medical_evidence_embedding'
	) THEN
		CREATE INDEX idx_medical_evidence_embedding
			ON medical_evidence
			USING ivfflat (embedding vector_cosine_ops)
			WITH (lists = 100);
	END IF;
END$$;`

// EnsureSchema implements EvidenceStore.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(schemaSQL, s.dims))
	return err
}
