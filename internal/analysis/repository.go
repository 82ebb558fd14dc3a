package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/stockwatch/internal/database"
	"github.com/aristath/stockwatch/internal/domain"
	"github.com/vmihailenco/msgpack/v5"
)

// Repository stores the latest analysis per security in the monitor database.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a result repository over db.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Save replaces the stored result for result.SecurityID.
// The succeeded source documents are kept alongside as a msgpack blob.
func (r *Repository) Save(ctx context.Context, result domain.AnalysisResult, doc domain.AggregateDocument) error {
	sections, err := json.Marshal(result.Sections)
	if err != nil {
		return fmt.Errorf("failed to marshal sections: %w", err)
	}
	sources, err := json.Marshal(nonNil(result.Sources))
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}
	failed, err := json.Marshal(nonNil(result.FailedSources))
	if err != nil {
		return fmt.Errorf("failed to marshal failed sources: %w", err)
	}

	docs := make(map[string]domain.Document, len(doc))
	for _, name := range doc.Succeeded() {
		docs[name] = *doc[name].Value
	}
	blob, err := msgpack.Marshal(docs)
	if err != nil {
		return fmt.Errorf("failed to encode source documents: %w", err)
	}

	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM analysis_results WHERE security_id = ?", result.SecurityID); err != nil {
			return fmt.Errorf("failed to delete previous analysis: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO analysis_results (security_id, full_text, sections, sources_blob, sources, failed_sources, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			result.SecurityID, result.FullText, string(sections), blob, string(sources), string(failed), createdAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert analysis: %w", err)
		}
		return nil
	})
}

// FindLatestBySecurity returns the stored result, or domain.ErrNotFound.
func (r *Repository) FindLatestBySecurity(ctx context.Context, securityID string) (*domain.AnalysisResult, error) {
	var (
		result                    domain.AnalysisResult
		sections, sources, failed string
		createdAt                 int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT security_id, full_text, sections, sources, failed_sources, created_at
		FROM analysis_results WHERE security_id = ?`, securityID,
	).Scan(&result.SecurityID, &result.FullText, &sections, &sources, &failed, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("analysis for %s: %w", securityID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis for %s: %w", securityID, err)
	}

	if err := json.Unmarshal([]byte(sections), &result.Sections); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sections: %w", err)
	}
	if err := json.Unmarshal([]byte(sources), &result.Sources); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sources: %w", err)
	}
	if err := json.Unmarshal([]byte(failed), &result.FailedSources); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failed sources: %w", err)
	}
	result.CreatedAt = time.Unix(createdAt, 0)

	return &result, nil
}

// LoadSources decodes the source documents stored with the latest result.
func (r *Repository) LoadSources(ctx context.Context, securityID string) (map[string]domain.Document, error) {
	var blob []byte
	err := r.db.QueryRowContext(ctx, "SELECT sources_blob FROM analysis_results WHERE security_id = ?", securityID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("analysis for %s: %w", securityID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sources for %s: %w", securityID, err)
	}

	docs := make(map[string]domain.Document)
	if len(blob) == 0 {
		return docs, nil
	}
	if err := msgpack.Unmarshal(blob, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode source documents: %w", err)
	}
	return docs, nil
}
