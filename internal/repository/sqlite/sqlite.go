// Package sqlite implements the capture-history repository on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"scopecap/internal/repository"

	_ "modernc.org/sqlite"
)

// Repository implements repository.Repository using SQLite.
type Repository struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and runs the schema
// migration.
func New(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return repo, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS captures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		image_path TEXT NOT NULL,
		waveform_path TEXT,
		captured_at DATETIME NOT NULL,
		address TEXT,
		manufacturer TEXT,
		model TEXT,
		serial TEXT,
		firmware TEXT,
		metadata JSON
	);

	CREATE INDEX IF NOT EXISTS idx_captures_captured_at ON captures(captured_at);
	`

	_, err := r.db.Exec(schema)
	return err
}

// Insert adds a capture record and fills in its ID.
func (r *Repository) Insert(ctx context.Context, rec *repository.Record) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO captures
			(image_path, waveform_path, captured_at, address,
			 manufacturer, model, serial, firmware, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ImagePath, nullable(rec.WaveformPath), rec.CapturedAt.UTC().Format(time.RFC3339),
		rec.Address, rec.Identity.Manufacturer, rec.Identity.Model,
		rec.Identity.Serial, rec.Identity.Firmware, string(meta),
	)
	if err != nil {
		return fmt.Errorf("insert capture: %w", err)
	}

	rec.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("capture id: %w", err)
	}
	return nil
}

// List returns the most recent captures, newest first.
func (r *Repository) List(ctx context.Context, limit int) ([]repository.Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, image_path, waveform_path, captured_at, address,
		       manufacturer, model, serial, firmware, metadata
		FROM captures
		ORDER BY captured_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query captures: %w", err)
	}
	defer rows.Close()

	var records []repository.Record
	for rows.Next() {
		var (
			rec        repository.Record
			wfPath     sql.NullString
			capturedAt string
			meta       sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.ImagePath, &wfPath, &capturedAt,
			&rec.Address, &rec.Identity.Manufacturer, &rec.Identity.Model,
			&rec.Identity.Serial, &rec.Identity.Firmware, &meta); err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}

		rec.WaveformPath = wfPath.String
		if t, err := time.Parse(time.RFC3339, capturedAt); err == nil {
			rec.CapturedAt = t
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}

		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close releases the database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ repository.Repository = (*Repository)(nil)
