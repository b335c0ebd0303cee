// Package repository defines the capture-history data access interface.
package repository

import (
	"context"
	"time"

	"scopecap/internal/discovery"
)

// Record is one completed capture.
type Record struct {
	ID           int64
	ImagePath    string
	WaveformPath string
	CapturedAt   time.Time
	Address      string
	Identity     discovery.Identity
	// Metadata keeps the sidecar pairs in insertion order.
	Metadata []MetadataPair
}

// MetadataPair mirrors one sidecar metadata line.
type MetadataPair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Repository stores and lists capture records.
type Repository interface {
	// Insert adds a record and fills in its ID.
	Insert(ctx context.Context, rec *Record) error

	// List returns the most recent records, newest first, at most limit.
	List(ctx context.Context, limit int) ([]Record, error)

	// Close releases resources.
	Close() error
}
