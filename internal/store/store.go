// Package store provides persistence for the tree registry with
// interchangeable sqlite and postgres backends.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/groveworks/canopy/internal/model"
)

// ErrDuplicateIdentifier is a fatal consistency violation: two records may
// never share a public id. It is not retryable and must never be silently
// ignored.
var ErrDuplicateIdentifier = eris.New("store: duplicate public identifier")

// ErrNotFound indicates the referenced record does not exist.
var ErrNotFound = eris.New("store: record not found")

// TreeFilter specifies criteria for listing tree records.
type TreeFilter struct {
	IncludeArchived bool         `json:"include_archived,omitempty"`
	DeclaredType    string       `json:"declared_type,omitempty"`
	Status          model.Status `json:"status,omitempty"`
	Limit           int          `json:"limit,omitempty"`
	Offset          int          `json:"offset,omitempty"`
}

// Store defines the persistence interface for the registry.
//
// Reads may run unsynchronized and concurrently. WithCellLock serializes the
// match-and-create sequence per coarse coordinate cell, closing the race
// where two concurrent callers both decide "no match" for the same physical
// tree.
type Store interface {
	// Trees
	CreateTree(ctx context.Context, rec *model.TreeRecord) error
	UpdateTree(ctx context.Context, rec *model.TreeRecord) error
	GetTreeByPublicID(ctx context.Context, publicID string) (*model.TreeRecord, error)
	ListActiveTrees(ctx context.Context) ([]*model.TreeRecord, error)
	ListTrees(ctx context.Context, filter TreeFilter) ([]*model.TreeRecord, error)
	ArchiveTree(ctx context.Context, publicID string, at time.Time) error

	// Observations (append-only)
	AppendObservation(ctx context.Context, obs *model.Observation) error
	ListObservations(ctx context.Context, treeRef string, limit int) ([]model.Observation, error)

	// Reconciliation audit trail
	SaveReconcileReport(ctx context.Context, report *model.ReconcileReport) error

	// Locking
	WithCellLock(ctx context.Context, cellKey int64, fn func(context.Context) error) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
