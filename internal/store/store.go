// Package store implements Postgres persistence for strategies,
// experiment lineage, backtest runs, tuning jobs and paper deployments.
package store

import (
	"quantlab/internal/database"
	"quantlab/internal/logger"
)

// Store handles platform persistence
type Store struct {
	db  *database.DB
	log logger.Logger
}

// NewStore creates a new store instance
func NewStore(db *database.DB) *Store {
	return &Store{
		db:  db,
		log: logger.Global().WithField("component", "store"),
	}
}
