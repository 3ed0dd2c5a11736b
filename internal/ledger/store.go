// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ledger records provisioning runs in Postgres: which item produced
// which folder, under which sequence number, and how its attachment
// downloads ended.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/provisioner/internal/models"
)

// Run states.
const (
	StateProvisioning = "provisioning"
	StateCompleted    = "completed"
	StatePartial      = "partial"
)

// Record is a single provisioning run persisted in Postgres.
type Record struct {
	models.ProvisionedEvent
	State     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store provides persistence for provisioning runs.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a run ledger backed by the given Postgres pool.
// It ensures the provisioning_runs table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	slog.Info("run ledger initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS provisioning_runs (
			run_id              TEXT PRIMARY KEY,
			item_id             TEXT NOT NULL,
			item_name           TEXT DEFAULT '',
			delivery_id         TEXT DEFAULT '',
			status_label        TEXT DEFAULT '',
			function_label      TEXT DEFAULT '',
			business_unit       TEXT DEFAULT '',
			destination         TEXT NOT NULL,
			sequence            INTEGER NOT NULL,
			downloads_total     INTEGER DEFAULT 0,
			downloads_succeeded INTEGER DEFAULT 0,
			downloads_failed    INTEGER DEFAULT 0,
			downloads_skipped   INTEGER DEFAULT 0,
			state               TEXT DEFAULT 'provisioning',
			started_at          TIMESTAMPTZ NOT NULL,
			completed_at        TIMESTAMPTZ,
			created_at          TIMESTAMPTZ DEFAULT NOW(),
			updated_at          TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_runs_item ON provisioning_runs(item_id);
		CREATE INDEX IF NOT EXISTS idx_runs_state ON provisioning_runs(state);
	`)
	return err
}

// RecordStart inserts a run once its destination has been claimed.
func (s *Store) RecordStart(ctx context.Context, e *models.ProvisionedEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO provisioning_runs
			(run_id, item_id, item_name, delivery_id, status_label, function_label,
			 business_unit, destination, sequence, downloads_total, state, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, e.RunID, e.ItemID, e.ItemName, e.DeliveryID, e.Status, e.Function,
		e.Business, e.Destination, e.Sequence, e.Downloads.Total, StateProvisioning, e.StartedAt)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", e.RunID, err)
	}
	return nil
}

// RecordCompletion stores the download outcome of a run.
func (s *Store) RecordCompletion(ctx context.Context, e *models.ProvisionedEvent) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE provisioning_runs
		SET downloads_total = $1, downloads_succeeded = $2, downloads_failed = $3,
		    downloads_skipped = $4, state = $5, completed_at = $6, updated_at = NOW()
		WHERE run_id = $7
	`, e.Downloads.Total, e.Downloads.Succeeded, e.Downloads.Failed,
		e.Downloads.Skipped, CompletionState(e.Downloads), e.CompletedAt, e.RunID)
	if err != nil {
		return fmt.Errorf("update run %s: %w", e.RunID, err)
	}
	return nil
}

// Get retrieves a run by id. It returns nil, nil when no such run exists.
func (s *Store) Get(ctx context.Context, runID string) (*Record, error) {
	row := s.pool.QueryRow(ctx, selectRuns+` WHERE run_id = $1`, runID)
	return scanRecord(row)
}

// ListByItem returns every run for an item, newest first.
func (s *Store) ListByItem(ctx context.Context, itemID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx, selectRuns+` WHERE item_id = $1 ORDER BY started_at DESC`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// CompletionState classifies a finished run.
func CompletionState(d models.DownloadSummary) string {
	if d.Failed > 0 || d.Skipped > 0 {
		return StatePartial
	}
	return StateCompleted
}

const selectRuns = `
	SELECT run_id, item_id, item_name, delivery_id, status_label, function_label,
	       business_unit, destination, sequence, downloads_total, downloads_succeeded,
	       downloads_failed, downloads_skipped, state, started_at, completed_at,
	       created_at, updated_at
	FROM provisioning_runs`

// scanRecord scans a single row into a Record.
func scanRecord(row pgx.Row) (*Record, error) {
	var (
		r           Record
		completedAt *time.Time
	)
	err := row.Scan(
		&r.RunID, &r.ItemID, &r.ItemName, &r.DeliveryID, &r.Status, &r.Function,
		&r.Business, &r.Destination, &r.Sequence, &r.Downloads.Total, &r.Downloads.Succeeded,
		&r.Downloads.Failed, &r.Downloads.Skipped, &r.State, &r.StartedAt, &completedAt,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if completedAt != nil {
		r.CompletedAt = *completedAt
	}
	return &r, nil
}
