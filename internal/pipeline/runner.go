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

// Package pipeline runs one provisioning request end to end: it looks up
// the item, resolves its columns, claims a destination folder, copies the
// template and starts the attachment downloads. Completion of the downloads
// is tracked so the run can be recorded and announced once they finish.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bcem/provisioner/internal/config"
	"github.com/bcem/provisioner/internal/models"
	"github.com/bcem/provisioner/internal/provision"
)

// ErrShuttingDown is returned by Run once Shutdown has been called.
var ErrShuttingDown = errors.New("pipeline: runner is shutting down")

// completionTimeout bounds the ledger and queue writes made after a run's
// downloads finish.
const completionTimeout = 10 * time.Second

// ItemFetcher loads an item's metadata. Implemented by monday.Client.
type ItemFetcher interface {
	FetchItem(ctx context.Context, itemID string) (*models.Item, error)
}

// FieldResolver translates raw column values. Implemented by columns.Resolver.
type FieldResolver interface {
	Resolve(item *models.Item) models.ResolvedFields
}

// Claimer allocates and creates a destination folder. Implemented by
// sequence.Sequencer.
type Claimer interface {
	Claim(ctx context.Context, fields models.ResolvedFields, itemName string) (models.Destination, error)
}

// Materializer fills a claimed folder. Implemented by provision.Provisioner.
type Materializer interface {
	Prepare(ctx context.Context, sourceDir string, dest models.Destination) (string, error)
	Download(ctx context.Context, dir string, assetIDs []int64) *provision.Batch
}

// Deduper reports whether a delivery is seen for the first time and
// releases deliveries whose run failed. Implemented by dedup.Filter.
type Deduper interface {
	IsNew(ctx context.Context, itemID, deliveryID string) (bool, error)
	Forget(ctx context.Context, itemID, deliveryID string) error
}

// Recorder persists runs. Implemented by ledger.Store.
type Recorder interface {
	RecordStart(ctx context.Context, e *models.ProvisionedEvent) error
	RecordCompletion(ctx context.Context, e *models.ProvisionedEvent) error
}

// Notifier announces completed runs. Implemented by queue.Publisher.
type Notifier interface {
	PublishProvisioned(ctx context.Context, e *models.ProvisionedEvent) error
}

// Config holds the dependencies of a Runner. Dedup, Ledger and Publisher
// are optional.
type Config struct {
	SourceDir   string
	Titles      config.Columns
	Fetcher     ItemFetcher
	Resolver    FieldResolver
	Claimer     Claimer
	Provisioner Materializer
	Dedup       Deduper
	Ledger      Recorder
	Publisher   Notifier
}

// Request identifies the item to provision.
type Request struct {
	ItemID     string
	ItemName   string
	DeliveryID string // empty when the event carried none
}

// Outcome describes a started run. For a provisioned item the attachment
// downloads may still be running; Done is closed once they have finished
// and the final event is available from Event.
type Outcome struct {
	RunID       string
	Duplicate   bool
	Destination models.Destination

	done  chan struct{}
	event models.ProvisionedEvent
}

// Done is closed when the run has fully completed.
func (o *Outcome) Done() <-chan struct{} {
	return o.done
}

// Event blocks until the run has completed and returns its final state.
func (o *Outcome) Event() models.ProvisionedEvent {
	<-o.done
	return o.event
}

// Runner executes provisioning requests.
type Runner struct {
	cfg      Config
	baseCtx  context.Context
	now      func() time.Time
	mu       sync.Mutex // guards closed and inflight.Add
	closed   bool
	inflight sync.WaitGroup
}

// NewRunner creates a runner. Attachment downloads run on baseCtx rather
// than on the request context, so they outlive the request and are
// cancelled when baseCtx is.
func NewRunner(baseCtx context.Context, cfg Config) *Runner {
	return &Runner{
		cfg:     cfg,
		baseCtx: baseCtx,
		now:     time.Now,
	}
}

// Run provisions the folder for req. It returns once the folder exists with
// the template copied; attachment downloads continue in the background.
// Metadata failures are logged and the run proceeds with no column data.
func (r *Runner) Run(ctx context.Context, req Request) (*Outcome, error) {
	if r.isDuplicate(ctx, req) {
		o := &Outcome{Duplicate: true, done: make(chan struct{})}
		close(o.done)
		return o, nil
	}

	started := r.now().UTC()

	item, err := r.cfg.Fetcher.FetchItem(ctx, req.ItemID)
	if err != nil {
		slog.Error("failed to fetch item metadata, continuing without it",
			"item_id", req.ItemID,
			"error", err,
		)
		item = nil
	}

	fields := r.cfg.Resolver.Resolve(item)

	dest, err := r.cfg.Claimer.Claim(ctx, fields, req.ItemName)
	if err != nil {
		r.release(ctx, req)
		return nil, fmt.Errorf("claim destination: %w", err)
	}

	dir, err := r.cfg.Provisioner.Prepare(ctx, r.cfg.SourceDir, dest)
	if err != nil {
		r.release(ctx, req)
		return nil, fmt.Errorf("prepare %s: %w", dest.Path, err)
	}

	o := &Outcome{
		RunID:       uuid.NewString(),
		Destination: dest,
		done:        make(chan struct{}),
	}
	o.event = r.newEvent(o.RunID, req, fields, dest, started)

	slog.Info("provisioned destination",
		"run_id", o.RunID,
		"item_id", req.ItemID,
		"status", o.event.Status,
		"path", dest.Path,
		"attachments", len(dest.Attachments),
	)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.release(ctx, req)
		slog.Warn("not starting downloads during shutdown", "run_id", o.RunID, "path", dest.Path)
		return nil, ErrShuttingDown
	}
	r.inflight.Add(1)
	r.mu.Unlock()

	if r.cfg.Ledger != nil {
		if err := r.cfg.Ledger.RecordStart(ctx, &o.event); err != nil {
			slog.Error("failed to record run start", "run_id", o.RunID, "error", err)
		}
	}

	batch := r.cfg.Provisioner.Download(r.baseCtx, dir, dest.Attachments)
	go r.track(o, batch)

	return o, nil
}

// isDuplicate consults the delivery cache. Cache errors never suppress a run.
func (r *Runner) isDuplicate(ctx context.Context, req Request) bool {
	if r.cfg.Dedup == nil || req.DeliveryID == "" {
		return false
	}
	isNew, err := r.cfg.Dedup.IsNew(ctx, req.ItemID, req.DeliveryID)
	if err != nil {
		slog.Warn("dedup check failed, proceeding", "item_id", req.ItemID, "error", err)
		return false
	}
	if !isNew {
		slog.Info("skipping duplicate delivery",
			"item_id", req.ItemID,
			"delivery_id", req.DeliveryID,
		)
	}
	return !isNew
}

// release forgets a failed delivery so that monday.com's retry is not
// suppressed.
func (r *Runner) release(ctx context.Context, req Request) {
	if r.cfg.Dedup == nil || req.DeliveryID == "" {
		return
	}
	if err := r.cfg.Dedup.Forget(context.WithoutCancel(ctx), req.ItemID, req.DeliveryID); err != nil {
		slog.Warn("failed to release delivery", "item_id", req.ItemID, "error", err)
	}
}

func (r *Runner) newEvent(runID string, req Request, fields models.ResolvedFields, dest models.Destination, started time.Time) models.ProvisionedEvent {
	status, _ := fields.Label(r.cfg.Titles.Status)
	function, _ := fields.Label(r.cfg.Titles.Function)
	business, _ := fields.Label(r.cfg.Titles.BusinessUnit)
	return models.ProvisionedEvent{
		RunID:       runID,
		ItemID:      req.ItemID,
		ItemName:    req.ItemName,
		DeliveryID:  req.DeliveryID,
		Status:      status,
		Function:    function,
		Business:    business,
		Destination: dest.Path,
		Sequence:    dest.Sequence,
		Downloads:   models.DownloadSummary{Total: len(dest.Attachments)},
		StartedAt:   started,
	}
}

// track waits for a run's downloads, then records and announces the run.
func (r *Runner) track(o *Outcome, batch *provision.Batch) {
	defer r.inflight.Done()
	defer close(o.done)

	summary, err := batch.Wait()
	o.event.Downloads = summary
	o.event.CompletedAt = r.now().UTC()

	attrs := []any{
		"run_id", o.RunID,
		"path", o.event.Destination,
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	}
	if err != nil {
		slog.Warn("attachment downloads finished with errors", append(attrs, "error", err)...)
	} else {
		slog.Info("attachment downloads finished", attrs...)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.baseCtx), completionTimeout)
	defer cancel()

	if r.cfg.Ledger != nil {
		if err := r.cfg.Ledger.RecordCompletion(ctx, &o.event); err != nil {
			slog.Error("failed to record run completion", "run_id", o.RunID, "error", err)
		}
	}
	if r.cfg.Publisher != nil {
		if err := r.cfg.Publisher.PublishProvisioned(ctx, &o.event); err != nil {
			slog.Error("failed to publish provisioned event", "run_id", o.RunID, "error", err)
		}
	}
}

// Wait blocks until every run started so far has finished its downloads.
func (r *Runner) Wait() {
	r.inflight.Wait()
}

// Shutdown stops new runs from starting downloads and waits for in-flight
// downloads until ctx is done.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for downloads: %w", ctx.Err())
	}
}
