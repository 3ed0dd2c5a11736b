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

// Package app assembles the provisioner from configuration. Both the
// webhook server and the command line tool build their dependencies here.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/provisioner/internal/columns"
	"github.com/bcem/provisioner/internal/config"
	"github.com/bcem/provisioner/internal/dedup"
	"github.com/bcem/provisioner/internal/ledger"
	"github.com/bcem/provisioner/internal/monday"
	"github.com/bcem/provisioner/internal/pipeline"
	"github.com/bcem/provisioner/internal/provision"
	"github.com/bcem/provisioner/internal/queue"
	"github.com/bcem/provisioner/internal/sequence"
)

// App holds the wired components. Redis, DB and Ledger are nil when not
// configured.
type App struct {
	Config    *config.Config
	Monday    *monday.Client
	Sequencer *sequence.Sequencer
	Runner    *pipeline.Runner
	Redis     *redis.Client
	DB        *pgxpool.Pool
	Ledger    *ledger.Store
}

// Options adjust how an App is built.
type Options struct {
	// Deliveries enables the Redis delivery cache when configured. The
	// command line tool has no deliveries to suppress.
	Deliveries bool
}

// New connects to the optional backends and builds the pipeline. baseCtx
// bounds the lifetime of attachment downloads.
func New(baseCtx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg}

	httpClient := monday.NewHTTPClient(cfg.MondayToken)
	a.Monday = monday.NewClient(httpClient, cfg.MondayURL, cfg.MondayAPIVersion)
	a.Sequencer = sequence.NewSequencer(cfg.DestinationDir, cfg.Columns)

	provisioner := provision.New(provision.Config{
		DestinationRoot: cfg.DestinationDir,
		Resolver:        a.Monday,
		Annotator:       provision.NewAnnotator(cfg.AnnotatorMode, cfg.FolderLabelIdx),
		UserAgent:       cfg.DownloadAgent,
	})

	pcfg := pipeline.Config{
		SourceDir:   cfg.SourceDir,
		Titles:      cfg.Columns,
		Fetcher:     a.Monday,
		Resolver:    columns.NewResolver(cfg.Columns),
		Claimer:     a.Sequencer,
		Provisioner: provisioner,
	}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.Redis = redis.NewClient(opt)

		publisher := queue.NewPublisher(a.Redis, cfg.ProvisionedQueue)
		if err := publisher.Ping(baseCtx); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to Redis: %w", err)
		}
		slog.Info("connected to Redis", "queue", cfg.ProvisionedQueue)
		pcfg.Publisher = publisher

		if opts.Deliveries && cfg.DedupDeliveries {
			pcfg.Dedup = dedup.NewFilter(a.Redis, cfg.DedupTTL)
			slog.Info("delivery cache enabled", "ttl", cfg.DedupTTL)
		}
	} else if opts.Deliveries && cfg.DedupDeliveries {
		slog.Warn("DEDUP_DELIVERIES is set but REDIS_URL is empty, deliveries will not be deduplicated")
	}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(baseCtx, cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create Postgres pool: %w", err)
		}
		a.DB = pool

		if err := pool.Ping(baseCtx); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
		}
		slog.Info("connected to PostgreSQL")

		store, err := ledger.NewStore(baseCtx, pool)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Ledger = store
		pcfg.Ledger = store
	}

	a.Runner = pipeline.NewRunner(baseCtx, pcfg)
	return a, nil
}

// Check reports the first unhealthy dependency: a configured backend that
// does not answer, or a missing template or destination root.
func (a *App) Check(ctx context.Context) error {
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}
	if a.Ledger != nil {
		if err := a.Ledger.Ping(ctx); err != nil {
			return fmt.Errorf("postgres unhealthy: %w", err)
		}
	}
	for _, dir := range []string{a.Config.SourceDir, a.Config.DestinationDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("directory %s unavailable: %w", dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
	}
	return nil
}

// Close releases backend connections.
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
