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

// Package provision materialises a destination folder: it copies the
// template tree, prepares the Attachments subdirectory, annotates the folder
// and downloads the item's attachments into it.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/otiai10/copy"

	"github.com/bcem/provisioner/internal/models"
)

// AttachmentsDir is the subdirectory attachments are downloaded into.
const AttachmentsDir = "Attachments"

// DefaultUserAgent is sent with attachment downloads. Some file hosts
// reject requests without a browser-like agent.
const DefaultUserAgent = "Mozilla/5.0"

// URLResolver resolves an asset identifier to a download URL.
// Implemented by monday.Client.
type URLResolver interface {
	FetchAssetURL(ctx context.Context, assetID int64) (string, error)
}

// Provisioner copies templates and fetches attachments beneath a root.
type Provisioner struct {
	root       string
	resolver   URLResolver
	annotator  Annotator
	httpClient *http.Client
	userAgent  string
}

// Config holds the dependencies of a Provisioner.
type Config struct {
	DestinationRoot string
	Resolver        URLResolver
	Annotator       Annotator    // nil disables annotation
	HTTPClient      *http.Client // used for downloads; nil selects http.DefaultClient
	UserAgent       string
}

// New creates a provisioner.
func New(cfg Config) *Provisioner {
	annotator := cfg.Annotator
	if annotator == nil {
		annotator = NoopAnnotator{}
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	agent := cfg.UserAgent
	if agent == "" {
		agent = DefaultUserAgent
	}
	return &Provisioner{
		root:       cfg.DestinationRoot,
		resolver:   cfg.Resolver,
		annotator:  annotator,
		httpClient: client,
		userAgent:  agent,
	}
}

// Prepare copies sourceDir into the destination, ensures the Attachments
// subdirectory exists and annotates the folder. It returns the absolute
// attachments directory. Copy and mkdir failures are returned; annotation
// failures are only logged.
func (p *Provisioner) Prepare(ctx context.Context, sourceDir string, dest models.Destination) (string, error) {
	target := filepath.Join(p.root, dest.Path)

	if err := copy.Copy(sourceDir, target); err != nil {
		return "", fmt.Errorf("copy template %s to %s: %w", sourceDir, target, err)
	}

	attachments := filepath.Join(target, AttachmentsDir)
	if err := os.MkdirAll(attachments, 0o755); err != nil {
		return "", fmt.Errorf("create attachments directory: %w", err)
	}

	if err := p.annotator.Annotate(ctx, target); err != nil {
		slog.Warn("failed to annotate folder",
			"path", target,
			"error", err,
		)
	}

	slog.Info("copied template",
		"source", sourceDir,
		"destination", target,
	)
	return attachments, nil
}

// Provision prepares the destination and starts downloading its
// attachments. The returned batch tracks the downloads, which run on ctx.
func (p *Provisioner) Provision(ctx context.Context, sourceDir string, dest models.Destination) (*Batch, error) {
	dir, err := p.Prepare(ctx, sourceDir, dest)
	if err != nil {
		return nil, err
	}
	return p.Download(ctx, dir, dest.Attachments), nil
}
