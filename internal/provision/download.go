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

package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bcem/provisioner/internal/models"
)

// errNoURL marks an asset the API could not resolve to a URL.
var errNoURL = errors.New("asset has no public URL")

// Batch tracks the attachment downloads started for one destination.
// Downloads are independent: one failing never cancels another.
type Batch struct {
	group   errgroup.Group
	mu      sync.Mutex
	summary models.DownloadSummary
	names   map[string]bool
}

// Wait blocks until every download in the batch has finished and returns
// the aggregate outcome together with the first download error, if any.
func (b *Batch) Wait() (models.DownloadSummary, error) {
	err := b.group.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.summary, err
}

func (b *Batch) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case err == nil:
		b.summary.Succeeded++
	case errors.Is(err, errNoURL):
		b.summary.Skipped++
	default:
		b.summary.Failed++
	}
}

// claimName reserves a file name in the batch. A name already taken gets
// "-<assetID>" inserted before its extension.
func (b *Batch) claimName(name string, assetID int64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.names == nil {
		b.names = make(map[string]bool)
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 0; b.names[candidate]; i++ {
		if i == 0 {
			candidate = fmt.Sprintf("%s-%d%s", stem, assetID, ext)
		} else {
			candidate = fmt.Sprintf("%s-%d-%d%s", stem, assetID, i, ext)
		}
	}
	b.names[candidate] = true
	return candidate
}

// Download starts one download per asset into dir and returns immediately.
func (p *Provisioner) Download(ctx context.Context, dir string, assetIDs []int64) *Batch {
	b := &Batch{}
	b.summary.Total = len(assetIDs)

	for _, id := range assetIDs {
		assetID := id
		b.group.Go(func() error {
			err := p.downloadAsset(ctx, b, dir, assetID)
			b.record(err)
			if errors.Is(err, errNoURL) {
				return nil
			}
			return err
		})
	}
	return b
}

// downloadAsset resolves one asset and streams it into dir. Failures are
// logged here; any partially written file is removed. File names are unique
// within b.
func (p *Provisioner) downloadAsset(ctx context.Context, b *Batch, dir string, assetID int64) error {
	link, err := p.resolver.FetchAssetURL(ctx, assetID)
	if err != nil {
		slog.Error("failed to resolve attachment URL", "asset_id", assetID, "error", err)
		return fmt.Errorf("asset %d: %w", assetID, err)
	}
	if link == "" {
		slog.Warn("no URL for asset", "asset_id", assetID)
		return errNoURL
	}

	name := FileNameFromURL(link)
	if name == "" {
		name = fmt.Sprintf("asset-%d", assetID)
	}
	name = b.claimName(name, assetID)
	target := filepath.Join(dir, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		slog.Error("failed to build download request", "asset_id", assetID, "error", err)
		return fmt.Errorf("asset %d: build request: %w", assetID, err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		slog.Error("download error", "file", name, "error", err)
		return fmt.Errorf("asset %d: download: %w", assetID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		slog.Error("failed download", "file", name, "status", resp.StatusCode)
		return fmt.Errorf("asset %d: download returned HTTP %d", assetID, resp.StatusCode)
	}

	written, err := writeFile(target, resp.Body)
	if err != nil {
		slog.Error("download error", "file", name, "error", err)
		return fmt.Errorf("asset %d: %w", assetID, err)
	}

	slog.Info("downloaded attachment",
		"asset_id", assetID,
		"file", name,
		"bytes", written,
	)
	return nil
}

// writeFile streams r into path, removing the file if anything fails.
func writeFile(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}

	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(path)
		return n, fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return n, fmt.Errorf("close %s: %w", path, err)
	}
	return n, nil
}

// FileNameFromURL returns the percent-decoded, sanitized last path segment
// of a download URL, or "" when the URL has no usable file name.
func FileNameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	base := path.Base(u.EscapedPath())
	if base == "/" || base == "." {
		return ""
	}
	if decoded, err := url.PathUnescape(base); err == nil {
		base = decoded
	}
	return SanitizeFileName(base)
}

// SanitizeFileName replaces every byte outside printable ASCII (0x20-0x7E)
// with '_', as well as path separators. The byte length is preserved.
// The names "." and ".." yield "".
func SanitizeFileName(name string) string {
	b := []byte(name)
	for i, c := range b {
		if c < 0x20 || c > 0x7e || c == '/' || c == '\\' {
			b[i] = '_'
		}
	}

	s := string(b)
	if s == "." || s == ".." {
		return ""
	}
	return s
}
