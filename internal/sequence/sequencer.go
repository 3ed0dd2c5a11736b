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

// Package sequence computes destination folders of the form
//
//	<Function>/<BusinessUnit>/<NNNN>_<Function>_<StartDate>_<ItemName>
//
// where NNNN is one greater than the highest four-digit prefix already used
// by a sibling directory.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/bcem/provisioner/internal/config"
	"github.com/bcem/provisioner/internal/models"
)

// Placeholder folder names used when a label could not be resolved.
const (
	UnknownFunction     = "UnknownFunction"
	UnknownBusinessUnit = "UnknownBusinessUnit"
)

const (
	// undefinedPart fills a missing base-name component.
	undefinedPart = "undefined"

	// lockFileName is created in each parent directory to serialise
	// allocation across processes.
	lockFileName   = ".sequence.lock"
	lockRetryDelay = 25 * time.Millisecond
)

// ErrClaimed is returned when the computed folder already exists at claim time.
var ErrClaimed = errors.New("sequence: destination already exists")

var prefixPattern = regexp.MustCompile(`^(\d{4})_`)

// Sequencer derives destination paths beneath a root directory.
type Sequencer struct {
	root   string
	titles config.Columns
	locks  *keyedMutex
}

// NewSequencer creates a sequencer rooted at root that reads the function
// and business unit labels from the given column titles.
func NewSequencer(root string, titles config.Columns) *Sequencer {
	return &Sequencer{
		root:   root,
		titles: titles,
		locks:  newKeyedMutex(),
	}
}

// Root returns the destination root directory.
func (s *Sequencer) Root() string {
	return s.root
}

// Compute returns the next destination for an item without touching the
// filesystem beyond reading the parent directory. Two concurrent callers may
// receive the same path; use Claim to allocate.
func (s *Sequencer) Compute(fields models.ResolvedFields, itemName string) (models.Destination, error) {
	function, business := s.folders(fields)
	parent := filepath.Join(function, business)

	next, err := NextSequence(filepath.Join(s.root, parent))
	if err != nil {
		return models.Destination{}, err
	}

	folder := fmt.Sprintf("%04d_%s", next, s.baseName(fields, itemName))
	return models.Destination{
		Path:        filepath.Join(parent, folder),
		Sequence:    next,
		ParentDir:   parent,
		FolderName:  folder,
		Attachments: fields.Attachments,
	}, nil
}

// Claim allocates the next destination and creates its directory. Allocation
// for a parent directory is serialised within the process and, through a
// lock file, across processes sharing the destination root.
func (s *Sequencer) Claim(ctx context.Context, fields models.ResolvedFields, itemName string) (models.Destination, error) {
	function, business := s.folders(fields)
	parentAbs := filepath.Join(s.root, function, business)

	if err := os.MkdirAll(parentAbs, 0o755); err != nil {
		return models.Destination{}, fmt.Errorf("create parent directory: %w", err)
	}

	unlock, err := s.lock(ctx, parentAbs)
	if err != nil {
		return models.Destination{}, err
	}
	defer unlock()

	dest, err := s.Compute(fields, itemName)
	if err != nil {
		return models.Destination{}, err
	}

	if err := os.Mkdir(filepath.Join(s.root, dest.Path), 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return models.Destination{}, fmt.Errorf("claim %s: %w", dest.Path, ErrClaimed)
		}
		return models.Destination{}, fmt.Errorf("claim %s: %w", dest.Path, err)
	}

	slog.Info("claimed destination",
		"path", dest.Path,
		"sequence", dest.Sequence,
	)
	return dest, nil
}

// NextSequence scans the immediate subdirectories of parentDir for names
// with a four-digit prefix and returns the highest prefix plus one. A
// missing or empty directory yields 1.
func NextSequence(parentDir string) (int, error) {
	entries, err := os.ReadDir(parentDir)
	if errors.Is(err, fs.ErrNotExist) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", parentDir, err)
	}

	highest := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := prefixPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

// folders returns the function and business unit folder names.
func (s *Sequencer) folders(fields models.ResolvedFields) (string, string) {
	function, ok := fields.Label(s.titles.Function)
	if !ok || function == "" {
		function = UnknownFunction
	}
	business, ok := fields.Label(s.titles.BusinessUnit)
	if !ok || business == "" {
		business = UnknownBusinessUnit
	}
	return pathComponent(function), pathComponent(business)
}

// baseName joins function, start date and item name. Missing parts are the
// literal "undefined", not the placeholder folder names.
func (s *Sequencer) baseName(fields models.ResolvedFields, itemName string) string {
	function, ok := fields.Label(s.titles.Function)
	if !ok {
		function = undefinedPart
	}
	date := undefinedPart
	if fields.HasDate {
		date = fields.StartDate
	}
	if itemName == "" {
		itemName = undefinedPart
	}
	return pathComponent(function + "_" + date + "_" + itemName)
}

// pathComponent keeps a label from introducing extra path levels.
func pathComponent(name string) string {
	name = strings.NewReplacer("/", "_", `\`, "_").Replace(name)
	switch name {
	case ".", "..":
		return strings.Repeat("_", len(name))
	}
	return name
}

func (s *Sequencer) lock(ctx context.Context, dir string) (func(), error) {
	mu := s.locks.get(dir)
	mu.Lock()

	fl := flock.New(filepath.Join(dir, lockFileName))
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("lock %s: %w", dir, err)
	}
	if !locked {
		mu.Unlock()
		return nil, fmt.Errorf("lock %s: not acquired", dir)
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			slog.Warn("failed to release sequence lock", "dir", dir, "error", err)
		}
		mu.Unlock()
	}, nil
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}
