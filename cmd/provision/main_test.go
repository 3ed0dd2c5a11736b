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

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bcem/provisioner/internal/ledger"
	"github.com/bcem/provisioner/internal/models"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dest := t.TempDir()
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("MONDAY_API_TOKEN", "token")
	t.Setenv("SOURCE_FOLDER_PATH", t.TempDir())
	t.Setenv("DESTINATION_FOLDER_PATH", dest)
	return dest
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	jsonOutput = false
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// TestNextCommand verifies the next sequence is read from existing folders.
func TestNextCommand(t *testing.T) {
	dest := setupEnv(t)
	for _, name := range []string{"0001_a", "0007_b", "notes"} {
		if err := os.MkdirAll(filepath.Join(dest, "Marketing", "EMEA", name), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	out, err := execute(t, "next", "Marketing", "EMEA")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if strings.TrimSpace(out) != "0008" {
		t.Errorf("output = %q, want 0008", out)
	}

	out, err = execute(t, "next", "Sales", "APAC", "--json")
	if err != nil {
		t.Fatalf("next --json: %v", err)
	}
	var got struct {
		Parent   string `json:"parent"`
		Sequence int    `json:"sequence"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.Sequence != 1 || got.Parent != filepath.Join(dest, "Sales", "APAC") {
		t.Errorf("got %+v", got)
	}
	if _, err := os.Stat(filepath.Join(dest, "Sales")); !os.IsNotExist(err) {
		t.Errorf("next must not create directories, stat err = %v", err)
	}
}

// TestItemRequiresID verifies argument validation.
func TestItemRequiresID(t *testing.T) {
	setupEnv(t)
	if _, err := execute(t, "item"); err == nil {
		t.Error("expected an error without an item id")
	}
}

func TestMissingConfiguration(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("MONDAY_API_TOKEN", "")
	t.Setenv("SOURCE_FOLDER_PATH", "")
	t.Setenv("DESTINATION_FOLDER_PATH", "")

	_, err := execute(t, "next", "Marketing", "EMEA")
	if err == nil || !strings.Contains(err.Error(), "MONDAY_API_TOKEN") {
		t.Errorf("err = %v, want missing MONDAY_API_TOKEN", err)
	}
}

// TestRunsRequiresDatabase verifies the ledger commands fail clearly without
// a database.
func TestRunsRequiresDatabase(t *testing.T) {
	setupEnv(t)
	t.Setenv("DATABASE_URL", "")

	for _, args := range [][]string{{"runs", "42"}, {"run", "abc"}} {
		if _, err := execute(t, args...); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
			t.Errorf("%v: err = %v, want DATABASE_URL error", args, err)
		}
	}
}

func TestPrintRuns(t *testing.T) {
	var out bytes.Buffer
	if err := printRuns(&out, nil); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != "No runs recorded." {
		t.Errorf("empty output = %q", out.String())
	}

	out.Reset()
	rec := ledger.Record{
		ProvisionedEvent: models.ProvisionedEvent{
			RunID:       "run-1",
			Destination: "Marketing/EMEA/0001_Marketing_2024-03-01_Launch",
			Downloads:   models.DownloadSummary{Total: 3, Succeeded: 2, Failed: 1},
			StartedAt:   time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		},
		State: ledger.StatePartial,
	}
	if err := printRuns(&out, []ledger.Record{rec}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	for _, want := range []string{"run-1", "2024-03-01T09:00:00Z", "partial", "2/3", "0001_Marketing_2024-03-01_Launch"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("row %q missing %q", lines[1], want)
		}
	}
}
