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
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
)

// FinderGreen is the Finder label index for green.
const FinderGreen = 6

// Annotator marks a provisioned folder so it is easy to spot.
type Annotator interface {
	Annotate(ctx context.Context, dir string) error
}

// NewAnnotator returns the annotator for a configured mode: "finder",
// "none", or "auto" (Finder on macOS, otherwise none).
func NewAnnotator(mode string, labelIndex int) Annotator {
	switch strings.ToLower(mode) {
	case "finder":
		return &FinderAnnotator{LabelIndex: labelIndex}
	case "auto":
		if runtime.GOOS == "darwin" {
			return &FinderAnnotator{LabelIndex: labelIndex}
		}
	}
	return NoopAnnotator{}
}

// NoopAnnotator leaves folders untouched.
type NoopAnnotator struct{}

// Annotate implements Annotator.
func (NoopAnnotator) Annotate(context.Context, string) error { return nil }

// FinderAnnotator sets a Finder color label through AppleScript.
type FinderAnnotator struct {
	LabelIndex int
	// Command overrides the osascript binary.
	Command string
}

// Annotate implements Annotator.
func (a *FinderAnnotator) Annotate(ctx context.Context, dir string) error {
	command := a.Command
	if command == "" {
		command = "osascript"
	}

	out, err := exec.CommandContext(ctx, command, "-e", finderScript(dir, a.LabelIndex)).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", command, err, strings.TrimSpace(string(out)))
	}

	slog.Info("applied folder label", "path", dir, "label_index", a.LabelIndex)
	return nil
}

func finderScript(dir string, labelIndex int) string {
	return fmt.Sprintf(`tell application "Finder"
	set theFolder to POSIX file "%s" as alias
	set label index of theFolder to %d
end tell`, appleScriptEscape(dir), labelIndex)
}

// appleScriptEscape escapes a value for use inside an AppleScript string
// literal.
func appleScriptEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
