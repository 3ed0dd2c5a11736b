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
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bcem/provisioner/internal/models"
	"github.com/bcem/provisioner/internal/sequence"
)

var nextCmd = &cobra.Command{
	Use:   "next <function> <business-unit>",
	Short: "Print the next sequence number for a function and business unit",
	Long: `Print the sequence number the next provisioned folder under
<destination>/<function>/<business-unit> would receive. Nothing is created.`,
	Args: cobra.ExactArgs(2),
	RunE: runNext,
}

func runNext(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fields := models.ResolvedFields{
		Labels: map[string]string{
			cfg.Columns.Function:     args[0],
			cfg.Columns.BusinessUnit: args[1],
		},
	}
	dest, err := sequence.NewSequencer(cfg.DestinationDir, cfg.Columns).Compute(fields, "")
	if err != nil {
		return fmt.Errorf("compute next sequence: %w", err)
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), map[string]any{
			"parent":   filepath.Join(cfg.DestinationDir, dest.ParentDir),
			"sequence": dest.Sequence,
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%04d\n", dest.Sequence)
	return nil
}
