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

// Command provision runs the provisioning pipeline from the command line.
//
// Usage:
//
//	provision item <item-id> [--name <item name>]
//	provision next <function> <business-unit>
//	provision runs <item-id>
//	provision run <run-id>
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bcem/provisioner/internal/config"
	"github.com/bcem/provisioner/internal/logging"
)

// Global flags
var (
	jsonOutput bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision monday.com item folders without the webhook",
	Long: `provision creates the same folder structure the webhook server does,
for one item at a time, and reports on sequence allocation.

Examples:
  provision item 1234567890                 # Provision an item using its board name
  provision item 1234567890 --name "Launch" # Override the folder name
  provision next Marketing EMEA             # Show the next sequence number
  provision runs 1234567890                 # List recorded runs (needs DATABASE_URL)`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := "warn"
		if verbose {
			level = "debug"
		}
		logging.Setup(os.Stderr, level, "text")
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(itemCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
