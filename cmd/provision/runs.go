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
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bcem/provisioner/internal/app"
	"github.com/bcem/provisioner/internal/ledger"
)

var errNoLedger = errors.New("DATABASE_URL is not configured, no run ledger to read")

var runsCmd = &cobra.Command{
	Use:   "runs <item-id>",
	Short: "List the recorded provisioning runs of an item, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runRuns,
}

var runCmd = &cobra.Command{
	Use:   "run <run-id>",
	Short: "Show one recorded provisioning run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

// openLedger builds the app and returns its ledger, or errNoLedger.
func openLedger(cmd *cobra.Command) (*app.App, *ledger.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, errNoLedger
	}
	a, err := app.New(cmd.Context(), cfg, app.Options{})
	if err != nil {
		return nil, nil, err
	}
	return a, a.Ledger, nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	a, store, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := store.ListByItem(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("list runs for item %s: %w", args[0], err)
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), records)
	}
	return printRuns(cmd.OutOrStdout(), records)
}

func runRun(cmd *cobra.Command, args []string) error {
	a, store, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get run %s: %w", args[0], err)
	}
	if rec == nil {
		return fmt.Errorf("run %s not found", args[0])
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), rec)
	}
	return printRuns(cmd.OutOrStdout(), []ledger.Record{*rec})
}

func printRuns(w io.Writer, records []ledger.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSTATE\tDOWNLOADS\tDESTINATION")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\n",
			r.RunID,
			r.StartedAt.Format(time.RFC3339),
			r.State,
			r.Downloads.Succeeded, r.Downloads.Total,
			r.Destination,
		)
	}
	return tw.Flush()
}
