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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bcem/provisioner/internal/app"
	"github.com/bcem/provisioner/internal/pipeline"
	"github.com/bcem/provisioner/internal/webhook"
)

var itemName string

var itemCmd = &cobra.Command{
	Use:   "item <item-id>",
	Short: "Provision the folder for one item and wait for its attachments",
	Long: `Provision the folder for one item exactly as a webhook delivery would,
then wait until every attachment download has finished and print a summary.

The folder name defaults to the item's name on the board, reduced to
letters, digits and spaces.`,
	Args: cobra.ExactArgs(1),
	RunE: runItem,
}

func init() {
	itemCmd.Flags().StringVarP(&itemName, "name", "n", "", "Item name used in the folder name (default: the board name)")
}

func runItem(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	itemID := args[0]
	name, err := resolveItemName(ctx, a, itemID)
	if err != nil {
		return err
	}

	out, err := a.Runner.Run(ctx, pipeline.Request{ItemID: itemID, ItemName: name})
	if err != nil {
		return fmt.Errorf("provision item %s: %w", itemID, err)
	}

	event := out.Event()
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), event)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Created %s\n", event.Destination)
	fmt.Fprintf(w, "  sequence:    %04d\n", event.Sequence)
	fmt.Fprintf(w, "  attachments: %d downloaded, %d failed, %d skipped (of %d)\n",
		event.Downloads.Succeeded, event.Downloads.Failed, event.Downloads.Skipped, event.Downloads.Total)
	return nil
}

// resolveItemName returns the --name flag, or the item's board name when
// the flag is empty.
func resolveItemName(ctx context.Context, a *app.App, itemID string) (string, error) {
	if itemName != "" {
		return webhook.SanitizeName(itemName), nil
	}

	item, err := a.Monday.FetchItem(ctx, itemID)
	if err != nil {
		return "", fmt.Errorf("look up item %s: %w", itemID, err)
	}
	if item == nil {
		return "", fmt.Errorf("item %s not found", itemID)
	}
	return webhook.SanitizeName(item.Name), nil
}
