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

// Package models defines the data structures shared across the provisioner.
package models

import "time"

// Column is the board column a value belongs to.
type Column struct {
	Title       string `json:"title"`
	// SettingsStr is the raw JSON settings blob. For status-like columns it
	// carries the index -> label mapping.
	SettingsStr string `json:"settings_str"`
}

// ColumnValue is a single field on an item.
type ColumnValue struct {
	Column Column  `json:"column"`
	Value  *string `json:"value"` // raw JSON payload, null when the cell is empty
	Text   *string `json:"text"`
}

// RawValue returns the value payload, or "" when the cell is empty.
func (c ColumnValue) RawValue() string {
	if c.Value == nil {
		return ""
	}
	return *c.Value
}

// Item is the work record that triggered provisioning.
type Item struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	ColumnValues []ColumnValue `json:"column_values"`
}

// LabelMap maps a status column's label index to its display text.
type LabelMap map[int]string

// ResolvedFields holds the columns of interest translated to usable values.
// Labels is keyed by column title; a missing key means the column was absent,
// empty, or could not be parsed.
type ResolvedFields struct {
	Labels      map[string]string
	StartDate   string
	HasDate     bool
	Attachments []int64
}

// Label returns the resolved label for a column title.
func (f ResolvedFields) Label(title string) (string, bool) {
	v, ok := f.Labels[title]
	return v, ok
}

// Destination is a computed target folder, relative to the destination root.
type Destination struct {
	Path        string
	Sequence    int
	ParentDir   string
	FolderName  string
	Attachments []int64
}

// DownloadSummary aggregates the outcome of an item's attachment downloads.
type DownloadSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// ProvisionedEvent describes a completed provisioning run.
//
// It is what the run ledger stores and what the queue publisher emits once
// every attachment download for the run has finished.
type ProvisionedEvent struct {
	RunID       string          `json:"run_id"`
	ItemID      string          `json:"item_id"`
	ItemName    string          `json:"item_name"`
	DeliveryID  string          `json:"delivery_id,omitempty"`
	Status      string          `json:"status,omitempty"`
	Function    string          `json:"function"`
	Business    string          `json:"business_unit"`
	Destination string          `json:"destination"`
	Sequence    int             `json:"sequence"`
	Downloads   DownloadSummary `json:"downloads"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
}
