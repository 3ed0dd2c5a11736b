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

// Package columns interprets monday.com column values. It builds index to
// label maps from status column settings and resolves the columns the
// provisioner cares about into typed values.
package columns

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bcem/provisioner/internal/config"
	"github.com/bcem/provisioner/internal/models"
)

// labelSettings is the shape of a status column's settings_str.
type labelSettings struct {
	Labels map[string]string `json:"labels"`
}

// indexValue is the value payload of a status column.
type indexValue struct {
	Index json.RawMessage `json:"index"`
}

// dateValue is the value payload of a date column.
type dateValue struct {
	Date string `json:"date"`
}

// fileValue is the value payload of a file column.
type fileValue struct {
	Files []struct {
		AssetID  *int64 `json:"assetId"`
		Name     string `json:"name"`
		FileType string `json:"fileType"`
	} `json:"files"`
}

// Resolver turns an item's raw column values into ResolvedFields.
type Resolver struct {
	titles config.Columns
}

// NewResolver creates a resolver for the given column titles.
func NewResolver(titles config.Columns) *Resolver {
	return &Resolver{titles: titles}
}

// ParseLabelSettings parses a settings_str payload into a LabelMap. Labels
// with empty text and non-numeric indices are skipped. An empty payload
// yields an empty map.
func ParseLabelSettings(settings string) (models.LabelMap, error) {
	if strings.TrimSpace(settings) == "" {
		settings = "{}"
	}

	var s labelSettings
	if err := json.Unmarshal([]byte(settings), &s); err != nil {
		return nil, fmt.Errorf("parse label settings: %w", err)
	}

	labels := make(models.LabelMap, len(s.Labels))
	for key, text := range s.Labels {
		if text == "" {
			continue
		}
		idx, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		labels[idx] = text
	}
	return labels, nil
}

// BuildLabelMaps builds a LabelMap for every enumerated column title present
// in values. Columns whose settings cannot be parsed are logged and left out.
func BuildLabelMaps(values []models.ColumnValue, enumerated []string) map[string]models.LabelMap {
	maps := make(map[string]models.LabelMap)
	for _, cv := range values {
		title := cv.Column.Title
		if !contains(enumerated, title) {
			continue
		}

		labels, err := ParseLabelSettings(cv.Column.SettingsStr)
		if err != nil {
			slog.Error("failed to parse column settings",
				"column", title,
				"error", err,
			)
			continue
		}
		maps[title] = labels
	}
	return maps
}

// Resolve interprets the columns of interest on item. A nil item resolves
// to empty fields. Failures are isolated per column: the column is logged
// and omitted.
func (r *Resolver) Resolve(item *models.Item) models.ResolvedFields {
	fields := models.ResolvedFields{Labels: make(map[string]string)}
	if item == nil {
		return fields
	}

	enumerated := r.titles.Enumerated()
	labelMaps := BuildLabelMaps(item.ColumnValues, enumerated)

	for _, cv := range item.ColumnValues {
		title := cv.Column.Title
		raw := strings.TrimSpace(cv.RawValue())
		if raw == "" || raw == "null" {
			continue
		}

		var err error
		switch {
		case contains(enumerated, title):
			err = resolveLabel(&fields, title, raw, labelMaps[title])
		case title == r.titles.StartDate:
			err = resolveDate(&fields, raw)
		case title == r.titles.Attachments:
			err = resolveFiles(&fields, raw)
		default:
			continue
		}

		if err != nil {
			slog.Error("failed to parse column value",
				"item_id", item.ID,
				"column", title,
				"error", err,
			)
		}
	}

	slog.Info("resolved item columns",
		"item_id", item.ID,
		"labels", fields.Labels,
		"start_date", fields.StartDate,
		"attachments", len(fields.Attachments),
	)
	return fields
}

func resolveLabel(fields *models.ResolvedFields, title, raw string, labels models.LabelMap) error {
	var v indexValue
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return fmt.Errorf("decode label value: %w", err)
	}
	if len(v.Index) == 0 || string(v.Index) == "null" {
		return nil
	}

	idx, err := parseIndex(v.Index)
	if err != nil {
		return err
	}

	if text, ok := labels[idx]; ok {
		fields.Labels[title] = text
	} else {
		fields.Labels[title] = LabelNotFound(idx)
	}
	return nil
}

func resolveDate(fields *models.ResolvedFields, raw string) error {
	var v dateValue
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return fmt.Errorf("decode date value: %w", err)
	}
	if v.Date != "" {
		fields.StartDate = v.Date
		fields.HasDate = true
	}
	return nil
}

func resolveFiles(fields *models.ResolvedFields, raw string) error {
	var v fileValue
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return fmt.Errorf("decode file value: %w", err)
	}

	var ids []int64
	for _, f := range v.Files {
		if f.AssetID == nil {
			// Linked documents (Google Drive, Dropbox...) carry no asset.
			slog.Debug("skipping file without asset id", "name", f.Name, "file_type", f.FileType)
			continue
		}
		ids = append(ids, *f.AssetID)
	}
	if len(ids) > 0 {
		fields.Attachments = ids
	}
	return nil
}

// LabelNotFound is the placeholder used when an index has no label.
func LabelNotFound(index int) string {
	return fmt.Sprintf("Index %d (Label Not Found)", index)
}

// parseIndex accepts the index as a JSON number or a numeric string.
func parseIndex(raw json.RawMessage) (int, error) {
	s := strings.TrimSpace(string(raw))
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
	}
	idx, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid label index %s", string(raw))
	}
	return idx, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
