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

// Package config loads configuration from an optional config.yaml and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default column titles on the monday.com board.
const (
	DefaultStatusColumn       = "Status"
	DefaultFunctionColumn     = "Function"
	DefaultBusinessUnitColumn = "Business Unit"
	DefaultStartDateColumn    = "Start Date"
	DefaultAttachmentsColumn  = "Attachments"
)

// Columns names the board columns the provisioner reads.
type Columns struct {
	Status       string
	Function     string
	BusinessUnit string
	StartDate    string
	Attachments  string
}

// Enumerated returns the titles of the label-indexed columns.
func (c Columns) Enumerated() []string {
	return []string{c.Status, c.Function, c.BusinessUnit}
}

// Config holds all configuration for the provisioner.
type Config struct {
	// monday.com API
	MondayToken      string
	MondayURL        string
	MondayAPIVersion string

	// Filesystem
	SourceDir      string
	DestinationDir string

	Columns Columns

	// Folder annotation
	AnnotatorMode  string // "auto", "finder" or "none"
	FolderLabelIdx int
	DownloadAgent  string

	// Redis (optional)
	RedisURL         string
	ProvisionedQueue string
	DedupDeliveries  bool
	DedupTTL         time.Duration

	// Postgres run ledger (optional)
	DatabaseURL string

	// Server
	Port            int
	HealthPort      int
	ShutdownTimeout time.Duration

	// Logging
	LogLevel       string
	LogFormat      string
	HTTPRequestLog bool
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Monday struct {
		Token      string `yaml:"token"`
		URL        string `yaml:"url"`
		APIVersion string `yaml:"api_version"`
	} `yaml:"monday"`
	Folders struct {
		Source      string `yaml:"source"`
		Destination string `yaml:"destination"`
	} `yaml:"folders"`
	Columns struct {
		Status       string `yaml:"status"`
		Function     string `yaml:"function"`
		BusinessUnit string `yaml:"business_unit"`
		StartDate    string `yaml:"start_date"`
		Attachments  string `yaml:"attachments"`
	} `yaml:"columns"`
	Annotator struct {
		Mode       string `yaml:"mode"`
		LabelIndex int    `yaml:"label_index"`
	} `yaml:"annotator"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Provisioned string `yaml:"provisioned"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
}

// Load reads configuration from the YAML file named by CONFIG_PATH (with env
// var expansion) and from environment variables. The file is optional;
// environment variables take precedence over it.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "config.yaml")

	var raw rawConfig
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// Environment-only configuration.
	default:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	cfg := &Config{
		MondayToken:      firstNonEmpty(os.Getenv("MONDAY_API_TOKEN"), raw.Monday.Token),
		MondayURL:        firstNonEmpty(os.Getenv("MONDAY_API_URL"), raw.Monday.URL, "https://api.monday.com/v2"),
		MondayAPIVersion: firstNonEmpty(os.Getenv("MONDAY_API_VERSION"), raw.Monday.APIVersion),
		SourceDir:        firstNonEmpty(os.Getenv("SOURCE_FOLDER_PATH"), raw.Folders.Source),
		DestinationDir:   firstNonEmpty(os.Getenv("DESTINATION_FOLDER_PATH"), raw.Folders.Destination),
		Columns: Columns{
			Status:       firstNonEmpty(raw.Columns.Status, DefaultStatusColumn),
			Function:     firstNonEmpty(raw.Columns.Function, DefaultFunctionColumn),
			BusinessUnit: firstNonEmpty(raw.Columns.BusinessUnit, DefaultBusinessUnitColumn),
			StartDate:    firstNonEmpty(raw.Columns.StartDate, DefaultStartDateColumn),
			Attachments:  firstNonEmpty(raw.Columns.Attachments, DefaultAttachmentsColumn),
		},
		AnnotatorMode:    strings.ToLower(firstNonEmpty(os.Getenv("FOLDER_ANNOTATOR"), raw.Annotator.Mode, "auto")),
		FolderLabelIdx:   envOrDefaultInt("FOLDER_LABEL_INDEX", nonZero(raw.Annotator.LabelIndex, 6)),
		DownloadAgent:    envOrDefault("DOWNLOAD_USER_AGENT", "Mozilla/5.0"),
		RedisURL:         firstNonEmpty(os.Getenv("REDIS_URL"), raw.Redis.URL),
		ProvisionedQueue: firstNonEmpty(os.Getenv("PROVISIONED_QUEUE"), raw.Redis.Queues.Provisioned, "provisioned"),
		DedupDeliveries:  envOrDefaultBool("DEDUP_DELIVERIES", false),
		DedupTTL:         envOrDefaultDuration("DEDUP_TTL", 24*time.Hour),
		DatabaseURL:      firstNonEmpty(os.Getenv("DATABASE_URL"), raw.Database.URL),
		Port:             envOrDefaultInt("PORT", 80),
		HealthPort:       envOrDefaultInt("HEALTH_PORT", 0),
		ShutdownTimeout:  envOrDefaultDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("LOG_FORMAT", "json"),
		HTTPRequestLog:   envOrDefaultBool("HTTP_REQUEST_LOG", false),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.MondayToken == "" {
		missing = append(missing, "MONDAY_API_TOKEN")
	}
	if c.SourceDir == "" {
		missing = append(missing, "SOURCE_FOLDER_PATH")
	}
	if c.DestinationDir == "" {
		missing = append(missing, "DESTINATION_FOLDER_PATH")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	switch c.AnnotatorMode {
	case "auto", "finder", "none":
	default:
		return fmt.Errorf("invalid FOLDER_ANNOTATOR %q (want auto, finder or none)", c.AnnotatorMode)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func nonZero(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}
