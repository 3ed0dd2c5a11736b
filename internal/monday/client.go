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

// Package monday provides a client for the monday.com GraphQL API. It reads
// an item's column values and resolves asset identifiers to public download
// URLs.
package monday

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bcem/provisioner/internal/models"
)

// DefaultEndpoint is the monday.com GraphQL API endpoint.
const DefaultEndpoint = "https://api.monday.com/v2"

// ErrInvalidID is returned for identifiers that are not positive integers.
var ErrInvalidID = errors.New("monday: identifier must be a positive integer")

// Client issues GraphQL queries against the monday.com API.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiVersion string
}

// NewHTTPClient returns an HTTP client that sends the API token as the
// Authorization header of every request. monday.com expects the bare token
// without a scheme prefix.
func NewHTTPClient(token string) *http.Client {
	return &http.Client{
		Transport: &tokenTransport{token: token, base: http.DefaultTransport},
	}
}

// tokenTransport sets the Authorization header on outgoing requests.
type tokenTransport struct {
	token string
	base  http.RoundTripper
}

// RoundTrip implements http.RoundTripper. req itself is left unmodified.
func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", t.token)
	return t.base.RoundTrip(r)
}

// NewClient creates a monday.com API client. The httpClient must already
// handle authentication (see NewHTTPClient). An empty endpoint selects
// DefaultEndpoint; an empty apiVersion omits the API-Version header.
func NewClient(httpClient *http.Client, endpoint, apiVersion string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		httpClient: httpClient,
		endpoint:   endpoint,
		apiVersion: apiVersion,
	}
}

// FetchItem retrieves an item's id, name and column values, including each
// column's title and settings. It returns nil, nil when the API knows no
// item with that id.
func (c *Client) FetchItem(ctx context.Context, itemID string) (*models.Item, error) {
	if !isNumericID(itemID) {
		return nil, fmt.Errorf("fetch item %q: %w", itemID, ErrInvalidID)
	}

	query := fmt.Sprintf(`query {
  items (ids: [%s]) {
    id
    name
    column_values {
      column {
        title
        settings_str
      }
      value
      text
    }
  }
}`, itemID)

	slog.Debug("querying monday item", "item_id", itemID)

	var data itemsData
	if err := c.execute(ctx, query, &data); err != nil {
		return nil, fmt.Errorf("fetch item %s: %w", itemID, err)
	}

	if len(data.Items) == 0 {
		slog.Warn("monday returned no item", "item_id", itemID)
		return nil, nil
	}

	item := data.Items[0]
	slog.Info("fetched monday item",
		"item_id", item.ID,
		"name", item.Name,
		"columns", len(item.ColumnValues),
	)
	return &item, nil
}

// FetchAssetURL resolves an asset identifier to its public download URL.
// It returns "" with a nil error when the asset does not exist or has no
// public URL.
func (c *Client) FetchAssetURL(ctx context.Context, assetID int64) (string, error) {
	if assetID <= 0 {
		return "", fmt.Errorf("fetch asset %d: %w", assetID, ErrInvalidID)
	}

	query := fmt.Sprintf(`query {
  assets (ids: [%d]) {
    id
    name
    public_url
  }
}`, assetID)

	var data assetsData
	if err := c.execute(ctx, query, &data); err != nil {
		return "", fmt.Errorf("fetch asset %d: %w", assetID, err)
	}

	if len(data.Assets) == 0 {
		return "", nil
	}

	asset := data.Assets[0]
	slog.Debug("resolved monday asset",
		"asset_id", assetID,
		"name", asset.Name,
	)
	return asset.PublicURL, nil
}

// execute posts a GraphQL query and decodes the "data" member into out.
func (c *Client) execute(ctx context.Context, query string, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiVersion != "" {
		req.Header.Set("API-Version", c.apiVersion)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post query: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("monday API returned HTTP %d: %s", resp.StatusCode, truncate(respBody, 256))
	}

	return decodeResponse(respBody, out)
}

func isNumericID(id string) bool {
	if id == "" || len(id) > 19 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return strings.TrimLeft(id, "0") != ""
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
