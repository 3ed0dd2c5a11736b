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

package monday

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bcem/provisioner/internal/models"
)

type graphQLRequest struct {
	Query string `json:"query"`
}

// graphQLResponse is the envelope monday.com wraps every answer in. Errors
// arrive either as a GraphQL "errors" array or as the legacy
// "error_message" field.
type graphQLResponse struct {
	Data         json.RawMessage `json:"data"`
	Errors       []graphQLError  `json:"errors"`
	ErrorCode    string          `json:"error_code"`
	ErrorMessage string          `json:"error_message"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type itemsData struct {
	Items []models.Item `json:"items"`
}

type assetsData struct {
	Assets []asset `json:"assets"`
}

type asset struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	PublicURL string `json:"public_url"`
}

// decodeResponse unwraps the GraphQL envelope into out.
func decodeResponse(body []byte, out any) error {
	var env graphQLResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if len(env.Errors) > 0 {
		msgs := make([]string, len(env.Errors))
		for i, e := range env.Errors {
			msgs[i] = e.Message
		}
		return fmt.Errorf("graphql errors: %s", strings.Join(msgs, "; "))
	}
	if env.ErrorMessage != "" {
		return fmt.Errorf("monday error %s: %s", env.ErrorCode, env.ErrorMessage)
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("response has no data")
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
