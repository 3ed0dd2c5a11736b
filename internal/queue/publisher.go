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

// Package queue publishes provisioning events to a Redis list so downstream
// consumers (notifications, indexing) can react to new project folders.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/provisioner/internal/models"
)

// EventProvisioned is the type of the event emitted after a run completes.
const EventProvisioned = "workspace.provisioned"

// Publisher sends provisioning events to Redis.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a new Redis publisher targeting the specified queue.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// envelope wraps an event for transport.
type envelope struct {
	ID     string                  `json:"id"`
	Type   string                  `json:"type"`
	Source string                  `json:"source"`
	Time   string                  `json:"time"`
	Data   models.ProvisionedEvent `json:"data"`
}

// PublishProvisioned serialises a completed run and pushes it onto the queue.
func (p *Publisher) PublishProvisioned(ctx context.Context, event *models.ProvisionedEvent) error {
	msg, id, err := buildEnvelope(event, time.Now())
	if err != nil {
		return err
	}

	// Consumers BRPOP, so LPUSH keeps the list FIFO.
	if err := p.rdb.LPush(ctx, p.queueName, string(msg)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("published provisioned event",
		"event_id", id,
		"run_id", event.RunID,
		"item_id", event.ItemID,
		"queue", p.queueName,
	)

	return nil
}

func buildEnvelope(event *models.ProvisionedEvent, now time.Time) ([]byte, string, error) {
	id := uuid.New().String()
	msg, err := json.Marshal(envelope{
		ID:     id,
		Type:   EventProvisioned,
		Source: "provisioner",
		Time:   now.UTC().Format(time.RFC3339),
		Data:   *event,
	})
	if err != nil {
		return nil, "", fmt.Errorf("marshal provisioned event: %w", err)
	}
	return msg, id, nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
