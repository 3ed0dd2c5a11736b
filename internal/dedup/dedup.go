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

// Package dedup suppresses repeated webhook deliveries using a Redis key
// with a TTL. A delivery is identified by the item id together with the
// delivery id monday.com attaches to each event.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a delivery is remembered.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "provisioner:seen:"
)

// Filter tracks which deliveries have already been processed.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by Redis. A non-positive ttl
// selects DefaultTTL.
func NewFilter(rdb *redis.Client, ttl time.Duration) *Filter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Filter{
		rdb: rdb,
		ttl: ttl,
	}
}

// IsNew returns true if the delivery has NOT been seen before.
// If true, the delivery is marked as seen atomically (SETNX).
func (f *Filter) IsNew(ctx context.Context, itemID, deliveryID string) (bool, error) {
	// SET NX = set only if key does not exist. Returns true if the key was set.
	set, err := f.rdb.SetNX(ctx, Key(itemID, deliveryID), 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}

	return set, nil
}

// Forget releases a delivery so that a redelivery is processed again. It is
// used when provisioning fails after the delivery was marked as seen.
func (f *Filter) Forget(ctx context.Context, itemID, deliveryID string) error {
	if err := f.rdb.Del(ctx, Key(itemID, deliveryID)).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}

// Key returns the Redis key for a delivery.
func Key(itemID, deliveryID string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, itemID, deliveryID)
}
