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

package dedup

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/redis/go-redis/v9"
)

func TestKey(t *testing.T) {
	if got := Key("123", "abc-uuid"); got != "provisioner:seen:123:abc-uuid" {
		t.Errorf("Key = %q", got)
	}
}

// TestNewFilter_DefaultTTL verifies the TTL fallback.
func TestNewFilter_DefaultTTL(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	if f := NewFilter(rdb, 0); f.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", f.ttl, DefaultTTL)
	}
	if f := NewFilter(rdb, time.Hour); f.ttl != time.Hour {
		t.Errorf("ttl = %v, want 1h", f.ttl)
	}
}

// TestFilterAgainstRedis verifies claim, duplicate and release against a
// live server.
func TestFilterAgainstRedis(t *testing.T) {
	url := os.Getenv("PROVISIONER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("set PROVISIONER_TEST_REDIS_URL to run Redis integration tests")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	ctx := context.Background()
	f := NewFilter(rdb, time.Minute)
	item, delivery := "42", uuid.NewString()
	defer rdb.Del(ctx, Key(item, delivery))

	if isNew, err := f.IsNew(ctx, item, delivery); err != nil || !isNew {
		t.Fatalf("first IsNew = %v, %v; want true", isNew, err)
	}
	if isNew, err := f.IsNew(ctx, item, delivery); err != nil || isNew {
		t.Fatalf("second IsNew = %v, %v; want false", isNew, err)
	}
	if ttl := rdb.TTL(ctx, Key(item, delivery)).Val(); ttl <= 0 || ttl > time.Minute {
		t.Errorf("ttl = %v, want within 1m", ttl)
	}
	if err := f.Forget(ctx, item, delivery); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if isNew, err := f.IsNew(ctx, item, delivery); err != nil || !isNew {
		t.Fatalf("IsNew after Forget = %v, %v; want true", isNew, err)
	}
}
