// Copyright 2025 ToolGate
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package quarantine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// taintKeyPrefix namespaces taint lists in Redis
	taintKeyPrefix = "toolgate:taint:"

	// defaultTaintTTL bounds abandoned-session retention. Refreshed on
	// every append, so an active session never expires mid-conversation.
	defaultTaintTTL = 24 * time.Hour
)

// RedisTracker is a Tracker backed by Redis lists, for deployments where
// multiple gateway instances serve the same sessions. RPUSH/LRANGE keep
// the set append-only and insertion-ordered by construction.
type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTracker connects to Redis and verifies connectivity
func NewRedisTracker(redisURL string) (*RedisTracker, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisTracker{
		client: client,
		ttl:    defaultTaintTTL,
	}, nil
}

// NewRedisTrackerWithClient wraps an existing client (used in tests)
func NewRedisTrackerWithClient(client *redis.Client) *RedisTracker {
	return &RedisTracker{
		client: client,
		ttl:    defaultTaintTTL,
	}
}

func taintKey(sessionID string) string {
	return taintKeyPrefix + sessionID
}

// Record appends an entry to the session's taint list
func (t *RedisTracker) Record(ctx context.Context, sessionID string, entry TaintEntry) error {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal taint entry: %w", err)
	}

	key := taintKey(sessionID)
	pipe := t.client.Pipeline()
	pipe.RPush(ctx, key, payload)
	if t.ttl > 0 {
		pipe.Expire(ctx, key, t.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record taint entry: %w", err)
	}
	return nil
}

// Entries returns the session's taint list in insertion order
func (t *RedisTracker) Entries(ctx context.Context, sessionID string) ([]TaintEntry, error) {
	raw, err := t.client.LRange(ctx, taintKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read taint entries: %w", err)
	}

	entries := make([]TaintEntry, 0, len(raw))
	for _, item := range raw {
		var entry TaintEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("corrupt taint entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// HasTaint reports whether the session has any tainted context
func (t *RedisTracker) HasTaint(ctx context.Context, sessionID string) (bool, error) {
	n, err := t.client.LLen(ctx, taintKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check taint: %w", err)
	}
	return n > 0, nil
}

// Clear discards the session's taint list
func (t *RedisTracker) Clear(ctx context.Context, sessionID string) error {
	if err := t.client.Del(ctx, taintKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear taint: %w", err)
	}
	return nil
}

// Close releases the Redis connection
func (t *RedisTracker) Close() error {
	return t.client.Close()
}
