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
	"sync"
	"time"
)

// TaintEntry records one piece of untrusted content a session has ingested
type TaintEntry struct {
	ToolName   string    `json:"tool_name"`
	Reason     string    `json:"reason"`
	Output     string    `json:"output"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Tracker stores per-session tainted context.
//
// Implementations must preserve insertion order, never mutate recorded
// entries, and only discard them on an explicit Clear. Once a session has
// tainted context it stays tainted until cleared.
type Tracker interface {
	// Record appends an entry to the session's taint set.
	Record(ctx context.Context, sessionID string, entry TaintEntry) error

	// Entries returns the session's taint set in insertion order.
	// A session with no recorded taint returns an empty slice.
	Entries(ctx context.Context, sessionID string) ([]TaintEntry, error)

	// HasTaint reports whether the session has any tainted context.
	HasTaint(ctx context.Context, sessionID string) (bool, error)

	// Clear discards the session's taint set. Used on explicit session
	// reset only, never as a side effect of evaluation.
	Clear(ctx context.Context, sessionID string) error
}

// sessionTaint is one session's append-only arena. Each session carries its
// own mutex so concurrent appends serialize per session, not globally.
type sessionTaint struct {
	mu      sync.Mutex
	entries []TaintEntry
}

// MemoryTracker is the single-instance in-memory Tracker
type MemoryTracker struct {
	mu       sync.RWMutex
	sessions map[string]*sessionTaint
}

// NewMemoryTracker creates an empty in-memory tracker
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		sessions: make(map[string]*sessionTaint),
	}
}

// session returns the arena for sessionID, creating it if needed
func (t *MemoryTracker) session(sessionID string) *sessionTaint {
	t.mu.RLock()
	s, ok := t.sessions[sessionID]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[sessionID]; ok {
		return s
	}
	s = &sessionTaint{}
	t.sessions[sessionID] = s
	return s
}

// Record appends an entry to the session's taint set
func (t *MemoryTracker) Record(ctx context.Context, sessionID string, entry TaintEntry) error {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}

	s := t.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a copy of the session's taint set in insertion order
func (t *MemoryTracker) Entries(ctx context.Context, sessionID string) ([]TaintEntry, error) {
	t.mu.RLock()
	s, ok := t.sessions[sessionID]
	t.mu.RUnlock()
	if !ok {
		return []TaintEntry{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaintEntry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// HasTaint reports whether the session has any tainted context
func (t *MemoryTracker) HasTaint(ctx context.Context, sessionID string) (bool, error) {
	t.mu.RLock()
	s, ok := t.sessions[sessionID]
	t.mu.RUnlock()
	if !ok {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries) > 0, nil
}

// Clear discards the session's taint set
func (t *MemoryTracker) Clear(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
	return nil
}
