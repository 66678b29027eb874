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

package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Audit event types
const (
	AuditEventToolList   = "tool_list"
	AuditEventToolCall   = "tool_call"
	AuditEventQuarantine = "quarantine"
)

// AuditRecord is one audit log entry. Best-effort by contract: recording
// failures are logged and never propagate to the tool call.
type AuditRecord struct {
	ID        string                 `json:"id"`
	EventType string                 `json:"event_type"`
	OrgID     string                 `json:"org_id"`
	AgentID   string                 `json:"agent_id"`
	SessionID string                 `json:"session_id"`
	ToolName  string                 `json:"tool_name,omitempty"`
	Tools     []string               `json:"tools,omitempty"`
	Decision  string                 `json:"decision,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Retries   int                    `json:"-"`
}

// AuditQueue persists audit records asynchronously through a worker pool,
// retrying transient DB failures and falling back to an append-only JSONL
// file when the database stays down.
type AuditQueue struct {
	queue        chan AuditRecord
	workers      int
	wg           sync.WaitGroup
	db           *sql.DB
	fallbackFile *os.File
	mu           sync.Mutex

	processed uint64
	failed    uint64
	queued    uint64
}

// NewAuditQueue creates the queue, bootstraps the audit table, and starts
// the workers
func NewAuditQueue(ctx context.Context, db *sql.DB, queueSize, workers int, fallbackPath string) (*AuditQueue, error) {
	fallbackFile, err := os.OpenFile(fallbackPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open fallback file: %w", err)
	}

	if db != nil {
		createTable := `
			CREATE TABLE IF NOT EXISTS tool_audit_logs (
				id TEXT PRIMARY KEY,
				event_type TEXT NOT NULL,
				org_id TEXT NOT NULL,
				agent_id TEXT NOT NULL,
				session_id TEXT NOT NULL,
				tool_name TEXT,
				tools TEXT[],
				decision TEXT,
				detail JSONB,
				created_at TIMESTAMPTZ NOT NULL
			)
		`
		if _, err := db.ExecContext(ctx, createTable); err != nil {
			_ = fallbackFile.Close()
			return nil, fmt.Errorf("failed to bootstrap audit table: %w", err)
		}
	}

	aq := &AuditQueue{
		queue:        make(chan AuditRecord, queueSize),
		workers:      workers,
		db:           db,
		fallbackFile: fallbackFile,
	}

	for i := 0; i < workers; i++ {
		aq.wg.Add(1)
		go aq.worker(i)
	}

	log.Printf("AuditQueue started with %d workers, fallback: %s", workers, fallbackPath)
	return aq, nil
}

// Record enqueues an audit record. When the queue is full the record goes
// straight to the fallback file so nothing is dropped.
func (aq *AuditQueue) Record(record AuditRecord) {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	select {
	case aq.queue <- record:
		aq.mu.Lock()
		aq.queued++
		aq.mu.Unlock()
		promAuditQueued.Inc()
	default:
		aq.mu.Lock()
		defer aq.mu.Unlock()
		if err := aq.writeToFallback(record); err != nil {
			log.Printf("Audit queue full and fallback failed: %v", err)
		}
	}
}

// worker drains the queue, retrying DB writes with backoff before giving
// up and writing to the fallback file
func (aq *AuditQueue) worker(id int) {
	defer aq.wg.Done()

	for record := range aq.queue {
		var err error
		for retry := 0; retry < 3; retry++ {
			if err = aq.writeToDB(record); err == nil {
				aq.mu.Lock()
				aq.processed++
				aq.mu.Unlock()
				break
			}
			time.Sleep(time.Millisecond * time.Duration(100*(retry+1)))
			record.Retries++
		}

		if err != nil {
			aq.mu.Lock()
			aq.failed++
			if fallbackErr := aq.writeToFallback(record); fallbackErr != nil {
				log.Printf("Worker %d: failed to write audit fallback: %v", id, fallbackErr)
			}
			aq.mu.Unlock()
		}
	}
}

// writeToDB inserts one record
func (aq *AuditQueue) writeToDB(record AuditRecord) error {
	if aq.db == nil {
		return fmt.Errorf("database connection not initialized")
	}

	detailJSON, _ := json.Marshal(record.Detail)

	insertQuery := `
		INSERT INTO tool_audit_logs
			(id, event_type, org_id, agent_id, session_id, tool_name, tools, decision, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := aq.db.Exec(insertQuery,
		record.ID,
		record.EventType,
		record.OrgID,
		record.AgentID,
		record.SessionID,
		record.ToolName,
		pq.Array(record.Tools),
		record.Decision,
		detailJSON,
		record.Timestamp,
	)
	return err
}

// writeToFallback appends one JSONL line and syncs
func (aq *AuditQueue) writeToFallback(record AuditRecord) error {
	promAuditFallback.Inc()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	if _, err := fmt.Fprintf(aq.fallbackFile, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write audit fallback: %w", err)
	}
	return aq.fallbackFile.Sync()
}

// Stats returns queue counters for the metrics endpoint
func (aq *AuditQueue) Stats() (processed, failed, queued uint64) {
	aq.mu.Lock()
	defer aq.mu.Unlock()
	return aq.processed, aq.failed, aq.queued
}

// Shutdown drains the queue, routing anything left to the fallback file
// when the context expires first
func (aq *AuditQueue) Shutdown(ctx context.Context) error {
	log.Println("Shutting down audit queue...")
	close(aq.queue)

	done := make(chan struct{})
	go func() {
		aq.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		aq.mu.Lock()
		defer aq.mu.Unlock()
		log.Printf("Audit queue shutdown complete. Processed: %d, Failed: %d", aq.processed, aq.failed)
		return aq.fallbackFile.Close()
	case <-ctx.Done():
		aq.mu.Lock()
		defer aq.mu.Unlock()
		for record := range aq.queue {
			if err := aq.writeToFallback(record); err != nil {
				log.Printf("Failed to drain audit record to fallback: %v", err)
			}
		}
		_ = aq.fallbackFile.Close()
		return ctx.Err()
	}
}
