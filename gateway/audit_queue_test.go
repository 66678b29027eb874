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
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuditQueue(t *testing.T, mockSetup func(sqlmock.Sqlmock), queueSize, workers int) (*AuditQueue, string) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS tool_audit_logs").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if mockSetup != nil {
		mockSetup(mock)
	}

	fallbackPath := filepath.Join(t.TempDir(), "audit-fallback.jsonl")
	aq, err := NewAuditQueue(context.Background(), db, queueSize, workers, fallbackPath)
	require.NoError(t, err)
	return aq, fallbackPath
}

func readFallbackRecords(t *testing.T, path string) []AuditRecord {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = file.Close() }()

	var records []AuditRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record AuditRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
		records = append(records, record)
	}
	require.NoError(t, scanner.Err())
	return records
}

func TestAuditQueueWritesToDB(t *testing.T) {
	aq, fallbackPath := newTestAuditQueue(t, func(mock sqlmock.Sqlmock) {
		mock.ExpectExec("INSERT INTO tool_audit_logs").
			WillReturnResult(sqlmock.NewResult(1, 1))
	}, 10, 1)

	aq.Record(AuditRecord{
		EventType: AuditEventToolCall,
		OrgID:     "org-a",
		AgentID:   "agent-1",
		SessionID: "sess-1",
		ToolName:  "search_docs",
		Decision:  "success",
		Tools:     []string{"search_docs"},
	})

	require.Eventually(t, func() bool {
		processed, _, _ := aq.Stats()
		return processed == 1
	}, 2*time.Second, 10*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, aq.Shutdown(shutdownCtx))

	assert.Empty(t, readFallbackRecords(t, fallbackPath))
}

func TestAuditQueueFallsBackWhenDBFails(t *testing.T) {
	aq, fallbackPath := newTestAuditQueue(t, func(mock sqlmock.Sqlmock) {
		for i := 0; i < 3; i++ {
			mock.ExpectExec("INSERT INTO tool_audit_logs").
				WillReturnError(assert.AnError)
		}
	}, 10, 1)

	aq.Record(AuditRecord{
		EventType: AuditEventQuarantine,
		OrgID:     "org-a",
		AgentID:   "agent-1",
		SessionID: "sess-1",
		Decision:  "denied",
	})

	require.Eventually(t, func() bool {
		_, failed, _ := aq.Stats()
		return failed == 1
	}, 5*time.Second, 10*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, aq.Shutdown(shutdownCtx))

	records := readFallbackRecords(t, fallbackPath)
	require.Len(t, records, 1)
	assert.Equal(t, "denied", records[0].Decision)
	assert.NotEmpty(t, records[0].ID)
	assert.False(t, records[0].Timestamp.IsZero())
}

func TestAuditQueueFullGoesToFallback(t *testing.T) {
	// No workers, queue capacity of one: the second record cannot enqueue
	aq, fallbackPath := newTestAuditQueue(t, nil, 1, 0)

	aq.Record(AuditRecord{EventType: AuditEventToolCall, OrgID: "org-a", AgentID: "agent-1", SessionID: "s"})
	aq.Record(AuditRecord{EventType: AuditEventToolCall, OrgID: "org-a", AgentID: "agent-1", SessionID: "s"})

	records := readFallbackRecords(t, fallbackPath)
	assert.Len(t, records, 1)
}

func TestAuditQueueAssignsIDAndTimestamp(t *testing.T) {
	aq, fallbackPath := newTestAuditQueue(t, nil, 1, 0)

	aq.Record(AuditRecord{EventType: AuditEventToolCall, OrgID: "org-a", AgentID: "agent-1", SessionID: "s"})
	aq.Record(AuditRecord{EventType: AuditEventToolCall, OrgID: "org-a", AgentID: "agent-1", SessionID: "s"})

	records := readFallbackRecords(t, fallbackPath)
	require.Len(t, records, 1)
	assert.NotEmpty(t, records[0].ID)
	assert.WithinDuration(t, time.Now().UTC(), records[0].Timestamp, time.Minute)
}
