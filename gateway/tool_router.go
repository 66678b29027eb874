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
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"toolgate/platform/gateway/quarantine"
	"toolgate/platform/shared/logger"
	"toolgate/platform/shared/types"
)

// Request headers
const (
	headerSessionID         = "X-Session-ID"
	headerConfirmationToken = "X-Confirmation-Token"
)

// QuarantineEvaluator is the router's view of the dual-LLM pipeline
type QuarantineEvaluator interface {
	Evaluate(ctx context.Context, orgID, sessionID, userRequest string) *quarantine.Verdict
}

// Auditor is the router's view of the audit recorder
type Auditor interface {
	Record(record AuditRecord)
}

// ToolRouter serves the tool protocol endpoints
type ToolRouter struct {
	authorizer *Authorizer
	store      CredentialStore
	registry   *ToolRegistry
	executor   Executor
	builtins   *BuiltinTools
	evaluator  QuarantineEvaluator
	tracker    quarantine.Tracker
	audit      Auditor
	confirmer  *ConfirmationSigner
	log        *logger.Logger
}

// NewToolRouter wires the router's collaborators
func NewToolRouter(
	authorizer *Authorizer,
	store CredentialStore,
	registry *ToolRegistry,
	executor Executor,
	builtins *BuiltinTools,
	evaluator QuarantineEvaluator,
	tracker quarantine.Tracker,
	audit Auditor,
	confirmer *ConfirmationSigner,
	log *logger.Logger,
) *ToolRouter {
	return &ToolRouter{
		authorizer: authorizer,
		store:      store,
		registry:   registry,
		executor:   executor,
		builtins:   builtins,
		evaluator:  evaluator,
		tracker:    tracker,
		audit:      audit,
		confirmer:  confirmer,
		log:        log,
	}
}

// RegisterRoutes attaches the tool protocol endpoints
func (tr *ToolRouter) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/agents/{agentID}/tools", tr.handleListTools).Methods("GET")
	r.HandleFunc("/api/agents/{agentID}/tools/call", tr.handleCallTool).Methods("POST")
	r.HandleFunc("/api/agents/{agentID}/sessions/{sessionID}/reset", tr.handleResetSession).Methods("POST")
}

// bearerSecret extracts the credential secret from the Authorization header
func bearerSecret(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// sessionID returns the caller's session id, defaulting to a fresh UUID
// so sessionless callers still get taint isolation
func sessionID(r *http.Request) string {
	if sid := r.Header.Get(headerSessionID); sid != "" {
		return sid
	}
	return uuid.New().String()
}

// handleListTools returns the agent's assigned tools plus the built-ins.
// The assignment is read fresh on every call and the listing is audited
// even when empty.
func (tr *ToolRouter) handleListTools(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	agentID := mux.Vars(r)["agentID"]

	authCtx, err := tr.authorizer.Authorize(r.Context(), agentID, bearerSecret(r))
	if err != nil {
		promAuthDenied.Inc()
		writeProtocolError(w, types.CodeUnauthorized, "unauthorized", http.StatusUnauthorized)
		return
	}

	tools, err := tr.store.ToolsForAgent(r.Context(), agentID)
	if err != nil {
		tr.log.Error(authCtx.OrgID, agentID, "Tool listing failed", map[string]interface{}{"error": err.Error()})
		tr.audit.Record(AuditRecord{
			EventType: AuditEventToolList,
			OrgID:     authCtx.OrgID,
			AgentID:   agentID,
			SessionID: sessionID(r),
			Decision:  "fault",
		})
		writeProtocolError(w, types.CodeInternalError, "internal error", http.StatusInternalServerError)
		return
	}
	tools = append(tools, tr.builtins.Definitions()...)

	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	tr.audit.Record(AuditRecord{
		EventType: AuditEventToolList,
		OrgID:     authCtx.OrgID,
		AgentID:   agentID,
		SessionID: sessionID(r),
		Tools:     names,
	})

	promToolListDuration.Observe(float64(time.Since(start).Milliseconds()))
	writeJSON(w, http.StatusOK, types.ToolListResponse{Tools: tools})
}

// handleCallTool dispatches one tool invocation
func (tr *ToolRouter) handleCallTool(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	agentID := mux.Vars(r)["agentID"]

	var req types.ToolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProtocolError(w, types.CodeInvalidParams, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeProtocolError(w, types.CodeInvalidParams, "tool name is required", http.StatusBadRequest)
		return
	}

	authCtx, err := tr.authorizer.Authorize(r.Context(), agentID, bearerSecret(r))
	if err != nil {
		promAuthDenied.Inc()
		writeProtocolError(w, types.CodeUnauthorized, "unauthorized", http.StatusUnauthorized)
		return
	}

	sid := sessionID(r)
	call := ToolCall{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Arguments: req.Arguments,
		SessionID: sid,
		StartedAt: start,
	}

	// Built-ins bypass taint tracking and quarantine: they never ingest
	// external content
	if IsBuiltinTool(call.Name) {
		resp := tr.builtins.Dispatch(r.Context(), call)
		tr.finishCall(w, authCtx, agentID, call, "builtin", resp, start)
		return
	}

	tool, ok := tr.registry.Get(call.Name)
	if !ok {
		resp := inBandError("unknown tool: " + call.Name)
		tr.finishCall(w, authCtx, agentID, call, "unknown_tool", resp, start)
		return
	}

	if !tr.agentHasTool(r.Context(), agentID, call.Name) {
		resp := inBandError("tool not assigned to agent: " + call.Name)
		tr.finishCall(w, authCtx, agentID, call, "not_assigned", resp, start)
		return
	}

	if tool.Privileged() && !tr.confirmed(r, call) {
		verdict := tr.evaluator.Evaluate(r.Context(), authCtx.OrgID, sid, req.UserRequest)
		tr.recordVerdict(authCtx, agentID, call, verdict)

		if !verdict.IsAllowed {
			resp := tr.denialResponse(w, authCtx, agentID, call, verdict)
			tr.finishCall(w, authCtx, agentID, call, "quarantine_denied", resp, start)
			return
		}
	}

	resp, err := tr.executor.Execute(r.Context(), tool, call, agentID, authCtx)
	if err != nil {
		tr.log.Error(authCtx.OrgID, call.ID, "Tool execution fault", map[string]interface{}{
			"tool":  call.Name,
			"error": err.Error(),
		})
		tr.audit.Record(AuditRecord{
			EventType: AuditEventToolCall,
			OrgID:     authCtx.OrgID,
			AgentID:   agentID,
			SessionID: call.SessionID,
			ToolName:  call.Name,
			Decision:  "fault",
			Detail:    map[string]interface{}{"call_id": call.ID},
		})
		promToolCallsTotal.WithLabelValues("fault").Inc()
		writeProtocolError(w, types.CodeInternalError, "internal error", http.StatusInternalServerError)
		return
	}

	// External-origin content from untrusted tools taints the session
	if tool.Trust == TrustUntrusted && len(resp.Content) > 0 {
		entry := quarantine.TaintEntry{
			ToolName: call.Name,
			Reason:   "untrusted tool output",
			Output:   flattenContent(resp.Content),
		}
		if err := tr.tracker.Record(r.Context(), sid, entry); err != nil {
			tr.log.Error(authCtx.OrgID, call.ID, "Taint recording failed", map[string]interface{}{
				"tool":  call.Name,
				"error": err.Error(),
			})
		}
	}

	decision := "success"
	if resp.IsError {
		decision = "error"
	}
	tr.finishCall(w, authCtx, agentID, call, decision, resp, start)
}

// handleResetSession clears the session's taint set. Explicit reset is the
// only path that discards taint.
func (tr *ToolRouter) handleResetSession(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	agentID := vars["agentID"]
	sid := vars["sessionID"]

	authCtx, err := tr.authorizer.Authorize(r.Context(), agentID, bearerSecret(r))
	if err != nil {
		promAuthDenied.Inc()
		writeProtocolError(w, types.CodeUnauthorized, "unauthorized", http.StatusUnauthorized)
		return
	}

	if err := tr.tracker.Clear(r.Context(), sid); err != nil {
		tr.log.Error(authCtx.OrgID, sid, "Session reset failed", map[string]interface{}{"error": err.Error()})
		writeProtocolError(w, types.CodeInternalError, "internal error", http.StatusInternalServerError)
		return
	}

	tr.audit.Record(AuditRecord{
		EventType: AuditEventQuarantine,
		OrgID:     authCtx.OrgID,
		AgentID:   agentID,
		SessionID: sid,
		Decision:  "session_reset",
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// agentHasTool checks the agent's fresh tool assignment
func (tr *ToolRouter) agentHasTool(ctx context.Context, agentID, toolName string) bool {
	tools, err := tr.store.ToolsForAgent(ctx, agentID)
	if err != nil {
		tr.log.Error("", agentID, "Tool assignment check failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	for _, tool := range tools {
		if tool.Name == toolName {
			return true
		}
	}
	return false
}

// confirmed reports whether the request carries a valid confirmation token
// for exactly this call
func (tr *ToolRouter) confirmed(r *http.Request, call ToolCall) bool {
	token := r.Header.Get(headerConfirmationToken)
	if token == "" || tr.confirmer == nil {
		return false
	}
	return tr.confirmer.Verify(token, call.SessionID, mux.Vars(r)["agentID"], call.Name, call.Arguments)
}

// denialResponse renders a quarantine denial as in-band error content,
// attaching a confirmation token when the decision asks for one
func (tr *ToolRouter) denialResponse(w http.ResponseWriter, authCtx *AuthorizationContext, agentID string, call ToolCall, verdict *quarantine.Verdict) *types.ToolCallResponse {
	blocks := []types.ContentBlock{types.TextBlock(verdict.DenyReason)}
	if verdict.SuggestedAction != "" {
		blocks = append(blocks, types.TextBlock("suggested action: "+verdict.SuggestedAction))
	}

	if verdict.RequiresUserConfirmation && tr.confirmer != nil {
		token, err := tr.confirmer.Issue(call.SessionID, agentID, call.Name, call.Arguments)
		if err != nil {
			tr.log.Error(authCtx.OrgID, call.ID, "Failed to issue confirmation token", map[string]interface{}{"error": err.Error()})
		} else {
			w.Header().Set(headerConfirmationToken, token)
			blocks = append(blocks, types.TextBlock("user confirmation required; retry with the issued confirmation token"))
		}
	}

	return &types.ToolCallResponse{Content: blocks, IsError: true}
}

// recordVerdict audits a quarantine evaluation
func (tr *ToolRouter) recordVerdict(authCtx *AuthorizationContext, agentID string, call ToolCall, verdict *quarantine.Verdict) {
	decision := "allowed"
	if !verdict.IsAllowed {
		decision = "denied"
	}
	promQuarantineVerdicts.WithLabelValues(decision).Inc()

	detail := map[string]interface{}{
		"model_calls": verdict.ModelCalls,
	}
	if verdict.Analysis != nil {
		detail["has_prompt_injection"] = verdict.Analysis.HasPromptInjection
		detail["injection_type"] = verdict.Analysis.InjectionType
		detail["confidence"] = verdict.Analysis.Confidence
	}
	if verdict.DenyReason != "" {
		detail["deny_reason"] = verdict.DenyReason
	}

	tr.audit.Record(AuditRecord{
		EventType: AuditEventQuarantine,
		OrgID:     authCtx.OrgID,
		AgentID:   agentID,
		SessionID: call.SessionID,
		ToolName:  call.Name,
		Decision:  decision,
		Detail:    detail,
	})
}

// finishCall audits, records metrics, and writes the response envelope
func (tr *ToolRouter) finishCall(w http.ResponseWriter, authCtx *AuthorizationContext, agentID string, call ToolCall, decision string, resp *types.ToolCallResponse, start time.Time) {
	tr.audit.Record(AuditRecord{
		EventType: AuditEventToolCall,
		OrgID:     authCtx.OrgID,
		AgentID:   agentID,
		SessionID: call.SessionID,
		ToolName:  call.Name,
		Decision:  decision,
		Detail: map[string]interface{}{
			"call_id":  call.ID,
			"is_error": resp.IsError,
		},
	})

	status := "success"
	if resp.IsError {
		status = "error"
	}
	promToolCallsTotal.WithLabelValues(status).Inc()
	promToolCallDuration.WithLabelValues(decision).Observe(float64(time.Since(start).Milliseconds()))

	writeJSON(w, http.StatusOK, resp)
}

// inBandError wraps a message as an in-band tool error
func inBandError(message string) *types.ToolCallResponse {
	return &types.ToolCallResponse{
		Content: []types.ContentBlock{types.TextBlock(message)},
		IsError: true,
	}
}

// writeProtocolError writes a protocol-level fault. Internal faults always
// carry the fixed internal_error code and a message with no stack traces
// or secret material.
func writeProtocolError(w http.ResponseWriter, code, message string, status int) {
	writeJSON(w, status, types.ErrorResponse{
		Error: types.ProtocolError{Code: code, Message: message},
	})
}

// writeJSON writes v as a JSON response
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
