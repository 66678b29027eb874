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

/*
Package quarantine implements taint tracking and the dual-LLM evaluation
that protects privileged tool calls from prompt injection.

# Model

Tool output from untrusted sources is recorded per session in a Tracker.
When a privileged tool call arrives on a session with tainted context, the
Evaluator runs two isolated reasoning roles:

  - The Quarantine Analyzer sees the tainted content (sanitized and
    truncated) and produces a structured analysis. It has no tool access
    and its free-text output never reaches the decision stage.
  - The Privileged Decision Maker sees only the sanitized user request and
    the Analyzer's structured fields, never raw tainted content, and
    produces the allow/deny decision.

# Failure semantics

The pipeline fails closed. An Analyzer failure degrades to a conservative
"assume injection" analysis and evaluation continues. A Decision Maker
failure denies the call outright. A session with no tainted context is
allowed immediately with zero model calls.
*/
package quarantine
