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

// Package gateway implements the ToolGate tool gateway: the single entry
// point AI agents use to discover and invoke tools.
//
// Every request is authorized against a layered credential model
// (organization, team, and user tokens) backed by PostgreSQL, with
// authorization state read fresh on every call so revocation takes effect
// immediately. Tool results from untrusted sources are recorded as session
// taint; before a privileged (action-capability) tool runs in a tainted
// session, the quarantine subpackage's dual-LLM pipeline evaluates the
// call and the gateway denies it unless the evaluation allows it.
//
// Replies use a two-channel error model: in-band tool failures travel in
// the normal response envelope with isError set, while protocol faults
// (bad auth, malformed requests, gateway errors) are reported as
// ErrorResponse with an HTTP error status.
package gateway
