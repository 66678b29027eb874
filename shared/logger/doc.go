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
Package logger provides structured JSON logging for ToolGate components.

Log entries are written to stdout as single-line JSON so they can be
consumed by CloudWatch, ELK, or any other log aggregation system. Each
entry carries the component name, deployment instance id, container
hostname, the organization id of the request, and an optional request id
for correlation.

Create a logger for your component:

	log := logger.New("gateway")

Log messages with org and request context:

	log.Info("org-123", "req-456", "Tool call dispatched", map[string]interface{}{
	    "tool": "crm.search",
	})

Environment variables:

  - INSTANCE_ID: deployment instance identifier
  - LOG_LEVEL: minimum level to emit (DEBUG, INFO, WARN, ERROR; default INFO)

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
