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
	"regexp"
	"strings"
)

// DefaultPreviewBudget is the character budget applied when none is configured
const DefaultPreviewBudget = 200

var (
	htmlTagPattern       = regexp.MustCompile(`<[^>]*>`)
	curlyTemplatePattern = regexp.MustCompile(`\{\{[^}]*\}\}`)
	shellTemplatePattern = regexp.MustCompile(`\$\{[^}]*\}`)
	whitespacePattern    = regexp.MustCompile(`\s+`)
)

// SanitizePreview strips common injection vectors from untrusted text and
// truncates it to budget characters.
//
// HTML-like tags and {{...}}/${...} template syntax are removed, whitespace
// runs collapse to a single space, and text over budget is cut at a rune
// boundary with a "..." marker. The result is what reasoning roles see in
// place of raw tool output.
func SanitizePreview(s string, budget int) string {
	if budget <= 0 {
		budget = DefaultPreviewBudget
	}

	s = htmlTagPattern.ReplaceAllString(s, "")
	s = curlyTemplatePattern.ReplaceAllString(s, "")
	s = shellTemplatePattern.ReplaceAllString(s, "")
	s = whitespacePattern.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	runes := []rune(s)
	if len(runes) <= budget {
		return s
	}
	return strings.TrimSpace(string(runes[:budget])) + "..."
}
