package conversations

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxSanitizePasses bounds how many entity layers are unwrapped before giving up.
const maxSanitizePasses = 4

// textSanitizer strips every tag so titles and message bodies are stored as plain text.
type textSanitizer struct {
	policy *bluemonday.Policy
}

func newTextSanitizer() textSanitizer {
	return textSanitizer{policy: bluemonday.StrictPolicy()}
}

// plainText repeats sanitize and unescape until the text stops changing, so escaped
// markup cannot turn back into a tag once its entities are decoded.
func (s textSanitizer) plainText(value string) string {
	for pass := 0; pass < maxSanitizePasses; pass++ {
		next := html.UnescapeString(s.policy.Sanitize(value))
		if next == value {
			return strings.TrimSpace(next)
		}
		value = next
	}
	// Still nested after the last pass: keep the escaped form.
	return strings.TrimSpace(s.policy.Sanitize(value))
}
