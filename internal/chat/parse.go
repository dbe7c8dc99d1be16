package chat

import (
	"regexp"
	"strings"

	"github.com/loqalabs/loqa-voicechat/internal/tts"
)

var stylePrefix = regexp.MustCompile(`(?s)^\[([^\]]+)\]\s*(.*)$`)

// ParseCommand splits an optional leading "[style]" from the prompt. Unknown
// styles fall back to defaultStyle but the text after the bracket is still
// used as the prompt.
func ParseCommand(raw, defaultStyle string) (style, prompt string) {
	raw = strings.TrimLeft(raw, " \t\r\n")
	style = tts.NormalizeStyle(defaultStyle)
	prompt = raw

	m := stylePrefix.FindStringSubmatch(raw)
	if m == nil {
		return style, strings.TrimSpace(prompt)
	}
	if candidate := strings.ToLower(strings.TrimSpace(m[1])); tts.IsSupportedStyle(candidate) {
		style = candidate
	}
	return style, strings.TrimSpace(m[2])
}
