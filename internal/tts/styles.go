package tts

import (
	"slices"
	"strings"
)

// DefaultStyle is used when a request names no style or an unsupported one.
const DefaultStyle = "cheerful"

// SupportedStyles lists the speaking styles accepted by express-as.
var SupportedStyles = []string{
	"cheerful",
	"lyrical",
	"serious",
	"affectionate",
	"empathetic",
	"documentary-narration",
	"advertisement_upbeat",
	"newscast-casual",
	"newscast-formal",
	"disgruntled",
	"sad",
	"angry",
	"excited",
	"calm",
	"whispering",
	"shouting",
	"terrified",
}

// IsSupportedStyle reports whether style is one of SupportedStyles.
// Matching is case-insensitive.
func IsSupportedStyle(style string) bool {
	return slices.Contains(SupportedStyles, strings.ToLower(strings.TrimSpace(style)))
}

// NormalizeStyle lowercases style and falls back to DefaultStyle when it is
// not supported.
func NormalizeStyle(style string) string {
	style = strings.ToLower(strings.TrimSpace(style))
	if slices.Contains(SupportedStyles, style) {
		return style
	}
	return DefaultStyle
}
