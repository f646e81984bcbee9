package oscscan

import "strings"

// nonTerminalPatterns match payloads agents emit mid-turn: approval prompts
// and edit-permission requests. These surface while the agent is still
// working, so they must never count as a turn completion.
// Matched case-insensitively with substring semantics.
var nonTerminalPatterns = []string{
	"needs your permission",
	"permission to use",
	"requesting approval",
	"waiting for approval",
	"approval required",
	"wants to edit",
	"would like to edit",
	"requested edits",
}

// Classify reports whether a payload is a turn-completion message.
// Unknown payloads default to terminal; only recognized in-progress prompts
// are excluded.
func Classify(payload string) bool {
	p := strings.ToLower(payload)
	for _, pat := range nonTerminalPatterns {
		if strings.Contains(p, pat) {
			return false
		}
	}
	return true
}
