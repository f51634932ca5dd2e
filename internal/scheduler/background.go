package scheduler

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/antigravity-gateway/gateway/internal/domain"
)

// titlePromptFingerprints are known prefixes of the short, throwaway
// title/summary-generation prompts client IDEs send constantly. Matching is case-insensitive and checks only the first user turn's
// text, which matches if it starts with or contains a fingerprint;
// later turns are not searched.
var titlePromptFingerprints = []string{
	"write a 5-10 word title",
	"write a 5–10 word title",
	"concise summary of",
	"prompt suggestion generator",
	"summarize the following conversation",
	"generate a short title",
	"generate a concise title",
	"create a short, descriptive title",
	"what would be a good title",
	"title for this conversation",
	"briefly summarize",
	"in one sentence, summarize",
	"give this chat a title",
	"suggest a title",
	"short title for the following",
}

// IsBackgroundTask applies the background-task heuristic: a
// Claude-style haiku model family, a known title/summary prompt
// prefix, or a single-turn system+user request with a small max_tokens
// budget.
func IsBackgroundTask(req domain.CanonicalRequest) bool {
	if strings.Contains(strings.ToLower(req.ClientModel), "haiku") {
		return true
	}
	if matchesTitlePrompt(req) {
		return true
	}
	if req.MaxTokens > 0 && req.MaxTokens <= 64 && isSingleTurnSystemUser(req) {
		return true
	}
	return false
}

func matchesTitlePrompt(req domain.CanonicalRequest) bool {
	text := firstUserText(req)
	if text == "" {
		return false
	}
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, fp := range titlePromptFingerprints {
		if strings.HasPrefix(lower, fp) || strings.Contains(lower, fp) {
			return true
		}
	}
	return false
}

func firstUserText(req domain.CanonicalRequest) string {
	for _, m := range req.Messages {
		if m.Role != domain.RoleUser {
			continue
		}
		var b strings.Builder
		for _, p := range m.Parts {
			if p.Kind == domain.PartText {
				b.WriteString(p.Text)
			}
		}
		return b.String()
	}
	return ""
}

// isSingleTurnSystemUser reports whether the request is shaped like a
// one-shot query: an optional system prompt plus exactly one user turn,
// no prior assistant turns.
func isSingleTurnSystemUser(req domain.CanonicalRequest) bool {
	userTurns := 0
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleUser:
			userTurns++
		case domain.RoleModel:
			return false
		}
	}
	return userTurns == 1
}

// Fingerprint computes the 256-bit session fingerprint over the
// canonicalized prefix of the client's message history: every message
// but the final user turn, role plus textual content only. It's stable across process restarts because it's a pure
// function of the request content, not any in-memory counter.
func Fingerprint(req domain.CanonicalRequest) string {
	prefix := req.Messages
	if n := len(prefix); n > 0 {
		prefix = prefix[:n-1]
	}
	h := sha256.New()
	h.Write([]byte(req.System))
	h.Write([]byte{0})
	for _, m := range prefix {
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		for _, p := range m.Parts {
			if p.Kind == domain.PartText {
				h.Write([]byte(p.Text))
			}
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
