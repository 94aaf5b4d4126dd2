package pipeline

import (
	"strings"
	"unicode/utf8"
)

// DefaultContextLimit caps the running-context summary carried between chapters.
const DefaultContextLimit = 600

// summarize derives the running context for the next chapter: the chapter
// title followed by the closing prose paragraph, cut to limit bytes on a word
// boundary.
func summarize(title, text string, limit int) string {
	if limit <= 0 {
		limit = DefaultContextLimit
	}
	para := lastProse(text)
	out := title
	if para != "" {
		out = title + ": " + para
	}
	if len(out) <= limit {
		return out
	}
	cut := out[:limit]
	for !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	if i := strings.LastIndexAny(cut, " \n"); i > limit/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:") + "..."
}

// lastProse returns the last paragraph that is not a heading, list, table,
// quote or code.
func lastProse(text string) string {
	var (
		paras   []string
		inFence bool
	)
	for _, block := range strings.Split(text, "\n\n") {
		trimmed := strings.TrimSpace(block)
		if strings.Count(trimmed, "```")%2 == 1 {
			inFence = !inFence
			continue
		}
		if inFence || trimmed == "" || strings.HasPrefix(trimmed, "```") {
			continue
		}
		switch trimmed[0] {
		case '#', '|', '>', '-', '*', '$':
			continue
		}
		paras = append(paras, strings.Join(strings.Fields(trimmed), " "))
	}
	if len(paras) == 0 {
		return ""
	}
	return paras[len(paras)-1]
}
