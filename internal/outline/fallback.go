package outline

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/rendis/bookforge/pkg/schema"
)

type templateTitle struct {
	plain   string
	subject string // %s is replaced by the topic
}

var fallbackTemplate = []templateTitle{
	{"Foundations and Core Concepts", "Foundations of %s"},
	{"Historical Background and Context", "The Story Behind %s"},
	{"Key Principles and Terminology", "Key Principles of %s"},
	{"Setting Up and Getting Started", "Getting Started with %s"},
	{"Essential Tools and Techniques", "Essential %s Tools and Techniques"},
	{"Practical Applications", "Practical Applications of %s"},
	{"Working Through Real Examples", "Working Through %s Examples"},
	{"Common Challenges and Pitfalls", "Common %s Pitfalls"},
	{"Best Practices and Patterns", "%s Best Practices"},
	{"Advanced Topics and Techniques", "Advanced %s Techniques"},
	{"Performance and Optimization", "Optimizing %s"},
	{"Troubleshooting and Debugging", "Troubleshooting %s"},
	{"Integration with Other Systems", "Integrating %s with Other Systems"},
	{"Case Studies and Lessons Learned", "%s Case Studies"},
	{"Future Directions and Next Steps", "The Future of %s"},
}

var fallbackSubtopics = []string{
	"Key Concepts and Definitions",
	"Practical Examples",
	"Common Questions and Answers",
}

// Fallback synthesizes a deterministic outline of chapterCount entries.
// Titles carry the topic when it looks like a short proper name. The result
// always satisfies DefaultRule.
func Fallback(topic string, chapterCount int) []schema.ChapterOutlineEntry {
	if chapterCount <= 0 {
		return nil
	}
	named := looksLikeName(topic)
	name := strings.TrimSpace(topic)

	entries := make([]schema.ChapterOutlineEntry, chapterCount)
	for i := range entries {
		var title string
		switch {
		case i < len(fallbackTemplate) && named:
			title = fmt.Sprintf(fallbackTemplate[i].subject, name)
		case i < len(fallbackTemplate):
			title = fallbackTemplate[i].plain
		default:
			title = fmt.Sprintf("Further Topics, Part %d", i-len(fallbackTemplate)+1)
		}
		subs := make([]string, len(fallbackSubtopics))
		copy(subs, fallbackSubtopics)
		entries[i] = schema.ChapterOutlineEntry{Title: title, Subtopics: subs}
	}
	return entries
}

// looksLikeName reports whether topic reads like a product or technology
// name ("Kubernetes", "React Native", "C++") rather than a phrase.
func looksLikeName(topic string) bool {
	words := strings.Fields(topic)
	if len(words) == 0 || len(words) > 3 || len(topic) > 30 {
		return false
	}
	for _, w := range words {
		r := []rune(w)
		if !unicode.IsUpper(r[0]) && !unicode.IsDigit(r[0]) && !strings.ContainsAny(w, "+#.") {
			return false
		}
	}
	return true
}
