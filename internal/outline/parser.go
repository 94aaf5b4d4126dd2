// Package outline turns generated table-of-contents text into chapter
// entries, decides whether an outline is acceptable, and synthesizes a
// fallback when the model never produces one.
package outline

import (
	"regexp"
	"strings"

	"github.com/rendis/bookforge/pkg/schema"
)

// MinSubtopics is the fewest subtopics an entry needs to survive parsing.
const MinSubtopics = 3

const minTitleLength = 10

var (
	chapterLineRe = regexp.MustCompile(`(?i)^\s*(?:#{1,6}\s*)?\**\s*chapter\s+\d+\s*\**\s*[:.\-–—]?\s*(.*)$`)
	enumLineRe    = regexp.MustCompile(`^(?:#{1,6}\s*)?(?:\d+[.):]|[-*•])\s+(.+)$`)
	subLineRe     = regexp.MustCompile(`^(?:[ \t]+(?:[-*•+]|\d+(?:\.\d+)*[.)]?|[a-zA-Z][.)])|[ \t]*\d+(?:\.\d+)+[.)]?)\s+(.+)$`)
	numberingRe   = regexp.MustCompile(`^\d+(?:\.\d+)*[.)]\s+`)
)

var genericTitles = map[string]bool{
	"introduction": true,
	"chapter":      true,
	"overview":     true,
	"conclusion":   true,
	"basics":       true,
}

var fillerSubtopics = map[string]bool{
	"subtopic": true,
	"section":  true,
	"part":     true,
}

// Parser extracts chapter entries from cleaned outline text.
type Parser struct {
	// MaxChapters truncates the result; zero keeps every entry.
	MaxChapters int
}

// NewParser returns a parser keeping at most maxChapters entries.
func NewParser(maxChapters int) *Parser {
	return &Parser{MaxChapters: maxChapters}
}

// Parse scans text line by line. "Chapter N: Title" lines and unindented
// enumerated lines open a new entry; indented bullets and dotted numbers
// such as "1.2" become subtopics of the open entry. Entries with fewer than MinSubtopics subtopics are dropped.
func (p *Parser) Parse(text string) []schema.ChapterOutlineEntry {
	var (
		entries []schema.ChapterOutlineEntry
		current *schema.ChapterOutlineEntry
	)
	flush := func() {
		if current != nil {
			entries = append(entries, *current)
			current = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		if title, ok := titleCandidate(line); ok {
			flush()
			if title = cleanTitle(title); acceptableTitle(title) {
				current = &schema.ChapterOutlineEntry{Title: title}
			}
			continue
		}

		if m := subLineRe.FindStringSubmatch(line); m != nil && current != nil {
			if sub := cleanSubtopic(m[1]); acceptableSubtopic(sub) {
				current.Subtopics = append(current.Subtopics, sub)
			}
		}
	}
	flush()

	kept := entries[:0]
	for _, e := range entries {
		if len(e.Subtopics) >= MinSubtopics {
			kept = append(kept, e)
		}
	}
	if p.MaxChapters > 0 && len(kept) > p.MaxChapters {
		kept = kept[:p.MaxChapters]
	}
	return kept
}

func titleCandidate(line string) (string, bool) {
	if m := chapterLineRe.FindStringSubmatch(line); m != nil {
		return m[1], true
	}
	if line[0] == ' ' || line[0] == '\t' {
		return "", false
	}
	if m := enumLineRe.FindStringSubmatch(line); m != nil {
		return m[1], true
	}
	return "", false
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*_#")
	s = numberingRe.ReplaceAllString(strings.TrimSpace(s), "")
	s = strings.TrimRight(s, " \t:-–—*_")
	return strings.TrimSpace(s)
}

func acceptableTitle(s string) bool {
	return len(s) >= minTitleLength && !genericTitles[strings.ToLower(s)]
}

func cleanSubtopic(s string) string {
	s = strings.Trim(strings.TrimSpace(s), "*_")
	return strings.TrimSpace(strings.TrimRight(s, " \t:-–—*_"))
}

func acceptableSubtopic(s string) bool {
	if len(s) < 3 {
		return false
	}
	word := strings.ToLower(strings.TrimRight(s, " 0123456789.:"))
	return !fillerSubtopics[word]
}
