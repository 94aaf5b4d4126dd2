package textclean

import (
	"regexp"
	"strings"
)

var leadingHeadingRe = regexp.MustCompile(`(?i)^#{1,6}[ \t]+(?:chapter[ \t]+\d+[ \t]*[:.\-][ \t]*)?(.+?)[ \t]*$`)

// CleanChapter cleans a generated chapter and drops a leading heading that
// merely repeats the chapter title, since the assembler adds its own.
func CleanChapter(text, title string) string {
	text = Clean(text)
	first, rest, _ := strings.Cut(text, "\n")
	m := leadingHeadingRe.FindStringSubmatch(strings.TrimSpace(first))
	if m == nil || !sameTitle(m[1], title) {
		return text
	}
	return strings.TrimSpace(rest)
}

func sameTitle(a, b string) bool {
	norm := func(s string) string {
		s = strings.ToLower(strings.Trim(s, " *_:"))
		return strings.Join(strings.Fields(s), " ")
	}
	return norm(a) != "" && norm(a) == norm(b)
}
