// Package textclean normalizes model-generated markdown before it is parsed
// or stored. Each rule is a small pure transform, applied in a fixed order.
package textclean

import (
	"regexp"
	"strings"
)

// Rule is one named text transform.
type Rule struct {
	Name  string
	Apply func(string) string
}

// Cleaner applies its rules in order until the text stops changing.
type Cleaner struct {
	rules []Rule
}

// New returns a Cleaner with the given rules.
func New(rules ...Rule) *Cleaner {
	return &Cleaner{rules: rules}
}

// Default returns a Cleaner with DefaultRules.
func Default() *Cleaner {
	return New(DefaultRules()...)
}

// Rules returns the cleaner's rule names in application order.
func (c *Cleaner) Rules() []string {
	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.Name
	}
	return names
}

// Clean applies every rule and trims surrounding blank space, repeating while
// a pass still changes the text. Each rule is idempotent on its own; a second
// pass only runs when an earlier rule exposed a preamble, and passes after the
// first only remove text, so the loop terminates.
func (c *Cleaner) Clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	for {
		next := text
		for _, r := range c.rules {
			next = r.Apply(next)
		}
		next = strings.TrimSpace(next)
		if next == text {
			break
		}
		text = next
	}
	return text
}

var defaultCleaner = Default()

// Clean runs the default rules.
func Clean(text string) string {
	return defaultCleaner.Clean(text)
}

// DefaultRules returns the standard cleanup rules in application order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "strip-preamble", Apply: StripPreamble},
		{Name: "strip-structural-html", Apply: StripStructuralHTML},
		{Name: "strip-toc-label", Apply: StripTOCLabel},
		{Name: "split-number-word", Apply: SplitNumberWord},
		{Name: "collapse-blank-lines", Apply: CollapseBlankLines},
		{Name: "normalize-dashes", Apply: NormalizeDashes},
		{Name: "trim-line-ends", Apply: TrimLineEnds},
	}
}

var (
	greetingRe = regexp.MustCompile(`(?i)^[\s*_#>]*(?:(?:hello|hi|hey|greetings)\b|(?:sure|certainly|absolutely|of course|okay|ok|alright|great question)(?:[ \t]+thing)?[ \t]*[!,.:;]|(?:sure|certainly|absolutely|of course)[ \t]*$|i(?:'|’)d be happy\b|i would be happy\b|happy to help\b)`)
	leadInRe   = regexp.MustCompile(`(?i)^[\s*_#>]*(?:here(?:'|’)s|here is|here are|below is|below are)\b`)
	addressRe  = regexp.MustCompile(`(?i)\byour?\b|\brequested\b`)
)

// isPreambleLine reports whether line is a conversational opener. "Here
// is/are" and "Below is" lines only count when they talk to the reader or
// introduce what follows with a colon.
func isPreambleLine(line string) bool {
	line = strings.TrimSpace(line)
	if greetingRe.MatchString(line) {
		return true
	}
	if !leadInRe.MatchString(line) {
		return false
	}
	return strings.HasSuffix(strings.TrimRight(line, "*_ "), ":") || addressRe.MatchString(line)
}

// StripPreamble removes the leading run of greeting-style paragraphs. A
// paragraph goes up to the next blank line; a greeting line with no blank
// line after it goes alone. Stripping stops at the first line that is not a
// preamble, so the result never starts with one.
func StripPreamble(text string) string {
	rest := text
	stripped := false
	for {
		trimmed := strings.TrimLeft(rest, " \t\n")
		first, _, _ := strings.Cut(trimmed, "\n")
		if trimmed == "" || !isPreambleLine(first) {
			break
		}
		stripped = true
		if _, after, ok := strings.Cut(trimmed, "\n\n"); ok {
			rest = after
			continue
		}
		_, rest, _ = strings.Cut(trimmed, "\n")
	}
	if !stripped {
		return text
	}
	return rest
}

var structuralTagRe = regexp.MustCompile(`(?i)</?(?:header|footer|figure|figcaption)\b[^>]*>`)

// StripStructuralHTML removes header/footer/figure/figcaption tags, keeping their content.
func StripStructuralHTML(text string) string {
	return structuralTagRe.ReplaceAllString(text, "")
}

var tocLabelRe = regexp.MustCompile(`(?mi)^[ \t]*(?:#{1,6}[ \t]*)?\**[ \t]*table of contents[ \t]*\**:?[ \t]*\**[ \t]*(?:\n|$)`)

// StripTOCLabel removes bare "Table of Contents" heading lines. What follows is kept.
func StripTOCLabel(text string) string {
	return tocLabelRe.ReplaceAllString(text, "")
}

var numberWordRe = regexp.MustCompile(`\b(\d+)([A-Za-z]{4,})`)

// SplitNumberWord repairs collisions like "10Concepts". Short suffixes such
// as 2nd, 3D or 100ms are left alone, and fenced code is not touched.
func SplitNumberWord(text string) string {
	return outsideFences(text, func(line string) string {
		return numberWordRe.ReplaceAllString(line, "$1 $2")
	})
}

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// CollapseBlankLines folds three or more consecutive newlines into two.
func CollapseBlankLines(text string) string {
	return blankRunRe.ReplaceAllString(text, "\n\n")
}

var dashReplacer = strings.NewReplacer("—", "-", "–", "-")

// NormalizeDashes turns en and em dashes into hyphens.
func NormalizeDashes(text string) string {
	return dashReplacer.Replace(text)
}

// TrimLineEnds drops trailing whitespace and dangling asterisks from each
// line. A trailing asterisk run that closes emphasis opened on the same line
// is kept, as are horizontal rules.
func TrimLineEnds(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = trimLineEnd(line)
	}
	return strings.Join(lines, "\n")
}

func trimLineEnd(line string) string {
	for {
		line = strings.TrimRight(line, " \t")
		if !strings.HasSuffix(line, "*") || strings.Trim(line, "* \t") == "" {
			return line
		}
		if strings.Count(line, "*")%2 == 0 {
			return line
		}
		line = strings.TrimRight(line, "*")
	}
}

// outsideFences applies fn to every line not inside a ``` fenced block.
func outsideFences(text string, fn func(string) string) string {
	lines := strings.Split(text, "\n")
	inFence := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if !inFence {
			lines[i] = fn(line)
		}
	}
	return strings.Join(lines, "\n")
}
