package assemble

import (
	"regexp"
	"strings"
)

// MathRule is one named rewrite that folds model-emitted LaTeX notation into
// the $...$ / $$...$$ convention.
type MathRule struct {
	Name  string
	Apply func(string) string
}

// DefaultMathRules returns the math rewrites in application order.
func DefaultMathRules() []MathRule {
	return []MathRule{
		{Name: "unescape-doubled-delimiters", Apply: unescapeDoubled},
		{Name: "display-brackets", Apply: displayBrackets},
		{Name: "inline-parens", Apply: inlineParens},
		{Name: "bare-bracket-display", Apply: bareBracketDisplay},
		{Name: "pad-display-blocks", Apply: padDisplayBlocks},
	}
}

// NormalizeMath applies DefaultMathRules outside code spans, fenced code,
// tables and diagram placeholders.
func NormalizeMath(text string) string {
	p := &protector{}
	text = p.protect(text, fencedCodeRe, tableBlockRe, inlineCodeRe, placeholderRe)
	for _, r := range DefaultMathRules() {
		text = r.Apply(text)
	}
	return p.restore(text)
}

var doubledRe = regexp.MustCompile(`\\\\([\[\]()])`)

func unescapeDoubled(s string) string {
	return doubledRe.ReplaceAllString(s, `\$1`)
}

var displayBracketRe = regexp.MustCompile(`(?s)\\\[(.+?)\\\]`)

func displayBrackets(s string) string {
	return displayBracketRe.ReplaceAllStringFunc(s, func(m string) string {
		body := displayBracketRe.FindStringSubmatch(m)[1]
		return "$$" + strings.TrimSpace(body) + "$$"
	})
}

var inlineParenRe = regexp.MustCompile(`\\\((.+?)\\\)`)

func inlineParens(s string) string {
	return inlineParenRe.ReplaceAllStringFunc(s, func(m string) string {
		body := inlineParenRe.FindStringSubmatch(m)[1]
		return "$" + strings.TrimSpace(body) + "$"
	})
}

var bareBracketRe = regexp.MustCompile(`(?m)^[ \t]*\[[ \t]*([^\[\]\n]*\\[A-Za-z]+[^\[\]\n]*?)[ \t]*\][ \t]*$`)

// bareBracketDisplay handles a line holding only "[ \frac{a}{b} ]", which
// models emit when they drop the escaping backslashes.
func bareBracketDisplay(s string) string {
	return bareBracketRe.ReplaceAllStringFunc(s, func(m string) string {
		return "$$" + bareBracketRe.FindStringSubmatch(m)[1] + "$$"
	})
}

var displayBlockRe = regexp.MustCompile(`(?s)\$\$(.+?)\$\$`)

// padDisplayBlocks puts each $$...$$ block in a paragraph of its own.
func padDisplayBlocks(s string) string {
	s = displayBlockRe.ReplaceAllStringFunc(s, func(m string) string {
		return "\n\n" + m + "\n\n"
	})
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimLeft(s, "\n")
}

var blankRunRe = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)

// extractMath swaps math spans for placeholder tokens that survive markdown
// conversion untouched. Code regions are skipped.
func extractMath(text string) (string, []mathSpan) {
	p := &protector{}
	text = p.protect(text, fencedCodeRe, inlineCodeRe)

	var spans []mathSpan
	text = displayBlockRe.ReplaceAllStringFunc(text, func(m string) string {
		spans = append(spans, mathSpan{tex: strings.TrimSpace(m[2 : len(m)-2]), display: true})
		return mathToken(len(spans) - 1)
	})
	text = replaceInlineMath(text, func(tex string) string {
		spans = append(spans, mathSpan{tex: tex})
		return mathToken(len(spans) - 1)
	})
	return p.restore(text), spans
}

type mathSpan struct {
	tex     string
	display bool
}

// replaceInlineMath finds $...$ spans: the opening $ is followed by a
// non-space, the next unescaped $ on the line closes the span and must be
// preceded by a non-space and not followed by a digit. Prices like
// "$5 and $10" stay text.
func replaceInlineMath(text string, fn func(tex string) string) string {
	var b strings.Builder
	i := 0
	for i < len(text) {
		c := text[i]
		if c == '\\' && i+1 < len(text) {
			b.WriteString(text[i : i+2])
			i += 2
			continue
		}
		if c != '$' || i+1 >= len(text) || isSpace(text[i+1]) || text[i+1] == '$' {
			b.WriteByte(c)
			i++
			continue
		}
		end := closingDollar(text, i+1)
		if end < 0 {
			b.WriteByte(c)
			i++
			continue
		}
		b.WriteString(fn(text[i+1 : end]))
		i = end + 1
	}
	return b.String()
}

func closingDollar(text string, from int) int {
	for j := from; j < len(text); j++ {
		switch text[j] {
		case '\n':
			return -1
		case '\\':
			j++
		case '$':
			if isSpace(text[j-1]) {
				return -1
			}
			if j+1 < len(text) && text[j+1] >= '0' && text[j+1] <= '9' {
				return -1
			}
			return j
		}
	}
	return -1
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n'
}
