package diagram

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	fenceRe   = regexp.MustCompile("(?m)^[ \\t]*```mermaid[ \\t]*\\n((?s:.*?))\\n[ \\t]*```[ \\t]*$")
	captionRe = regexp.MustCompile(`^[ \t]*[*_]*[ \t]*(?i:figure|fig\.|caption)[ \t]*[\d.]*[ \t]*[:.\-–—]?[ \t]*(.*?)[ \t]*[*_]*[ \t]*$`)
)

// FindBlocks returns the mermaid blocks of text in order. IDs are
// "<scope>-<n>", or "<n>" without a scope.
func FindBlocks(text, scope string) []Block {
	var blocks []Block
	for i, m := range fenceRe.FindAllStringSubmatchIndex(text, -1) {
		b := Block{
			Source: text[m[2]:m[3]],
			start:  m[0],
			end:    m[1],
		}
		if scope != "" {
			b.ID = fmt.Sprintf("%s-%d", scope, i+1)
		} else {
			b.ID = fmt.Sprintf("%d", i+1)
		}

		// A caption must sit on the line right after the closing fence.
		if rest := text[b.end:]; strings.HasPrefix(rest, "\n") {
			line, _, _ := strings.Cut(rest[1:], "\n")
			if cm := captionRe.FindStringSubmatch(line); cm != nil {
				b.Caption = strings.TrimSpace(cm[1])
				b.end += 1 + len(line)
			}
		}
		blocks = append(blocks, b)
	}
	return blocks
}

// RepairRule is one deterministic fix for diagram syntax models often get wrong.
type RepairRule struct {
	Name  string
	Apply func(string) string
}

// DefaultRepairs returns the repair rules in application order.
func DefaultRepairs() []RepairRule {
	return []RepairRule{
		{Name: "normalize-quotes", Apply: normalizeQuotes},
		{Name: "quote-paren-labels", Apply: quoteParenLabels},
		{Name: "drop-dangling-edges", Apply: dropDanglingEdges},
	}
}

// Repair applies DefaultRepairs to source.
func Repair(source string) string {
	for _, r := range DefaultRepairs() {
		source = r.Apply(source)
	}
	return strings.TrimSpace(source)
}

var quoteReplacer = strings.NewReplacer("\r\n", "\n", "“", `"`, "”", `"`, "‘", "'", "’", "'")

func normalizeQuotes(s string) string {
	return quoteReplacer.Replace(s)
}

var bracketLabelRe = regexp.MustCompile(`([\w-]+)(\[|\{)([^\[\]{}"]*[()][^\[\]{}"]*)(\]|\})`)

// quoteParenLabels wraps node labels containing parentheses in quotes:
// A[Load (cached)] becomes A["Load (cached)"]. Shape syntax such as
// A[(db)] is left alone.
func quoteParenLabels(s string) string {
	return bracketLabelRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := bracketLabelRe.FindStringSubmatch(m)
		id, open, label, closing := sub[1], sub[2], sub[3], sub[4]
		if (open == "[") != (closing == "]") {
			return m
		}
		if strings.HasPrefix(label, "(") && strings.HasSuffix(label, ")") {
			return m
		}
		return id + open + `"` + label + `"` + closing
	})
}

var danglingEdgeRe = regexp.MustCompile(`(?m)[ \t]*(?:-->|---|==>|-\.->)(?:\|[^|]*\|)?[ \t]*;?[ \t]*$`)

// dropDanglingEdges removes edge arrows that point at nothing.
func dropDanglingEdges(s string) string {
	return danglingEdgeRe.ReplaceAllString(s, "")
}
