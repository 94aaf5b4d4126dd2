package assemble

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Regions of markdown that text rewrites must not touch.
var (
	fencedCodeRe  = regexp.MustCompile("(?ms)^[ \\t]*```.*?^[ \\t]*```[ \\t]*$")
	inlineCodeRe  = regexp.MustCompile("`[^`\\n]+`")
	tableBlockRe  = regexp.MustCompile(`(?m)(?:^[ \t]*\|.*\|[ \t]*(?:\n|$))+`)
	placeholderRe = regexp.MustCompile(`\[\[DIAGRAM:[^\]\n]+\]\]`)
	protectedRe   = regexp.MustCompile("\\x{E000}(\\d+)\\x{E001}")
)

// protector swaps protected regions for opaque tokens and back.
type protector struct {
	saved []string
}

func (p *protector) protect(text string, patterns ...*regexp.Regexp) string {
	for _, re := range patterns {
		text = re.ReplaceAllStringFunc(text, func(m string) string {
			p.saved = append(p.saved, m)
			return fmt.Sprintf("\uE000%d\uE001", len(p.saved)-1)
		})
	}
	return text
}

// restore reinstates saved regions. Tokens can nest when a later pattern
// captured an earlier token, so restoring repeats until none remain.
func (p *protector) restore(text string) string {
	for i := 0; i <= len(p.saved) && strings.ContainsRune(text, '\uE000'); i++ {
		text = protectedRe.ReplaceAllStringFunc(text, func(m string) string {
			n, err := strconv.Atoi(protectedRe.FindStringSubmatch(m)[1])
			if err != nil || n >= len(p.saved) {
				return m
			}
			return p.saved[n]
		})
	}
	return text
}
