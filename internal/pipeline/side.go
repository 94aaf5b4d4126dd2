package pipeline

import (
	"regexp"
	"strings"

	"github.com/rendis/bookforge/pkg/schema"
)

var (
	sideMarkerRe = regexp.MustCompile(`(?im)^[ \t]*(?:\*\*|#+[ \t]*)?(GLOSSARY|QUIZ)(?:\*\*)?[ \t]*:?[ \t]*(?:\*\*)?[ \t]*$`)
	listItemRe   = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)
	quizSplitRe  = regexp.MustCompile(`(?i)\s+A(?:nswer)?\s*:\s*`)
	answerLineRe = regexp.MustCompile(`(?i)^A(?:nswer)?\s*:\s*`)
)

// splitSideArtifacts cuts trailing GLOSSARY and QUIZ blocks off a chapter and
// parses them into records tagged with chapter.
func splitSideArtifacts(text string, chapter int) (string, []schema.SideRecord, []schema.SideRecord) {
	locs := sideMarkerRe.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return text, nil, nil
	}

	var glossary, quiz []schema.SideRecord
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		block := text[loc[1]:end]
		switch strings.ToUpper(text[loc[2]:loc[3]]) {
		case "GLOSSARY":
			glossary = append(glossary, parseGlossary(block, chapter)...)
		case "QUIZ":
			quiz = append(quiz, parseQuiz(block, chapter)...)
		}
	}
	return strings.TrimRight(text[:locs[0][0]], " \t\n"), glossary, quiz
}

func parseGlossary(block string, chapter int) []schema.SideRecord {
	var out []schema.SideRecord
	for _, line := range blockItems(block) {
		term, def, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		term = strings.Trim(strings.TrimSpace(term), "*_")
		def = strings.TrimSpace(def)
		if term == "" || def == "" {
			continue
		}
		out = append(out, schema.SideRecord{Chapter: chapter, Term: term, Text: def})
	}
	return out
}

func parseQuiz(block string, chapter int) []schema.SideRecord {
	var out []schema.SideRecord
	for _, line := range blockItems(block) {
		if loc := answerLineRe.FindStringIndex(line); loc != nil {
			if n := len(out); n > 0 && out[n-1].Answer == "" {
				out[n-1].Answer = strings.TrimSpace(line[loc[1]:])
			}
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, "Q:"), "q:"))
		parts := quizSplitRe.Split(line, 2)
		q := strings.TrimSpace(parts[0])
		if q == "" {
			continue
		}
		rec := schema.SideRecord{Chapter: chapter, Text: q}
		if len(parts) == 2 {
			rec.Answer = strings.TrimSpace(parts[1])
		}
		out = append(out, rec)
	}
	return out
}

// blockItems returns the non-empty lines of block with list markers removed.
func blockItems(block string) []string {
	var out []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(listItemRe.ReplaceAllString(line, ""))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
