package pipeline

import (
	"fmt"
	"strings"

	"github.com/rendis/bookforge/pkg/schema"
)

const firstChapterContext = "This is the first chapter. No earlier material has been covered yet."

func chapterPrompt(topic string, entry schema.ChapterOutlineEntry, ordinal, total int, runningContext string, side bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are writing chapter %d of %d of a book about %q.\n\n", ordinal, total, topic)
	fmt.Fprintf(&b, "Chapter title: %s\n\nCover these subtopics in order, each under its own ## heading:\n", entry.Title)
	for _, s := range entry.Subtopics {
		fmt.Fprintf(&b, "- %s\n", s)
	}
	fmt.Fprintf(&b, "\nWhat the reader has learned so far:\n%s\n\n", runningContext)
	b.WriteString("Write in Markdown. Do not repeat the chapter title as a heading. ")
	b.WriteString("Use worked examples and, where a process or structure is easier to see than to read, a ```mermaid diagram followed by a line starting with \"Figure:\" that captions it. ")
	b.WriteString("Write math with $...$ for inline and $$...$$ for display formulas.")
	if side {
		b.WriteString("\n\nAfter the chapter, add two trailing blocks exactly in this form:\n\n")
		b.WriteString("GLOSSARY:\n- <term>: <definition>\n\n")
		b.WriteString("QUIZ:\n- Q: <question> A: <answer>\n\n")
		b.WriteString("List 3 to 6 glossary terms and 2 or 3 quiz questions.")
	}
	return b.String()
}

func conclusionPrompt(topic string, outline []schema.ChapterOutlineEntry, runningContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write the concluding chapter of a book about %q.\n\nThe book covered these chapters:\n", topic)
	for i, e := range outline {
		fmt.Fprintf(&b, "%d. %s\n", i+1, e.Title)
	}
	fmt.Fprintf(&b, "\nThe final chapter ended with:\n%s\n\n", runningContext)
	b.WriteString("Summarize the key ideas, show how they connect, and suggest next steps for the reader. Write in Markdown without a top-level heading.")
	return b.String()
}
