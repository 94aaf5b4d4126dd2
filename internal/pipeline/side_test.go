package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/bookforge/pkg/schema"
)

func TestSplitSideArtifacts(t *testing.T) {
	text := `Body paragraph.

More body.

**GLOSSARY:**
- **Lexer**: Turns characters into tokens.
- Token: The smallest unit of syntax.
- not a definition

QUIZ:
1. Q: What does a lexer emit? A: Tokens.
2. Q: Which phase follows lexing?
   Answer: Parsing.
3. Q: Is whitespace significant?`

	body, glossary, quiz := splitSideArtifacts(text, 4)

	assert.Equal(t, "Body paragraph.\n\nMore body.", body)
	require.Len(t, glossary, 2)
	assert.Equal(t, schema.SideRecord{Chapter: 4, Term: "Lexer", Text: "Turns characters into tokens."}, glossary[0])
	assert.Equal(t, "Token", glossary[1].Term)

	require.Len(t, quiz, 3)
	assert.Equal(t, "What does a lexer emit?", quiz[0].Text)
	assert.Equal(t, "Tokens.", quiz[0].Answer)
	assert.Equal(t, "Which phase follows lexing?", quiz[1].Text)
	assert.Equal(t, "Parsing.", quiz[1].Answer)
	assert.Empty(t, quiz[2].Answer)
	for _, q := range quiz {
		assert.Equal(t, 4, q.Chapter)
	}
}

func TestSplitSideArtifacts_NoBlocks(t *testing.T) {
	text := "Just a chapter.\n\nWith a glossary mentioned inline: GLOSSARY terms are useful."
	body, glossary, quiz := splitSideArtifacts(text, 1)
	assert.Equal(t, text, body)
	assert.Nil(t, glossary)
	assert.Nil(t, quiz)
}

func TestSplitSideArtifacts_HeadingMarkers(t *testing.T) {
	body, glossary, quiz := splitSideArtifacts("Intro.\n\n## Quiz\n- Q: Why? A: Because.\n\n## Glossary\n- AST: Abstract syntax tree", 2)
	assert.Equal(t, "Intro.", body)
	require.Len(t, quiz, 1)
	assert.Equal(t, "Because.", quiz[0].Answer)
	require.Len(t, glossary, 1)
	assert.Equal(t, "AST", glossary[0].Term)
}

func TestSummarize(t *testing.T) {
	text := "## Heading\n\nFirst paragraph.\n\nLast prose paragraph\nwrapped over lines.\n\n```go\nfmt.Println(1)\n```\n\n- a list item"
	assert.Equal(t, "Parsing: Last prose paragraph wrapped over lines.", summarize("Parsing", text, 600))
	assert.Equal(t, "Parsing", summarize("Parsing", "## Only headings", 600))
}

func TestSummarize_Capped(t *testing.T) {
	long := strings.Repeat("word ", 300)
	got := summarize("Title", long, 100)
	assert.LessOrEqual(t, len(got), 103)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.True(t, strings.HasPrefix(got, "Title: word"))
}

func TestSummarize_SkipsFenceWithBlankLines(t *testing.T) {
	text := "Real closing thought.\n\n```\ncode\n\nmore code\n```"
	assert.Equal(t, "T: Real closing thought.", summarize("T", text, 0))
}
