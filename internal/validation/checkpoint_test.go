package validation

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rendis/bookforge/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validState() *schema.PipelineState {
	st := schema.NewPipelineState("Distributed Systems")
	st.Outline = []schema.ChapterOutlineEntry{
		{Title: "Consensus", Subtopics: []string{"Paxos", "Raft", "Quorums"}},
		{Title: "Replication", Subtopics: []string{"Leaders", "Logs", "Lag"}},
	}
	st.OutlineReady = true
	st.CompletedChapterCount = 1
	st.GeneratedSectionRefs = []string{"ref-1"}
	st.RunningContext = "Consensus: agreement among nodes."
	st.AppendSide(schema.SideGlossary, schema.SideRecord{Chapter: 1, Term: "Quorum", Text: "A majority."})
	st.UpdatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return st
}

func TestCheckpointValidator_AcceptsMarshalledState(t *testing.T) {
	v, err := NewCheckpointValidator()
	require.NoError(t, err)

	raw, err := json.Marshal(validState())
	require.NoError(t, err)
	assert.NoError(t, v.Validate(raw))
}

func TestCheckpointValidator_AcceptsFreshState(t *testing.T) {
	v := MustCheckpointValidator()
	raw, err := json.Marshal(schema.NewPipelineState("Go"))
	require.NoError(t, err)
	assert.NoError(t, v.Validate(raw))
}

func TestCheckpointValidator_RejectsGarbage(t *testing.T) {
	v := MustCheckpointValidator()

	err := v.Validate([]byte("{not json"))
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeCorruptCheckpoint))
}

func TestCheckpointValidator_RejectsWrongShape(t *testing.T) {
	v := MustCheckpointValidator()

	cases := map[string]string{
		"missing topic":  `{"completed_chapter_count": 0, "outline_ready": false}`,
		"empty topic":    `{"topic": "", "completed_chapter_count": 0, "outline_ready": false}`,
		"negative count": `{"topic": "x", "completed_chapter_count": -1, "outline_ready": false}`,
		"string count":   `{"topic": "x", "completed_chapter_count": "2", "outline_ready": false}`,
		"untitled entry": `{"topic": "x", "completed_chapter_count": 0, "outline_ready": true, "outline": [{"subtopics": []}]}`,
		"bad timestamp":  `{"topic": "x", "completed_chapter_count": 0, "outline_ready": false, "updated_at": "yesterday"}`,
		"array document": `[]`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			err := v.Validate([]byte(doc))
			require.Error(t, err)
			var pe *schema.PipelineError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, schema.ErrCodeCorruptCheckpoint, pe.Code)
		})
	}
}

func TestCheckpointValidator_ReportsEveryViolation(t *testing.T) {
	v := MustCheckpointValidator()

	err := v.Validate([]byte(`{"topic": 7, "completed_chapter_count": -3, "outline_ready": "yes"}`))
	require.Error(t, err)
	var pe *schema.PipelineError
	require.ErrorAs(t, err, &pe)
	violations, ok := pe.Details["violations"].([]string)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(violations), 3)
	assert.Contains(t, pe.Message, "errors")
}

func TestValidateState(t *testing.T) {
	assert.NoError(t, ValidateState(validState()))
	assert.Error(t, ValidateState(nil))

	over := validState()
	over.CompletedChapterCount = 3
	assert.True(t, schema.HasCode(ValidateState(over), schema.ErrCodeCorruptCheckpoint))

	early := validState()
	early.OutlineReady = false
	assert.Error(t, ValidateState(early))

	concl := validState()
	concl.ConclusionReady = true
	assert.Error(t, ValidateState(concl))

	concl.CompletedChapterCount = 2
	assert.NoError(t, ValidateState(concl))
}

func TestCheckpointValidator_Concurrent(t *testing.T) {
	v := MustCheckpointValidator()
	raw, err := json.Marshal(validState())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.Validate(raw))
		}()
	}
	wg.Wait()
}
