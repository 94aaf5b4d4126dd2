package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/bookforge/internal/llm"
	"github.com/rendis/bookforge/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLCheckpointStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewLibSQLCheckpointStore("file:"+filepath.Join(dir, "test.db"), nil)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestFileStore(t *testing.T) *FileCheckpointStore {
	t.Helper()
	s, err := NewFileCheckpointStore(t.TempDir(), nil)
	require.NoError(t, err)
	return s
}

func sampleState(completed int) *schema.PipelineState {
	st := schema.NewPipelineState("Rust for Gophers")
	st.Outline = []schema.ChapterOutlineEntry{
		{Title: "Ownership", Subtopics: []string{"Moves", "Borrows", "Lifetimes"}},
		{Title: "Traits", Subtopics: []string{"Generics", "Dispatch", "Coherence"}},
		{Title: "Concurrency", Subtopics: []string{"Send", "Sync", "Channels"}},
	}
	st.OutlineReady = true
	st.CompletedChapterCount = completed
	for i := range completed {
		st.GeneratedSectionRefs = append(st.GeneratedSectionRefs, "ref-"+string(rune('a'+i)))
	}
	st.RunningContext = "Ownership moves values."
	st.AppendSide(schema.SideGlossary, schema.SideRecord{Chapter: 1, Term: "Borrow", Text: "A reference."})
	st.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	return st
}

func checkpointStores(t *testing.T) map[string]CheckpointStore {
	return map[string]CheckpointStore{
		"libsql": newTestStore(t),
		"file":   newTestFileStore(t),
	}
}

func TestCheckpointStore_LoadMissing(t *testing.T) {
	for name, s := range checkpointStores(t) {
		t.Run(name, func(t *testing.T) {
			st, err := s.Load(context.Background(), "nobody_nothing")
			require.NoError(t, err)
			assert.Nil(t, st)
		})
	}
}

func TestCheckpointStore_SaveLoadRoundTrip(t *testing.T) {
	for name, s := range checkpointStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := sampleState(2)
			require.NoError(t, s.Save(ctx, "u1_rust", want))

			got, err := s.Load(ctx, "u1_rust")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, want.Topic, got.Topic)
			assert.Equal(t, want.Outline, got.Outline)
			assert.Equal(t, 2, got.CompletedChapterCount)
			assert.Equal(t, want.GeneratedSectionRefs, got.GeneratedSectionRefs)
			assert.Equal(t, want.RunningContext, got.RunningContext)
			assert.Equal(t, want.SideArtifacts, got.SideArtifacts)
			assert.WithinDuration(t, want.UpdatedAt, got.UpdatedAt, time.Second)
		})
	}
}

func TestCheckpointStore_SaveOverwrites(t *testing.T) {
	for name, s := range checkpointStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Save(ctx, "k", sampleState(1)))
			require.NoError(t, s.Save(ctx, "k", sampleState(3)))

			got, err := s.Load(ctx, "k")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, 3, got.CompletedChapterCount)

			list, err := s.List(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestCheckpointStore_ClearAndList(t *testing.T) {
	for name, s := range checkpointStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Save(ctx, "a", sampleState(0)))
			require.NoError(t, s.Save(ctx, "b", sampleState(1)))

			list, err := s.List(ctx)
			require.NoError(t, err)
			keys := make([]string, 0, len(list))
			for _, info := range list {
				keys = append(keys, info.Key)
				assert.False(t, info.UpdatedAt.IsZero())
			}
			assert.ElementsMatch(t, []string{"a", "b"}, keys)

			require.NoError(t, s.Clear(ctx, "a"))
			require.NoError(t, s.Clear(ctx, "a"), "clearing twice is not an error")

			st, err := s.Load(ctx, "a")
			require.NoError(t, err)
			assert.Nil(t, st)

			list, err = s.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "b", list[0].Key)
		})
	}
}

func TestCheckpointStore_SaveNil(t *testing.T) {
	for name, s := range checkpointStores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Save(context.Background(), "k", nil)
			assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
		})
	}
}

func TestLibSQLStore_CorruptCheckpointIsAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for key, raw := range map[string]string{
		"garbage":  "{{{",
		"shape":    `{"topic": 42}`,
		"overflow": `{"topic": "x", "outline_ready": true, "completed_chapter_count": 5, "outline": []}`,
	} {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO checkpoints (key, state, updated_at) VALUES (?, ?, ?)`, key, raw, time.Now().UTC())
		require.NoError(t, err)

		st, err := s.Load(ctx, key)
		require.NoError(t, err, key)
		assert.Nil(t, st, key)
	}
}

func TestFileStore_CorruptCheckpointIsAbsent(t *testing.T) {
	s := newTestFileStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "broken.json"), []byte("not json"), 0o644))

	st, err := s.Load(context.Background(), "broken")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestFileStore_KeysStayInsideDir(t *testing.T) {
	s := newTestFileStore(t)
	require.NoError(t, s.Save(context.Background(), "../escape", sampleState(0)))

	_, err := os.Stat(filepath.Join(s.dir, "escape.json"))
	assert.NoError(t, err)
}

func TestFileStore_ListIgnoresTempFiles(t *testing.T) {
	s := newTestFileStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, ".checkpoint-123"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "notes.txt"), []byte("x"), 0o644))

	list, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestLibSQLStore_Transcript(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tr := llm.NewTranscript("sess", s)
	require.NoError(t, tr.Append(ctx, llm.Exchange{Prompt: "outline?", Reply: "1. Intro"}))
	require.NoError(t, tr.Append(ctx, llm.Exchange{Prompt: "chapter 1", Reply: "Once upon a time"}))
	require.NoError(t, s.AppendExchange(ctx, "other", llm.Exchange{Prompt: "p", Reply: "r"}))

	got, err := s.Transcript(ctx, "sess")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "outline?", got[0].Prompt)
	assert.Equal(t, "Once upon a time", got[1].Reply)
	assert.False(t, got[1].At.IsZero())

	require.NoError(t, s.Save(ctx, "sess", sampleState(0)))
	require.NoError(t, s.Clear(ctx, "sess"))

	got, err = s.Transcript(ctx, "sess")
	require.NoError(t, err)
	assert.Empty(t, got)

	other, err := s.Transcript(ctx, "other")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestLibSQLStore_MigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	var version int
	require.NoError(t, s.db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version))
	assert.Equal(t, len(migrations), version)
}

func TestSplitStatements(t *testing.T) {
	script := "-- header\nCREATE TABLE a (x INT);\n\n-- only a comment\n;\nCREATE INDEX i ON a(x);\n"
	stmts := splitStatements(script)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.Equal(t, "CREATE INDEX i ON a(x)", stmts[1])
}

func TestMemoryCancelRegistry(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryCancelRegistry()

	cancelled, err := r.IsCancelled(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, cancelled)

	require.NoError(t, r.Cancel(ctx, "s1"))
	cancelled, _ = r.IsCancelled(ctx, "s1")
	assert.True(t, cancelled)

	other, _ := r.IsCancelled(ctx, "s2")
	assert.False(t, other)

	require.NoError(t, r.Reset(ctx, "s1"))
	cancelled, _ = r.IsCancelled(ctx, "s1")
	assert.False(t, cancelled)
}
