package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/bookforge/internal/store"
	"github.com/rendis/bookforge/pkg/schema"
)

// memCheckpoints is an in-memory store.CheckpointStore keyed by update time.
type memCheckpoints struct {
	mu       sync.Mutex
	updated  map[string]time.Time
	listErr  error
	clearErr map[string]error
	vacuumed int
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{updated: make(map[string]time.Time), clearErr: make(map[string]error)}
}

func (m *memCheckpoints) Load(_ context.Context, _ string) (*schema.PipelineState, error) {
	return nil, nil
}

func (m *memCheckpoints) Save(_ context.Context, key string, st *schema.PipelineState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updated[key] = st.UpdatedAt
	return nil
}

func (m *memCheckpoints) Clear(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.clearErr[key]; err != nil {
		return err
	}
	delete(m.updated, key)
	return nil
}

func (m *memCheckpoints) List(_ context.Context) ([]store.CheckpointInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []store.CheckpointInfo
	for k, at := range m.updated {
		out = append(out, store.CheckpointInfo{Key: k, UpdatedAt: at})
	}
	return out, nil
}

func (m *memCheckpoints) Vacuum(_ context.Context) error {
	m.mu.Lock()
	m.vacuumed++
	m.mu.Unlock()
	return nil
}

func (m *memCheckpoints) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.updated {
		out = append(out, k)
	}
	return out
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestJanitor(t *testing.T, cp store.CheckpointStore, staging store.StagingStore) *Janitor {
	t.Helper()
	j, err := NewJanitor(Config{Spec: "@hourly", MaxAge: 24 * time.Hour}, cp, staging, slog.Default())
	require.NoError(t, err)
	j.now = func() time.Time { return fixedNow }
	return j
}

func TestNewJanitor_Validation(t *testing.T) {
	cp := newMemCheckpoints()

	_, err := NewJanitor(Config{Spec: "not a cron", MaxAge: time.Hour}, cp, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse cron expression")

	_, err = NewJanitor(Config{Spec: "@hourly"}, cp, nil, nil)
	require.Error(t, err)

	j, err := NewJanitor(Config{MaxAge: time.Hour}, cp, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, j)
}

func TestJanitor_Next(t *testing.T) {
	tests := []struct {
		spec string
		from time.Time
		want time.Time
	}{
		{"@hourly", fixedNow.Add(10 * time.Minute), fixedNow.Add(time.Hour)},
		{"*/15 * * * *", fixedNow.Add(time.Minute), fixedNow.Add(15 * time.Minute)},
		{"0 3 * * *", fixedNow, time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			j, err := NewJanitor(Config{Spec: tt.spec, MaxAge: time.Hour}, newMemCheckpoints(), nil, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, j.Next(tt.from))
		})
	}
}

func TestJanitor_SweepRemovesOnlyStaleCheckpoints(t *testing.T) {
	ctx := context.Background()
	cp := newMemCheckpoints()
	require.NoError(t, cp.Save(ctx, "stale", &schema.PipelineState{UpdatedAt: fixedNow.Add(-48 * time.Hour)}))
	require.NoError(t, cp.Save(ctx, "fresh", &schema.PipelineState{UpdatedAt: fixedNow.Add(-time.Hour)}))

	j := newTestJanitor(t, cp, nil)
	report, err := j.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Checkpoints)
	assert.Equal(t, []string{"fresh"}, cp.keys())
	assert.Equal(t, 1, cp.vacuumed)
}

func TestJanitor_SweepNothingToDo(t *testing.T) {
	cp := newMemCheckpoints()
	j := newTestJanitor(t, cp, nil)

	report, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
	assert.Zero(t, cp.vacuumed)
}

func TestJanitor_SweepPrunesStaging(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	staging, err := store.NewFileStaging(dir)
	require.NoError(t, err)

	_, err = staging.Write(ctx, "stale", "chapter")
	require.NoError(t, err)
	_, err = staging.Write(ctx, "orphan", "chapter")
	require.NoError(t, err)
	fresh, err := staging.Write(ctx, "fresh", "chapter")
	require.NoError(t, err)

	old := fixedNow.Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "orphan"), old, old))
	recent := fixedNow.Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "fresh"), recent, recent))

	cp := newMemCheckpoints()
	require.NoError(t, cp.Save(ctx, "stale", &schema.PipelineState{UpdatedAt: old}))

	j := newTestJanitor(t, cp, staging)
	report, err := j.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Checkpoints)
	assert.Equal(t, 1, report.Staging, "only the orphan dir is left for Prune")
	_, err = os.Stat(filepath.Join(dir, "stale"))
	assert.True(t, os.IsNotExist(err))
	_, err = staging.Read(ctx, fresh)
	assert.NoError(t, err)
}

func TestJanitor_SweepContinuesPastClearErrors(t *testing.T) {
	ctx := context.Background()
	cp := newMemCheckpoints()
	stale := fixedNow.Add(-48 * time.Hour)
	require.NoError(t, cp.Save(ctx, "stuck", &schema.PipelineState{UpdatedAt: stale}))
	require.NoError(t, cp.Save(ctx, "other", &schema.PipelineState{UpdatedAt: stale}))
	cp.clearErr["stuck"] = errors.New("disk on fire")

	j := newTestJanitor(t, cp, nil)
	report, err := j.Sweep(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Equal(t, 1, report.Checkpoints)
	assert.Equal(t, []string{"stuck"}, cp.keys())
}

func TestJanitor_SweepListError(t *testing.T) {
	cp := newMemCheckpoints()
	cp.listErr = errors.New("store down")

	j := newTestJanitor(t, cp, nil)
	_, err := j.Sweep(context.Background())
	require.Error(t, err)
}

func TestJanitor_OverlappingSweepIsSkipped(t *testing.T) {
	ctx := context.Background()
	cp := newMemCheckpoints()
	require.NoError(t, cp.Save(ctx, "stale", &schema.PipelineState{UpdatedAt: fixedNow.Add(-48 * time.Hour)}))

	j := newTestJanitor(t, cp, nil)
	j.running.Store(true)

	report, err := j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
	assert.Len(t, cp.keys(), 1)
}

func TestJanitor_StartStop(t *testing.T) {
	j := newTestJanitor(t, newMemCheckpoints(), nil)
	ctx := context.Background()

	require.NoError(t, j.Start(ctx))

	err := j.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")

	j.Stop()
	j.Stop()
}
