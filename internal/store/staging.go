package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/bookforge/pkg/schema"
)

// StagingStore holds generated section text outside the checkpoint. The
// checkpoint carries only the refs Write returns.
type StagingStore interface {
	Write(ctx context.Context, sessionID, text string) (string, error)
	Read(ctx context.Context, ref string) (string, error)
	RemoveSession(ctx context.Context, sessionID string) error
	Prune(ctx context.Context, before time.Time) (int, error)
}

// FileStaging stores each section as a file under dir/<session>/.
// Refs have the form "<session>/<uuid>.md".
type FileStaging struct {
	dir string
}

var _ StagingStore = (*FileStaging)(nil)

func NewFileStaging(dir string) (*FileStaging, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &FileStaging{dir: dir}, nil
}

func (s *FileStaging) Write(_ context.Context, sessionID, text string) (string, error) {
	session := filepath.Base(sessionID)
	if err := os.MkdirAll(filepath.Join(s.dir, session), 0o755); err != nil {
		return "", fmt.Errorf("create session staging dir: %w", err)
	}
	ref := session + "/" + uuid.New().String() + ".md"
	if err := os.WriteFile(s.resolve(ref), []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write staged section: %w", err)
	}
	return ref, nil
}

// Read returns NOT_FOUND when the staged file is missing.
func (s *FileStaging) Read(_ context.Context, ref string) (string, error) {
	raw, err := os.ReadFile(s.resolve(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return "", schema.NewErrorf(schema.ErrCodeNotFound, "staged section %q not found", ref)
	}
	if err != nil {
		return "", fmt.Errorf("read staged section: %w", err)
	}
	return string(raw), nil
}

func (s *FileStaging) RemoveSession(_ context.Context, sessionID string) error {
	if err := os.RemoveAll(filepath.Join(s.dir, filepath.Base(sessionID))); err != nil {
		return fmt.Errorf("remove session staging: %w", err)
	}
	return nil
}

// Prune removes session directories not modified since before and reports how many went.
func (s *FileStaging) Prune(_ context.Context, before time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("list staging dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(before) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			return removed, fmt.Errorf("prune staging %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// resolve keeps refs inside dir.
func (s *FileStaging) resolve(ref string) string {
	session, name, _ := strings.Cut(ref, "/")
	return filepath.Join(s.dir, filepath.Base(session), filepath.Base(name))
}
