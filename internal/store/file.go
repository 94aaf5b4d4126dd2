package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rendis/bookforge/pkg/schema"
)

const checkpointExt = ".json"

// FileCheckpointStore keeps one JSON file per key under a directory.
// Writes go to a temporary file that is renamed into place.
type FileCheckpointStore struct {
	dir   string
	codec codec
	mu    sync.Mutex
}

var _ CheckpointStore = (*FileCheckpointStore)(nil)

// NewFileCheckpointStore creates dir if needed.
func NewFileCheckpointStore(dir string, logger *slog.Logger) (*FileCheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileCheckpointStore{dir: dir, codec: newCodec(logger)}, nil
}

func (s *FileCheckpointStore) path(key string) string {
	return filepath.Join(s.dir, filepath.Base(key)+checkpointExt)
}

func (s *FileCheckpointStore) Load(ctx context.Context, key string) (*schema.PipelineState, error) {
	raw, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("load", key, err)
	}
	return s.codec.decode(ctx, key, raw), nil
}

func (s *FileCheckpointStore) Save(_ context.Context, key string, st *schema.PipelineState) error {
	raw, err := s.codec.encode(st)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".checkpoint-*")
	if err != nil {
		return storeError("save", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return storeError("save", key, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return storeError("save", key, err)
	}
	if err := tmp.Close(); err != nil {
		return storeError("save", key, err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		return storeError("save", key, err)
	}
	return nil
}

func (s *FileCheckpointStore) Clear(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storeError("clear", key, err)
	}
	return nil
}

// List reports file modification times as UpdatedAt.
func (s *FileCheckpointStore) List(_ context.Context) ([]CheckpointInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	var out []CheckpointInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, checkpointExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, CheckpointInfo{
			Key:       strings.TrimSuffix(name, checkpointExt),
			UpdatedAt: info.ModTime().UTC(),
		})
	}
	return out, nil
}
