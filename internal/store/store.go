package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rendis/bookforge/internal/logging"
	"github.com/rendis/bookforge/internal/validation"
	"github.com/rendis/bookforge/pkg/schema"
)

// CheckpointStore persists pipeline state between transitions.
// All implementations must be safe for concurrent use.
type CheckpointStore interface {
	// Load returns the stored state for key, or nil when none exists.
	// A corrupt record is reported as absent.
	Load(ctx context.Context, key string) (*schema.PipelineState, error)
	Save(ctx context.Context, key string, st *schema.PipelineState) error
	Clear(ctx context.Context, key string) error
	List(ctx context.Context) ([]CheckpointInfo, error)
}

// CheckpointInfo summarizes a stored checkpoint.
type CheckpointInfo struct {
	Key       string
	UpdatedAt time.Time
}

// codec encodes states and decodes stored bytes, validating them first.
type codec struct {
	validator *validation.CheckpointValidator
	logger    *slog.Logger
}

func newCodec(logger *slog.Logger) codec {
	if logger == nil {
		logger = slog.Default()
	}
	return codec{validator: validation.MustCheckpointValidator(), logger: logger}
}

func (c codec) encode(st *schema.PipelineState) ([]byte, error) {
	if st == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "checkpoint state is nil")
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	return json.Marshal(st)
}

// decode returns nil for records that fail validation, logging a warning.
func (c codec) decode(ctx context.Context, key string, raw []byte) *schema.PipelineState {
	if err := c.validator.Validate(raw); err != nil {
		c.corrupt(ctx, key, err)
		return nil
	}
	var st schema.PipelineState
	if err := json.Unmarshal(raw, &st); err != nil {
		c.corrupt(ctx, key, err)
		return nil
	}
	if err := validation.ValidateState(&st); err != nil {
		c.corrupt(ctx, key, err)
		return nil
	}
	if st.SideArtifacts == nil {
		st.SideArtifacts = make(map[string][]schema.SideRecord)
	}
	return &st
}

func (c codec) corrupt(ctx context.Context, key string, err error) {
	logging.LogWith(ctx, c.logger).Warn("ignoring corrupt checkpoint",
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}

func storeError(op, key string, err error) error {
	return schema.NewErrorf(schema.ErrCodeStore, "%s checkpoint %q", op, key).WithCause(err)
}
