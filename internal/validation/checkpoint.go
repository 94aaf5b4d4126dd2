package validation

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/rendis/bookforge/pkg/schema"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const checkpointSchemaURL = "https://bookforge.dev/schemas/checkpoint.json"

// checkpointSchemaJSON describes a persisted schema.PipelineState.
const checkpointSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["topic", "completed_chapter_count", "outline_ready"],
  "properties": {
    "topic": {"type": "string", "minLength": 1},
    "outline": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["title"],
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "subtopics": {"type": ["array", "null"], "items": {"type": "string"}}
        }
      }
    },
    "completed_chapter_count": {"type": "integer", "minimum": 0},
    "generated_section_refs": {"type": ["array", "null"], "items": {"type": "string"}},
    "running_context": {"type": "string"},
    "side_artifacts": {
      "type": ["object", "null"],
      "additionalProperties": {
        "type": ["array", "null"],
        "items": {
          "type": "object",
          "required": ["chapter", "text"],
          "properties": {
            "chapter": {"type": "integer", "minimum": 0},
            "term": {"type": "string"},
            "text": {"type": "string"},
            "answer": {"type": "string"}
          }
        }
      }
    },
    "outline_ready": {"type": "boolean"},
    "conclusion_ready": {"type": "boolean"},
    "used_fallback_outline": {"type": "boolean"},
    "updated_at": {"type": "string", "format": "date-time"}
  }
}`

// CheckpointValidator checks raw checkpoint documents before they are decoded.
// It is safe for concurrent use.
type CheckpointValidator struct {
	schema *jsonschema.Schema
}

// NewCheckpointValidator compiles the checkpoint schema.
func NewCheckpointValidator() (*CheckpointValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(checkpointSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint schema: %w", err)
	}
	if err := c.AddResource(checkpointSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add checkpoint schema resource: %w", err)
	}
	compiled, err := c.Compile(checkpointSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile checkpoint schema: %w", err)
	}
	return &CheckpointValidator{schema: compiled}, nil
}

// MustCheckpointValidator is NewCheckpointValidator for the embedded schema,
// which always compiles.
func MustCheckpointValidator() *CheckpointValidator {
	v, err := NewCheckpointValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate reports CORRUPT_CHECKPOINT when raw is not a well-formed checkpoint.
// Cross-field rules the schema cannot express are checked afterwards.
func (v *CheckpointValidator) Validate(raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return schema.NewError(schema.ErrCodeCorruptCheckpoint, "checkpoint is not valid JSON").WithCause(err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return toCheckpointError(err)
	}
	return nil
}

// ValidateState checks invariants between fields of a decoded state.
func ValidateState(st *schema.PipelineState) error {
	if st == nil {
		return schema.NewError(schema.ErrCodeCorruptCheckpoint, "checkpoint is empty")
	}
	if st.CompletedChapterCount > len(st.Outline) {
		return schema.NewErrorf(schema.ErrCodeCorruptCheckpoint,
			"completed_chapter_count %d exceeds outline length %d", st.CompletedChapterCount, len(st.Outline))
	}
	if st.CompletedChapterCount > 0 && !st.OutlineReady {
		return schema.NewError(schema.ErrCodeCorruptCheckpoint, "chapters recorded before outline was ready")
	}
	if st.ConclusionReady && st.ChaptersRemaining() {
		return schema.NewError(schema.ErrCodeCorruptCheckpoint, "conclusion recorded before all chapters")
	}
	return nil
}

func toCheckpointError(err error) *schema.PipelineError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeCorruptCheckpoint, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeCorruptCheckpoint, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeCorruptCheckpoint, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeCorruptCheckpoint, "checkpoint failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations flattens a ValidationError tree into leaf messages
// prefixed with their instance location.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
