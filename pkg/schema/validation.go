package schema

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// IssueSeverity indicates whether an issue rejects the input or only flags it.
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "error"
	SeverityWarning IssueSeverity = "warning"
)

// Issue is a single problem found while checking generated structure.
type Issue struct {
	Path     string        `json:"path"`
	Message  string        `json:"message"`
	Severity IssueSeverity `json:"severity"`
}

// ValidationReport collects issues found in a request or an outline.
type ValidationReport struct {
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Valid returns true if there are no errors (warnings are acceptable).
func (r *ValidationReport) Valid() bool {
	return len(r.Errors) == 0
}

// Errorf appends an error-severity issue at path.
func (r *ValidationReport) Errorf(path, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Path: path, Message: fmt.Sprintf(format, args...), Severity: SeverityError})
}

// Warnf appends a warning-severity issue at path.
func (r *ValidationReport) Warnf(path, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{Path: path, Message: fmt.Sprintf(format, args...), Severity: SeverityWarning})
}

// ToError converts the report into a PipelineError with the given code, or nil if valid.
func (r *ValidationReport) ToError(code string) error {
	if r.Valid() {
		return nil
	}
	msg := r.Errors[0].Path + ": " + r.Errors[0].Message
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("%d problems, first %s", len(r.Errors), msg)
	}
	return NewError(code, msg).WithDetails(map[string]any{
		"error_count":   len(r.Errors),
		"warning_count": len(r.Warnings),
		"errors":        r.Errors,
	})
}

// MaxTopicLength bounds a topic in characters; it is embedded in every prompt.
const MaxTopicLength = 300

// sessionIDRe keeps explicit session ids usable as file names and store keys.
var sessionIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// Check reports what is wrong with the request.
func (r GenerationRequest) Check() *ValidationReport {
	report := &ValidationReport{}
	topic := strings.TrimSpace(r.Topic)
	switch {
	case topic == "":
		report.Errorf("topic", "topic is required")
	case utf8.RuneCountInString(topic) > MaxTopicLength:
		report.Errorf("topic", "topic has %d characters, limit is %d", utf8.RuneCountInString(topic), MaxTopicLength)
	}
	if r.SessionID != "" && !sessionIDRe.MatchString(r.SessionID) {
		report.Errorf("session_id", "session id %q must be 1-128 letters, digits, '.', '_' or '-' and start with a letter or digit", r.SessionID)
	}
	if r.SessionID == "" && strings.TrimSpace(r.CallerID) == "" {
		report.Warnf("caller_id", "no caller id; requests for the same topic share one session")
	}
	return report
}

// Validate returns a VALIDATION_ERROR describing every problem, or nil.
func (r GenerationRequest) Validate() error {
	return r.Check().ToError(ErrCodeValidation)
}

// Key returns the session key: SessionID when set, otherwise the key derived
// from caller and topic.
func (r GenerationRequest) Key() string {
	if r.SessionID != "" {
		return r.SessionID
	}
	return SessionKey(r.CallerID, r.Topic)
}
