package llm

import (
	"context"
	"sync"
	"time"
)

// Exchange is one prompt and the reply it produced.
type Exchange struct {
	Prompt string    `json:"prompt"`
	Reply  string    `json:"reply"`
	At     time.Time `json:"at"`
}

// TranscriptSink persists a session's exchanges.
type TranscriptSink interface {
	AppendExchange(ctx context.Context, sessionID string, ex Exchange) error
}

// Transcript is the ordered record of a session's exchanges.
type Transcript struct {
	mu        sync.Mutex
	sessionID string
	exchanges []Exchange
	sink      TranscriptSink
}

// NewTranscript creates a transcript for sessionID. A nil sink keeps it in memory only.
func NewTranscript(sessionID string, sink TranscriptSink) *Transcript {
	return &Transcript{sessionID: sessionID, sink: sink}
}

// Append records ex and persists it through the sink.
func (t *Transcript) Append(ctx context.Context, ex Exchange) error {
	t.mu.Lock()
	t.exchanges = append(t.exchanges, ex)
	t.mu.Unlock()
	if t.sink == nil {
		return nil
	}
	return t.sink.AppendExchange(ctx, t.sessionID, ex)
}

// Exchanges returns a copy of the recorded exchanges.
func (t *Transcript) Exchanges() []Exchange {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Exchange, len(t.exchanges))
	copy(out, t.exchanges)
	return out
}
