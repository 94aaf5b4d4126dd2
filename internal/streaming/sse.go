package streaming

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// NewSSEHandler serves progress events as Server-Sent Events.
//
//	GET /events                  every session
//	GET /sessions/{id}/events    one session
//
// Repeated ?type= parameters narrow the stream to those event types.
func NewSSEHandler(hub Hub, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &sseServer{hub: hub, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
		s.serve(w, r, EventFilter{EventTypes: r.URL.Query()["type"]})
	})
	mux.HandleFunc("GET /sessions/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		s.serve(w, r, EventFilter{SessionID: r.PathValue("id"), EventTypes: r.URL.Query()["type"]})
	})
	return mux
}

type sseServer struct {
	hub    Hub
	logger *slog.Logger
}

func (s *sseServer) serve(w http.ResponseWriter, r *http.Request, filter EventFilter) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, cancel, err := s.hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.logger.Error("sse subscribe failed", slog.String("error", err.Error()))
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
			flusher.Flush()
		}
	}
}
