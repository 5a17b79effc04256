package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/aretw0/callpath/internal/logging"
	"github.com/aretw0/callpath/pkg/domain"
	"github.com/go-chi/chi/v5"
)

// StreamManager handles active SSE connections, keyed by run ID.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{}
	logger      *slog.Logger
}

// StreamOption configures a StreamManager.
type StreamOption func(*StreamManager)

// WithStreamLogger sets the logger used for dropped or unencodable events.
func WithStreamLogger(logger *slog.Logger) StreamOption {
	return func(sm *StreamManager) {
		sm.logger = logger
	}
}

func NewStreamManager(opts ...StreamOption) *StreamManager {
	sm := &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

func (sm *StreamManager) log() *slog.Logger {
	if sm.logger == nil {
		return logging.NewNop()
	}
	return sm.logger
}

func (sm *StreamManager) Subscribe(runID string) (chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	if _, ok := sm.subscribers[runID]; !ok {
		sm.subscribers[runID] = make(map[chan<- string]struct{})
	}
	sm.subscribers[runID][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[runID]; ok {
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, runID)
			}
		}
	}
}

func (sm *StreamManager) Broadcast(runID string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if subs, ok := sm.subscribers[runID]; ok {
		for ch := range subs {
			select {
			case ch <- msg:
			default:
				// Drop message if channel is full (slow client)
				sm.log().Warn("SSE: Client buffer full, dropping message", "run_id", runID)
			}
		}
	}
}

// event is the envelope written to SSE clients.
type event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func (sm *StreamManager) publish(runID string, t domain.EventType, data any) {
	bytes, err := json.Marshal(event{Type: string(t), Data: data})
	if err != nil {
		sm.log().Warn("SSE: event encode failed", "error", err)
		return
	}
	sm.Broadcast(runID, string(bytes))
}

// Hooks returns lifecycle hooks that push run, item and transition events to
// the subscribers of the affected run.
func (sm *StreamManager) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnRunStart: func(_ context.Context, e *domain.RunEvent) {
			sm.publish(e.RunID, e.Type, e)
		},
		OnRunFinish: func(_ context.Context, e *domain.RunEvent) {
			sm.publish(e.RunID, e.Type, e)
		},
		OnItemFinish: func(_ context.Context, e *domain.ItemEvent) {
			sm.publish(e.RunID, e.Type, e)
		},
		OnTransition: func(_ context.Context, e *domain.TransitionEvent) {
			sm.publish(e.RunID, e.Type, e)
		},
	}
}

// SubscribeEvents handles the GET /runs/{runID}/events request (SSE).
// The optional watch parameter keeps only the listed event types.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: Streaming not supported")
		return
	}
	runID := chi.URLParam(r, "runID")
	if _, err := s.Engine.Run(r.Context(), runID); err != nil {
		s.fail(w, "SubscribeEvents", err)
		return
	}

	watch := make(map[string]bool)
	for _, t := range splitList(r.URL.Query().Get("watch")) {
		watch[t] = true
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Streams.Subscribe(runID)
	defer cancel()

	s.logger.Info("SSE: Subscribing to run events", "run_id", runID)
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE Client Disconnected", "run_id", runID)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if len(watch) > 0 && !watch[eventType(msg)] {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType(msg), msg)
			flusher.Flush()
		}
	}
}

func eventType(msg string) string {
	var e struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(msg), &e); err != nil {
		return ""
	}
	return strings.TrimSpace(e.Type)
}
