package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ProgressEvent represents a progress update event
type ProgressEvent struct {
	RunID       string    `json:"runId"`
	State       RunState  `json:"state"`
	Generation  int       `json:"generation"`
	BestFitness *float64  `json:"bestFitness"`
	Convergence *float64  `json:"convergence"`
	Simulations int       `json:"simulations"`
	Timestamp   time.Time `json:"timestamp"`
}

// EventBroadcaster fans progress events out to SSE connections
type EventBroadcaster struct {
	mu      sync.Mutex
	clients map[chan ProgressEvent]bool
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		clients: make(map[chan ProgressEvent]bool),
	}
}

// Subscribe adds a client
func (eb *EventBroadcaster) Subscribe() chan ProgressEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan ProgressEvent, 10)
	eb.clients[ch] = true
	return ch
}

// Unsubscribe removes a client and closes its channel
func (eb *EventBroadcaster) Unsubscribe(ch chan ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.clients[ch] {
		delete(eb.clients, ch)
		close(ch)
	}
}

// Broadcast sends an event to all clients. Slow clients miss events rather
// than blocking the solver.
func (eb *EventBroadcaster) Broadcast(event ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for ch := range eb.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

// Clients returns the number of subscribed clients
func (eb *EventBroadcaster) Clients() int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.clients)
}

// handleStream handles GET /api/v1/run/stream
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := s.tracker.broadcaster.Subscribe()
	defer s.tracker.broadcaster.Unsubscribe(events)

	// a client connecting before the first generation still sees the run
	run := s.tracker.Run()
	if err := writeSSEEvent(w, ProgressEvent{
		RunID:       run.ID,
		State:       run.State,
		Generation:  run.Generation,
		BestFitness: run.BestFitness,
		Convergence: run.Convergence,
		Simulations: run.Simulations,
		Timestamp:   time.Now(),
	}); err != nil {
		s.logger.Error("Failed to write initial SSE event", "error", err)
		return
	}
	flusher.Flush()

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("SSE client disconnected")
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				s.logger.Error("Failed to write SSE event", "error", err)
				return
			}
			flusher.Flush()

		case <-pingTicker.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes an event in SSE format
func writeSSEEvent(w http.ResponseWriter, event ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
