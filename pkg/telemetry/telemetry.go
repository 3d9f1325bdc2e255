// Package telemetry fans viewer session events out to live subscribers such
// as the host page's server-sent event stream.
package telemetry

import (
	"sync"
	"time"
)

// EventType identifies the kind of telemetry event.
type EventType string

const (
	EventSessionCreated   EventType = "session.created"
	EventSessionClosed    EventType = "session.closed"
	EventStageChanged     EventType = "stage.changed"
	EventDownloadProgress EventType = "progress.download"
	EventExtractProgress  EventType = "progress.extract"
	EventEntryResolved    EventType = "entry.resolved"
	EventSurfaceLoaded    EventType = "surface.loaded"
	EventHelperReady      EventType = "helper.ready"
	EventBlankScreen      EventType = "surface.blank_screen"
	EventLoadFailed       EventType = "load.failed"
	EventNavigation       EventType = "navigation"
	EventRuntimeCommit    EventType = "runtime.commit"
	EventViewChanged      EventType = "view.changed"
	EventPackageChanged   EventType = "package.changed"
)

// Event describes session telemetry that host pages can consume.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"sessionId,omitempty"`
	Attempt   int            `json:"attempt,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Hub fan-outs telemetry events to any number of subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Event]string
	closed      bool
}

// NewHub constructs a telemetry hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan Event]string)}
}

// Publish notifies all subscribers of an event. Non-blocking; drops if buffer full.
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for ch, session := range h.subscribers {
		if session != "" && session != event.SessionID {
			continue
		}
		select {
		case ch <- event:
		default:
			// Drop if subscriber can't keep up; prevents blocking the pipeline.
		}
	}
}

// Subscribe returns a channel that will receive future events and a cleanup func.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	return h.SubscribeSession("")
}

// SubscribeSession is Subscribe limited to one session's events. An empty id
// receives everything.
func (h *Hub) SubscribeSession(sessionID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		empty := make(chan Event)
		close(empty)
		return empty, func() {}
	}
	ch := make(chan Event, 64)
	h.subscribers[ch] = sessionID
	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Close unsubscribes all listeners and prevents future publications.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, ch)
	}
}
