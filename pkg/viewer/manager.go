package viewer

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odvcencio/scormview/pkg/bus"
	"github.com/odvcencio/scormview/pkg/errors"
	"github.com/odvcencio/scormview/pkg/observability"
	"github.com/odvcencio/scormview/pkg/storage"
	"github.com/odvcencio/scormview/pkg/telemetry"
)

// CreateRequest opens a session for a stored package or an archive URL.
type CreateRequest struct {
	Path    string `json:"path,omitempty"`
	FileURL string `json:"file_url,omitempty"`
	Title   string `json:"title,omitempty"`
}

// Manager tracks the open viewing sessions.
type Manager struct {
	deps   Deps
	opts   Options
	signer storage.Signer
	urlTTL time.Duration
	logger *observability.Logger

	mu       sync.Mutex
	sessions map[string]*Controller
	closed   bool
}

// NewManager creates a manager. signer resolves storage paths to fetchable
// URLs and may be nil when only archive URLs are used.
func NewManager(deps Deps, opts Options, signer storage.Signer, urlTTL time.Duration) *Manager {
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.NewHub()
	}
	if deps.Bus == nil {
		deps.Bus = bus.NewMemoryBus()
	}
	logger := deps.Logger
	if logger == nil {
		logger = observability.Discard()
	}
	if urlTTL <= 0 || urlTTL > storage.MaxURLTTL {
		urlTTL = storage.MaxURLTTL
	}
	return &Manager{
		deps:     deps,
		opts:     opts,
		signer:   signer,
		urlTTL:   urlTTL,
		logger:   logger.Component("sessions"),
		sessions: make(map[string]*Controller),
	}
}

// Telemetry returns the hub session events are published to.
func (m *Manager) Telemetry() *telemetry.Hub {
	return m.deps.Telemetry
}

func (m *Manager) source(req CreateRequest) (Source, error) {
	src := Source{Title: strings.TrimSpace(req.Title)}
	switch {
	case strings.TrimSpace(req.Path) != "":
		if m.signer == nil {
			return Source{}, errors.New(errors.ErrCodeInvalidInput, "no package storage configured")
		}
		p, err := storage.CleanPath(req.Path)
		if err != nil {
			return Source{}, err
		}
		signed, err := m.signer.SignedDownloadURL(p, m.urlTTL)
		if err != nil {
			return Source{}, err
		}
		src.Path = p
		src.URL = signed
		src.DownloadURL = signed
	case strings.TrimSpace(req.FileURL) != "":
		src.URL = strings.TrimSpace(req.FileURL)
		src.DownloadURL = src.URL
	default:
		return Source{}, errors.New(errors.ErrCodeInvalidInput, "path or file_url is required")
	}
	return src, nil
}

// Create opens a session and starts its pipeline in the background.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Controller, error) {
	src, err := m.source(req)
	if err != nil {
		return nil, err
	}
	c := NewController(uuid.NewString(), src, m.deps, m.opts)
	if err := c.Start(context.Background()); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = c.Close()
		return nil, errors.New(errors.ErrCodeInvalidStage, "viewer is shutting down")
	}
	m.sessions[c.ID()] = c
	m.mu.Unlock()
	observability.ActiveSessions.Inc()
	m.logger.WithContext(ctx).Info("session created", slog.String("session_id", c.ID()), slog.String("path", src.Path))

	go m.run(c, func(ctx context.Context) error { return c.Load(ctx) })
	return c, nil
}

func (m *Manager) run(c *Controller, step func(context.Context) error) {
	if err := step(context.Background()); err != nil && !errors.IsCode(err, errors.ErrCodeAborted) {
		m.logger.Debug("session pipeline ended", slog.String("session_id", c.ID()), slog.String("error", err.Error()))
	}
}

// Get returns an open session.
func (m *Manager) Get(id string) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.sessions[id]
	if !ok {
		return nil, errors.SessionNotFound(id)
	}
	return c, nil
}

// List returns every open session's view, ordered by id.
func (m *Manager) List() []ViewState {
	m.mu.Lock()
	sessions := make([]*Controller, 0, len(m.sessions))
	for _, c := range m.sessions {
		sessions = append(sessions, c)
	}
	m.mu.Unlock()

	views := make([]ViewState, 0, len(sessions))
	for _, c := range sessions {
		views = append(views, c.View())
	}
	sort.Slice(views, func(i, j int) bool { return views[i].SessionID < views[j].SessionID })
	return views
}

// Retry re-runs a session's pipeline in the background.
func (m *Manager) Retry(id string) (*Controller, error) {
	c, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	go m.run(c, c.Retry)
	return c, nil
}

// CloseSession closes and forgets a session.
func (m *Manager) CloseSession(id string) error {
	m.mu.Lock()
	c, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return errors.SessionNotFound(id)
	}
	observability.ActiveSessions.Dec()
	m.logger.Info("session closed", slog.String("session_id", id))
	return c.Close()
}

// ReloadByPackage retries every session viewing the stored package at path
// and returns how many were restarted.
func (m *Manager) ReloadByPackage(path string) int {
	p, err := storage.CleanPath(path)
	if err != nil {
		return 0
	}
	m.mu.Lock()
	var matched []*Controller
	for _, c := range m.sessions {
		if c.Source().Path == p {
			matched = append(matched, c)
		}
	}
	m.mu.Unlock()

	for _, c := range matched {
		m.deps.Telemetry.Publish(telemetry.Event{
			Type:      telemetry.EventPackageChanged,
			SessionID: c.ID(),
			Data:      map[string]any{"path": p},
		})
		go m.run(c, c.Retry)
	}
	if len(matched) > 0 {
		m.logger.Info("package changed, sessions reloading", slog.String("path", p), slog.Int("sessions", len(matched)))
	}
	return len(matched)
}

// Close closes every session. New sessions are refused afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Controller, 0, len(m.sessions))
	for _, c := range m.sessions {
		sessions = append(sessions, c)
	}
	m.sessions = make(map[string]*Controller)
	m.mu.Unlock()

	var lastErr error
	for _, c := range sessions {
		observability.ActiveSessions.Dec()
		if err := c.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
