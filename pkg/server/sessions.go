package server

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odvcencio/scormview/pkg/bus"
	apperrors "github.com/odvcencio/scormview/pkg/errors"
	"github.com/odvcencio/scormview/pkg/navigation"
	"github.com/odvcencio/scormview/pkg/viewer"
)

const sseKeepAlive = 25 * time.Second

type sessionResponse struct {
	Session viewer.ViewState `json:"session"`
	Token   string           `json:"token,omitempty"`
	WSURL   string           `json:"ws_url,omitempty"`
}

type navigateRequest struct {
	Direction string `json:"direction"`
}

type runtimeRequest struct {
	Version string   `json:"version"`
	Method  string   `json:"method"`
	Args    []string `json:"args"`
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*viewer.Controller, bool) {
	c, err := s.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return nil, false
	}
	return c, true
}

func tokenMatches(c *viewer.Controller, provided string) bool {
	provided = strings.TrimSpace(provided)
	if provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(c.Token())) == 1
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.List()})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req viewer.CreateRequest
	if status, err := decodeJSONBody(w, r, &req, maxBodyBytesTiny, false); err != nil {
		respondError(w, status, err)
		return
	}
	c, err := s.sessions.Create(r.Context(), req)
	if err != nil {
		respondError(w, 0, err)
		return
	}
	respondJSON(w, http.StatusCreated, sessionResponse{
		Session: c.View(),
		Token:   c.Token(),
		WSURL:   fmt.Sprintf("/api/sessions/%s/ws?role=%s", c.ID(), bus.RoleHost),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, sessionResponse{Session: c.View()})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.sessions.CloseSession(id); err != nil {
		respondError(w, 0, err)
		return
	}
	if s.relay != nil {
		s.relay.CloseSession(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	c, err := s.sessions.Retry(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, 0, err)
		return
	}
	respondJSON(w, http.StatusAccepted, sessionResponse{Session: c.View()})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	view, err := c.Reload(r.Context())
	if err != nil {
		respondError(w, 0, err)
		return
	}
	respondJSON(w, http.StatusOK, sessionResponse{Session: view})
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	view, err := c.Home(r.Context())
	if err != nil {
		respondError(w, 0, err)
		return
	}
	respondJSON(w, http.StatusOK, sessionResponse{Session: view})
}

func (s *Server) handleToggleNavigation(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"show_navigation": c.ToggleNavigation()})
}

func (s *Server) handleToggleMenu(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"show_menu": c.ToggleMenu()})
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	var req navigateRequest
	if status, err := decodeJSONBody(w, r, &req, maxBodyBytesTiny, false); err != nil {
		respondError(w, status, err)
		return
	}
	d, err := navigation.ParseDirection(req.Direction)
	if err != nil {
		respondError(w, http.StatusBadRequest, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid direction"))
		return
	}
	result, err := c.Navigate(r.Context(), d)
	if err != nil {
		respondError(w, 0, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	snap, err := c.Commit(bus.RoleHost)
	if err != nil {
		respondError(w, 0, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	status, err := c.Status()
	if err != nil {
		respondError(w, 0, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleControls(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, c.Controls())
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	files := c.Files()
	if files == nil {
		respondError(w, 0, apperrors.New(apperrors.ErrCodeInvalidStage, "package not extracted").
			WithContext("stage", string(c.Stage())))
		return
	}
	paths := files.Paths()
	out := make([]map[string]any, 0, len(paths))
	for _, p := range paths {
		ref, ok := files.Get(p)
		if !ok {
			continue
		}
		out = append(out, map[string]any{
			"path":         p,
			"url":          c.EntryURL(p),
			"blob":         ref.URL,
			"content_type": ref.ContentType,
			"size":         ref.Size,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"entry": c.Entry(), "files": out})
}

// handleEvents streams the session's telemetry as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, fmt.Errorf("streaming not supported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	events, unsubscribe := s.sessions.Telemetry().SubscribeSession(c.ID())
	defer unsubscribe()

	initial, _ := json.Marshal(map[string]any{"type": "view.changed", "sessionId": c.ID(), "data": map[string]any{"view": c.View()}})
	fmt.Fprintf(w, "data: %s\n\n", initial)
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	if !tokenMatches(c, r.URL.Query().Get("token")) {
		respondError(w, http.StatusUnauthorized, apperrors.New(apperrors.ErrCodeInvalidToken, "session token required"))
		return
	}
	if s.relay == nil {
		respondError(w, http.StatusServiceUnavailable, fmt.Errorf("relay not configured"))
		return
	}
	role := strings.TrimSpace(r.URL.Query().Get("role"))
	if role == "" {
		role = bus.RoleHost
	}
	s.relay.ServeWS(w, r, c.ID(), role)
}

// handleRuntime answers the bridge's synchronous runtime API calls.
func (s *Server) handleRuntime(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	if !tokenMatches(c, r.Header.Get(TokenHeader)) {
		respondError(w, http.StatusUnauthorized, apperrors.New(apperrors.ErrCodeInvalidToken, "session token required"))
		return
	}
	var req runtimeRequest
	if status, err := decodeJSONBody(w, r, &req, maxBodyBytesRuntime, false); err != nil {
		respondError(w, status, err)
		return
	}
	result, err := c.Call(req.Version, req.Method, req.Args)
	if err != nil {
		s.logger.Debug("runtime call rejected",
			slog.String("session_id", c.ID()),
			slog.String("method", req.Method),
			slog.String("error", err.Error()))
		respondError(w, 0, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"result": result})
}

func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	if s.objects == nil {
		respondJSON(w, http.StatusOK, map[string]any{"packages": []any{}})
		return
	}
	packages, err := s.objects.List()
	if err != nil {
		respondError(w, 0, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"packages": packages})
}
