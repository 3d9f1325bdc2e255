package server

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odvcencio/scormview/pkg/archive"
	apperrors "github.com/odvcencio/scormview/pkg/errors"
	"github.com/odvcencio/scormview/pkg/navigation"
	"github.com/odvcencio/scormview/pkg/storage"
	"github.com/odvcencio/scormview/pkg/viewer"
)

// ContentSandbox is the CSP sandbox package content runs under.
const ContentSandbox = "sandbox allow-scripts allow-same-origin allow-popups allow-forms allow-modals"

// contentPath resolves the requested file within the session's package.
// Lookups fall back to a case-insensitive match for packages authored on
// case-insensitive filesystems.
func contentPath(files *archive.FileSet, raw string) (string, bool) {
	unescaped, err := url.PathUnescape(raw)
	if err != nil {
		unescaped = raw
	}
	name, ok := archive.NormalizePath(unescaped)
	if !ok {
		return "", false
	}
	if files.Has(name) {
		return name, true
	}
	for _, p := range files.Paths() {
		if strings.EqualFold(p, name) {
			return p, true
		}
	}
	return "", false
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
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
	name, ok := contentPath(files, chi.URLParam(r, "*"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	body, contentType, err := files.Read(name)
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}

	if name == c.Entry().Path && archive.IsHTML(name) {
		injected, err := navigation.InjectBridge(bytes.NewReader(body), bridgeAttrs(c))
		if err != nil {
			s.logger.Warn("bridge injection failed, serving entry unmodified")
		} else {
			body = injected
		}
		w.Header().Set("Cache-Control", "no-store")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=300")
	}

	w.Header().Set("Content-Security-Policy", ContentSandbox)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}

func bridgeAttrs(c *viewer.Controller) navigation.BridgeAttrs {
	version := c.Version()
	if version == "" {
		version = "1.2"
	}
	return navigation.BridgeAttrs{
		Src:       BridgePath,
		SessionID: c.ID(),
		Token:     c.Token(),
		Version:   version,
	}
}

// handleBlob serves one extracted file by its revocable reference.
func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		http.NotFound(w, r)
		return
	}
	body, contentType, err := s.blobs.Open(chi.URLParam(r, "blobID"))
	if err != nil {
		respondError(w, http.StatusGone, err)
		return
	}
	w.Header().Set("Content-Security-Policy", ContentSandbox)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write(body)
}

// handleObject serves a stored package archive to holders of a signed URL.
func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	if s.objects == nil || s.objects.Signer() == nil {
		http.NotFound(w, r)
		return
	}
	raw := chi.URLParam(r, "*")
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}
	p, err := storage.CleanPath(raw)
	if err != nil {
		respondError(w, 0, err)
		return
	}
	if _, err := s.objects.Signer().Verify(r.URL.Query().Get("token"), p); err != nil {
		respondError(w, 0, err)
		return
	}
	f, info, err := s.objects.Open(p)
	if err != nil {
		respondError(w, 0, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("Cache-Control", "private, no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if r.Method == http.MethodHead {
		return
	}
	_, _ = io.Copy(w, f)
}
