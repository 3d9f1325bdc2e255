package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/scormview/pkg/archive"
	"github.com/odvcencio/scormview/pkg/bus"
	apperrors "github.com/odvcencio/scormview/pkg/errors"
	"github.com/odvcencio/scormview/pkg/fetch"
	"github.com/odvcencio/scormview/pkg/relay"
	"github.com/odvcencio/scormview/pkg/storage"
	"github.com/odvcencio/scormview/pkg/viewer"
)

const signingKey = "0123456789abcdef0123456789abcdef"

type testEnv struct {
	ts       *httptest.Server
	sessions *viewer.Manager
	blobs    *archive.Store
	objects  *storage.LocalStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	var handler http.Handler
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	signer, err := storage.NewURLSigner(signingKey, ts.URL)
	require.NoError(t, err)
	objects, err := storage.NewLocalStore(t.TempDir(), signer)
	require.NoError(t, err)

	b := bus.NewMemoryBus()
	blobs := archive.NewStore("/blobs")
	sessions := viewer.NewManager(viewer.Deps{
		Fetcher:   fetch.NewClient(ts.Client(), fetch.Options{}, nil),
		Extractor: archive.NewExtractor(blobs, archive.Options{BatchYield: time.Millisecond}, nil),
		Bus:       b,
	}, viewer.Options{}, objects, time.Hour)
	hub := relay.NewHub(b, relay.Options{}, nil)
	t.Cleanup(func() {
		hub.Shutdown()
		_ = sessions.Close()
		_ = b.Close()
	})

	srv := New(Config{Metrics: true, Version: "test"}, sessions, hub, blobs, objects, nil)
	handler = srv.Handler()
	return &testEnv{ts: ts, sessions: sessions, blobs: blobs, objects: objects}
}

func coursePackage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	files := map[string]string{
		"imsmanifest.xml": `<manifest><metadata><schemaversion>2004 4th Edition</schemaversion></metadata>` +
			`<resources><resource href="index.html"/></resources></manifest>`,
		"index.html":    `<html><head><title>Course</title></head><body><button class="next">Next</button></body></html>`,
		"Assets/App.js": `console.log("ready")`,
	}
	for name, body := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func (e *testEnv) storePackage(t *testing.T, rel string, data []byte) {
	t.Helper()
	full := filepath.Join(e.objects.Root(), filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, data, 0o644))
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// openSession stores the course, creates a session for it and waits for the
// entry to resolve.
func (e *testEnv) openSession(t *testing.T) sessionResponse {
	t.Helper()
	e.storePackage(t, "courses/fire.zip", coursePackage(t))
	resp := e.do(t, http.MethodPost, "/api/sessions", map[string]string{"path": "courses/fire.zip"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[sessionResponse](t, resp)
	require.NotEmpty(t, created.Token)

	require.Eventually(t, func() bool {
		c, err := e.sessions.Get(created.Session.SessionID)
		return err == nil && c.Stage() == viewer.StageLoading
	}, 5*time.Second, 10*time.Millisecond)
	return created
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestMetricsExposed(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBridgeScriptServed(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, BridgePath, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "javascript")
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "API_1484_11")
}

func TestCreateSessionFromStoredPackage(t *testing.T) {
	env := newTestEnv(t)
	created := env.openSession(t)

	resp := env.do(t, http.MethodGet, "/api/sessions/"+created.Session.SessionID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[sessionResponse](t, resp)
	assert.Equal(t, viewer.StageLoading, got.Session.Stage)
	assert.Equal(t, "index.html", got.Session.EntryPath)
	assert.Equal(t, "/content/"+created.Session.SessionID+"/index.html", got.Session.EntryURL)
	assert.Equal(t, "2004", got.Session.Version)
	assert.Empty(t, got.Token, "token is only returned on create")

	resp = env.do(t, http.MethodGet, "/api/sessions", nil, nil)
	list := decode[map[string][]viewer.ViewState](t, resp)
	assert.Len(t, list["sessions"], 1)
}

func TestCreateSessionValidation(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/sessions", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, string(apperrors.ErrCodeInvalidInput), body["code"])

	resp = env.do(t, http.MethodPost, "/api/sessions", map[string]string{"path": "../etc/passwd"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/sessions", map[string]string{"path": "missing.zip"}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/sessions/nope", "/api/sessions/nope/status", "/content/nope/index.html"} {
		resp := env.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestEntryDocumentCarriesBridge(t *testing.T) {
	env := newTestEnv(t)
	created := env.openSession(t)
	id := created.Session.SessionID

	resp := env.do(t, http.MethodGet, "/content/"+id+"/index.html", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ContentSandbox, resp.Header.Get("Content-Security-Policy"))
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `src="/bridge.js"`)
	assert.Contains(t, string(body), `data-scormview-session="`+id+`"`)
	assert.Contains(t, string(body), `data-scormview-token="`+created.Token+`"`)
	assert.Contains(t, string(body), `data-scormview-version="2004"`)
}

func TestAssetsServedUnmodified(t *testing.T) {
	env := newTestEnv(t)
	created := env.openSession(t)
	id := created.Session.SessionID

	resp := env.do(t, http.MethodGet, "/content/"+id+"/Assets/App.js", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, `console.log("ready")`, string(body))

	resp = env.do(t, http.MethodGet, "/content/"+id+"/assets/app.js", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "case-insensitive fallback")

	resp = env.do(t, http.MethodGet, "/content/"+id+"/missing.html", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRuntimeEndpoint(t *testing.T) {
	env := newTestEnv(t)
	created := env.openSession(t)
	path := "/api/sessions/" + created.Session.SessionID + "/runtime"
	auth := map[string]string{TokenHeader: created.Token}

	resp := env.do(t, http.MethodPost, path, runtimeRequest{Version: "2004", Method: "Initialize", Args: []string{""}}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodPost, path, runtimeRequest{Version: "2004", Method: "Initialize"}, map[string]string{TokenHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	call := func(method string, args ...string) string {
		resp := env.do(t, http.MethodPost, path, runtimeRequest{Version: "2004", Method: method, Args: args}, auth)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		return decode[map[string]string](t, resp)["result"]
	}
	assert.Equal(t, "true", call("Initialize", ""))
	assert.Equal(t, "true", call("SetValue", "cmi.completion_status", "completed"))
	assert.Equal(t, "completed", call("GetValue", "cmi.completion_status"))
	assert.Equal(t, "0", call("GetLastError"))

	resp = env.do(t, http.MethodPost, path, runtimeRequest{Version: "2004", Method: "Explode"}, auth)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/sessions/"+created.Session.SessionID+"/status", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[map[string]string](t, resp)
	assert.Equal(t, "completed", status["completion"])
}

func TestFilesAndBlobRevocation(t *testing.T) {
	env := newTestEnv(t)
	created := env.openSession(t)
	id := created.Session.SessionID

	resp := env.do(t, http.MethodGet, "/api/sessions/"+id+"/files", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listing := decode[struct {
		Files []map[string]any `json:"files"`
	}](t, resp)
	require.Len(t, listing.Files, 3)
	blobURL, _ := listing.Files[0]["blob"].(string)
	require.True(t, strings.HasPrefix(blobURL, "/blobs/"))

	resp = env.do(t, http.MethodGet, blobURL, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/sessions/"+id, nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, env.blobs.Len())

	resp = env.do(t, http.MethodGet, blobURL, nil, nil)
	assert.Equal(t, http.StatusGone, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/sessions/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSignedObjectAccess(t *testing.T) {
	env := newTestEnv(t)
	env.storePackage(t, "courses/fire.zip", coursePackage(t))

	signed, err := env.objects.SignedDownloadURL("courses/fire.zip", time.Minute)
	require.NoError(t, err)
	resp, err := env.ts.Client().Get(signed)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))

	bad := env.do(t, http.MethodGet, "/objects/courses/fire.zip?token=forged", nil, nil)
	assert.Equal(t, http.StatusForbidden, bad.StatusCode)

	other, err := env.objects.Signer().SignedDownloadURL("courses/other.zip", time.Minute)
	require.NoError(t, err)
	token := other[strings.Index(other, "token=")+len("token="):]
	wrong := env.do(t, http.MethodGet, "/objects/courses/fire.zip?token="+token, nil, nil)
	assert.Equal(t, http.StatusForbidden, wrong.StatusCode)
}

func TestListPackages(t *testing.T) {
	env := newTestEnv(t)
	env.storePackage(t, "b.zip", coursePackage(t))
	env.storePackage(t, "a/c.zip", coursePackage(t))

	resp := env.do(t, http.MethodGet, "/api/packages", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string][]storage.PackageInfo](t, resp)
	require.Len(t, body["packages"], 2)
	assert.Equal(t, "a/c.zip", body["packages"][0].Path)
}

func TestControlsAndToggles(t *testing.T) {
	env := newTestEnv(t)
	created := env.openSession(t)
	base := "/api/sessions/" + created.Session.SessionID

	resp := env.do(t, http.MethodGet, base+"/controls", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	controls := decode[map[string]map[string]any](t, resp)
	require.Contains(t, controls, "next")
	assert.Equal(t, "next", controls["next"]["direction"])

	resp = env.do(t, http.MethodPost, base+"/toggle-navigation", nil, nil)
	assert.Equal(t, map[string]bool{"show_navigation": false}, decode[map[string]bool](t, resp))
	resp = env.do(t, http.MethodPost, base+"/toggle-menu", nil, nil)
	assert.Equal(t, map[string]bool{"show_menu": true}, decode[map[string]bool](t, resp))
}

func TestNavigateRequiresLoadedContent(t *testing.T) {
	env := newTestEnv(t)
	created := env.openSession(t)
	base := "/api/sessions/" + created.Session.SessionID

	resp := env.do(t, http.MethodPost, base+"/navigate", navigateRequest{Direction: "sideways"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, base+"/navigate", navigateRequest{Direction: "next"}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestReloadWithoutContentCountsHostReload(t *testing.T) {
	env := newTestEnv(t)
	created := env.openSession(t)

	resp := env.do(t, http.MethodPost, "/api/sessions/"+created.Session.SessionID+"/reload", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[sessionResponse](t, resp)
	assert.Equal(t, 1, got.Session.Reloads)
}

func TestWebsocketRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	created := env.openSession(t)
	wsBase := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/api/sessions/" + created.Session.SessionID + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsBase+"?role=content", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsBase+"?role=host&token="+created.Token, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"scormAction": "get-status"}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg map[string]json.RawMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if status, ok := msg["scormStatus"]; ok {
			assert.Contains(t, string(status), `"version":"2004"`)
			return
		}
	}
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t)
	created := env.openSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		env.ts.URL+"/api/sessions/"+created.Session.SessionID+"/events", nil)
	require.NoError(t, err)
	resp, err := env.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "data: "))
	assert.Contains(t, line, fmt.Sprintf(`"sessionId":%q`, created.Session.SessionID))
}

func TestStatusForCodes(t *testing.T) {
	tests := []struct {
		code apperrors.ErrorCode
		want int
	}{
		{apperrors.ErrCodeInvalidInput, http.StatusBadRequest},
		{apperrors.ErrCodeInvalidToken, http.StatusForbidden},
		{apperrors.ErrCodeSessionNotFound, http.StatusNotFound},
		{apperrors.ErrCodeInvalidStage, http.StatusConflict},
		{apperrors.ErrCodeContentOffline, http.StatusServiceUnavailable},
		{apperrors.ErrCodeNavigationFailed, http.StatusBadGateway},
		{apperrors.ErrCodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(apperrors.New(tt.code, "x")))
		})
	}
}

func TestRespondErrorUsesUserMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	respondError(rec, 0, apperrors.NoEntryPoint(3))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "NO_ENTRY_POINT", body["code"])
	assert.Equal(t, "This package has no launchable content.", body["message"])
	assert.NotEmpty(t, body["remediation"])
}
