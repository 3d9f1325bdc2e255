package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/odvcencio/scormview/pkg/config"
	"github.com/odvcencio/scormview/pkg/filewatch"
	"github.com/odvcencio/scormview/pkg/storage"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

const testManifest = `<?xml version="1.0"?>
<manifest identifier="course">
  <metadata><schema>ADL SCORM</schema><schemaversion>2004 4th Edition</schemaversion></metadata>
  <organizations><organization><title>Ladder Safety</title></organization></organizations>
  <resources><resource identifier="r1" href="index.html"/></resources>
</manifest>`

const testEntry = `<html><body><button id="next">Next</button></body></html>`

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write zip: %v", err)
	}
}

func TestExitCodeForError(t *testing.T) {
	if got := exitCodeForError(nil); got != 0 {
		t.Fatalf("nil error exit code = %d, want 0", got)
	}
	if got := exitCodeForError(errors.New("boom")); got != 1 {
		t.Fatalf("plain error exit code = %d, want 1", got)
	}
	wrapped := withExitCode(errors.New("bad config"), exitConfig)
	if got := exitCodeForError(wrapped); got != exitConfig {
		t.Fatalf("coded error exit code = %d, want %d", got, exitConfig)
	}
	if withExitCode(nil, exitConfig) != nil {
		t.Fatal("withExitCode(nil) should stay nil")
	}
	if got := exitCodeForError(exitError{}); got != 1 {
		t.Fatalf("zero code exit = %d, want 1", got)
	}
}

func TestDispatchSubcommand(t *testing.T) {
	if handled, _ := dispatchSubcommand(nil); handled {
		t.Fatal("empty args should not be handled")
	}
	if handled, _ := dispatchSubcommand([]string{"bogus"}); handled {
		t.Fatal("unknown command should not be handled")
	}
	handled, code := dispatchSubcommand([]string{"version"})
	if !handled || code != 0 {
		t.Fatalf("version = (%v, %d), want (true, 0)", handled, code)
	}
	handled, code = dispatchSubcommand([]string{"inspect"})
	if !handled || code != exitUsage {
		t.Fatalf("inspect without args = (%v, %d), want (true, %d)", handled, code, exitUsage)
	}
}

func TestRunCommandPropagatesExitCode(t *testing.T) {
	code := runCommand(func([]string) error {
		return withExitCode(errors.New("load failed"), exitLoad)
	}, nil)
	if code != exitLoad {
		t.Fatalf("runCommand = %d, want %d", code, exitLoad)
	}
}

func TestStringListValue(t *testing.T) {
	var origins []string
	v := &stringListValue{target: &origins}
	if err := v.Set("https://a.example, https://b.example,"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := v.Set("https://c.example"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := v.String(); got != "https://a.example,https://b.example,https://c.example" {
		t.Fatalf("String() = %q", got)
	}
	if err := (&stringListValue{}).Set("x"); err == nil {
		t.Fatal("expected error without a target")
	}
}

func TestInspectPackageReportsEntryPoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "course.zip")
	writeZip(t, path, map[string]string{
		"imsmanifest.xml": testManifest,
		"index.html":      testEntry,
		"assets/app.js":   "void 0",
	})

	var out bytes.Buffer
	if err := inspectPackage(context.Background(), path, "en", false, &out, false); err != nil {
		t.Fatalf("inspectPackage: %v", err)
	}

	var report map[string]any
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out.String())
	}
	if report["files"] != float64(3) {
		t.Fatalf("files = %v, want 3", report["files"])
	}
	entry := report["entry"].(map[string]any)
	if entry["path"] != "index.html" || entry["tier"] != "common-path" {
		t.Fatalf("entry = %v", entry)
	}
	manifest := report["manifest"].(map[string]any)
	if manifest["version"] != "2004" || manifest["title"] != "Ladder Safety" {
		t.Fatalf("manifest = %v", manifest)
	}
	controls := report["controls"].(map[string]any)
	next, ok := controls["next"].(map[string]any)
	if !ok || next["selector"] != "#next" {
		t.Fatalf("controls = %v", controls)
	}
}

func TestInspectPackageFileURLAndListing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "course.zip")
	writeZip(t, path, map[string]string{
		"player/story.html": testEntry,
	})

	var out bytes.Buffer
	source := (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
	if err := inspectPackage(context.Background(), source, "en", true, &out, true); err != nil {
		t.Fatalf("inspectPackage: %v", err)
	}
	if !strings.HasSuffix(strings.TrimSpace(out.String()), "player/story.html") {
		t.Fatalf("expected file listing after report, got:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "\n  \"source\"") {
		t.Fatalf("expected indented report, got:\n%s", out.String())
	}
}

func TestInspectPackageFailures(t *testing.T) {
	dir := t.TempDir()
	noHTML := filepath.Join(dir, "media.zip")
	writeZip(t, noHTML, map[string]string{"video.mp4": "data"})

	cases := map[string]string{
		"missing file":   filepath.Join(dir, "missing.zip"),
		"no entry point": noHTML,
	}
	for name, source := range cases {
		t.Run(name, func(t *testing.T) {
			err := inspectPackage(context.Background(), source, "en", false, &bytes.Buffer{}, false)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := exitCodeForError(err); got != exitLoad {
				t.Fatalf("exit code = %d, want %d", got, exitLoad)
			}
		})
	}
}

func TestInspectPackageFetchesURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "course.zip")
	writeZip(t, path, map[string]string{"index.html": testEntry})
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var out bytes.Buffer
	if err := inspectPackage(ctx, ts.URL+"/course.zip", "en", false, &out, false); err != nil {
		t.Fatalf("inspectPackage: %v", err)
	}
	if !strings.Contains(out.String(), `"bytes":`) {
		t.Fatalf("unexpected report: %s", out.String())
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Root = t.TempDir()
	cfg.Storage.SigningKey = testSigningKey
	cfg.Server.PublicBaseURL = "https://viewer.example"
	cfg.Bus.Kind = config.BusMemory
	cfg.Logging.Level = "error"
	return cfg
}

func TestSignPackage(t *testing.T) {
	cfg := testConfig(t)
	writeZip(t, filepath.Join(cfg.Storage.Root, "dept", "course.zip"), map[string]string{"index.html": testEntry})

	var out bytes.Buffer
	if err := signPackage(cfg, "dept/course.zip", time.Hour, &out); err != nil {
		t.Fatalf("signPackage: %v", err)
	}
	signed := strings.TrimSpace(out.String())
	prefix := "https://viewer.example" + storage.ObjectsPrefix + "dept/course.zip?token="
	if !strings.HasPrefix(signed, prefix) {
		t.Fatalf("signed URL = %q, want prefix %q", signed, prefix)
	}

	u, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	verifier, err := storage.NewURLSigner(testSigningKey, "https://viewer.example")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	if _, err := verifier.Verify(u.Query().Get("token"), "dept/course.zip"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestSignPackageMissing(t *testing.T) {
	cfg := testConfig(t)
	err := signPackage(cfg, "nope.zip", time.Hour, &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error for a missing package")
	}
	if got := exitCodeForError(err); got != exitLoad {
		t.Fatalf("exit code = %d, want %d", got, exitLoad)
	}
}

func TestNewAppWiresServer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telemetry.Metrics = false
	a, err := newApp(cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	if a.watcher == nil {
		t.Fatal("watcher should be configured when storage.watch is on")
	}
	// No sessions reference the package, so this is a no-op.
	a.packageChanged(filewatch.FileChange{Path: "course.zip", Type: filewatch.ChangeModified})

	ts := httptest.NewServer(a.server.Handler())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Fatal("metrics should not be routed when disabled")
	}
}

func TestNewAppRejectsUnknownBus(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bus.Kind = "carrier-pigeon"
	if _, err := newApp(cfg); err == nil {
		t.Fatal("expected error for an unknown bus kind")
	} else if got := exitCodeForError(err); got != exitConfig {
		t.Fatalf("exit code = %d, want %d", got, exitConfig)
	}
}
