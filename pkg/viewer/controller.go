// Package viewer drives one viewing session: it runs the fetch, extract and
// resolve pipeline, tracks the load stage, publishes the runtime into the
// content's frames and relays host controls to the content bridge.
package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/scormview/pkg/archive"
	"github.com/odvcencio/scormview/pkg/bus"
	"github.com/odvcencio/scormview/pkg/errors"
	"github.com/odvcencio/scormview/pkg/fetch"
	"github.com/odvcencio/scormview/pkg/navigation"
	"github.com/odvcencio/scormview/pkg/observability"
	"github.com/odvcencio/scormview/pkg/relay"
	"github.com/odvcencio/scormview/pkg/resolver"
	"github.com/odvcencio/scormview/pkg/scorm"
	"github.com/odvcencio/scormview/pkg/telemetry"
)

// Fetcher downloads package archives.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, onProgress fetch.ProgressFunc) ([]byte, error)
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Fetcher   Fetcher
	Extractor *archive.Extractor
	Resolver  *resolver.Resolver
	Bus       bus.MessageBus
	Telemetry *telemetry.Hub
	Chain     *navigation.Chain
	Logger    *observability.Logger
}

// Options configures session behavior.
type Options struct {
	LoadTimeout        time.Duration
	BlankScreenTimeout time.Duration
	// HideNavigation starts the session with the navigation chrome hidden.
	HideNavigation     bool
	Locale             string
	APISearchDepth     int
	Runtime            scorm.Options
	// ContentPrefix is the route extracted files are served under.
	ContentPrefix string
	// CommandTimeout bounds one command round trip to the content.
	CommandTimeout time.Duration
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		LoadTimeout:        20 * time.Second,
		BlankScreenTimeout: 45 * time.Second,
		Locale:             "en",
		APISearchDepth:     scorm.DefaultSearchDepth,
		ContentPrefix:      "/content",
		CommandTimeout:     relay.DefaultAckTimeout + time.Second,
	}
}

// Source says where a session's package comes from.
type Source struct {
	// URL is the fetchable archive location.
	URL string `json:"url"`
	// Path is the storage object path when the package is stored locally.
	Path  string `json:"path,omitempty"`
	Title string `json:"title,omitempty"`
	// DownloadURL lets the user bypass the viewer.
	DownloadURL string `json:"download_url,omitempty"`
}

// FrameInfo mirrors one window of the content's frame tree.
type FrameInfo struct {
	ID          string `json:"id"`
	Parent      string `json:"parent"`
	CrossOrigin bool   `json:"cross_origin"`
}

// LoadedSignal is the data of the bridge's "loaded" signal.
type LoadedSignal struct {
	Version string      `json:"version"`
	Frames  []FrameInfo `json:"frames"`
	Target  string      `json:"target"`
}

// Controller is one viewing session.
type Controller struct {
	id      string
	token   string
	source  Source
	deps    Deps
	opts    Options
	channel *relay.Channel
	logger  *observability.Logger

	mu          sync.Mutex
	stage       Stage
	generation  int
	cancel      context.CancelFunc
	files       *archive.FileSet
	entry       resolver.Candidate
	manifest    resolver.ManifestInfo
	version     string
	runtime     *scorm.Runtime
	registry    *scorm.Registry
	controls    navigation.Controls
	downloadPct int
	extractPct  int
	loadErr     error
	surface     bool
	alive       bool
	blank       bool
	blankReason string
	showNav     bool
	showMenu    bool
	retries     int
	reloads     int
	closed      bool
	loadTimer   *time.Timer
	aliveTimer  *time.Timer
	inbound     bus.Subscription
}

// NewController creates a session in the downloading stage. Start begins
// listening to participants; Load runs the pipeline.
func NewController(id string, src Source, deps Deps, opts Options) *Controller {
	defaults := DefaultOptions()
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = defaults.LoadTimeout
	}
	if opts.BlankScreenTimeout <= 0 {
		opts.BlankScreenTimeout = defaults.BlankScreenTimeout
	}
	if opts.Locale == "" {
		opts.Locale = defaults.Locale
	}
	if opts.APISearchDepth <= 0 {
		opts.APISearchDepth = defaults.APISearchDepth
	}
	if opts.ContentPrefix == "" {
		opts.ContentPrefix = defaults.ContentPrefix
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaults.CommandTimeout
	}
	if deps.Resolver == nil {
		deps.Resolver = resolver.New(nil, deps.Logger)
	}
	if deps.Chain == nil {
		deps.Chain = navigation.NewChain(nil, 0, deps.Logger)
	}
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
	if src.DownloadURL == "" {
		src.DownloadURL = src.URL
	}
	return &Controller{
		id:      id,
		token:   ulid.Make().String(),
		source:  src,
		deps:    deps,
		opts:    opts,
		channel: relay.NewChannel(deps.Bus, id, opts.CommandTimeout),
		logger:  logger.Component("viewer").WithSession(id),
		stage:   StageDownloading,
		showNav: !opts.HideNavigation,
	}
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// Token authenticates the session's content and host participants.
func (c *Controller) Token() string { return c.token }

// Source returns where the package came from.
func (c *Controller) Source() Source { return c.source }

// Stage returns the current load stage.
func (c *Controller) Stage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

// Files returns the extracted package, or nil before extraction completes.
func (c *Controller) Files() *archive.FileSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.files
}

// Entry returns the resolved entry point.
func (c *Controller) Entry() resolver.Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entry
}

// Version returns the runtime generation the package expects.
func (c *Controller) Version() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Controls returns the navigation controls found in the entry document.
func (c *Controller) Controls() navigation.Controls {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controls
}

// Runtime returns the session runtime, or nil before the entry resolves.
func (c *Controller) Runtime() *scorm.Runtime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runtime
}

// Start subscribes to participant traffic.
func (c *Controller) Start(ctx context.Context) error {
	sub, err := c.channel.Inbound(ctx, c.handleInbound)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "subscribe session inbound")
	}
	c.mu.Lock()
	c.inbound = sub
	c.mu.Unlock()
	c.event(telemetry.EventSessionCreated, map[string]any{"url": c.source.URL, "title": c.source.Title})
	return nil
}

// Load runs fetch, extract and resolve for the current attempt and leaves
// the session in the loading stage, waiting for the surface.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New(errors.ErrCodeInvalidStage, "session closed").WithContext("session_id", c.id)
	}
	if c.stage != StageDownloading || c.cancel != nil {
		stage := c.stage
		c.mu.Unlock()
		return errors.New(errors.ErrCodeInvalidStage, "load already started").WithContext("stage", string(stage))
	}
	gen := c.generation
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	attempt := c.retries
	c.mu.Unlock()
	defer cancel()

	ctx, span := observability.StartSpan(ctx, "viewer.load")
	defer span.End()
	observability.SetAttributes(ctx,
		observability.AttrSessionID.String(c.id),
		observability.AttrAttempt.Int(attempt),
		observability.AttrPackageURL.String(c.source.URL),
	)

	data, err := c.deps.Fetcher.Fetch(ctx, c.source.URL, func(pct int) {
		c.progress(gen, telemetry.EventDownloadProgress, pct)
	})
	if err != nil {
		return c.fail(gen, err)
	}
	if err := c.advance(gen, StageExtracting, nil); err != nil {
		return err
	}

	files, err := c.deps.Extractor.Extract(ctx, data, func(pct int) {
		c.progress(gen, telemetry.EventExtractProgress, pct)
	})
	if err != nil {
		return c.fail(gen, err)
	}
	if !c.adopt(gen, files) {
		files.Release()
		return errors.Aborted(string(StageExtracting), context.Canceled)
	}

	entry, err := c.deps.Resolver.Resolve(files)
	if err != nil {
		return c.fail(gen, err)
	}
	manifest := resolver.ReadManifest(files)
	controls := c.scanControls(files, entry.Path)
	observability.SetAttributes(ctx,
		observability.AttrEntryPath.String(entry.Path),
		observability.AttrEntryTier.String(entry.Tier.String()),
		observability.AttrPackageFiles.Int(files.Len()),
	)

	rt := scorm.NewRuntime(c.opts.Runtime)
	rt.OnCommit(c.snapshotHook(gen))
	registry := scorm.NewRegistry(rt, c.opts.APISearchDepth, c.logger)

	err = c.advance(gen, StageLoading, func() {
		c.entry = entry
		c.manifest = manifest
		c.version = string(manifest.Version)
		c.controls = controls
		c.runtime = rt
		c.registry = registry
		c.armLoadTimer(gen)
	})
	if err != nil {
		return err
	}
	c.event(telemetry.EventEntryResolved, map[string]any{
		"path":     entry.Path,
		"tier":     entry.Tier.String(),
		"strategy": entry.Strategy,
		"version":  string(manifest.Version),
	})
	return nil
}

func (c *Controller) scanControls(files *archive.FileSet, entry string) navigation.Controls {
	body, _, err := files.Read(entry)
	if err != nil {
		return navigation.Controls{}
	}
	controls, err := navigation.FindControls(bytes.NewReader(body), c.opts.Locale)
	if err != nil {
		c.logger.Debug("control scan failed", slog.String("error", err.Error()))
	}
	return controls
}

// current reports whether gen is still the live attempt. Caller holds mu.
func (c *Controller) current(gen int) bool {
	return !c.closed && gen == c.generation
}

func (c *Controller) progress(gen int, typ telemetry.EventType, pct int) {
	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		return
	}
	if typ == telemetry.EventDownloadProgress {
		c.downloadPct = pct
	} else {
		c.extractPct = pct
	}
	c.mu.Unlock()
	c.event(typ, map[string]any{"percent": pct})
}

// adopt installs files as the session's file set when gen is still live.
func (c *Controller) adopt(gen int, files *archive.FileSet) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.current(gen) {
		return false
	}
	c.files = files
	return true
}

// advance moves the live attempt to stage `to`, running mutate under the
// lock first.
func (c *Controller) advance(gen int, to Stage, mutate func()) error {
	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		return errors.Aborted(string(to), context.Canceled)
	}
	from := c.stage
	if !CanTransition(from, to) {
		c.mu.Unlock()
		return invalidTransition(from, to)
	}
	if mutate != nil {
		mutate()
	}
	c.stage = to
	view := c.viewLocked()
	c.mu.Unlock()

	c.stageChanged(from, to, view)
	return nil
}

func (c *Controller) stageChanged(from, to Stage, view ViewState) {
	observability.StageTransitions.WithLabelValues(string(from), string(to)).Inc()
	c.logger.StageChanged(string(from), string(to))
	c.event(telemetry.EventStageChanged, map[string]any{"from": string(from), "to": string(to)})
	c.publishView(view)
}

// fail records err for the live attempt. Failures of abandoned attempts are
// reported to the caller as aborted and otherwise ignored.
func (c *Controller) fail(gen int, err error) error {
	c.mu.Lock()
	from := c.stage
	if !c.current(gen) {
		c.mu.Unlock()
		if errors.IsCode(err, errors.ErrCodeAborted) {
			return err
		}
		return errors.Aborted(string(from), err)
	}
	c.stage = StageError
	c.loadErr = err
	c.stopTimersLocked()
	view := c.viewLocked()
	c.mu.Unlock()

	code := string(errors.GetCode(err))
	observability.LoadFailures.WithLabelValues(code).Inc()
	c.logger.LoadFailed(code, errors.IsRetryable(err), err)
	c.event(telemetry.EventLoadFailed, map[string]any{"error": view.Error})
	c.stageChanged(from, StageError, view)
	return err
}

func (c *Controller) snapshotHook(gen int) func(scorm.Snapshot) {
	return func(snap scorm.Snapshot) {
		c.mu.Lock()
		live := c.current(gen)
		version := c.version
		rt := c.runtime
		c.mu.Unlock()
		if !live {
			return
		}
		snap.SessionID = c.id
		if snap.Version == "" {
			snap.Version = version
		}
		ctx := context.Background()
		if err := bus.PublishJSON(ctx, c.deps.Bus, bus.SnapshotSubject(c.id), snap); err != nil {
			c.logger.Warn("snapshot publish failed", slog.String("error", err.Error()))
		}
		if rt != nil {
			_ = c.channel.ToHost(ctx, map[string]any{"scormStatus": rt.Status(version)})
		}
		c.event(telemetry.EventRuntimeCommit, map[string]any{"reason": snap.Reason, "elements": len(snap.Values)})
	}
}

// SurfaceLoaded handles the content's load signal: the runtime is published
// into the reported frames and the navigation helper is configured.
func (c *Controller) SurfaceLoaded(ctx context.Context, sig LoadedSignal) error {
	c.mu.Lock()
	if c.closed || c.stage != StageLoading {
		stage := c.stage
		c.mu.Unlock()
		return errors.New(errors.ErrCodeInvalidStage, "surface loaded outside loading stage").
			WithContext("stage", string(stage))
	}
	gen := c.generation
	c.surface = true
	c.alive = false
	c.blank = false
	c.blankReason = ""
	if c.loadTimer != nil {
		c.loadTimer.Stop()
		c.loadTimer = nil
	}
	c.armAliveTimer(gen)
	if v := normalizeVersion(sig.Version); v != "" {
		c.version = v
	}
	registry := c.registry
	controls := c.controls
	c.mu.Unlock()

	c.event(telemetry.EventSurfaceLoaded, map[string]any{"frames": len(sig.Frames)})

	report := registry.Publish(buildFrames(sig))
	if _, err := c.channel.Send(ctx, navigation.Command{
		Name: navigation.CmdPublish,
		Data: map[string]any{"installed": report.Installed},
	}); err != nil {
		c.logger.PublishFailed(sig.Target, err)
	}

	cfg := navigation.NewHelperConfig(c.opts.Locale, controls)
	ack, err := c.channel.Send(ctx, navigation.Command{Name: navigation.CmdHelperInit, Data: cfg})
	if err != nil {
		return err
	}
	if !ack.OK {
		c.logger.Warn("helper init refused", slog.String("detail", ack.Detail))
	}
	return nil
}

// HelperReady completes the load once the navigation helper is running.
func (c *Controller) HelperReady() error {
	c.mu.Lock()
	if !c.surface {
		c.mu.Unlock()
		return errors.New(errors.ErrCodeInvalidStage, "helper ready before surface load")
	}
	if c.stage == StageComplete {
		c.mu.Unlock()
		return nil
	}
	gen := c.generation
	c.mu.Unlock()

	if err := c.advance(gen, StageComplete, nil); err != nil {
		return err
	}
	c.event(telemetry.EventHelperReady, nil)
	return nil
}

// Alive records a signal of life from the content.
func (c *Controller) Alive() {
	c.mu.Lock()
	if !c.surface || c.closed {
		c.mu.Unlock()
		return
	}
	c.alive = true
	if c.aliveTimer != nil {
		c.aliveTimer.Stop()
		c.aliveTimer = nil
	}
	cleared := c.blank
	c.blank = false
	c.blankReason = ""
	view := c.viewLocked()
	c.mu.Unlock()
	if cleared {
		c.publishView(view)
	}
}

// Reload re-points the surface at the entry URL. The content reloads itself
// when connected; otherwise the host is told to reload the surface.
func (c *Controller) Reload(ctx context.Context) (ViewState, error) {
	c.mu.Lock()
	if c.closed || (c.stage != StageLoading && c.stage != StageComplete) {
		stage := c.stage
		c.mu.Unlock()
		return ViewState{}, errors.New(errors.ErrCodeInvalidStage, "nothing to reload").
			WithContext("stage", string(stage))
	}
	gen := c.generation
	from := c.stage
	c.stage = StageLoading
	c.surface = false
	c.alive = false
	c.blank = false
	c.blankReason = ""
	c.stopTimersLocked()
	c.armLoadTimer(gen)
	c.mu.Unlock()

	ack, err := c.channel.Send(ctx, navigation.Command{Name: navigation.CmdReload})
	c.mu.Lock()
	if err != nil || !ack.OK {
		c.reloads++
	}
	view := c.viewLocked()
	c.mu.Unlock()

	if from != StageLoading {
		c.stageChanged(from, StageLoading, view)
	} else {
		c.publishView(view)
	}
	return view, nil
}

// Home returns to the start of the content. Without a position model this
// is a reload.
func (c *Controller) Home(ctx context.Context) (ViewState, error) {
	return c.Reload(ctx)
}

// ToggleNavigation flips the navigation chrome and returns the new value.
func (c *Controller) ToggleNavigation() bool {
	c.mu.Lock()
	c.showNav = !c.showNav
	shown := c.showNav
	view := c.viewLocked()
	c.mu.Unlock()
	c.publishView(view)
	return shown
}

// ToggleMenu flips the navigation menu overlay and returns the new value.
func (c *Controller) ToggleMenu() bool {
	c.mu.Lock()
	c.showMenu = !c.showMenu
	shown := c.showMenu
	view := c.viewLocked()
	c.mu.Unlock()
	c.publishView(view)
	return shown
}

// Navigate asks the content to move in direction d, walking the fallback
// chain until a strategy succeeds.
func (c *Controller) Navigate(ctx context.Context, d navigation.Direction) (navigation.Result, error) {
	c.mu.Lock()
	if c.closed || !c.surface {
		c.mu.Unlock()
		return navigation.Result{Direction: d}, errors.New(errors.ErrCodeInvalidStage, "content not loaded")
	}
	rt := c.runtime
	attempt := navigation.Attempt{
		Direction: d,
		Version:   c.version,
		Controls:  c.controls,
		Commit:    func() { _, _ = c.Commit("navigate") },
	}
	if rt != nil {
		attempt.Request = rt.RequestNavigation
	}
	c.mu.Unlock()

	result, err := c.deps.Chain.Navigate(ctx, c.channel, attempt)
	c.event(telemetry.EventNavigation, map[string]any{
		"direction": string(d),
		"source":    bus.RoleHost,
		"strategy":  result.Strategy,
		"tried":     result.Tried,
		"ok":        err == nil,
	})
	return result, err
}

// Commit flushes the runtime state to snapshot subscribers.
func (c *Controller) Commit(reason string) (scorm.Snapshot, error) {
	rt := c.Runtime()
	if rt == nil {
		return scorm.Snapshot{}, errors.New(errors.ErrCodeInvalidStage, "runtime not ready")
	}
	return rt.Commit(reason), nil
}

// Status reports completion and success for the package's runtime version.
func (c *Controller) Status() (scorm.Status, error) {
	c.mu.Lock()
	rt, version := c.runtime, c.version
	c.mu.Unlock()
	if rt == nil {
		return scorm.Status{}, errors.New(errors.ErrCodeInvalidStage, "runtime not ready")
	}
	return rt.Status(version), nil
}

// Call dispatches a runtime API call from the content bridge.
func (c *Controller) Call(version, method string, args []string) (string, error) {
	rt := c.Runtime()
	if rt == nil {
		return "", errors.New(errors.ErrCodeInvalidStage, "runtime not ready").WithContext("method", method)
	}
	result, err := rt.Call(normalizeVersion(version), method, args)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInvalidInput, "unknown runtime method")
	}
	return result, nil
}

// Reset abandons the current attempt and releases everything it produced.
// The session returns to downloading; Load starts the next attempt.
func (c *Controller) Reset() {
	c.mu.Lock()
	files := c.resetLocked()
	view := c.viewLocked()
	c.mu.Unlock()
	if files != nil {
		files.Release()
	}
	c.publishView(view)
}

func (c *Controller) resetLocked() *archive.FileSet {
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.stopTimersLocked()
	files := c.files
	c.files = nil
	c.stage = StageDownloading
	c.entry = resolver.Candidate{}
	c.manifest = resolver.ManifestInfo{}
	c.version = ""
	c.runtime = nil
	c.registry = nil
	c.controls = navigation.Controls{}
	c.downloadPct = 0
	c.extractPct = 0
	c.loadErr = nil
	c.surface = false
	c.alive = false
	c.blank = false
	c.blankReason = ""
	return files
}

// Retry releases the current attempt and runs the pipeline again.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New(errors.ErrCodeInvalidStage, "session closed")
	}
	c.retries++
	c.mu.Unlock()
	c.Reset()
	return c.Load(ctx)
}

// Close ends the session: work is cancelled, timers stop, participants are
// dropped and every blob the session produced is revoked.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	files := c.resetLocked()
	c.closed = true
	sub := c.inbound
	c.inbound = nil
	c.mu.Unlock()

	if sub != nil {
		_ = sub.Unsubscribe()
	}
	if files != nil {
		files.Release()
	}
	c.event(telemetry.EventSessionClosed, nil)
	return nil
}

// Closed reports whether Close has run.
func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// View returns the host-facing snapshot.
func (c *Controller) View() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) viewLocked() ViewState {
	view := ViewState{
		SessionID:        c.id,
		Title:            c.source.Title,
		Stage:            c.stage,
		DownloadProgress: c.downloadPct,
		ExtractProgress:  c.extractPct,
		Version:          c.version,
		BlankScreen:      c.blank,
		BlankReason:      c.blankReason,
		ShowNavigation:   c.showNav,
		ShowMenu:         c.showMenu,
		Retries:          c.retries,
		Reloads:          c.reloads,
		DownloadURL:      c.source.DownloadURL,
		Error:            newErrorView(c.loadErr, c.source.DownloadURL),
	}
	if view.Title == "" {
		view.Title = c.manifest.Title
	}
	if c.files != nil {
		view.Files = c.files.Len()
	}
	if c.entry.Path != "" {
		view.EntryPath = c.entry.Path
		view.EntryTier = c.entry.Tier.String()
		view.EntryURL = c.EntryURL(c.entry.Path)
	}
	return view
}

// EntryURL returns the route a package file is served from.
func (c *Controller) EntryURL(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.TrimRight(c.opts.ContentPrefix, "/") + "/" + url.PathEscape(c.id) + "/" + strings.Join(parts, "/")
}

func (c *Controller) publishView(view ViewState) {
	c.event(telemetry.EventViewChanged, map[string]any{"view": view})
	if err := c.channel.ToHost(context.Background(), map[string]any{"view": view}); err != nil {
		c.logger.Debug("view publish failed", slog.String("error", err.Error()))
	}
}

func (c *Controller) event(typ telemetry.EventType, data map[string]any) {
	c.mu.Lock()
	attempt := c.retries
	c.mu.Unlock()
	c.deps.Telemetry.Publish(telemetry.Event{
		Type:      typ,
		SessionID: c.id,
		Attempt:   attempt,
		Data:      data,
	})
}

// handleInbound routes participant envelopes.
func (c *Controller) handleInbound(env relay.Envelope) {
	ctx := context.Background()
	if env.Signal != "" {
		if env.Role != bus.RoleContent {
			return
		}
		c.handleSignal(ctx, env)
		return
	}
	switch env.Action {
	case "navigate-prev", "navigate-next":
		d, err := navigation.ParseDirection(env.Action)
		if err != nil {
			return
		}
		if env.Role == bus.RoleHost {
			go func() { _, _ = c.Navigate(ctx, d) }()
			return
		}
		// the content already navigated itself
		c.event(telemetry.EventNavigation, map[string]any{"direction": string(d), "source": bus.RoleContent, "ok": true})
	case "commit":
		if _, err := c.Commit(env.Role); err != nil {
			c.logger.Debug("commit ignored", slog.String("error", err.Error()))
		}
	case "get-status":
		status, err := c.Status()
		if err != nil {
			return
		}
		msg := map[string]any{"scormStatus": status}
		if env.Role == bus.RoleHost {
			_ = c.channel.ToHost(ctx, msg)
		} else {
			_ = c.channel.ToContent(ctx, msg)
		}
	default:
		c.logger.Debug("unknown action", slog.String("action", env.Action))
	}
}

func (c *Controller) handleSignal(ctx context.Context, env relay.Envelope) {
	switch env.Signal {
	case "loaded":
		var sig LoadedSignal
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &sig); err != nil {
				c.logger.Warn("malformed loaded signal", slog.String("error", err.Error()))
			}
		}
		if err := c.SurfaceLoaded(ctx, sig); err != nil {
			c.logger.Warn("surface load handling failed", slog.String("error", err.Error()))
		}
	case "helper-ready":
		if err := c.HelperReady(); err != nil {
			c.logger.Debug("helper ready ignored", slog.String("error", err.Error()))
		}
	case "alive":
		c.Alive()
	}
}

func normalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return ""
	case strings.Contains(v, "2004"):
		return scorm.Version2004
	default:
		return scorm.Version12
	}
}

// buildFrames mirrors the reported frame tree and returns the frame the
// bridge runs in. Parents are reported before their children.
func buildFrames(sig LoadedSignal) *scorm.Frame {
	byID := make(map[string]*scorm.Frame, len(sig.Frames))
	for _, info := range sig.Frames {
		if info.ID == "" || byID[info.ID] != nil {
			continue
		}
		f := scorm.NewFrame(info.ID, byID[info.Parent])
		f.SetCrossOrigin(info.CrossOrigin)
		byID[info.ID] = f
	}
	if target, ok := byID[sig.Target]; ok {
		return target
	}
	id := sig.Target
	if id == "" {
		id = "self"
	}
	return scorm.NewFrame(id, nil)
}
