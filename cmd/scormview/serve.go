package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/odvcencio/scormview/pkg/archive"
	"github.com/odvcencio/scormview/pkg/bus"
	"github.com/odvcencio/scormview/pkg/config"
	"github.com/odvcencio/scormview/pkg/fetch"
	"github.com/odvcencio/scormview/pkg/filewatch"
	"github.com/odvcencio/scormview/pkg/navigation"
	"github.com/odvcencio/scormview/pkg/observability"
	"github.com/odvcencio/scormview/pkg/relay"
	"github.com/odvcencio/scormview/pkg/resolver"
	"github.com/odvcencio/scormview/pkg/scorm"
	"github.com/odvcencio/scormview/pkg/server"
	"github.com/odvcencio/scormview/pkg/storage"
	"github.com/odvcencio/scormview/pkg/viewer"
)

var serveLoadConfigFn = config.Load

// app holds the wired viewer components.
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	bus      bus.MessageBus
	objects  *storage.LocalStore
	blobs    *archive.Store
	sessions *viewer.Manager
	relay    *relay.Hub
	server   *server.Server
	watcher  *filewatch.FileWatcher
}

func runServeCommand(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configFile := fs.String("config", "", "path to a config file (default: ~/.scormview/config.yaml then ./.scormview/config.yaml)")
	bind := fs.String("bind", "", "address to bind the viewer server")
	root := fs.String("root", "", "directory holding package archives")
	var extraOrigins []string
	fs.Var(&stringListValue{target: &extraOrigins}, "allow-origin", "additional allowed Origin (repeatable, accepts comma-separated list)")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}

	var cfg *config.Config
	var err error
	if path := strings.TrimSpace(*configFile); path != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = serveLoadConfigFn()
	}
	if err != nil {
		return withExitCode(err, exitConfig)
	}
	if v := strings.TrimSpace(*bind); v != "" {
		cfg.Server.Bind = v
	}
	if v := strings.TrimSpace(*root); v != "" {
		cfg.Storage.Root = v
	}
	cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, extraOrigins...)
	if err := cfg.Validate(); err != nil {
		return withExitCode(err, exitConfig)
	}
	for _, warning := range cfg.ValidationWarnings() {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Tracing {
		tp, err := observability.NewTracerProvider("scormview", version, os.Stderr)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.watcher != nil {
		go func() {
			if err := a.objects.Watch(ctx, a.watcher); err != nil {
				a.logger.Warn("package watcher stopped", "error", err)
			}
		}()
	}

	fmt.Fprintf(os.Stderr, "scormview serving %s from %s\n", cfg.Server.Bind, a.objects.Root())
	return a.server.Start(ctx)
}

// newApp wires every component from cfg without starting any listener.
func newApp(cfg *config.Config) (*app, error) {
	logger := observability.NewLogger("scormview", observability.ParseLevel(cfg.Logging.Level))

	messageBus, err := bus.New(cfg.Bus)
	if err != nil {
		return nil, withExitCode(err, exitConfig)
	}

	baseURL := strings.TrimRight(cfg.Server.PublicBaseURL, "/")
	if baseURL == "" {
		baseURL = "http://" + cfg.Server.Bind
	}
	signer, err := storage.NewURLSigner(cfg.Storage.SigningKey, baseURL)
	if err != nil {
		_ = messageBus.Close()
		return nil, err
	}
	objects, err := storage.NewLocalStore(config.ResolveStorageRoot(cfg), signer)
	if err != nil {
		_ = messageBus.Close()
		return nil, withExitCode(err, exitConfig)
	}

	blobs := archive.NewStore("/blobs")
	extractor := archive.NewExtractor(blobs, archive.Options{
		HTMLBatchSize:  cfg.Extract.HTMLBatchSize,
		AssetBatchSize: cfg.Extract.AssetBatchSize,
		BatchYield:     cfg.Extract.BatchYield,
		MaxEntryBytes:  cfg.Extract.MaxEntryBytes,
	}, logger)
	fetcher := fetch.NewClient(&http.Client{}, fetch.Options{
		Timeout:       cfg.Fetch.Timeout,
		EstimateBytes: cfg.Fetch.EstimateBytes,
		UserAgent:     cfg.Fetch.UserAgent,
	}, logger)

	opts := viewer.DefaultOptions()
	opts.LoadTimeout = cfg.Viewer.LoadTimeout
	opts.BlankScreenTimeout = cfg.Viewer.BlankScreenTimeout
	opts.HideNavigation = !cfg.Viewer.ShowNavigation
	opts.Locale = cfg.Viewer.Locale
	opts.APISearchDepth = cfg.Viewer.APISearchDepth
	opts.Runtime = scorm.Options{
		StrictErrors: cfg.Runtime.StrictErrors,
		Learner:      scorm.Learner{ID: cfg.Runtime.LearnerID, Name: cfg.Runtime.LearnerName},
	}

	sessions := viewer.NewManager(viewer.Deps{
		Fetcher:   fetcher,
		Extractor: extractor,
		Resolver:  resolver.New(resolver.DefaultStrategies(), logger),
		Bus:       messageBus,
		Chain:     navigation.NewChain(nil, navigation.DefaultStepTimeout, logger),
		Logger:    logger,
	}, opts, objects, cfg.Storage.URLTTL)

	hub := relay.NewHub(messageBus, relay.Options{
		Rate:           cfg.Server.RelayRate,
		Burst:          cfg.Server.RelayBurst,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		bus:      messageBus,
		objects:  objects,
		blobs:    blobs,
		sessions: sessions,
		relay:    hub,
		server: server.New(server.Config{
			BindAddress:    cfg.Server.Bind,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Metrics:        cfg.Telemetry.Metrics,
			Version:        version,
		}, sessions, hub, blobs, objects, logger),
	}

	if cfg.Storage.Watch {
		a.watcher = filewatch.NewFileWatcher(0, logger)
		a.watcher.Subscribe("*.zip", a.packageChanged)
	}
	return a, nil
}

// packageChanged reloads the sessions viewing a package that was replaced.
func (a *app) packageChanged(change filewatch.FileChange) {
	if change.Type == filewatch.ChangeDeleted {
		return
	}
	a.sessions.ReloadByPackage(change.Path)
}

func (a *app) Close() {
	_ = a.sessions.Close()
	if a.relay != nil {
		a.relay.Shutdown()
	}
	_ = a.bus.Close()
}

type stringListValue struct {
	target *[]string
}

func (s *stringListValue) String() string {
	if s == nil || s.target == nil {
		return ""
	}
	return strings.Join(*s.target, ",")
}

func (s *stringListValue) Set(value string) error {
	if s.target == nil {
		return fmt.Errorf("no target slice configured")
	}
	for _, part := range strings.Split(value, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		*s.target = append(*s.target, trimmed)
	}
	return nil
}
