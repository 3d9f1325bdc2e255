package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/odvcencio/scormview/pkg/archive"
	"github.com/odvcencio/scormview/pkg/config"
	"github.com/odvcencio/scormview/pkg/fetch"
	"github.com/odvcencio/scormview/pkg/navigation"
	"github.com/odvcencio/scormview/pkg/observability"
	"github.com/odvcencio/scormview/pkg/resolver"
)

// inspectReport describes a package without opening a viewing session.
type inspectReport struct {
	Source   string                `json:"source"`
	Bytes    int                   `json:"bytes"`
	Files    int                   `json:"files"`
	Entry    resolver.Candidate    `json:"entry"`
	Manifest resolver.ManifestInfo `json:"manifest"`
	Controls navigation.Controls   `json:"controls"`
}

func runInspectCommand(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	locale := fs.String("locale", config.DefaultLocale, "locale used to match navigation labels")
	timeout := fs.Duration("timeout", config.DefaultFetchTimeout, "download timeout for archive URLs")
	listFiles := fs.Bool("files", false, "print every extracted path after the report")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}
	if fs.NArg() != 1 {
		return withExitCode(fmt.Errorf("usage: scormview inspect [flags] <archive path or URL>"), exitUsage)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	return inspectPackage(ctx, fs.Arg(0), *locale, *listFiles, os.Stdout, isInteractiveTerminal())
}

// inspectPackage runs the load pipeline once and writes a JSON report.
func inspectPackage(ctx context.Context, source, locale string, listFiles bool, out io.Writer, pretty bool) error {
	logger := observability.Discard()

	data, err := readSource(ctx, source, logger)
	if err != nil {
		return withExitCode(err, exitLoad)
	}

	store := archive.NewStore("/blobs")
	extractor := archive.NewExtractor(store, archive.Options{}, logger)
	files, err := extractor.Extract(ctx, data, nil)
	if err != nil {
		return withExitCode(err, exitLoad)
	}
	defer files.Release()

	entry, err := resolver.New(resolver.DefaultStrategies(), logger).Resolve(files)
	if err != nil {
		return withExitCode(err, exitLoad)
	}

	report := inspectReport{
		Source:   source,
		Bytes:    len(data),
		Files:    files.Len(),
		Entry:    entry,
		Manifest: resolver.ReadManifest(files),
	}
	if archive.IsHTML(entry.Path) {
		if body, _, err := files.Read(entry.Path); err == nil {
			if found, err := navigation.FindControls(bytes.NewReader(body), locale); err == nil {
				report.Controls = found
			}
		}
	}

	enc := json.NewEncoder(out)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(report); err != nil {
		return err
	}
	if listFiles {
		for _, p := range files.Paths() {
			fmt.Fprintln(out, p)
		}
	}
	return nil
}

func readSource(ctx context.Context, source string, logger *observability.Logger) ([]byte, error) {
	source = strings.TrimSpace(source)
	if u, err := url.Parse(source); err == nil {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			client := fetch.NewClient(&http.Client{}, fetch.Options{
				Timeout:       time.Until(deadlineOr(ctx, config.DefaultFetchTimeout)),
				EstimateBytes: config.DefaultEstimateBytes,
				UserAgent:     "scormview-inspect",
			}, logger)
			return client.Fetch(ctx, source, nil)
		case "file":
			source = u.Path
		}
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", source, err)
	}
	return data, nil
}

func deadlineOr(ctx context.Context, fallback time.Duration) time.Time {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline
	}
	return time.Now().Add(fallback)
}
