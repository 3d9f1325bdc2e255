package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/odvcencio/scormview/pkg/config"
	"github.com/odvcencio/scormview/pkg/storage"
)

func runSignCommand(args []string) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	ttl := fs.Duration("ttl", 0, "how long the URL stays valid (default: storage.url_ttl)")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}
	if fs.NArg() != 1 {
		return withExitCode(fmt.Errorf("usage: scormview sign [--ttl 1h] <package path>"), exitUsage)
	}

	cfg, err := serveLoadConfigFn()
	if err != nil {
		return withExitCode(err, exitConfig)
	}
	if cfg.Storage.SigningKey == "" {
		return withExitCode(fmt.Errorf("storage.signing_key must be set for URLs to outlive this command"), exitConfig)
	}
	return signPackage(cfg, fs.Arg(0), *ttl, os.Stdout)
}

// signPackage prints a signed download URL for a stored package.
func signPackage(cfg *config.Config, path string, ttl time.Duration, out io.Writer) error {
	if ttl <= 0 {
		ttl = cfg.Storage.URLTTL
	}
	baseURL := strings.TrimRight(cfg.Server.PublicBaseURL, "/")
	if baseURL == "" {
		baseURL = "http://" + cfg.Server.Bind
	}
	signer, err := storage.NewURLSigner(cfg.Storage.SigningKey, baseURL)
	if err != nil {
		return err
	}
	objects, err := storage.NewLocalStore(config.ResolveStorageRoot(cfg), signer)
	if err != nil {
		return withExitCode(err, exitConfig)
	}
	signed, err := objects.SignedDownloadURL(path, ttl)
	if err != nil {
		return withExitCode(err, exitLoad)
	}
	_, err = fmt.Fprintln(out, signed)
	return err
}
