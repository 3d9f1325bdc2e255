// Package resolver picks the HTML document a package should be launched from.
//
// Resolution walks an ordered list of strategies. Each strategy is a pure
// function over the extracted file set; the first one that names a present
// file wins. The order encodes trust: well-known launch paths beat
// authoring-tool signatures, which beat vendor directories, the manifest and
// finally any HTML file at all.
package resolver

import (
	"path"
	"sort"
	"strings"

	"github.com/odvcencio/scormview/pkg/archive"
	"github.com/odvcencio/scormview/pkg/errors"
	"github.com/odvcencio/scormview/pkg/observability"
)

// Files is the read-only view of an extracted package the resolver needs.
type Files interface {
	Paths() []string
	Has(path string) bool
	Read(path string) ([]byte, string, error)
}

// Tier identifies which class of strategy produced a candidate.
type Tier int

const (
	TierCommonPath Tier = iota
	TierSignature
	TierVendorDirectory
	TierManifest
	TierHTMLFallback
)

func (t Tier) String() string {
	switch t {
	case TierCommonPath:
		return "common-path"
	case TierSignature:
		return "package-signature"
	case TierVendorDirectory:
		return "vendor-directory"
	case TierManifest:
		return "manifest"
	case TierHTMLFallback:
		return "html-fallback"
	default:
		return "unknown"
	}
}

// MarshalText renders the tier name in JSON payloads.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Candidate is a resolved entry point.
type Candidate struct {
	Path     string `json:"path"`
	Tier     Tier   `json:"tier"`
	Strategy string `json:"strategy"`
}

// Strategy is one step of the resolution order.
type Strategy struct {
	Name string
	Tier Tier
	Find func(Files) (string, bool)
}

// PriorityPaths are well-known launch documents, most trusted first.
var PriorityPaths = []string{
	"index.html",
	"story.html",
	"story_html5.html",
	"index_lms.html",
	"index_lms_html5.html",
	"launch.html",
	"player.html",
	"scormdriver/indexAPI.html",
	"res/index.html",
	"html5/index.html",
	"presentation.html",
	"a001index.html",
}

// DefaultStrategies returns the standard resolution order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "priority-exact", Tier: TierCommonPath, Find: findPriorityExact},
		{Name: "priority-suffix", Tier: TierCommonPath, Find: findPrioritySuffix},
		{Name: "storyline", Tier: TierSignature, Find: signatureFinder(storyline)},
		{Name: "captivate", Tier: TierSignature, Find: signatureFinder(captivate)},
		{Name: "ispring", Tier: TierSignature, Find: signatureFinder(ispring)},
		{Name: "scorm-directory", Tier: TierVendorDirectory, Find: findVendorDirectory},
		{Name: "imsmanifest", Tier: TierManifest, Find: findFromManifest},
		{Name: "any-html", Tier: TierHTMLFallback, Find: findHTMLFallback},
	}
}

// Resolver runs a strategy list.
type Resolver struct {
	strategies []Strategy
	logger     *observability.Logger
}

// New creates a resolver. A nil strategy list means DefaultStrategies.
func New(strategies []Strategy, logger *observability.Logger) *Resolver {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	if logger == nil {
		logger = observability.Discard()
	}
	return &Resolver{strategies: strategies, logger: logger}
}

// Resolve returns the first candidate any strategy finds. A package without
// HTML documents fails with NO_ENTRY_POINT.
func (r *Resolver) Resolve(files Files) (Candidate, error) {
	for _, s := range r.strategies {
		p, ok := s.Find(files)
		if !ok || !files.Has(p) {
			continue
		}
		c := Candidate{Path: p, Tier: s.Tier, Strategy: s.Name}
		observability.EntryPointResolutions.WithLabelValues(s.Tier.String()).Inc()
		r.logger.EntryPointResolved(c.Path, c.Tier.String(), c.Strategy)
		return c, nil
	}
	return Candidate{}, errors.NoEntryPoint(len(files.Paths()))
}

// Resolve runs the default strategies without logging.
func Resolve(files Files) (Candidate, error) {
	return New(nil, nil).Resolve(files)
}

func findPriorityExact(files Files) (string, bool) {
	for _, p := range PriorityPaths {
		if files.Has(p) {
			return p, true
		}
	}
	return "", false
}

func findPrioritySuffix(files Files) (string, bool) {
	all := files.Paths()
	for _, p := range PriorityPaths {
		var matches []string
		for _, candidate := range all {
			if strings.HasSuffix(candidate, "/"+p) {
				matches = append(matches, candidate)
			}
		}
		if len(matches) > 0 {
			sortByDepth(matches)
			return matches[0], true
		}
	}
	return "", false
}

type signature struct {
	dirs    []string
	entries []string
}

var (
	storyline = signature{dirs: []string{"story_content", "mobile"}, entries: []string{"story.html", "story_html5.html", "index_lms.html"}}
	captivate = signature{dirs: []string{"assets", "lib"}, entries: []string{"index_scorm.html", "multiscreen.html", "index.html"}}
	ispring   = signature{dirs: []string{"data"}, entries: []string{"presentation.html", "index.html", "res/index.html"}}
)

// signatureFinder looks for an authoring tool's marker directories and probes
// that tool's launch files next to them, shallowest first, then at the root.
func signatureFinder(sig signature) func(Files) (string, bool) {
	return func(files Files) (string, bool) {
		bases := signatureBases(files.Paths(), sig.dirs)
		if len(bases) == 0 {
			return "", false
		}
		ordered := make([]string, 0, len(bases)+1)
		for b := range bases {
			ordered = append(ordered, b)
		}
		sortByDepth(ordered)
		if _, ok := bases[""]; !ok {
			ordered = append(ordered, "")
		}
		for _, base := range ordered {
			for _, entry := range sig.entries {
				p := joinPath(base, entry)
				if files.Has(p) {
					return p, true
				}
			}
		}
		return "", false
	}
}

// signatureBases returns every directory that directly contains one of dirs.
func signatureBases(paths []string, dirs []string) map[string]struct{} {
	bases := make(map[string]struct{})
	for _, p := range paths {
		parts := strings.Split(p, "/")
		for i := 0; i < len(parts)-1; i++ {
			for _, d := range dirs {
				if parts[i] == d {
					bases[strings.Join(parts[:i], "/")] = struct{}{}
				}
			}
		}
	}
	return bases
}

func findVendorDirectory(files Files) (string, bool) {
	seen := make(map[string]struct{})
	var dirs []string
	for _, p := range files.Paths() {
		for dir := path.Dir(p); dir != "." && dir != "/"; dir = path.Dir(dir) {
			if !strings.Contains(strings.ToLower(dir), "scorm") {
				continue
			}
			if _, ok := seen[dir]; ok {
				continue
			}
			seen[dir] = struct{}{}
			dirs = append(dirs, dir)
		}
	}
	sort.Slice(dirs, func(i, j int) bool {
		if len(dirs[i]) != len(dirs[j]) {
			return len(dirs[i]) < len(dirs[j])
		}
		return dirs[i] < dirs[j]
	})
	for _, dir := range dirs {
		for _, entry := range PriorityPaths {
			p := joinPath(dir, entry)
			if files.Has(p) {
				return p, true
			}
		}
	}
	return "", false
}

var fallbackNames = []string{"index.html", "story.html", "launch.html", "player.html", "start.html", "default.html"}

func findHTMLFallback(files Files) (string, bool) {
	var html []string
	for _, p := range files.Paths() {
		if archive.IsHTML(p) {
			html = append(html, p)
		}
	}
	if len(html) == 0 {
		return "", false
	}
	sortByDepth(html)
	for _, p := range html {
		if p == "index.html" {
			return p, true
		}
	}
	for _, p := range html {
		base := strings.ToLower(path.Base(p))
		for _, name := range fallbackNames {
			if base == name {
				return p, true
			}
		}
	}
	return html[0], true
}

// sortByDepth orders paths by segment count, then lexicographically.
func sortByDepth(paths []string) {
	sort.Slice(paths, func(i, j int) bool {
		di, dj := depth(paths[i]), depth(paths[j])
		if di != dj {
			return di < dj
		}
		return paths[i] < paths[j]
	})
}

func depth(p string) int {
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
