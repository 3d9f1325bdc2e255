package resolver

import (
	"encoding/xml"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Version is the SCORM runtime generation a package targets.
type Version string

const (
	Version12   Version = "1.2"
	Version2004 Version = "2004"
)

var (
	resourceHrefPattern = regexp.MustCompile(`(?is)<resource\b[^>]*?\bhref\s*=\s*["']([^"']+?\.html?(?:[?#][^"']*)?)["']`)
	anyHrefPattern      = regexp.MustCompile(`(?is)\bhref\s*=\s*["']([^"']+?\.html?(?:[?#][^"']*)?)["']`)
	duplicateSlashes    = regexp.MustCompile(`/{2,}`)
)

// ManifestPath returns the shallowest file named imsmanifest.xml in any case.
func ManifestPath(files Files) (string, bool) {
	var found []string
	for _, p := range files.Paths() {
		if strings.HasSuffix(strings.ToLower(p), "imsmanifest.xml") {
			found = append(found, p)
		}
	}
	if len(found) == 0 {
		return "", false
	}
	sortByDepth(found)
	return found[0], true
}

func findFromManifest(files Files) (string, bool) {
	manifest, ok := ManifestPath(files)
	if !ok {
		return "", false
	}
	body, _, err := files.Read(manifest)
	if err != nil {
		return "", false
	}
	href, ok := ManifestHref(string(body))
	if !ok {
		return "", false
	}
	resolved := ResolveHref(path.Dir(manifest), href)
	if resolved == "" || !files.Has(resolved) {
		return "", false
	}
	return resolved, true
}

// ManifestHref extracts the launch href from manifest text: the first HTML
// href on a resource element, else the first HTML href anywhere.
func ManifestHref(text string) (string, bool) {
	if m := resourceHrefPattern.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	if m := anyHrefPattern.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	return "", false
}

// ResolveHref resolves a manifest href against the manifest's directory.
// Query strings and fragments are dropped, percent escapes decoded, and
// duplicate slashes collapsed. Hrefs escaping the package root resolve to "".
func ResolveHref(dir, href string) string {
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	href = strings.ReplaceAll(href, "\\", "/")
	if dir == "." || strings.HasPrefix(href, "/") {
		dir = ""
	}
	joined := duplicateSlashes.ReplaceAllString(dir+"/"+href, "/")

	var segments []string
	for _, part := range strings.Split(joined, "/") {
		switch part {
		case "", ".":
		case "..":
			if len(segments) == 0 {
				return ""
			}
			segments = segments[:len(segments)-1]
		default:
			segments = append(segments, part)
		}
	}
	return strings.Join(segments, "/")
}

type manifestDocument struct {
	XMLName  xml.Name `xml:"manifest"`
	Metadata struct {
		Schema        string `xml:"schema"`
		SchemaVersion string `xml:"schemaversion"`
	} `xml:"metadata"`
	Organizations struct {
		Items []struct {
			Title string `xml:"title"`
		} `xml:"organization"`
	} `xml:"organizations"`
}

// ManifestInfo is metadata read from imsmanifest.xml.
type ManifestInfo struct {
	Path          string  `json:"path"`
	SchemaVersion string  `json:"schema_version,omitempty"`
	Title         string  `json:"title,omitempty"`
	Version       Version `json:"version"`
}

// ReadManifest parses the package manifest. Packages without a readable
// manifest are treated as SCORM 1.2.
func ReadManifest(files Files) ManifestInfo {
	info := ManifestInfo{Version: Version12}
	p, ok := ManifestPath(files)
	if !ok {
		return info
	}
	info.Path = p
	body, _, err := files.Read(p)
	if err != nil {
		return info
	}
	var doc manifestDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		info.Version = versionFromText(string(body))
		return info
	}
	info.SchemaVersion = strings.TrimSpace(doc.Metadata.SchemaVersion)
	if len(doc.Organizations.Items) > 0 {
		info.Title = strings.TrimSpace(doc.Organizations.Items[0].Title)
	}
	info.Version = versionFromText(info.SchemaVersion)
	return info
}

// DetectVersion reports the runtime version a package expects.
func DetectVersion(files Files) Version {
	return ReadManifest(files).Version
}

func versionFromText(text string) Version {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "2004") || strings.Contains(lower, "cam 1.3") {
		return Version2004
	}
	return Version12
}
