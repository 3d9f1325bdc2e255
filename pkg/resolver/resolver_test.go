package resolver

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/scormview/pkg/archive"
	"github.com/odvcencio/scormview/pkg/errors"
)

type memFiles map[string]string

func (m memFiles) Paths() []string {
	out := make([]string, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (m memFiles) Has(p string) bool {
	_, ok := m[p]
	return ok
}

func (m memFiles) Read(p string) ([]byte, string, error) {
	body, ok := m[p]
	if !ok {
		return nil, "", errors.New(errors.ErrCodeStorageRead, "missing")
	}
	return []byte(body), archive.ContentTypeFor(p), nil
}

func files(paths ...string) memFiles {
	m := memFiles{}
	for _, p := range paths {
		m[p] = ""
	}
	return m
}

func mustResolve(t *testing.T, f Files) Candidate {
	t.Helper()
	c, err := Resolve(f)
	require.NoError(t, err)
	return c
}

func TestExactPriorityBeatsSuffix(t *testing.T) {
	f := files("course/index.html", "story.html", "a.html")
	c := mustResolve(t, f)
	assert.Equal(t, "story.html", c.Path)
	assert.Equal(t, TierCommonPath, c.Tier)
	assert.Equal(t, "priority-exact", c.Strategy)
}

func TestPriorityOrderWithinExact(t *testing.T) {
	f := files("launch.html", "index_lms.html", "story.html")
	assert.Equal(t, "story.html", mustResolve(t, f).Path)

	f = files("launch.html", "index_lms.html")
	assert.Equal(t, "index_lms.html", mustResolve(t, f).Path)
}

func TestStorylineExportPrefersStoryOverLMSWrapper(t *testing.T) {
	f := files("index_lms.html", "story_html5.html", "story.html", "story_content/user.js")
	c := mustResolve(t, f)
	assert.Equal(t, "story.html", c.Path)
	assert.Equal(t, TierCommonPath, c.Tier)
}

func TestSuffixPrefersShallowestThenLexical(t *testing.T) {
	f := files("z/deep/more/index.html", "b/index.html", "a/index.html", "a/b/story.html")
	c := mustResolve(t, f)
	assert.Equal(t, "a/index.html", c.Path)
	assert.Equal(t, "priority-suffix", c.Strategy)
}

func TestStorylineSignature(t *testing.T) {
	f := files(
		"course/story_content/user.js",
		"course/story_content/data.js",
		"course/index_lms_flash.html",
		"course/story_html5.html",
		"course/meta.xml",
	)
	c := mustResolve(t, f)
	assert.Equal(t, "course/story_html5.html", c.Path)
	assert.Equal(t, TierCommonPath, c.Tier, "story_html5.html is in the priority list so suffix matching wins")

	f = files("course/story_content/user.js", "course/story_unique.html", "story_content/x.js")
	sig := signatureFinder(storyline)
	_, ok := sig(f)
	assert.False(t, ok)
}

func TestCaptivateSignatureFindsToolSpecificFile(t *testing.T) {
	f := files("pkg/assets/css/a.css", "pkg/lib/x.js", "pkg/index_scorm.html", "pkg/goodbye.html")
	c := mustResolve(t, f)
	assert.Equal(t, "pkg/index_scorm.html", c.Path)
	assert.Equal(t, TierSignature, c.Tier)
	assert.Equal(t, "captivate", c.Strategy)
}

func TestISpringSignature(t *testing.T) {
	f := files("data/slide1.js", "presentation_content/x.html", "data/player.js")
	f["res/frame.html"] = ""
	sig := signatureFinder(ispring)
	_, ok := sig(f)
	assert.False(t, ok)

	f["presentation.html"] = ""
	c := mustResolve(t, f)
	assert.Equal(t, "presentation.html", c.Path)
}

func TestVendorDirectoryShortestFirst(t *testing.T) {
	f := files(
		"content/SCORM_wrapper/deep/launch.html",
		"content/SCORM_wrapper/player.html",
		"other/page.html",
	)
	c, ok := findVendorDirectory(f)
	require.True(t, ok)
	assert.Equal(t, "content/SCORM_wrapper/player.html", c)
}

func TestManifestResolution(t *testing.T) {
	f := memFiles{
		"pkg/imsmanifest.xml": `<manifest><resources>
			<resource identifier="r1" type="webcontent" adlcp:scormtype="sco" href="content/My%20Course//start_here.html?lang=en#top"/>
		</resources></manifest>`,
		"pkg/content/My Course/start_here.html": "",
		"pkg/content/other.html":                "",
	}
	c := mustResolve(t, f)
	assert.Equal(t, "pkg/content/My Course/start_here.html", c.Path)
	assert.Equal(t, TierManifest, c.Tier)
}

func TestExactPriorityBeatsManifest(t *testing.T) {
	manifest := `<manifest><resources><resource identifier="r1" href="content/lesson.html"/></resources></manifest>`
	f := memFiles{
		"index.html":          "",
		"imsmanifest.xml":     manifest,
		"content/lesson.html": "",
	}
	href, ok := findFromManifest(f)
	require.True(t, ok, "manifest resolves on its own")
	assert.Equal(t, "content/lesson.html", href)

	c := mustResolve(t, f)
	assert.Equal(t, "index.html", c.Path)
	assert.Equal(t, TierCommonPath, c.Tier)
}

func TestManifestPrefersResourceHref(t *testing.T) {
	text := `<manifest><organizations><item href="about.html"/></organizations>
		<resources><resource identifier="x" href="launch/go.htm"/></resources></manifest>`
	href, ok := ManifestHref(text)
	require.True(t, ok)
	assert.Equal(t, "launch/go.htm", href)

	href, ok = ManifestHref(`<manifest><file href="doc.html"/></manifest>`)
	require.True(t, ok)
	assert.Equal(t, "doc.html", href)

	_, ok = ManifestHref(`<manifest><resource href="media.mp4"/></manifest>`)
	assert.False(t, ok)
}

func TestManifestReferencingMissingFileFallsBack(t *testing.T) {
	f := memFiles{
		"imsmanifest.xml":  `<manifest><resources><resource href="gone.html"/></resources></manifest>`,
		"pages/intro.html": "",
		"pages/zeta.html":  "",
	}
	c := mustResolve(t, f)
	assert.Equal(t, "pages/intro.html", c.Path)
	assert.Equal(t, TierHTMLFallback, c.Tier)
}

func TestHTMLFallbackPrefersKnownBasenames(t *testing.T) {
	f := files("a/about.html", "b/c/start.html", "a/zz.htm")
	c := mustResolve(t, f)
	assert.Equal(t, "b/c/start.html", c.Path)

	f = files("b/readme.htm", "a/notes.html", "a/b/c.html")
	assert.Equal(t, "a/notes.html", mustResolve(t, f).Path)
}

func TestNoHTMLFailsWithNoEntryPoint(t *testing.T) {
	_, err := Resolve(files("imsmanifest.xml", "data/a.js", "img/b.png"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNoEntryPoint))
	assert.False(t, errors.IsRetryable(err))
}

func TestResolveIsDeterministic(t *testing.T) {
	paths := []string{
		"x/y/index.html", "x/index.html", "w/index.html", "story_content/a.js",
		"q/SCORM/launch.html", "imsmanifest.xml", "deep/deeper/page.html",
	}
	first := mustResolve(t, files(paths...))
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		rng.Shuffle(len(paths), func(a, b int) { paths[a], paths[b] = paths[b], paths[a] })
		assert.Equal(t, first, mustResolve(t, files(paths...)))
	}
}

func TestResolvedPathAlwaysPresent(t *testing.T) {
	cases := []memFiles{
		files("index.html"),
		files("a/b/story.html"),
		files("assets/x.css", "lib/y.js", "multiscreen.html"),
		{"imsmanifest.xml": `<resource href="../escape.html"/>`, "z.html": ""},
	}
	for _, f := range cases {
		c := mustResolve(t, f)
		assert.True(t, f.Has(c.Path), c.Path)
	}
}

func TestResolveHref(t *testing.T) {
	assert.Equal(t, "a/b.html", ResolveHref(".", "a/b.html"))
	assert.Equal(t, "m/a/b.html", ResolveHref("m", "a//b.html"))
	assert.Equal(t, "x.html", ResolveHref("m", "../x.html"))
	assert.Equal(t, "", ResolveHref(".", "../x.html"))
	assert.Equal(t, "m/sp ace.html", ResolveHref("m", "sp%20ace.html?q=1"))
	assert.Equal(t, "root.html", ResolveHref("m", "/root.html"))
}

func TestDetectVersion(t *testing.T) {
	v2004 := memFiles{"imsmanifest.xml": `<manifest><metadata><schema>ADL SCORM</schema><schemaversion>2004 4th Edition</schemaversion></metadata>
		<organizations><organization><title> Safety 101 </title></organization></organizations></manifest>`}
	info := ReadManifest(v2004)
	assert.Equal(t, Version2004, info.Version)
	assert.Equal(t, "Safety 101", info.Title)

	v12 := memFiles{"IMSMANIFEST.XML": `<manifest><metadata><schemaversion>1.2</schemaversion></metadata></manifest>`}
	assert.Equal(t, Version12, DetectVersion(v12))
	assert.Equal(t, Version12, DetectVersion(files("index.html")))

	broken := memFiles{"imsmanifest.xml": `<manifest><schemaversion>CAM 1.3`}
	assert.Equal(t, Version2004, DetectVersion(broken))
}

func TestTierString(t *testing.T) {
	text, err := TierManifest.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "manifest", string(text))
	assert.Equal(t, "unknown", Tier(42).String())
}
