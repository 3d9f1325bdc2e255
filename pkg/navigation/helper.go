package navigation

import (
	_ "embed"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

//go:embed bridge.js
var bridgeScript []byte

// BridgeScript returns the content-side bridge served at /bridge.js.
func BridgeScript() []byte {
	return bridgeScript
}

// HelperConfig is sent to the content-side helper with the helper-init
// command. It carries everything the helper needs to run the layered scan
// in the live document.
type HelperConfig struct {
	Locale          string   `json:"locale"`
	PrevSelectors   []string `json:"prev_selectors"`
	NextSelectors   []string `json:"next_selectors"`
	PrevLabels      []string `json:"prev_labels"`
	NextLabels      []string `json:"next_labels"`
	SubmitSelectors []string `json:"submit_selectors"`
	PrevKey         string   `json:"prev_key"`
	NextKey         string   `json:"next_key"`
	// Found holds controls already located in the entry document so the
	// helper can wrap them before its own first scan.
	Found Controls `json:"found"`
	// ObserveMutations re-runs the scan when the DOM changes.
	ObserveMutations bool `json:"observe_mutations"`
}

// NewHelperConfig builds the helper configuration for locale.
func NewHelperConfig(locale string, found Controls) HelperConfig {
	if strings.TrimSpace(locale) == "" {
		locale = "en"
	}
	return HelperConfig{
		Locale:           locale,
		PrevSelectors:    PrevSelectors,
		NextSelectors:    NextSelectors,
		PrevLabels:       Labels(locale, Prev),
		NextLabels:       Labels(locale, Next),
		SubmitSelectors:  SubmitSelectors,
		PrevKey:          Prev.Key(),
		NextKey:          Next.Key(),
		Found:            found,
		ObserveMutations: true,
	}
}

// BridgeAttrs are written on the injected script tag and read back by the
// bridge to locate its session.
type BridgeAttrs struct {
	Src       string
	SessionID string
	Token     string
	Version   string
}

// InjectBridge adds the bridge script tag as the first child of <head> so
// the API objects exist before any content script looks for them. A
// document that already carries the tag is returned unchanged.
func InjectBridge(r io.Reader, attrs BridgeAttrs) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse entry document: %w", err)
	}
	if doc.Find("script[data-scormview-session]").Length() > 0 {
		return render(doc)
	}

	tag := fmt.Sprintf(`<script src="%s" data-scormview-session="%s" data-scormview-token="%s" data-scormview-version="%s"></script>`,
		escapeAttr(attrs.Src), escapeAttr(attrs.SessionID), escapeAttr(attrs.Token), escapeAttr(attrs.Version))

	head := doc.Find("head").First()
	if head.Length() == 0 {
		doc.Find("html").First().PrependHtml("<head></head>")
		head = doc.Find("head").First()
	}
	head.PrependHtml(tag)
	return render(doc)
}

func render(doc *goquery.Document) ([]byte, error) {
	out, err := goquery.OuterHtml(doc.Selection)
	if err != nil {
		return nil, fmt.Errorf("render entry document: %w", err)
	}
	return []byte(out), nil
}

var attrEscaper = strings.NewReplacer(`&`, "&amp;", `"`, "&quot;", `<`, "&lt;", `>`, "&gt;")

func escapeAttr(s string) string {
	return attrEscaper.Replace(s)
}
