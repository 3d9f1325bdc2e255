// Package navigation finds previous/next affordances in SCORM content and
// drives the ordered fallback chain used to navigate it from the host.
package navigation

import (
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Direction is a navigation direction.
type Direction string

const (
	Prev Direction = "prev"
	Next Direction = "next"
)

// ParseDirection accepts prev/previous/back and next/continue/forward.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prev", "previous", "back", "navigate-prev":
		return Prev, nil
	case "next", "continue", "forward", "navigate-next":
		return Next, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// Key returns the keyboard key that maps to d.
func (d Direction) Key() string {
	if d == Prev {
		return "ArrowLeft"
	}
	return "ArrowRight"
}

// NavRequest returns the SCORM 2004 adl.nav.request value for d.
func (d Direction) NavRequest() string {
	if d == Prev {
		return "previous"
	}
	return "continue"
}

// Layer names the scan layer that found a control.
type Layer string

const (
	LayerSelector Layer = "selector"
	LayerLabel    Layer = "label"
	LayerSubmit   Layer = "submit"
)

// Known player controls, most specific first.
var (
	PrevSelectors = []string{
		"#prev", "#previous", "#btnPrev", "#btn-prev", "#back",
		".prev-button", ".btn-prev", ".previous", ".nav-prev",
		"#cpCmndBack", "#playbar_prev", "[data-acc-text='Prev']",
		"[data-action='prev']", "[data-nav='prev']", "[rel='prev']",
		"button.prev", "a.prev",
	}
	NextSelectors = []string{
		"#next", "#btnNext", "#btn-next", "#continue",
		".next-button", ".btn-next", ".next", ".nav-next",
		"#cpCmndNext", "#playbar_next", "[data-acc-text='Next']",
		"[data-action='next']", "[data-nav='next']", "[rel='next']",
		"button.next", "a.next",
	}
	// SubmitSelectors are the last resort for next only.
	SubmitSelectors = []string{"button[type='submit']", "input[type='submit']"}

	// clickable is the element set considered by label matching.
	clickable = "button, a, [role='button'], input[type='button'], input[type='submit'], [onclick]"
)

// FallbackSelectors are the broad lists clicked by the generic DOM step.
var FallbackSelectors = map[Direction][]string{
	Prev: {"[class*='prev']", "[id*='prev']", "[class*='back']", "[id*='back']", "[aria-label*='rev']"},
	Next: {"[class*='next']", "[id*='next']", "[class*='continue']", "[id*='continue']", "[aria-label*='ext']"},
}

type labelSet struct {
	prev []string
	next []string
}

var labelTags = []language.Tag{
	language.English,
	language.Spanish,
	language.French,
	language.German,
	language.Portuguese,
	language.Italian,
	language.Dutch,
}

var labelTable = map[language.Tag]labelSet{
	language.English:    {prev: []string{"previous", "prev", "back", "go back"}, next: []string{"next", "continue", "forward", "proceed"}},
	language.Spanish:    {prev: []string{"anterior", "atrás", "volver"}, next: []string{"siguiente", "continuar", "adelante"}},
	language.French:     {prev: []string{"précédent", "retour", "arrière"}, next: []string{"suivant", "continuer", "avancer"}},
	language.German:     {prev: []string{"zurück", "vorherige", "vorheriges"}, next: []string{"weiter", "nächste", "nächstes", "fortfahren"}},
	language.Portuguese: {prev: []string{"anterior", "voltar"}, next: []string{"próximo", "seguinte", "continuar", "avançar"}},
	language.Italian:    {prev: []string{"precedente", "indietro"}, next: []string{"avanti", "successivo", "continua"}},
	language.Dutch:      {prev: []string{"vorige", "terug"}, next: []string{"volgende", "verder", "doorgaan"}},
}

var labelMatcher = language.NewMatcher(labelTags)

var folder = cases.Fold()

// Labels returns the folded labels for d in locale followed by English.
func Labels(locale string, d Direction) []string {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	_, idx, _ := labelMatcher.Match(tag)
	sets := []labelSet{labelTable[labelTags[idx]]}
	if labelTags[idx] != language.English {
		sets = append(sets, labelTable[language.English])
	}

	var out []string
	seen := make(map[string]bool)
	for _, set := range sets {
		words := set.next
		if d == Prev {
			words = set.prev
		}
		for _, w := range words {
			f := normalizeLabel(w)
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

// normalizeLabel case-folds s and reduces it to space separated words,
// dropping arrows and punctuation.
func normalizeLabel(s string) string {
	words := strings.FieldsFunc(folder.String(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(words, " ")
}

func matchesLabel(text string, labels []string) bool {
	norm := normalizeLabel(text)
	if norm == "" {
		return false
	}
	for _, l := range labels {
		if norm == l || strings.HasPrefix(norm, l+" ") || strings.HasSuffix(norm, " "+l) {
			return true
		}
	}
	return false
}

// Control is a navigation affordance found in a document.
type Control struct {
	Direction Direction `json:"direction"`
	Selector  string    `json:"selector"`
	Layer     Layer     `json:"layer"`
	Text      string    `json:"text,omitempty"`
}

// Controls holds the best control per direction. Either may be nil.
type Controls struct {
	Prev *Control `json:"prev,omitempty"`
	Next *Control `json:"next,omitempty"`
}

// Get returns the control for d.
func (c Controls) Get(d Direction) *Control {
	if d == Prev {
		return c.Prev
	}
	return c.Next
}

// FindControls scans an HTML document for previous/next controls: known
// selectors first, then visible text or aria-label in locale and English,
// then submit buttons for next only.
func FindControls(r io.Reader, locale string) (Controls, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Controls{}, fmt.Errorf("parse document: %w", err)
	}
	return Controls{
		Prev: findControl(doc, Prev, locale),
		Next: findControl(doc, Next, locale),
	}, nil
}

func findControl(doc *goquery.Document, d Direction, locale string) *Control {
	selectors := NextSelectors
	if d == Prev {
		selectors = PrevSelectors
	}
	for _, sel := range selectors {
		if s := doc.Find(sel).First(); s.Length() > 0 && !hidden(s) {
			return &Control{Direction: d, Selector: sel, Layer: LayerSelector, Text: controlText(s)}
		}
	}

	labels := Labels(locale, d)
	var found *Control
	doc.Find(clickable).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if hidden(s) {
			return true
		}
		if matchesLabel(controlText(s), labels) {
			found = &Control{Direction: d, Selector: cssPath(s), Layer: LayerLabel, Text: controlText(s)}
			return false
		}
		return true
	})
	if found != nil || d == Prev {
		return found
	}

	for _, sel := range SubmitSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 && !hidden(s) {
			return &Control{Direction: d, Selector: cssPath(s), Layer: LayerSubmit, Text: controlText(s)}
		}
	}
	return nil
}

// controlText is what a user or screen reader would read for s.
func controlText(s *goquery.Selection) string {
	for _, attr := range []string{"aria-label", "title"} {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
		return text
	}
	if v, ok := s.Attr("value"); ok {
		return strings.TrimSpace(v)
	}
	if v, ok := s.Attr("alt"); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func hidden(s *goquery.Selection) bool {
	if _, ok := s.Attr("hidden"); ok {
		return true
	}
	if v, _ := s.Attr("aria-hidden"); v == "true" {
		return true
	}
	if _, ok := s.Attr("disabled"); ok {
		return true
	}
	style, _ := s.Attr("style")
	style = strings.ReplaceAll(strings.ToLower(style), " ", "")
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

// cssPath builds a selector that addresses s uniquely in its document: the
// nearest id anchor followed by nth-of-type steps.
func cssPath(s *goquery.Selection) string {
	var steps []string
	for node := s.Get(0); node != nil && node.Type == html.ElementNode; node = node.Parent {
		if id := attrOf(node, "id"); id != "" {
			steps = append(steps, "#"+cssEscape(id))
			break
		}
		if node.Data == "html" {
			steps = append(steps, "html")
			break
		}
		steps = append(steps, fmt.Sprintf("%s:nth-of-type(%d)", node.Data, nthOfType(node)))
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return strings.Join(steps, " > ")
}

func nthOfType(n *html.Node) int {
	idx := 1
	for sib := n.PrevSibling; sib != nil; sib = sib.PrevSibling {
		if sib.Type == html.ElementNode && sib.Data == n.Data {
			idx++
		}
	}
	return idx
}

func attrOf(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func cssEscape(id string) string {
	var b strings.Builder
	for i, r := range id {
		switch {
		case unicode.IsLetter(r) || r == '_' || r == '-' || r > 127:
			b.WriteRune(r)
		case unicode.IsDigit(r) && i > 0:
			b.WriteRune(r)
		default:
			fmt.Fprintf(&b, "\\%x ", r)
		}
	}
	return b.String()
}
