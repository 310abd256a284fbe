// Package source builds the sanitized SourceDocument every pipeline stage
// reads from, and computes the dedup signature of a message.
package source

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/unicode/norm"

	"github.com/shahamT/valley-luz/internal/model"
)

// DefaultMaxLength caps sanitized text when the caller passes no limit.
const DefaultMaxLength = 4000

var (
	urlRe = regexp.MustCompile(`https?://[^\s<>"'\x{200E}\x{200F}]+`)
	wsRe  = regexp.MustCompile(`\s+`)

	// Leading attempts to override the model's instructions, in English and Hebrew.
	overrideRe = regexp.MustCompile(`(?i)^\s*(` +
		`(please\s+)?(ignore|disregard|forget)\s+(all\s+)?(the\s+)?(previous|prior|above|earlier)\s+(instructions|prompts?|rules|messages)` +
		`|you\s+are\s+now\s+[^\n.!]*` +
		`|system\s*:` +
		`|התעלם\s+(מכל\s+)?ה?הוראות(\s+הקודמות)?` +
		`)[\s.,:;!\-]*`)
)

// Options configures Build.
type Options struct {
	MaxLength int
	OCR       *model.OCRResult
	Media     *model.MediaRef
}

// Build derives the SourceDocument for msg. It performs no I/O.
func Build(msg model.RawMessage, opts Options) model.SourceDocument {
	max := opts.MaxLength
	if max <= 0 {
		max = DefaultMaxLength
	}
	text := Sanitize(msg.Text, max)

	urls := ExtractURLs(text)
	if opts.OCR != nil {
		urls = appendUnique(urls, ExtractURLs(opts.OCR.FullText)...)
	}

	return model.SourceDocument{
		Text:      text,
		RichText:  RenderRich(text),
		URLs:      urls,
		OCR:       opts.OCR,
		Media:     opts.Media,
		Timestamp: msg.Timestamp,
	}
}

// Sanitize normalizes line endings, strips leading instruction-override
// phrases and truncates to max runes.
func Sanitize(text string, max int) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSpace(text)
	for {
		loc := overrideRe.FindStringIndex(text)
		if loc == nil || loc[1] == 0 {
			break
		}
		text = strings.TrimSpace(text[loc[1]:])
	}
	if utf8.RuneCountInString(text) > max {
		text = strings.TrimSpace(string([]rune(text)[:max]))
	}
	return text
}

// ExtractURLs returns the distinct http(s) URLs in text in order of
// appearance, without trailing punctuation.
func ExtractURLs(text string) []string {
	var out []string
	for _, u := range urlRe.FindAllString(text, -1) {
		u = strings.TrimRight(u, ".,;:!?)]}")
		if u == "" {
			continue
		}
		out = appendUnique(out, u)
	}
	return out
}

func appendUnique(dst []string, vals ...string) []string {
	for _, v := range vals {
		dup := false
		for _, d := range dst {
			if d == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}

// RenderRich renders text as restricted HTML: escaped text, <br> for
// newlines and <a> for URLs. No other tags are ever produced.
func RenderRich(text string) string {
	root := &html.Node{Type: html.DocumentNode}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if i > 0 {
			root.AppendChild(&html.Node{Type: html.ElementNode, Data: "br", DataAtom: atom.Br})
		}
		appendLine(root, line)
	}

	var buf bytes.Buffer
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return html.EscapeString(text)
		}
	}
	return buf.String()
}

func appendLine(parent *html.Node, line string) {
	last := 0
	for _, loc := range urlRe.FindAllStringIndex(line, -1) {
		raw := line[loc[0]:loc[1]]
		u := strings.TrimRight(raw, ".,;:!?)]}")
		end := loc[0] + len(u)
		if loc[0] > last {
			parent.AppendChild(&html.Node{Type: html.TextNode, Data: line[last:loc[0]]})
		}
		a := &html.Node{
			Type:     html.ElementNode,
			Data:     "a",
			DataAtom: atom.A,
			Attr: []html.Attribute{
				{Key: "href", Val: u},
				{Key: "rel", Val: "noopener noreferrer"},
				{Key: "target", Val: "_blank"},
			},
		}
		a.AppendChild(&html.Node{Type: html.TextNode, Data: u})
		parent.AppendChild(a)
		last = end
	}
	if last < len(line) {
		parent.AppendChild(&html.Node{Type: html.TextNode, Data: line[last:]})
	}
}

// Normalize applies NFC and collapses runs of whitespace to one space.
func Normalize(text string) string {
	text = norm.NFC.String(text)
	return strings.TrimSpace(wsRe.ReplaceAllString(text, " "))
}

// Signature is the dedup key for a message text: hex SHA-256 of the
// normalized text, or "" when there is no text.
func Signature(text string) string {
	n := Normalize(text)
	if n == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(n))
	return hex.EncodeToString(sum[:])
}
