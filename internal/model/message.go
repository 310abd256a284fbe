package model

import (
	"strings"
	"unicode/utf8"
)

// RawMessage is a chat post as delivered by the transport. Immutable once captured.
type RawMessage struct {
	Sender    string `json:"sender"`
	Group     string `json:"group"`
	Text      string `json:"text,omitempty"`
	Media     *Media `json:"media,omitempty"`
	Timestamp int64  `json:"timestamp"` // seconds
}

// HasText reports whether the message carries non-blank text.
func (m RawMessage) HasText() bool {
	return strings.TrimSpace(m.Text) != ""
}

// HasImage reports whether the message carries an image attachment.
func (m RawMessage) HasImage() bool {
	return m.Media != nil && m.Media.IsImage()
}

// Preview returns the first n runes of the text, used in confirmations and logs.
func (m RawMessage) Preview(n int) string {
	text := strings.TrimSpace(m.Text)
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n]) + "…"
}

// Media is an attachment on a RawMessage. Inline bytes are uploaded to the
// object store by the pipeline; a remote URL is used as-is.
type Media struct {
	Data     []byte `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// IsImage reports whether the attachment is an image.
func (m *Media) IsImage() bool {
	if m == nil {
		return false
	}
	if m.MimeType == "" {
		return len(m.Data) > 0 || m.URL != ""
	}
	return strings.HasPrefix(strings.ToLower(m.MimeType), "image/")
}

// MediaRef points at an object uploaded to the object store.
type MediaRef struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
}

// OCRResult holds text recognized in a message image.
type OCRResult struct {
	FullText string     `json:"full_text"`
	Blocks   []OCRBlock `json:"blocks,omitempty"`
	Lines    []OCRLine  `json:"lines,omitempty"`
}

// OCRBlock is a paragraph-level region of recognized text.
type OCRBlock struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// OCRLine is a single recognized line, tied to its block.
type OCRLine struct {
	ID      string `json:"id"`
	BlockID string `json:"block_id"`
	Text    string `json:"text"`
}

// SourceDocument is the sanitized, derived view of a RawMessage that every
// model stage and the validator read from. Built fresh per run, never mutated.
type SourceDocument struct {
	Text      string     `json:"text"`
	RichText  string     `json:"rich_text"`
	URLs      []string   `json:"urls,omitempty"`
	OCR       *OCRResult `json:"ocr,omitempty"`
	Media     *MediaRef  `json:"media,omitempty"`
	Timestamp int64      `json:"timestamp"`
}

// OCRText returns the recognized image text, or "".
func (d SourceDocument) OCRText() string {
	if d.OCR == nil {
		return ""
	}
	return d.OCR.FullText
}

// CombinedText is the message text followed by OCR text; quotes proposed by
// the extraction stage must be found here.
func (d SourceDocument) CombinedText() string {
	ocr := d.OCRText()
	if ocr == "" {
		return d.Text
	}
	if d.Text == "" {
		return ocr
	}
	return d.Text + "\n" + ocr
}

// EvidenceSource names where an evidence quote was found.
type EvidenceSource string

const (
	EvidenceSourceMessage EvidenceSource = "message_text"
	EvidenceSourceOCR     EvidenceSource = "ocr_text"
	EvidenceSourceURL     EvidenceSource = "url"
)

// EvidenceCandidate is a quote located in the source document.
type EvidenceCandidate struct {
	Quote   string         `json:"quote"`
	Source  EvidenceSource `json:"source"`
	Start   int            `json:"start,omitempty"`
	End     int            `json:"end,omitempty"`
	BlockID string         `json:"block_id,omitempty"`
	LineID  string         `json:"line_id,omitempty"`
}
