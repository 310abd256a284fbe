package validate

import (
	"strings"
	"unicode/utf8"

	"github.com/shahamT/valley-luz/internal/model"
	"github.com/shahamT/valley-luz/internal/source"
)

// Locate finds quote in the source document. The message text is searched
// first, then each OCR line, the OCR full text and finally the extracted
// URLs. Matching is exact and case-sensitive after NFC normalization and
// whitespace collapsing. Offsets are rune offsets into the normalized text.
func Locate(doc model.SourceDocument, quote string) (*model.EvidenceCandidate, bool) {
	q := source.Normalize(quote)
	if q == "" {
		return nil, false
	}

	if start, ok := runeIndex(source.Normalize(doc.Text), q); ok {
		return &model.EvidenceCandidate{
			Quote:  quote,
			Source: model.EvidenceSourceMessage,
			Start:  start,
			End:    start + utf8.RuneCountInString(q),
		}, true
	}

	if doc.OCR != nil {
		for _, line := range doc.OCR.Lines {
			if strings.Contains(source.Normalize(line.Text), q) {
				return &model.EvidenceCandidate{
					Quote:   quote,
					Source:  model.EvidenceSourceOCR,
					BlockID: line.BlockID,
					LineID:  line.ID,
				}, true
			}
		}
		for _, block := range doc.OCR.Blocks {
			if strings.Contains(source.Normalize(block.Text), q) {
				return &model.EvidenceCandidate{
					Quote:   quote,
					Source:  model.EvidenceSourceOCR,
					BlockID: block.ID,
				}, true
			}
		}
		if start, ok := runeIndex(source.Normalize(doc.OCR.FullText), q); ok {
			return &model.EvidenceCandidate{
				Quote:  quote,
				Source: model.EvidenceSourceOCR,
				Start:  start,
				End:    start + utf8.RuneCountInString(q),
			}, true
		}
	}

	for _, u := range doc.URLs {
		if strings.Contains(u, q) {
			return &model.EvidenceCandidate{Quote: quote, Source: model.EvidenceSourceURL}, true
		}
	}

	// A quote may span the boundary between message text and OCR text.
	if strings.Contains(source.Normalize(doc.CombinedText()), q) {
		return &model.EvidenceCandidate{Quote: quote, Source: model.EvidenceSourceMessage}, true
	}
	return nil, false
}

func runeIndex(haystack, needle string) (int, bool) {
	i := strings.Index(haystack, needle)
	if i < 0 {
		return 0, false
	}
	return utf8.RuneCountInString(haystack[:i]), true
}
