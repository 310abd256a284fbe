// Package ocr recognizes text in message images.
package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/shahamT/valley-luz/internal/config"
	"github.com/shahamT/valley-luz/internal/model"
)

// Recognizer extracts text from the image at imageURL. A nil result with a
// nil error means the image carried no text.
type Recognizer interface {
	Recognize(ctx context.Context, imageURL string) (*model.OCRResult, error)
}

// NewRecognizer creates a Recognizer based on config. The "none" provider
// returns a nil Recognizer; callers proceed text-only.
func NewRecognizer(ctx context.Context, cfg config.OCRConfig, credentials string) (Recognizer, error) {
	switch cfg.Provider {
	case "none":
		return nil, nil
	case "vision", "":
		return NewVision(ctx, credentials)
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}

// resultFromLines assembles an OCRResult from per-block lines. Blocks with
// no text are skipped; ids are b1.., lines b1-l1...
func resultFromLines(blocks [][]string, confidence []float64) *model.OCRResult {
	res := &model.OCRResult{}
	var full []string
	for i, lines := range blocks {
		var kept []string
		for _, l := range lines {
			if l = strings.TrimSpace(l); l != "" {
				kept = append(kept, l)
			}
		}
		if len(kept) == 0 {
			continue
		}
		id := fmt.Sprintf("b%d", len(res.Blocks)+1)
		b := model.OCRBlock{ID: id, Text: strings.Join(kept, "\n")}
		if i < len(confidence) {
			b.Confidence = confidence[i]
		}
		res.Blocks = append(res.Blocks, b)
		for j, l := range kept {
			res.Lines = append(res.Lines, model.OCRLine{ID: fmt.Sprintf("%s-l%d", id, j+1), BlockID: id, Text: l})
		}
		full = append(full, b.Text)
	}
	if len(full) == 0 {
		return nil
	}
	res.FullText = strings.Join(full, "\n")
	return res
}
