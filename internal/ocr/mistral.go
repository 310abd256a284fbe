package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/shahamT/valley-luz/internal/model"
	"github.com/shahamT/valley-luz/internal/resilience"
)

const (
	mistralOCREndpoint  = "https://api.mistral.ai/v1/ocr"
	defaultMistralModel = "mistral-ocr-latest"
)

// MistralOCR recognizes image text using the Mistral OCR API.
type MistralOCR struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	retry    resilience.RetryConfig
}

// NewMistralOCR creates a MistralOCR recognizer. If model is empty, the default is used.
func NewMistralOCR(apiKey, model string) *MistralOCR {
	if model == "" {
		model = defaultMistralModel
	}
	return &MistralOCR{
		apiKey:   apiKey,
		model:    model,
		endpoint: mistralOCREndpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     10 * time.Second,
			OnRetry:        resilience.RetryLogger("mistral", "ocr"),
		},
	}
}

type mistralOCRRequest struct {
	Model    string             `json:"model"`
	Document mistralOCRDocument `json:"document"`
}

type mistralOCRDocument struct {
	Type     string `json:"type"`
	ImageURL string `json:"image_url"`
}

type mistralOCRResponse struct {
	Pages []mistralOCRPage `json:"pages"`
}

type mistralOCRPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

// Recognize sends the image URL to Mistral OCR. Each page becomes one block;
// markdown image references are dropped from the text.
func (m *MistralOCR) Recognize(ctx context.Context, imageURL string) (*model.OCRResult, error) {
	if strings.TrimSpace(imageURL) == "" {
		return nil, nil
	}

	bodyBytes, err := json.Marshal(mistralOCRRequest{
		Model:    m.model,
		Document: mistralOCRDocument{Type: "image_url", ImageURL: imageURL},
	})
	if err != nil {
		return nil, eris.Wrap(err, "ocr: marshal mistral request")
	}

	respBody, err := resilience.DoVal(ctx, m.retry, func(ctx context.Context) ([]byte, error) {
		return m.post(ctx, bodyBytes)
	})
	if err != nil {
		return nil, err
	}

	var ocrResp mistralOCRResponse
	if err := json.Unmarshal(respBody, &ocrResp); err != nil {
		return nil, eris.Wrap(err, "ocr: unmarshal mistral response")
	}

	blocks := make([][]string, 0, len(ocrResp.Pages))
	for _, page := range ocrResp.Pages {
		var lines []string
		for _, l := range strings.Split(page.Markdown, "\n") {
			if strings.HasPrefix(strings.TrimSpace(l), "![") {
				continue
			}
			lines = append(lines, l)
		}
		blocks = append(blocks, lines)
	}
	return resultFromLines(blocks, nil), nil
}

// post sends one OCR request. Throttling and server errors come back as
// transient errors carrying the Retry-After delay.
func (m *MistralOCR) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "ocr: create mistral request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: mistral API call")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: read mistral response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("ocr: mistral API returned %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode).
				WithRetryAfter(resilience.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
		}
		return nil, err
	}
	return respBody, nil
}
