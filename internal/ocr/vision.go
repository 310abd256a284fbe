package ocr

import (
	"context"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shahamT/valley-luz/internal/media"
	"github.com/shahamT/valley-luz/internal/model"
)

type annotateFunc func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error)

// Vision recognizes text with Google Cloud Vision document text detection.
// The image is fetched by Vision itself from its URL.
type Vision struct {
	annotate annotateFunc
	closeFn  func() error
	timeout  time.Duration
}

// NewVision creates a Vision client using credentials (inline JSON, a file
// path, or empty for application default credentials).
func NewVision(ctx context.Context, credentials string) (*Vision, error) {
	client, err := vision.NewImageAnnotatorClient(ctx, media.ClientOptions(credentials)...)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: vision client")
	}
	return &Vision{
		annotate: func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
			return client.BatchAnnotateImages(ctx, req)
		},
		closeFn: client.Close,
		timeout: 60 * time.Second,
	}, nil
}

// Close releases the Vision client.
func (v *Vision) Close() error {
	if v == nil || v.closeFn == nil {
		return nil
	}
	return v.closeFn()
}

// Recognize runs DOCUMENT_TEXT_DETECTION over the image at imageURL.
func (v *Vision) Recognize(ctx context.Context, imageURL string) (*model.OCRResult, error) {
	if strings.TrimSpace(imageURL) == "" {
		return nil, nil
	}
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	resp, err := v.annotate(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image: &visionpb.Image{Source: &visionpb.ImageSource{ImageUri: imageURL}},
			Features: []*visionpb.Feature{
				{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
			},
		}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "ocr: vision annotate")
	}
	if resp == nil || len(resp.GetResponses()) == 0 || resp.GetResponses()[0] == nil {
		return nil, nil
	}

	r0 := resp.GetResponses()[0]
	if msg := r0.GetError().GetMessage(); msg != "" {
		return nil, eris.Errorf("ocr: vision annotate error: %s", msg)
	}

	fta := r0.GetFullTextAnnotation()
	if fta == nil || strings.TrimSpace(fta.GetText()) == "" {
		return nil, nil
	}

	var (
		blocks     [][]string
		confidence []float64
	)
	for _, page := range fta.GetPages() {
		for _, b := range page.GetBlocks() {
			blocks = append(blocks, blockLines(b))
			confidence = append(confidence, float64(b.GetConfidence()))
		}
	}

	res := resultFromLines(blocks, confidence)
	if res == nil {
		// Pages without block structure still carry the flat text.
		res = resultFromLines([][]string{strings.Split(fta.GetText(), "\n")}, nil)
	}
	if res != nil {
		zap.L().Debug("ocr: vision recognized",
			zap.Int("blocks", len(res.Blocks)),
			zap.Int("lines", len(res.Lines)),
		)
	}
	return res, nil
}

// blockLines rebuilds the text lines of a block from symbol break hints.
func blockLines(b *visionpb.Block) []string {
	var (
		lines []string
		sb    strings.Builder
	)
	flush := func() {
		lines = append(lines, sb.String())
		sb.Reset()
	}
	for _, p := range b.GetParagraphs() {
		for _, w := range p.GetWords() {
			for _, s := range w.GetSymbols() {
				sb.WriteString(s.GetText())
				switch s.GetProperty().GetDetectedBreak().GetType() {
				case visionpb.TextAnnotation_DetectedBreak_SPACE, visionpb.TextAnnotation_DetectedBreak_SURE_SPACE:
					sb.WriteByte(' ')
				case visionpb.TextAnnotation_DetectedBreak_EOL_SURE_SPACE, visionpb.TextAnnotation_DetectedBreak_LINE_BREAK:
					flush()
				}
			}
		}
		if sb.Len() > 0 {
			flush()
		}
	}
	return lines
}
