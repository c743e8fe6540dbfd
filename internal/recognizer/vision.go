package recognizer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"github.com/MeKo-Tech/shelfscan/internal/utils"
)

// ErrVisionFailed reports a Cloud Vision call that returned an error payload.
var ErrVisionFailed = errors.New("vision annotation failed")

type annotateFunc func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error)

// VisionRecognizer reads spine text with Google Cloud Vision document text detection.
type VisionRecognizer struct {
	annotate annotateFunc
	closer   func() error
	hints    []string
}

// NewVisionRecognizer creates a Vision client. Credentials are taken from
// cfg.CredentialsJSON, then cfg.CredentialsFile, then application default
// credentials.
func NewVisionRecognizer(ctx context.Context, cfg Config) (*VisionRecognizer, error) {
	var opts []option.ClientOption
	switch {
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create vision client: %w", err)
	}

	return &VisionRecognizer{
		annotate: func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
			return client.BatchAnnotateImages(ctx, req)
		},
		closer: client.Close,
		hints:  cfg.LanguageHints,
	}, nil
}

// Recognize sends the crop to Vision and returns one fragment per word.
func (v *VisionRecognizer) Recognize(ctx context.Context, crop image.Image) ([]Fragment, error) {
	if crop == nil {
		return nil, errors.New("input image is nil")
	}
	content, err := utils.PNGBytes(crop)
	if err != nil {
		return nil, err
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:        &visionpb.Image{Content: content},
			Features:     []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
			ImageContext: &visionpb.ImageContext{LanguageHints: v.hints},
		}},
	}

	resp, err := v.annotate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vision annotate: %w", err)
	}
	if len(resp.GetResponses()) == 0 {
		return nil, nil
	}
	first := resp.GetResponses()[0]
	if e := first.GetError(); e != nil && e.GetMessage() != "" {
		return nil, fmt.Errorf("%w: %s", ErrVisionFailed, e.GetMessage())
	}
	return fragmentsFromAnnotation(first.GetFullTextAnnotation()), nil
}

// fragmentsFromAnnotation flattens the page/block/paragraph/word hierarchy
// into word fragments in Vision's reading order.
func fragmentsFromAnnotation(ann *visionpb.TextAnnotation) []Fragment {
	var out []Fragment
	for _, page := range ann.GetPages() {
		for _, block := range page.GetBlocks() {
			for _, para := range block.GetParagraphs() {
				for _, word := range para.GetWords() {
					var sb strings.Builder
					for _, sym := range word.GetSymbols() {
						sb.WriteString(sym.GetText())
					}
					text := strings.TrimSpace(sb.String())
					if text == "" {
						continue
					}
					var poly []utils.Point
					for _, vtx := range word.GetBoundingBox().GetVertices() {
						poly = append(poly, utils.Point{X: float64(vtx.GetX()), Y: float64(vtx.GetY())})
					}
					out = append(out, Fragment{
						Text:        text,
						Confidence:  float64(word.GetConfidence()),
						CropPolygon: poly,
					})
				}
			}
		}
	}
	return out
}

// Info describes the backend.
func (v *VisionRecognizer) Info() map[string]interface{} {
	return map[string]interface{}{
		"backend":        BackendVision,
		"language_hints": v.hints,
	}
}

// Close releases the Vision client connection.
func (v *VisionRecognizer) Close() error {
	if v.closer == nil {
		return nil
	}
	return v.closer()
}
