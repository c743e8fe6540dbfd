package pipeline

import (
	"fmt"
	"image"

	"github.com/MeKo-Tech/shelfscan/internal/bibliographic"
	"github.com/MeKo-Tech/shelfscan/internal/common"
	"github.com/MeKo-Tech/shelfscan/internal/detector"
	"github.com/MeKo-Tech/shelfscan/internal/golden"
	"github.com/MeKo-Tech/shelfscan/internal/llm"
	"github.com/MeKo-Tech/shelfscan/internal/recognizer"
	"github.com/MeKo-Tech/shelfscan/internal/sequence"
	"github.com/MeKo-Tech/shelfscan/internal/store"
	"github.com/MeKo-Tech/shelfscan/internal/textagg"
)

// Stage names used in RegionResult.Stages, progress events and metrics.
const (
	StageDetect    = "detect"
	StageRecognize = "recognize"
	StageCorrect   = "correct"
	StageExtract   = "extract"
	StageLookup    = "lookup"
	StageValidate  = "validate"
	StagePersist   = "persist"
	StageComposite = "composite"
)

// matchBoost is added to the OCR confidence when the catalogue returns a candidate.
const matchBoost = 0.2

// Depth selects how far Scan carries each region.
type Depth int

const (
	// DepthFull runs every stage through persistence.
	DepthFull Depth = iota
	// DepthDetect stops after ordering. Regions carry their box and position only.
	DepthDetect
	// DepthOCR stops after recognition and text aggregation.
	DepthOCR
)

func (d Depth) String() string {
	switch d {
	case DepthFull:
		return "full"
	case DepthDetect:
		return "detect"
	case DepthOCR:
		return "ocr"
	default:
		return fmt.Sprintf("Depth(%d)", int(d))
	}
}

// ScanRequest is one photograph of one shelf row.
type ScanRequest struct {
	Image      image.Image
	ShelfID    int
	Row        int
	BaseColumn int
	// Thresholds overrides the configured detector thresholds when set.
	Thresholds *detector.Thresholds
	// ScanID is generated when empty.
	ScanID string
	// Progress receives stage events for this request only.
	Progress ProgressFunc
	// Depth defaults to DepthFull.
	Depth Depth
}

// RegionResult is everything learned about one detected spine.
type RegionResult struct {
	Index     int                   `json:"position_index"`
	Position  sequence.Position     `json:"position"`
	Detection detector.Detection    `json:"detection"`
	Fragments []recognizer.Fragment `json:"fragments"`

	OCRText       string          `json:"ocr_text"`
	OCRConfidence float64         `json:"ocr_confidence"`
	OCRQuality    textagg.Quality `json:"ocr_quality"`

	CorrectedText string                   `json:"corrected_text"`
	Extracted     llm.Metadata             `json:"extracted_metadata"`
	Candidate     *bibliographic.Candidate `json:"bibliographic_match"`
	Validation    llm.Verdict              `json:"validation_result"`
	Confidence    float64                  `json:"confidence"`

	Golden    golden.Record             `json:"golden_record"`
	Persisted bool                      `json:"persisted"`
	Action    store.Action              `json:"persist_action,omitempty"`
	Stages    map[string]common.Outcome `json:"stages"`

	CropRef    string `json:"crop_ref,omitempty"`
	OCRCropRef string `json:"ocr_crop_ref,omitempty"`
}

// ScanResult is the outcome of one Scan call.
type ScanResult struct {
	ScanID            string          `json:"scan_id"`
	Width             int             `json:"width"`
	Height            int             `json:"height"`
	DetectedCount     int             `json:"detected_count"`
	Layout            sequence.Layout `json:"layout"`
	Regions           []RegionResult  `json:"regions"`
	AnnotatedImageRef string          `json:"annotated_image_ref,omitempty"`
	OriginalRef       string          `json:"original_ref,omitempty"`
	Processing        struct {
		DetectionNs int64 `json:"detection_ns"`
		RegionsNs   int64 `json:"regions_ns"`
		TotalNs     int64 `json:"total_ns"`
	} `json:"processing"`
}

// Persisted counts regions that reached the store.
func (r *ScanResult) Persisted() int {
	n := 0
	for _, reg := range r.Regions {
		if reg.Persisted {
			n++
		}
	}
	return n
}

// Matched counts regions with a catalogue candidate.
func (r *ScanResult) Matched() int {
	n := 0
	for _, reg := range r.Regions {
		if reg.Candidate != nil {
			n++
		}
	}
	return n
}
