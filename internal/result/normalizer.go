// Package result turns an analysis payload into a display-safe model.
package result

import (
	"strings"

	"github.com/lexiqai/field-assist/internal/analysis"
)

// Placeholder is shown in place of an empty list or a missing value.
const Placeholder = "—"

// DefaultConfidencePercent is used when the confidence string matches no
// known keyword.
const DefaultConfidencePercent = 50

// Keywords are checked in this order and the first match wins, so
// "medium-high" maps to the high bucket.
var confidenceBuckets = []struct {
	keyword string
	percent int
}{
	{"high", 80},
	{"medium", 55},
	{"low", 30},
}

// Section is a rendered list. HasContent is false when Items holds only the
// placeholder.
type Section struct {
	Items      []string `json:"items"`
	HasContent bool     `json:"has_content"`
}

// Display is the result screen model.
type Display struct {
	Observed          Section `json:"observed"`
	LikelyCauses      Section `json:"likely_causes"`
	Why               string  `json:"why"`
	Confidence        string  `json:"confidence"`
	ConfidencePercent int     `json:"confidence_percent"`
	Question          string  `json:"question"`
	ImageCaption      string  `json:"image_caption"`
	Transcript        string  `json:"transcript,omitempty"`
}

// ConfidencePercent maps a free-form confidence label to a bar percentage.
func ConfidencePercent(confidence string) int {
	lower := strings.ToLower(confidence)
	for _, bucket := range confidenceBuckets {
		if strings.Contains(lower, bucket.keyword) {
			return bucket.percent
		}
	}
	return DefaultConfidencePercent
}

// Items returns the entries to render for a list field. An empty list yields
// the single placeholder entry. The input slice is never modified.
func Items(list []string) ([]string, bool) {
	if len(list) == 0 {
		return []string{Placeholder}, false
	}
	out := make([]string, len(list))
	copy(out, list)
	return out, true
}

// Normalize builds the display model for a result. A nil result yields an
// all-placeholder model.
func Normalize(r *analysis.Result) Display {
	if r == nil {
		r = &analysis.Result{}
	}

	observed, hasObserved := Items(r.Observed)
	causes, hasCauses := Items(r.LikelyCauses)

	return Display{
		Observed:          Section{Items: observed, HasContent: hasObserved},
		LikelyCauses:      Section{Items: causes, HasContent: hasCauses},
		Why:               orPlaceholder(r.Why),
		Confidence:        orPlaceholder(r.Confidence),
		ConfidencePercent: ConfidencePercent(r.Confidence),
		Question:          orPlaceholder(r.Question),
		ImageCaption:      orPlaceholder(r.ImageCaption),
		Transcript:        strings.TrimSpace(r.Transcript),
	}
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return Placeholder
	}
	return s
}
