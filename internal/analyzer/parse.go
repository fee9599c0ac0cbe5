package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"
)

var errNoJSON = errors.New("no JSON found in response")

// wireResult mirrors Result with optional fields so absent keys get defaults.
type wireResult struct {
	FailureReason    *string         `json:"failure_reason"`
	ConfidenceScore  *float64        `json:"confidence_score"`
	RemediationSteps *[]string       `json:"remediation_steps"`
	ErrorType        *string         `json:"error_type"`
	SuggestedLabels  *[]string       `json:"suggested_labels"`
	CanAutoFix       bool            `json:"can_auto_fix"`
	AutoFixPatch     json.RawMessage `json:"auto_fix_patch"`
}

// ParseResult extracts the JSON object between the first '{' and the last
// '}' of a model reply. Comments and trailing commas are tolerated.
func ParseResult(text string) (Result, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return Result{}, errNoJSON
	}

	var w wireResult
	if err := json.Unmarshal(jsonc.ToJSON([]byte(text[start:end+1])), &w); err != nil {
		return Result{}, fmt.Errorf("decode analysis: %w", err)
	}

	r := Result{
		FailureReason:    "Unknown error",
		ConfidenceScore:  0.5,
		RemediationSteps: []string{"Review logs manually"},
		ErrorType:        ErrorTypeUnknown,
		SuggestedLabels:  []string{"ci"},
		CanAutoFix:       w.CanAutoFix,
	}
	if w.FailureReason != nil {
		r.FailureReason = *w.FailureReason
	}
	if w.ConfidenceScore != nil {
		r.ConfidenceScore = *w.ConfidenceScore
	}
	if w.RemediationSteps != nil {
		r.RemediationSteps = *w.RemediationSteps
	}
	if w.ErrorType != nil {
		r.ErrorType = strings.ToLower(strings.TrimSpace(*w.ErrorType))
	}
	if w.SuggestedLabels != nil {
		r.SuggestedLabels = *w.SuggestedLabels
	}
	if len(w.AutoFixPatch) > 0 {
		var patch string
		if err := json.Unmarshal(w.AutoFixPatch, &patch); err == nil {
			r.AutoFixPatch = patch
		}
	}
	r.ConfidenceScore = clamp01(r.ConfidenceScore)
	return r, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Fallback is the result recorded when no usable analysis was produced.
func Fallback(reason string) Result {
	return Result{
		FailureReason:    reason,
		ConfidenceScore:  0.1,
		RemediationSteps: []string{"Review logs manually", "Check workflow configuration"},
		ErrorType:        ErrorTypeUnknown,
		SuggestedLabels:  []string{"ci", "needs-triage"},
	}
}
