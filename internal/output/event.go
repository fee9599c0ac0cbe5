package output

import (
	"cisage/internal/analyzer"
	"cisage/internal/store"
)

// Report is the result of analyzing a single workflow run from the command line.
type Report struct {
	Repository    string          `json:"repository"`
	RunID         int64           `json:"workflow_run_id"`
	Workflow      string          `json:"workflow_name"`
	Skipped       bool            `json:"skipped,omitempty"`
	Result        analyzer.Result `json:"result"`
	SignatureHash string          `json:"signature_hash,omitempty"`
	AnalysisID    int64           `json:"analysis_id,omitempty"`
	CheckRunID    int64           `json:"check_run_id,omitempty"`
	IssueNumber   int             `json:"issue_number,omitempty"`
	PRNumber      int             `json:"pr_number,omitempty"`
}

// Event is one NDJSON record. Exactly one payload field is set, named by Type.
type Event struct {
	Type       string            `json:"type"`
	Report     *Report           `json:"report,omitempty"`
	Analysis   *store.Analysis   `json:"analysis,omitempty"`
	Signature  *store.Signature  `json:"signature,omitempty"`
	Statistics *store.Statistics `json:"statistics,omitempty"`
}

const (
	EventReport     = "analysis.report"
	EventAnalysis   = "analysis"
	EventSignature  = "signature"
	EventStatistics = "statistics"
)

// eventFor wraps a supported value; ok is false for anything else.
func eventFor(v any) (Event, bool) {
	switch t := v.(type) {
	case Event:
		return t, true
	case Report:
		return Event{Type: EventReport, Report: &t}, true
	case store.Analysis:
		return Event{Type: EventAnalysis, Analysis: &t}, true
	case store.Signature:
		return Event{Type: EventSignature, Signature: &t}, true
	case store.Statistics:
		return Event{Type: EventStatistics, Statistics: &t}, true
	default:
		return Event{}, false
	}
}
