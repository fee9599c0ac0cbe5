package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"cisage/internal/store"

	"github.com/fatih/color"
)

const rule = "----------------------------------------"

var (
	bold   = color.New(color.Bold)
	faint  = color.New(color.Faint)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
)

func writeText(w io.Writer, v any) error {
	tw := &textWriter{w: w}
	switch t := v.(type) {
	case Report:
		tw.report(t)
	case store.Analysis:
		tw.analysis(t)
	case store.Signature:
		tw.signature(t)
	case store.Statistics:
		tw.statistics(t)
	case Event:
		switch {
		case t.Report != nil:
			tw.report(*t.Report)
		case t.Analysis != nil:
			tw.analysis(*t.Analysis)
		case t.Signature != nil:
			tw.signature(*t.Signature)
		case t.Statistics != nil:
			tw.statistics(*t.Statistics)
		}
	}
	return tw.err
}

// textWriter remembers the first write error so rendering code stays linear.
type textWriter struct {
	w   io.Writer
	err error
}

func (tw *textWriter) printf(c *color.Color, format string, args ...any) {
	if tw.err != nil {
		return
	}
	if c == nil {
		_, tw.err = fmt.Fprintf(tw.w, format, args...)
		return
	}
	_, tw.err = c.Fprintf(tw.w, format, args...)
}

func (tw *textWriter) field(label, value string) {
	if value == "" {
		return
	}
	tw.printf(faint, "%-14s", label+":")
	tw.printf(nil, "%s\n", value)
}

func (tw *textWriter) report(r Report) {
	tw.printf(nil, "%s\n", rule)
	if r.Skipped {
		tw.printf(yellow, "SKIPPED: %s run %d (%s)\n", r.Repository, r.RunID, r.Workflow)
		tw.printf(nil, "%s\nNo logs were available for this run.\n\n", rule)
		return
	}
	tw.printf(bold, "ANALYSIS: %s run %d (%s)\n", r.Repository, r.RunID, r.Workflow)
	tw.printf(nil, "%s\n", rule)

	res := r.Result
	tw.field("Failure", res.FailureReason)
	tw.field("Error type", res.ErrorType)
	tw.printf(faint, "%-14s", "Confidence:")
	tw.printf(confidenceColor(res.ConfidenceScore), "%s\n", Percent(res.ConfidenceScore))
	tw.field("Auto-fix", yesNo(res.CanAutoFix))
	if len(res.SuggestedLabels) > 0 {
		tw.field("Labels", strings.Join(res.SuggestedLabels, ", "))
	}
	if len(res.RemediationSteps) > 0 {
		tw.printf(faint, "Remediation:\n")
		for i, step := range res.RemediationSteps {
			tw.printf(nil, "  %d. %s\n", i+1, step)
		}
	}
	tw.field("Signature", r.SignatureHash)
	if r.AnalysisID > 0 {
		tw.field("Analysis", fmt.Sprintf("#%d", r.AnalysisID))
	}
	if r.CheckRunID > 0 {
		tw.field("Check run", fmt.Sprintf("%d", r.CheckRunID))
	}
	if r.IssueNumber > 0 {
		tw.field("Issue", fmt.Sprintf("#%d", r.IssueNumber))
	}
	if r.PRNumber > 0 {
		tw.field("Pull request", fmt.Sprintf("#%d", r.PRNumber))
	}
	tw.printf(nil, "\n")
}

func (tw *textWriter) analysis(a store.Analysis) {
	tw.printf(bold, "#%-6d", a.ID)
	tw.printf(faint, " %s ", a.CreatedAt.UTC().Format(time.DateTime))
	tw.printf(nil, "%s  %s  %s  ", a.Repository, a.WorkflowName, orUnknown(a.ErrorType))
	tw.printf(confidenceColor(a.ConfidenceScore), "%s", Percent(a.ConfidenceScore))
	if a.FailureReason != "" {
		tw.printf(nil, "  %s", a.FailureReason)
	}
	tw.printf(nil, "\n")
}

func (tw *textWriter) signature(s store.Signature) {
	tw.printf(bold, "#%-6d", s.ID)
	tw.printf(nil, " %s  ", orUnknown(s.ErrorType))
	tw.printf(confidenceColor(s.ConfidenceScore), "%s", Percent(s.ConfidenceScore))
	tw.printf(nil, "  success %s  seen %dx\n", Percent(s.SuccessRate), s.OccurrenceCount)
	for i, step := range s.RemediationSteps {
		tw.printf(nil, "        %d. %s\n", i+1, step)
	}
}

func (tw *textWriter) statistics(s store.Statistics) {
	tw.printf(nil, "%s\n", rule)
	tw.printf(bold, "STATISTICS\n")
	tw.printf(nil, "%s\n", rule)
	tw.field("Signatures", fmt.Sprintf("%d", s.TotalSignatures))
	tw.field("Analyses", fmt.Sprintf("%d", s.TotalAnalyses))
	tw.field("Avg confidence", Percent(s.AverageConfidence))

	if len(s.ErrorTypeDistribution) == 0 {
		return
	}
	types := make([]string, 0, len(s.ErrorTypeDistribution))
	for t := range s.ErrorTypeDistribution {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		ci, cj := s.ErrorTypeDistribution[types[i]], s.ErrorTypeDistribution[types[j]]
		if ci != cj {
			return ci > cj
		}
		return types[i] < types[j]
	})
	tw.printf(faint, "Error types:\n")
	for _, t := range types {
		tw.printf(nil, "  %-14s %d\n", t, s.ErrorTypeDistribution[t])
	}
}

// Percent renders a 0..1 score with one decimal, e.g. "92.0%".
func Percent(score float64) string {
	return fmt.Sprintf("%.1f%%", score*100)
}

func confidenceColor(score float64) *color.Color {
	switch {
	case score >= 0.8:
		return green
	case score > 0.5:
		return yellow
	default:
		return red
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
