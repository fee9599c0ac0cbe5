package pipeline

import (
	"fmt"
	"strings"

	"cisage/internal/analyzer"
	gh "cisage/internal/github"
)

const footer = "*Generated by CI-Sage*"

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

// clip returns at most n characters of s.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func checkRunFor(workflow, headSHA string, res analyzer.Result) gh.CheckRun {
	var steps strings.Builder
	for i, step := range res.RemediationSteps {
		if i > 0 {
			steps.WriteByte('\n')
		}
		fmt.Fprintf(&steps, "%d. %s", i+1, step)
	}

	text := fmt.Sprintf(`## Analysis Results

**Workflow:** %s
**Error Type:** %s
**Confidence Score:** %s

## Root Cause
%s

## Remediation Steps
%s

## Suggested Labels
%s

---
*This analysis was generated by CI-Sage*`,
		workflow, res.ErrorType, percent(res.ConfidenceScore),
		res.FailureReason, steps.String(), strings.Join(res.SuggestedLabels, ", "))

	return gh.CheckRun{
		Name:       "Actions Analyzer: " + workflow,
		HeadSHA:    headSHA,
		Status:     "completed",
		Conclusion: "failure",
		Title:      "Workflow Analysis: " + workflow,
		Summary:    fmt.Sprintf("**Root Cause:** %s\n\n**Confidence:** %s", res.FailureReason, percent(res.ConfidenceScore)),
		Text:       text,
	}
}

func issueFor(workflow string, res analyzer.Result) gh.Issue {
	var b strings.Builder
	fmt.Fprintf(&b, "## Workflow Failure Analysis\n\n**Workflow:** `%s`\n**Error Type:** %s\n**Confidence:** %s\n\n",
		workflow, res.ErrorType, percent(res.ConfidenceScore))
	fmt.Fprintf(&b, "## Root Cause\n%s\n\n## Remediation Steps\n", res.FailureReason)
	for _, step := range res.RemediationSteps {
		fmt.Fprintf(&b, "- [ ] %s\n", step)
	}
	if fixes := analyzer.KnownFixes(res.ErrorType); len(fixes) > 0 {
		b.WriteString("\n## Common Fixes\n")
		for _, fix := range fixes {
			fmt.Fprintf(&b, "- %s\n", fix)
		}
	}
	fmt.Fprintf(&b, "\n## Additional Information\n- This issue was automatically created by CI-Sage\n- Confidence score: %s\n- Error type: %s\n\n---\n%s",
		percent(res.ConfidenceScore), res.ErrorType, footer)

	return gh.Issue{
		Title:  fmt.Sprintf("CI Failure: %s - %s", workflow, clip(res.FailureReason, 100)),
		Body:   b.String(),
		Labels: issueLabels(res.SuggestedLabels),
	}
}

// issueLabels appends ci and automated to the suggested labels, dropping
// blanks and duplicates while keeping the first-seen order.
func issueLabels(suggested []string) []string {
	seen := make(map[string]bool, len(suggested)+2)
	out := make([]string, 0, len(suggested)+2)
	for _, l := range append(append([]string(nil), suggested...), "ci", "automated") {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

func pullRequestFor(workflow, head, base string, res analyzer.Result) gh.PullRequest {
	var steps strings.Builder
	for i, step := range res.RemediationSteps {
		if i > 0 {
			steps.WriteByte('\n')
		}
		steps.WriteString("- " + step)
	}

	body := fmt.Sprintf(`## Auto-Generated Fix

This PR automatically fixes the following issue in `+"`%s`"+`:

**Problem:** %s

**Error Type:** %s

**Confidence:** %s

## Changes Made
- Applied automated fix for %s error
- Updated workflow configuration to resolve the issue

## Remediation Steps Applied
%s

## Review Notes
- This fix was generated by CI-Sage
- Please review the changes before merging
- Test the workflow to ensure the fix works as expected

---
%s`, workflow, res.FailureReason, res.ErrorType, percent(res.ConfidenceScore), res.ErrorType, steps.String(), footer)

	return gh.PullRequest{
		Title: fmt.Sprintf("Fix: %s - %s", workflow, clip(res.FailureReason, 80)),
		Head:  head,
		Base:  base,
		Body:  body,
	}
}

// BranchName is the fix branch for workflow at sha: fix/<workflow>-<sha[:8]>.
func BranchName(workflow, sha string) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		case r == ' ':
			return '-'
		default:
			return -1
		}
	}, strings.ToLower(strings.TrimSpace(workflow)))
	if slug == "" {
		slug = "workflow"
	}
	return fmt.Sprintf("fix/%s-%s", slug, clip(sha, 8))
}
