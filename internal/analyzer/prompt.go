package analyzer

import (
	"fmt"
	"strings"
)

const maxHistoryInPrompt = 3

const analysisInstructions = `Please provide your analysis in the following JSON format:
{
    "failure_reason": "Clear, concise explanation of the root cause",
    "confidence_score": 0.85,
    "remediation_steps": [
        "Step 1: Specific action to take",
        "Step 2: Another specific action",
        "Step 3: Verification step"
    ],
    "error_type": "One of: dependency, permission, timeout, configuration, network, resource, syntax, environment",
    "suggested_labels": ["bug", "ci", "priority-high"],
    "can_auto_fix": false,
    "auto_fix_patch": null
}

Guidelines:
1. Be specific about the root cause - avoid generic explanations
2. Provide actionable remediation steps
3. Confidence score should be 0.0-1.0 based on how certain you are
4. Error types should be specific categories that can be learned from
5. Only set can_auto_fix to true if you can provide a concrete patch
6. If auto_fix_patch is provided, it should be valid YAML/configuration
7. Suggested labels should be relevant GitHub issue labels

Focus on the most critical failure point and provide the most likely solution.`

// AnalysisPrompt renders the root-cause prompt for one failed run.
func AnalysisPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("You are an expert DevOps engineer analyzing GitHub Actions workflow failures. ")
	sb.WriteString("Analyze the following workflow logs and provide a comprehensive failure analysis.\n\n")
	fmt.Fprintf(&sb, "Workflow: %s\n", req.WorkflowName)

	if len(req.Artifacts) > 0 {
		sb.WriteString("\nArtifacts available:\n")
		for _, a := range req.Artifacts {
			name := a.Name
			if name == "" {
				name = "Unknown"
			}
			fmt.Fprintf(&sb, "- %s: %d bytes\n", name, a.SizeInBytes)
		}
	}

	if len(req.History) > 0 {
		history := req.History
		if len(history) > maxHistoryInPrompt {
			history = history[:maxHistoryInPrompt]
		}
		sb.WriteString("\nPrevious successful fixes for similar errors:\n")
		for _, steps := range history {
			fmt.Fprintf(&sb, "- %s\n", strings.Join(steps, "; "))
		}
	}

	sb.WriteString("\nLogs:\n")
	sb.WriteString(req.Logs)
	sb.WriteString("\n\n")
	sb.WriteString(analysisInstructions)
	return sb.String()
}

// PatchPrompt asks for a corrected workflow file.
func PatchPrompt(errorType, workflowContent, failureContext string) string {
	return fmt.Sprintf(`Generate a patch for a GitHub Actions workflow to fix the following issue:

Error Type: %s
Context: %s

Current workflow content:
%s

Provide ONLY the corrected workflow YAML content, not explanations. The patch should be minimal and focused on fixing the specific issue.`,
		errorType, failureContext, workflowContent)
}
