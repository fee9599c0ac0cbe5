package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResult_DefaultsForMissingFields(t *testing.T) {
	got, err := ParseResult(`{"error_type": "Timeout"}`)
	require.NoError(t, err)

	assert.Equal(t, "Unknown error", got.FailureReason)
	assert.Equal(t, 0.5, got.ConfidenceScore)
	assert.Equal(t, []string{"Review logs manually"}, got.RemediationSteps)
	assert.Equal(t, "timeout", got.ErrorType)
	assert.Equal(t, []string{"ci"}, got.SuggestedLabels)
	assert.False(t, got.CanAutoFix)
	assert.Empty(t, got.AutoFixPatch)
}

func TestParseResult_ClampsConfidence(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{`{"confidence_score": 1.7}`, 1},
		{`{"confidence_score": -0.2}`, 0},
		{`{"confidence_score": 0.33}`, 0.33},
	}
	for _, tt := range tests {
		got, err := ParseResult(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.ConfidenceScore, tt.in)
	}
}

func TestParseResult_ToleratesCommentsAndTrailingCommas(t *testing.T) {
	got, err := ParseResult("```json\n{\n  // root cause\n  \"failure_reason\": \"missing secret\",\n  \"suggested_labels\": [\"ci\",],\n}\n```")
	require.NoError(t, err)
	assert.Equal(t, "missing secret", got.FailureReason)
	assert.Equal(t, []string{"ci"}, got.SuggestedLabels)
}

func TestParseResult_NonStringPatchIgnored(t *testing.T) {
	got, err := ParseResult(`{"can_auto_fix": true, "auto_fix_patch": {"jobs": {}}}`)
	require.NoError(t, err)
	assert.True(t, got.CanAutoFix)
	assert.Empty(t, got.AutoFixPatch)
}

func TestParseResult_Errors(t *testing.T) {
	for _, in := range []string{"", "no json here", "} backwards {", `{"failure_reason": }`} {
		_, err := ParseResult(in)
		assert.Error(t, err, in)
	}
}

func TestSignature(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", Signature("ab", "c"))

	long := make([]rune, 1500)
	for i := range long {
		long[i] = 'x'
	}
	// Only the first 1000 characters of the logs count.
	assert.Equal(t, Signature(string(long[:1000]), "p"), Signature(string(long), "p"))
	assert.NotEqual(t, Signature(string(long), "p"), Signature(string(long), "q"))
	assert.Len(t, Signature("", ""), 64)
}

func TestCanAutoFix(t *testing.T) {
	tests := []struct {
		errorType  string
		confidence float64
		want       bool
	}{
		{"dependency", 0.9, true},
		{"permission", 0.81, true},
		{"timeout", 0.8, false},
		{"configuration", 0.95, true},
		{"network", 0.99, false},
		{"unknown", 1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanAutoFix(tt.errorType, tt.confidence, DefaultAutoFixThreshold), "%s@%v", tt.errorType, tt.confidence)
	}
}

func TestKnownFixes(t *testing.T) {
	assert.Equal(t, []string{"Increase timeout values", "Add retry logic", "Optimize workflow steps"}, KnownFixes("timeout"))
	assert.Nil(t, KnownFixes("network"))

	fixes := KnownFixes("dependency")
	fixes[0] = "mutated"
	assert.Equal(t, "Update dependency versions", KnownFixes("dependency")[0])
}

func TestValidateWorkflowYAML(t *testing.T) {
	assert.NoError(t, ValidateWorkflowYAML("name: CI\non:\n  push:\n"))
	assert.NoError(t, ValidateWorkflowYAML("name: Manual\nworkflow_dispatch: {}\n"))
	assert.ErrorIs(t, ValidateWorkflowYAML("jobs: {}\n"), ErrInvalidPatch)
	assert.ErrorIs(t, ValidateWorkflowYAML("name: CI\non: [push\n"), ErrInvalidPatch)
}

func TestWorkflowName(t *testing.T) {
	assert.Equal(t, "Build and Test", WorkflowName("name: Build and Test\non: push\n"))
	assert.Equal(t, "", WorkflowName("on: push\n"))
	assert.Equal(t, "", WorkflowName(":::"))
}

func TestCleanPatch(t *testing.T) {
	assert.Equal(t, "name: CI", CleanPatch("  name: CI  "))
	assert.Equal(t, "name: CI\non: push\n", CleanPatch("```yml\nname: CI\non: push\n```"))
}
