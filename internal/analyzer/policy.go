package analyzer

// DefaultAutoFixThreshold is the confidence an analysis must exceed before a fix is proposed.
const DefaultAutoFixThreshold = 0.8

var knownFixes = map[string][]string{
	ErrorTypeDependency: {
		"Update dependency versions",
		"Add dependency caching",
		"Use specific version pins",
	},
	ErrorTypePermission: {
		"Add required permissions to workflow",
		"Update GITHUB_TOKEN permissions",
		"Add repository secrets",
	},
	ErrorTypeTimeout: {
		"Increase timeout values",
		"Add retry logic",
		"Optimize workflow steps",
	},
	ErrorTypeConfiguration: {
		"Fix YAML syntax errors",
		"Update workflow triggers",
		"Correct environment variables",
	},
}

// CanAutoFix reports whether a failure of errorType is eligible for an
// automatic fix. Only the well-understood types qualify, and only above threshold.
func CanAutoFix(errorType string, confidence, threshold float64) bool {
	_, ok := knownFixes[errorType]
	return ok && confidence > threshold
}

// KnownFixes returns the common fixes for errorType, or nil.
func KnownFixes(errorType string) []string {
	fixes := knownFixes[errorType]
	if fixes == nil {
		return nil
	}
	return append([]string(nil), fixes...)
}
