package analyzer

// Error types the model is asked to choose from. "unknown" is used by the fallbacks.
const (
	ErrorTypeDependency    = "dependency"
	ErrorTypePermission    = "permission"
	ErrorTypeTimeout       = "timeout"
	ErrorTypeConfiguration = "configuration"
	ErrorTypeNetwork       = "network"
	ErrorTypeResource      = "resource"
	ErrorTypeSyntax        = "syntax"
	ErrorTypeEnvironment   = "environment"
	ErrorTypeUnknown       = "unknown"
)

// Result is the structured root-cause analysis of one failed run.
type Result struct {
	FailureReason    string   `json:"failure_reason"`
	ConfidenceScore  float64  `json:"confidence_score"`
	RemediationSteps []string `json:"remediation_steps"`
	ErrorType        string   `json:"error_type"`
	SuggestedLabels  []string `json:"suggested_labels"`
	CanAutoFix       bool     `json:"can_auto_fix"`
	AutoFixPatch     string   `json:"auto_fix_patch,omitempty"`
}

type Artifact struct {
	Name        string
	SizeInBytes int64
}

type Request struct {
	Logs         string
	WorkflowName string
	Artifacts    []Artifact
	// History holds remediation steps that worked for earlier failures, best first.
	History [][]string
}

// Exchange is the raw prompt and reply behind a Result, kept for auditing.
type Exchange struct {
	Prompt   string
	Response string
}
