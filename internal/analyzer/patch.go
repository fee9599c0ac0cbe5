package analyzer

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidPatch is returned when generated text is not a usable workflow file.
var ErrInvalidPatch = errors.New("patch is not a valid workflow")

// CleanPatch strips a surrounding Markdown code fence, if any.
func CleanPatch(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	lines = lines[1:]
	if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == "```" {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
}

// ValidateWorkflowYAML checks that text looks like a workflow and parses as YAML.
func ValidateWorkflowYAML(text string) error {
	if !strings.Contains(text, "name:") || !(strings.Contains(text, "on:") || strings.Contains(text, "workflow_dispatch:")) {
		return fmt.Errorf("%w: missing name or trigger", ErrInvalidPatch)
	}
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	if len(doc) == 0 {
		return fmt.Errorf("%w: empty document", ErrInvalidPatch)
	}
	return nil
}

// WorkflowName returns the top-level name: of a workflow file, or "".
func WorkflowName(text string) string {
	var doc struct {
		Name string `yaml:"name"`
	}
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Name)
}
