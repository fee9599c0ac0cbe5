// Package analyzer turns workflow logs into a structured root-cause analysis
// using a large language model.
package analyzer

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

var (
	analysisOptions = CompletionOptions{MaxTokens: 2000, Temperature: 0.1}
	patchOptions    = CompletionOptions{MaxTokens: 1000, Temperature: 0.1}
)

type Analyzer struct {
	provider Provider
	logger   *zap.Logger
}

func New(provider Provider, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{provider: provider, logger: logger.Named("analyzer")}
}

func (a *Analyzer) ProviderName() string { return a.provider.Name() }

// Analyze never fails: provider errors and unparseable replies produce a
// low-confidence fallback Result.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (Result, Exchange) {
	ex := Exchange{Prompt: AnalysisPrompt(req)}

	reply, err := a.provider.Complete(ctx, ex.Prompt, analysisOptions)
	if err != nil {
		a.logger.Error("analysis request failed", zap.String("workflow", req.WorkflowName), zap.Error(err))
		return Fallback(fmt.Sprintf("Analysis failed: %v", err)), ex
	}
	ex.Response = reply

	result, err := ParseResult(reply)
	if err != nil {
		a.logger.Error("failed to parse analysis response", zap.String("workflow", req.WorkflowName), zap.Error(err))
		return Fallback("Analysis failed - unable to parse response"), ex
	}

	a.logger.Info("analysis completed",
		zap.String("workflow", req.WorkflowName),
		zap.String("error_type", result.ErrorType),
		zap.Float64("confidence", result.ConfidenceScore))
	return result, ex
}

// GeneratePatch asks the model for a corrected workflow file. The reply must
// pass ValidateWorkflowYAML, otherwise ErrInvalidPatch is returned.
func (a *Analyzer) GeneratePatch(ctx context.Context, errorType, workflowContent, failureContext string) (string, error) {
	reply, err := a.provider.Complete(ctx, PatchPrompt(errorType, workflowContent, failureContext), patchOptions)
	if err != nil {
		return "", fmt.Errorf("generate patch: %w", err)
	}
	patch := CleanPatch(reply)
	if err := ValidateWorkflowYAML(patch); err != nil {
		a.logger.Warn("generated patch rejected", zap.Error(err))
		return "", err
	}
	return patch, nil
}
