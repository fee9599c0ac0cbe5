package webhook

import (
	"cisage/internal/pipeline"

	"github.com/google/go-github/v81/github"
)

// Evaluate decides whether a workflow_run event describes a failure worth
// analyzing. When it does not, reason says why.
func Evaluate(ev *github.WorkflowRunEvent) (f pipeline.Failure, ok bool, reason string) {
	if ev == nil {
		return pipeline.Failure{}, false, "empty event"
	}
	if action := ev.GetAction(); action != "completed" {
		return pipeline.Failure{}, false, "action " + action
	}

	run := ev.GetWorkflowRun()
	conclusion := run.GetConclusion()
	if conclusion != "failure" && conclusion != "cancelled" {
		return pipeline.Failure{}, false, "conclusion " + conclusion
	}

	name := run.GetName()
	if name == "" {
		name = "Unknown"
	}
	f = pipeline.Failure{
		RunID:          run.GetID(),
		Repository:     ev.GetRepo().GetFullName(),
		WorkflowName:   name,
		WorkflowPath:   run.GetPath(),
		HeadSHA:        run.GetHeadSHA(),
		HeadBranch:     run.GetHeadBranch(),
		InstallationID: ev.GetInstallation().GetID(),
		Conclusion:     conclusion,
	}
	if f.RunID == 0 || f.HeadSHA == "" || f.Repository == "" || f.InstallationID == 0 {
		return pipeline.Failure{}, false, "missing required workflow_run data"
	}
	return f, true, ""
}
