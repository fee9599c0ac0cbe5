package cli

import (
	"errors"
	"fmt"

	"cisage/internal/flags"
	"cisage/internal/store"

	"github.com/spf13/cobra"
)

var feedbackOpts struct {
	analysisID int64
	applied    bool
	success    bool
	notes      string
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Record whether a suggested remediation worked",
	Long: `Record feedback for an analysis. When the remediation was applied, its
outcome updates the success rate of the analysis' failure signature, which in
turn decides which remediations are offered to the model for later failures.

Examples:
	cisage feedback --analysis-id 12 --applied --success
	cisage feedback --analysis-id 12 --applied --success=false --notes "cache key was not the problem"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if feedbackOpts.analysisID <= 0 {
			return fmt.Errorf("--%s must be a positive analysis id", flags.FlagAnalysisID)
		}
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		id, err := st.RecordFeedback(cmd.Context(), store.Feedback{
			AnalysisID:         feedbackOpts.analysisID,
			RemediationApplied: feedbackOpts.applied,
			Success:            feedbackOpts.success,
			Notes:              feedbackOpts.notes,
		})
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("analysis %d not found", feedbackOpts.analysisID)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Recorded feedback #%d for analysis #%d\n", id, feedbackOpts.analysisID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(feedbackCmd)
	f := feedbackCmd.Flags()
	f.Int64Var(&feedbackOpts.analysisID, flags.FlagAnalysisID, 0, "Analysis the feedback is about")
	f.BoolVar(&feedbackOpts.applied, flags.FlagApplied, false, "The suggested remediation was applied")
	f.BoolVar(&feedbackOpts.success, flags.FlagSuccess, false, "Applying it fixed the failure")
	f.StringVar(&feedbackOpts.notes, flags.FlagNotes, "", "Free-form notes")
	_ = feedbackCmd.MarkFlagRequired(flags.FlagAnalysisID)
}
