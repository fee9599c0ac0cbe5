package cli

import (
	"cisage/internal/flags"
	"cisage/internal/store"

	"github.com/spf13/cobra"
)

var historyOpts struct {
	repo   string
	limit  int
	output outputOptions
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent analyses",
	Long: `List recorded analyses, newest first.

Examples:
	cisage history
	cisage history --repo octo/app --limit 50
	cisage history --format ndjson --out history.jsonl`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		list, err := st.AnalysisHistory(cmd.Context(), historyOpts.repo, historyOpts.limit)
		if err != nil {
			return err
		}
		for i := range list {
			list[i].Prompt, list[i].Response = "", ""
		}
		return emit(cmd, &historyOpts.output, list)
	},
}

var statsOpts struct {
	output outputOptions
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize signatures and analyses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.Statistics(cmd.Context())
		if err != nil {
			return err
		}
		return emit(cmd, &statsOpts.output, []store.Statistics{stats})
	},
}

var signaturesOpts struct {
	errorType string
	limit     int
	output    outputOptions
}

var signaturesCmd = &cobra.Command{
	Use:   "signatures",
	Short: "List known failure signatures",
	Long: `List failure signatures with their remediation steps, best success rate first.

Examples:
	cisage signatures --error-type dependency
	cisage signatures --limit 20 --format json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		sigs, err := st.SimilarSignatures(cmd.Context(), signaturesOpts.errorType, signaturesOpts.limit)
		if err != nil {
			return err
		}
		return emit(cmd, &signaturesOpts.output, sigs)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyOpts.repo, flags.FlagRepo, "", "Only analyses of this OWNER/REPO")
	historyCmd.Flags().IntVar(&historyOpts.limit, flags.FlagLimit, 10, "Maximum number of analyses")
	historyOpts.output.register(historyCmd)

	rootCmd.AddCommand(statsCmd)
	statsOpts.output.register(statsCmd)

	rootCmd.AddCommand(signaturesCmd)
	signaturesCmd.Flags().StringVar(&signaturesOpts.errorType, flags.FlagErrorType, "", "Only signatures of this error type")
	signaturesCmd.Flags().IntVar(&signaturesOpts.limit, flags.FlagLimit, 5, "Maximum number of signatures")
	signaturesOpts.output.register(signaturesCmd)
}
