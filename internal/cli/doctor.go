package cli

import (
	"fmt"
	"strings"

	"cisage/internal/analyzer"
	"cisage/internal/config"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check external service credentials",
	Long: `Check that configured credentials work against the real services.

Examples:
	cisage doctor llm
	cisage doctor github`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var doctorLLMCmd = &cobra.Command{
	Use:   "llm",
	Short: "Send a short prompt to the configured LLM provider",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.HasLLMKey() {
			return fmt.Errorf("no API key for provider %s (set %s)", cfg.LLM.Provider, llmKeyEnv(cfg.LLM.Provider))
		}
		provider, err := analyzer.NewProvider(cmd.Context(), cfg.LLM, logger)
		if err != nil {
			return err
		}
		reply, err := provider.Complete(cmd.Context(), "Reply with the single word OK.", analyzer.CompletionOptions{MaxTokens: 16})
		if err != nil {
			return fmt.Errorf("%s: %w", provider.Name(), err)
		}
		w := cmd.OutOrStdout()
		color.New(color.FgGreen).Fprint(w, "OK ")
		fmt.Fprintf(w, "%s replied: %s\n", provider.Name(), strings.TrimSpace(reply))
		return nil
	},
}

var doctorGitHubCmd = &cobra.Command{
	Use:   "github",
	Short: "Authenticate as the GitHub App and list its installations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newGitHubApp(cmd.Context())
		if err != nil {
			return err
		}
		info, err := app.Describe(cmd.Context())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		color.New(color.FgGreen).Fprint(w, "OK ")
		fmt.Fprintf(w, "%s (app %d, slug %s) has %d installation(s)\n", info.Name, app.ID(), info.Slug, info.Installations)
		if info.Installations == 0 {
			color.New(color.FgYellow).Fprintln(w, "Install the App on a repository to start receiving workflow_run events.")
		}
		return nil
	},
}

func llmKeyEnv(provider string) string {
	if provider == config.ProviderGemini {
		return "GEMINI_API_KEY"
	}
	return "ANTHROPIC_API_KEY"
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorLLMCmd)
	doctorCmd.AddCommand(doctorGitHubCmd)
}
