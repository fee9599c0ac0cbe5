package cli

import (
	"fmt"

	"cisage/internal/flags"
	"cisage/internal/store"

	"github.com/spf13/cobra"
)

var migrateReset bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	Long: `Create the error_signatures, workflow_analyses and remediation_feedback tables
and their indexes. Running it again is harmless.

With --reset every table is dropped first. All learned signatures and recorded
analyses are lost.

Examples:
	cisage migrate
	DATABASE_URL=postgres://cisage@localhost/cisage cisage migrate
	cisage migrate --reset`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := store.Open(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer st.Close()

		if migrateReset {
			if err := st.Reset(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database reset (%s)\n", st.Dialect())
			return nil
		}
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Database schema is up to date (%s)\n", st.Dialect())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().BoolVar(&migrateReset, flags.FlagReset, false, "Drop all tables before migrating")
}
