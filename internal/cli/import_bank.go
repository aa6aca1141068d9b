package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"trivia-bingo/internal/infra/files"
	"trivia-bingo/internal/infra/postgres"
)

func newImportBankCmd(opts *rootOptions) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "import-bank",
		Short: "Load a question-bank directory into postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("bank-dir") {
				cfg.Bank.Dir = dir
			}
			if err := runMigrations(cmd.Context(), cfg, log); err != nil {
				return err
			}

			records, err := files.NewDirLoader(cfg.Bank.Dir, log).LoadBank(cmd.Context())
			if err != nil {
				return err
			}
			db, err := openBun(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := postgres.NewImporter(db).Import(cmd.Context(), records)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d questions from %d files\n", n, len(records))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "bank-dir", "", "question-bank directory (env: BINGO_BANK_DIR)")
	bindEnv(cmd.Flags())
	return cmd
}
