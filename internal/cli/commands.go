package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lu-zhengda/quotemail/internal/store"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Evaluate the inbox without sending, moving or writing the audit report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := runBatch(cmd.Context(), true)
			if sum == nil {
				return err
			}
			if jsonFlag {
				if perr := printJSON(toJSONSummary(sum)); perr != nil {
					return perr
				}
				return err
			}
			renderDecisions(cmd.OutOrStdout(), sum.Records)
			renderSummary(cmd.OutOrStdout(), sum)
			return err
		},
	}
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete the cached credential so the next run authorizes again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			cache := newCredentialStore(cfg)
			if err := cache.Delete(); err != nil {
				return fmt.Errorf("failed to reset credential cache: %w", err)
			}
			log.Info().Str("cache", cfg.Auth.Cache).Msg("credential cache deleted")
			if f, ok := cache.(*store.FileCredentialStore); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "Credential cache deleted: %s\n", f.Path())
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Credential cache deleted from the OS keyring.")
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent runs, or the audit records of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := setup(); err != nil {
				return err
			}
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				records, err := db.RunRecords(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to load run %s: %w", args[0], err)
				}
				if jsonFlag {
					return fprintJSON(out, toJSONRecords(records))
				}
				if len(records) == 0 {
					fmt.Fprintln(out, "No records for this run.")
					return nil
				}
				renderDecisions(out, records)
				return nil
			}

			runs, err := db.ListRuns(ctx, limit)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}
			if jsonFlag {
				return fprintJSON(out, toJSONRuns(runs))
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded yet.")
				return nil
			}
			return renderRuns(out, runs)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show")
	return cmd
}
