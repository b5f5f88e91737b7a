package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"flare-emissary/internal/app"
)

var (
	backfillFrom   uint64
	backfillTo     uint64
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Re-run ingestion over a bounded block range",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFrom > backfillTo {
			return fmt.Errorf("--from-block must be less than or equal to --to-block")
		}

		opts := app.BackfillOptions{
			FromBlock: backfillFrom,
			ToBlock:   backfillTo,
			DryRun:    backfillDryRun,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().Uint64Var(&backfillFrom, "from-block", 0, "Start height (inclusive)")
	backfillCmd.Flags().Uint64Var(&backfillTo, "to-block", 0, "End height (inclusive)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Log intent without asserting isolation from the live database")
	_ = backfillCmd.MarkFlagRequired("from-block")
	_ = backfillCmd.MarkFlagRequired("to-block")
}
