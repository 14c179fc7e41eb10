package main

import (
	"fmt"
	"strings"

	"github.com/brdv/stck/internal/uiutil"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "show the status of the current stack",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, orch, err := runPreflight(loadedConfig)
		if err != nil {
			return err
		}

		report, _, err := orch.BuildStatus(ctx.CurrentBranch, ctx.DefaultBranch)
		if err != nil {
			return err
		}

		branches := make([]string, len(report.Lines))
		for i, line := range report.Lines {
			branches[i] = line.Branch
		}
		fmt.Println(uiutil.StackHeader(ctx.DefaultBranch, branches))

		for _, line := range report.Lines {
			flags := line.Flags()
			flagStr := "none"
			if len(flags) > 0 {
				flagStr = strings.Join(flags, ",")
			}
			fmt.Printf(
				"%s PR #%d [%s] base=%s head=%s flags=%s\n",
				line.Branch, line.Number, line.State, line.Base, line.Head, flagStr,
			)
		}

		fmt.Printf(
			"Summary: needs_sync=%d needs_push=%d base_mismatch=%d\n",
			report.NeedsSyncCount, report.NeedsPushCount, report.BaseMismatchCount,
		)
		return nil
	},
}
