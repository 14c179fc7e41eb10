package main

import (
	"fmt"

	"emperror.dev/errors"
	"github.com/spf13/cobra"
)

var syncFlags struct {
	Continue bool
	Reset    bool
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "rebase the stack's branches back onto their correct bases",
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncFlags.Continue && syncFlags.Reset {
			return errors.New("--continue and --reset cannot be used together")
		}

		ctx, orch, err := runPreflight(loadedConfig)
		if err != nil {
			return err
		}

		alreadyUpToDate, err := orch.Sync(ctx.CurrentBranch, ctx.DefaultBranch, syncFlags.Continue, syncFlags.Reset)
		if err != nil {
			return err
		}

		if alreadyUpToDate {
			fmt.Println("Already up to date.")
		} else {
			fmt.Println("Sync succeeded.")
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncFlags.Continue, "continue", false, "continue an in-progress sync after resolving a conflict")
	syncCmd.Flags().BoolVar(&syncFlags.Reset, "reset", false, "discard any in-progress sync and recompute the plan from scratch")
}
