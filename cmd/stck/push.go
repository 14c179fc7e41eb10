package main

import (
	"fmt"

	"github.com/brdv/stck/internal/uiutil"
	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "push the stack's branches and retarget their pull requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, orch, err := runPreflight(loadedConfig)
		if err != nil {
			return err
		}

		pushed, retargeted, err := orch.Push(ctx.CurrentBranch, ctx.DefaultBranch)
		if err != nil {
			return err
		}

		fmt.Println(uiutil.PushSummary(pushed, retargeted))
		return nil
	},
}
