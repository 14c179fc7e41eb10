package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var submitFlags struct {
	Base string
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "ensure the current branch is pushed and has an open pull request",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, orch, err := runPreflight(loadedConfig)
		if err != nil {
			return err
		}

		created, base, inferred, err := orch.Submit(ctx.CurrentBranch, ctx.DefaultBranch, submitFlags.Base)
		if err != nil {
			return err
		}

		if !created {
			fmt.Printf("Branch %s already has an open pull request against %s.\n", ctx.CurrentBranch, base)
			return nil
		}

		if inferred {
			fmt.Printf("No base given; using the default branch %s.\n", base)
		}
		fmt.Printf("Submitted %s against %s.\n", ctx.CurrentBranch, base)
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitFlags.Base, "base", "", "base branch for the pull request (the default branch if omitted)")
}
