package main

import (
	"fmt"

	"emperror.dev/errors"
	"github.com/spf13/cobra"
)

var newCmd = &cobra.Command{
	Use:   "new <branch>",
	Short: "create a new branch stacked on top of the current one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		branch := args[0]
		if branch == "" {
			return errors.New("branch name cannot be empty")
		}

		ctx, orch, err := runPreflight(loadedConfig)
		if err != nil {
			return err
		}

		prCreated, err := orch.NewBranch(branch, ctx.CurrentBranch, ctx.DefaultBranch)
		if err != nil {
			return err
		}

		fmt.Printf("Created branch %s.\n", branch)
		if !prCreated {
			fmt.Println("No commits yet on this branch; add commits and run `stck submit` to open a pull request.")
		}
		return nil
	},
}
