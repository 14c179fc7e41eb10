package main

import (
	"fmt"
	"os"

	"emperror.dev/errors"
	"github.com/brdv/stck/internal/config"
	"github.com/brdv/stck/internal/uiutil"
	"github.com/kr/text"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootFlags struct {
	Debug     bool
	Directory string
}

var loadedConfig config.Config

var rootCmd = &cobra.Command{
	Use: "stck",

	// Don't automatically print errors or usage information; we handle
	// that ourselves in main() so every error takes the single
	// "error: <message>" diagnostic line form spec.md §7 requires.
	SilenceErrors: true,
	SilenceUsage:  true,

	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if rootFlags.Debug {
			logrus.SetLevel(logrus.DebugLevel)
		}

		cfg, found, err := config.Load()
		if err != nil {
			return errors.Wrap(err, "failed to load configuration")
		}
		logrus.WithField("config_found", found).Debug("loaded configuration")
		loadedConfig = cfg
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(
		&rootFlags.Debug, "debug", false,
		"enable verbose debug logging",
	)
	rootCmd.PersistentFlags().StringVarP(
		&rootFlags.Directory, "repo", "C", "",
		"directory to use for the git repository",
	)
	rootCmd.AddCommand(
		newCmd,
		submitCmd,
		statusCmd,
		syncCmd,
		pushCmd,
	)
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		if rootFlags.Debug {
			stackTrace := fmt.Sprintf("%+v", err)
			fmt.Fprintf(os.Stderr, "error: %s\n%s\n", err, text.Indent(stackTrace, "\t"))
		} else {
			fmt.Fprint(os.Stderr, uiutil.RenderError(err))
		}
		os.Exit(1)
	}
}
