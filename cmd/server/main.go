package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "babelfire",
		Short: "Speech recognition and translation pipeline for uploaded recordings",
		Long: `babelfire watches the recordings bucket. Every uploaded recording is
transcribed and translated into the configured target languages, and the
result is stored on the recording's metadata record.

Without a subcommand the pipeline service is started.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(newServeCmd(), newSeedCmd(), newTranscribeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}
