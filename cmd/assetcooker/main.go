package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/assetcooker/assetcooker/cmd"
)

func rootMain(command *cobra.Command, arguments []string) {
	command.Help()
}

var rootCommand = &cobra.Command{
	Use:   "assetcooker",
	Short: "Asset Cooker is an incremental build engine driven by the NTFS USN journal",
	Run:   rootMain,
}

var rootConfiguration struct {
	// configPath points at the instance's config.toml. Every subcommand
	// needs it: run to start the instance, everything else to derive the
	// RemoteControl identity of the instance to talk to.
	configPath string
}

func init() {
	cobra.EnableCommandSorting = false
	cobra.MousetrapHelpText = ""
	rootCommand.SilenceErrors = true

	flags := rootCommand.PersistentFlags()
	flags.StringVar(&rootConfiguration.configPath, "config", "config.toml", "path to config.toml")

	rootCommand.AddCommand(
		runCommand,
		statusCommand,
		cookCommand,
		cookErroredCommand,
		pauseCommand,
		resumeCommand,
		killCommand,
	)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		cmd.Error(err)
		os.Exit(1)
	}
}
