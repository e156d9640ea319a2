package main

import (
	"github.com/spf13/cobra"

	"github.com/assetcooker/assetcooker/cmd"
	"github.com/assetcooker/assetcooker/internal/remotecontrol"
)

var pauseCommand = &cobra.Command{
	Use:   "pause",
	Short: "Pause a running instance's cook queue",
	Args:  cmd.DisallowArguments,
	RunE: func(command *cobra.Command, arguments []string) error {
		return signalInstance(remotecontrol.ActionPause)
	},
	SilenceUsage: true,
}

var resumeCommand = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused instance's cook queue",
	Args:  cmd.DisallowArguments,
	RunE: func(command *cobra.Command, arguments []string) error {
		return signalInstance(remotecontrol.ActionUnpause)
	},
	SilenceUsage: true,
}

var killCommand = &cobra.Command{
	Use:   "kill",
	Short: "Request a running instance shut down",
	Args:  cmd.DisallowArguments,
	RunE: func(command *cobra.Command, arguments []string) error {
		return signalInstance(remotecontrol.ActionKill)
	},
	SilenceUsage: true,
}
