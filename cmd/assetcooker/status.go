package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/assetcooker/assetcooker/cmd"
)

func statusMain(command *cobra.Command, arguments []string) error {
	client, err := connectControl()
	if err != nil {
		return err
	}
	defer client.Close()

	status, err := client.Status()
	if err != nil {
		return fmt.Errorf("querying status: %w", err)
	}

	fmt.Printf("Process ID:      %d\n", status.ProcessID)
	fmt.Printf("Paused:          %t\n", status.Paused)
	fmt.Printf("Idle:            %t\n", status.Idle)
	fmt.Printf("Commands:        %s\n", humanize.Comma(int64(status.CommandCount)))
	fmt.Printf("Dirty commands:  %s\n", humanize.Comma(int64(status.DirtyCount)))
	fmt.Printf("Errored commands: %s\n", humanize.Comma(int64(status.ErrorCount)))
	return nil
}

var statusCommand = &cobra.Command{
	Use:          "status",
	Short:        "Show a running instance's status",
	Args:         cmd.DisallowArguments,
	RunE:         statusMain,
	SilenceUsage: true,
}
