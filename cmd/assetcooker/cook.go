package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func cookMain(command *cobra.Command, arguments []string) error {
	id, err := strconv.ParseUint(arguments[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid command id %q: %w", arguments[0], err)
	}

	client, err := connectControl()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.ForceCook(id); err != nil {
		return fmt.Errorf("force-cooking command %d: %w", id, err)
	}
	fmt.Printf("Queued command %d to cook immediately\n", id)
	return nil
}

// cookCommand is the manual "select and cook" action the original GUI
// exposes as a context-menu item: it jumps one command to the front of
// the cook queue, whether or not it's currently dirty or errored.
var cookCommand = &cobra.Command{
	Use:          "cook <id>",
	Short:        "Force a command to cook immediately, regardless of its dirty state",
	Args:         cobra.ExactArgs(1),
	RunE:         cookMain,
	SilenceUsage: true,
}
