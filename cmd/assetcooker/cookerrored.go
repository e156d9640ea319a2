package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/assetcooker/assetcooker/cmd"
)

func cookErroredMain(command *cobra.Command, arguments []string) error {
	client, err := connectControl()
	if err != nil {
		return err
	}
	defer client.Close()

	if cookErroredConfiguration.requeueAll {
		n, err := client.RequeueAllErrored()
		if err != nil {
			return fmt.Errorf("requeuing all errored commands: %w", err)
		}
		fmt.Printf("Requeued %d command(s)\n", n)
		return nil
	}

	if cookErroredConfiguration.requeue != "" {
		id, err := strconv.ParseUint(cookErroredConfiguration.requeue, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid command id %q: %w", cookErroredConfiguration.requeue, err)
		}
		if err := client.RequeueErrored(id); err != nil {
			return fmt.Errorf("requeuing command %d: %w", id, err)
		}
		fmt.Printf("Requeued command %d\n", id)
		return nil
	}

	errored, err := client.ErroredCommands()
	if err != nil {
		return fmt.Errorf("listing errored commands: %w", err)
	}
	if len(errored) == 0 {
		fmt.Println("No commands are currently errored.")
		return nil
	}
	for _, c := range errored {
		fmt.Printf("%d\t%s\t%s\n", c.ID, c.Rule, c.Input)
		if c.Output != "" {
			fmt.Println(c.Output)
		}
	}
	return nil
}

var cookErroredCommand = &cobra.Command{
	Use:          "cook-errored",
	Short:        "List commands currently in the error state, or requeue one by id",
	Args:         cmd.DisallowArguments,
	RunE:         cookErroredMain,
	SilenceUsage: true,
}

var cookErroredConfiguration struct {
	requeue    string
	requeueAll bool
}

func init() {
	flags := cookErroredCommand.Flags()
	flags.SortFlags = false
	flags.StringVar(&cookErroredConfiguration.requeue, "requeue", "", "requeue the command with this id instead of listing")
	flags.BoolVar(&cookErroredConfiguration.requeueAll, "requeue-all", false, "requeue every currently errored command instead of listing")
}
