package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/assetcooker/assetcooker/cmd"
	"github.com/assetcooker/assetcooker/internal/config"
	"github.com/assetcooker/assetcooker/internal/engine"
	"github.com/assetcooker/assetcooker/internal/logging"
)

var runConfiguration struct {
	// workingDir, if set, is chdir'd into before config.toml is loaded, the
	// same override -working_dir gives the C++ build of this tool.
	workingDir string
	// test runs config/rule validation and an engine construct/run/stop
	// cycle, then exits, instead of entering the daemon loop.
	test bool
	// noUI runs until every drive monitor and the cook queue settle idle,
	// then stops the instance and sets the process exit code from whether
	// any command is still dirty or errored.
	noUI bool
}

func runMain(command *cobra.Command, arguments []string) error {
	if runConfiguration.workingDir != "" {
		if err := os.Chdir(runConfiguration.workingDir); err != nil {
			return fmt.Errorf("changing working directory: %w", err)
		}
	}

	if runConfiguration.test {
		return runSelfTest()
	}

	e, err := engine.New(logging.RootLogger, rootConfiguration.configPath)
	if err != nil {
		return fmt.Errorf("starting instance: %w", err)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, cmd.TerminationSignals...)
	go func() {
		<-signals
		e.Stop()
	}()

	if runConfiguration.noUI {
		go stopWhenIdle(e)
	}

	if err := e.Run(); err != nil {
		return err
	}

	if runConfiguration.noUI {
		status := e.Status()
		if status.ErrorCount > 0 || status.DirtyCount > 0 {
			os.Exit(1)
		}
	}
	return nil
}

// stopWhenIdle polls status until every drive monitor has completed its
// initial pass and the cook queue has drained, then stops the instance -
// the headless equivalent of the GUI's "everything is cooked" state.
func stopWhenIdle(e *engine.Engine) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if e.Status().Idle {
			e.Stop()
			return
		}
	}
}

// selfTest is one named, independent check run by -test, mirroring the
// original's gRegisterTest/gRunTests/gFailTest model: each test reports
// its own pass/fail rather than -test being a single coarse smoke check.
type selfTest struct {
	name string
	run  func() error
}

// runSelfTest implements -test: it runs a fixed sequence of named checks,
// printing a PASS/FAIL line per check, and exits non-zero if any of them
// failed - the headless equivalent of the original's in-process
// test-registry mode. Later checks that need the loaded configuration
// close over cfg, set by the first check that runs.
func runSelfTest() error {
	var cfg config.Config

	tests := []selfTest{
		{name: "LoadConfiguration", run: func() (err error) {
			cfg, err = config.Load(rootConfiguration.configPath)
			return err
		}},
		{name: "ValidateConfiguration", run: func() error {
			return config.Validate(cfg)
		}},
		{name: "ConstructAndRunInstance", run: func() error {
			e, err := engine.New(logging.RootLogger, rootConfiguration.configPath)
			if err != nil {
				return fmt.Errorf("constructing instance: %w", err)
			}
			done := make(chan error, 1)
			go func() { done <- e.Run() }()
			e.Stop()
			if err := <-done; err != nil {
				return fmt.Errorf("shutting down instance: %w", err)
			}
			return nil
		}},
	}

	allPassed := true
	for _, test := range tests {
		if err := test.run(); err != nil {
			fmt.Printf("FAIL %s: %v\n", test.name, err)
			allPassed = false
			continue
		}
		fmt.Printf("PASS %s\n", test.name)
	}

	if !allPassed {
		os.Exit(1)
	}
	return nil
}

var runCommand = &cobra.Command{
	Use:          "run",
	Short:        "Start an Asset Cooker instance in the foreground",
	Args:         cmd.DisallowArguments,
	RunE:         runMain,
	SilenceUsage: true,
	FParseErrWhitelist: cobra.FParseErrWhitelist{
		UnknownFlags: true,
	},
}

func init() {
	runCommand.Flags().SortFlags = false
	flags := runCommand.Flags()
	flags.StringVar(&runConfiguration.workingDir, "working_dir", "", "change to this directory before loading config.toml")
	flags.BoolVar(&runConfiguration.test, "test", false, "run the built-in self-test and exit")
	flags.BoolVar(&runConfiguration.noUI, "no_ui", false, "run headless until idle, then exit reflecting final status")
}
