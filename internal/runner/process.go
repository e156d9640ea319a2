package runner

import (
	"context"
	"io"
)

// processRunner abstracts starting and waiting for one formatted command
// line as a child process, merging its stdout and stderr into output.
// The Windows implementation runs the child inside a kill-on-parent-exit
// job object (spec §4.9); the fallback just shells out, for builds and
// tests off Windows.
type processRunner interface {
	Run(ctx context.Context, commandLine, workDir string, output io.Writer) error
}
