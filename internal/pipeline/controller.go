package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

// Controller validates global preconditions and dispatches exactly one
// stage per invocation.
type Controller struct {
	Runner *Runner

	euid func() int
}

// NewController constructs a Controller for the given runner.
func NewController(runner *Runner) *Controller {
	return &Controller{
		Runner: runner,
		euid:   unix.Geteuid,
	}
}

// Execute checks privilege, resolves the stage name and runs the stage.
// Mounting, chrooting and package installation all need root, so the
// privilege check is global rather than per stage.
func (c *Controller) Execute(ctx context.Context, stageName string, args []string) error {
	if euid := c.euid(); euid != 0 {
		return fmt.Errorf("liveforge must be run as root (effective uid %d)", euid)
	}

	stage, err := ParseStage(stageName)
	if err != nil {
		return err
	}

	if stage == StageIso && len(args) != 1 {
		return Usagef("iso requires exactly one image name argument")
	}

	return c.Runner.Run(ctx, stage, args)
}
