package camera

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Capturer writes one still frame of the given size to path.
type Capturer interface {
	CaptureTo(ctx context.Context, path string, width, height int) error
}

// waitDelay bounds how long Run waits for stderr after the process is killed.
const waitDelay = 2 * time.Second

// DefaultCaptureArgs drive rpicam-still: no preview, 500 ms for exposure
// to settle, PNG output. Placeholders are expanded per capture.
var DefaultCaptureArgs = []string{
	"-n", "-t", "500", "-e", "png",
	"--width", "{width}", "--height", "{height}",
	"-o", "{output}",
}

// CommandCapturer runs an external still-capture tool.
//
// Args may contain {output}, {width} and {height}; they are replaced for
// each capture.
type CommandCapturer struct {
	Command string
	Args    []string
	Timeout time.Duration
}

// CaptureTo runs the command and waits for it to finish.
func (c *CommandCapturer) CaptureTo(ctx context.Context, path string, width, height int) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	args := c.Args
	if len(args) == 0 {
		args = DefaultCaptureArgs
	}
	repl := strings.NewReplacer(
		"{output}", path,
		"{width}", strconv.Itoa(width),
		"{height}", strconv.Itoa(height),
	)
	expanded := make([]string, len(args))
	for i, a := range args {
		expanded[i] = repl.Replace(a)
	}

	cmd := exec.CommandContext(ctx, c.Command, expanded...) //nolint:gosec // command comes from operator config
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %s: %w", ErrCaptureFailed, c.Command, ctx.Err())
		}
		if msg != "" {
			return fmt.Errorf("%w: %s: %w: %s", ErrCaptureFailed, c.Command, err, msg)
		}
		return fmt.Errorf("%w: %s: %w", ErrCaptureFailed, c.Command, err)
	}
	return nil
}
