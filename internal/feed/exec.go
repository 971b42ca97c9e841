package feed

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-coach/internal/protocol"
)

// Exec runs an external recognizer that prints JSON fragments, one per line,
// on stdout.
type Exec struct {
	cmd []string
}

func NewExec(command string) (*Exec, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse feed command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("feed command is empty")
	}
	return &Exec{cmd: args}, nil
}

func (e *Exec) Stream(ctx context.Context, emit Emit) error {
	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	command := exec.CommandContext(ctx, base, args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	stdout, err := command.StdoutPipe()
	if err != nil {
		return err
	}
	if err := command.Start(); err != nil {
		return fmt.Errorf("start feed command: %w", err)
	}

	scanErr := scanFragments(ctx, stdout, func(f protocol.Fragment, _ bool) error {
		return emit(ctx, f)
	})
	if scanErr != nil {
		_ = command.Process.Kill()
		_ = command.Wait()
		return scanErr
	}
	if err := command.Wait(); err != nil {
		return fmt.Errorf("feed command failed: %w: %s", err, stderr.String())
	}
	return nil
}
