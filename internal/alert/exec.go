package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-coach/internal/pace"
)

// ErrBusy is returned when the previous alert command is still running.
var ErrBusy = errors.New("alert command busy")

// ExecSink runs an external command per alert, for example a haptic device
// driver. The alert is written to the command's stdin as JSON. Commands run
// in the background, one at a time; alerts arriving while one runs are dropped.
type ExecSink struct {
	cmd     []string
	timeout time.Duration
	log     *slog.Logger
	mu      sync.Mutex
	wg      sync.WaitGroup
}

func NewExecSink(command string, timeout time.Duration, log *slog.Logger) (*ExecSink, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse alert command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("alert command empty")
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ExecSink{
		cmd:     args,
		timeout: timeout,
		log:     log.With(slog.String("component", "alert_exec")),
	}, nil
}

func (e *ExecSink) Alert(_ context.Context, a pace.Alert) error {
	if !e.mu.TryLock() {
		return ErrBusy
	}
	data, err := json.Marshal(a)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.mu.Unlock()
		if err := e.run(data); err != nil {
			e.log.Warn("alert command failed", slog.String("session_id", a.SessionID), slogError(err))
		}
	}()
	return nil
}

// Wait blocks until the running command, if any, exits.
func (e *ExecSink) Wait() {
	e.wg.Wait()
}

func (e *ExecSink) run(payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	command := exec.CommandContext(ctx, base, args...)
	command.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return fmt.Errorf("alert command: %w: %s", err, stderr.String())
	}
	return nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
