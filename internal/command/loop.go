package command

import (
	"bufio"
	"context"
	"errors"
	"io"

	"go.uber.org/zap"
)

// Handler executes parsed commands. Implementations must treat every call
// as recoverable: a failing command never stops the loop.
type Handler interface {
	Handle(cmd Command) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(cmd Command) error

// Handle calls f.
func (f HandlerFunc) Handle(cmd Command) error { return f(cmd) }

// Loop reads operator lines from in until ctx is cancelled, in is closed,
// or a Quit command is handled. Unknown commands are logged and skipped.
//
// Reading happens on a separate goroutine because an *os.File read cannot
// be interrupted; on cancellation the loop returns while that goroutine is
// left blocked on its final read.
func Loop(ctx context.Context, in io.Reader, h Handler, log *zap.Logger) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			if err != nil {
				return err
			}
			return nil // EOF

		case line := <-lines:
			if line == "" {
				continue
			}
			cmd, err := Parse(line)
			if err != nil {
				if errors.Is(err, ErrUnknownCommand) {
					log.Warn("unknown command, type 'help' for the list", zap.String("input", line))
				} else {
					log.Warn("bad command", zap.Error(err))
				}
				continue
			}
			if err := h.Handle(cmd); err != nil {
				log.Warn("command failed", zap.Error(err))
			}
			if cmd.Kind == Quit {
				return nil
			}
		}
	}
}
