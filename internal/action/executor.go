package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Forwarder hands commands the moderator cannot execute to an external
// dispatcher. *messaging.NATSClient satisfies it.
type Forwarder interface {
	PublishCommand(author string, data []byte) error
}

// ForwardedCommand is the payload published for a forwarded command.
type ForwardedCommand struct {
	Author  string `json:"author"`
	Command string `json:"command"`
	Ts      int64  `json:"ts"`
}

// Report counts what happened to a batch of commands.
type Report struct {
	Applied   int // built-in sanctions applied or lifted
	Forwarded int
	Failed    int
}

// Executor runs punishment commands. Built-in verbs act on the sanction
// store; everything else, and built-ins when no store is configured, goes
// to the forwarder.
type Executor struct {
	store  *Store
	fwd    Forwarder
	logger *slog.Logger
	now    func() time.Time
}

// NewExecutor returns an executor. store and fwd may each be nil.
func NewExecutor(store *Store, fwd Forwarder, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:  store,
		fwd:    fwd,
		logger: logger.With("component", "action"),
		now:    time.Now,
	}
}

// Execute attempts every command in order, so one failing command does not
// prevent the rest. The returned error joins every failure.
func (e *Executor) Execute(ctx context.Context, author string, commands []string) (Report, error) {
	var (
		rep  Report
		errs []error
	)
	for _, line := range commands {
		e.logger.Info("punishment", "author", author, "command", line)

		if err := e.run(ctx, author, line, &rep); err != nil {
			rep.Failed++
			errs = append(errs, err)
			e.logger.Error("punishment failed", "author", author, "command", line, "err", err)
		}
	}
	return rep, errors.Join(errs...)
}

func (e *Executor) run(ctx context.Context, author, line string, rep *Report) error {
	cmd, err := ParseCommand(line)
	if err != nil && !errors.Is(err, ErrNotBuiltin) {
		return err
	}
	if err == nil && e.store != nil {
		if cmd.Lifts() {
			if _, err := e.store.Lift(ctx, cmd.Kind(), cmd.Author); err != nil {
				return err
			}
		} else if err := e.store.Apply(ctx, cmd.Kind(), cmd.Author, cmd.Duration, cmd.Reason); err != nil {
			return err
		}
		rep.Applied++
		return nil
	}
	return e.forward(author, line, rep)
}

func (e *Executor) forward(author, line string, rep *Report) error {
	if e.fwd == nil {
		return fmt.Errorf("action: no forwarder for %q", line)
	}
	data, err := json.Marshal(ForwardedCommand{Author: author, Command: line, Ts: e.now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("action: encode command: %w", err)
	}
	if err := e.fwd.PublishCommand(author, data); err != nil {
		return fmt.Errorf("action: forward %q: %w", line, err)
	}
	rep.Forwarded++
	return nil
}
