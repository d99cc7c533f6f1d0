// Package sandbox runs allow-listed commands without a shell inside a
// confined directory and streams their output as events.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/af-corp/pplx-bridge/internal/config"
	"github.com/af-corp/pplx-bridge/internal/confine"
)

// ErrBusy is returned by Prepare when the concurrent command limit is reached.
var ErrBusy = errors.New("too many commands running")

// Authorizer is an optional policy gate consulted after the allow-list.
type Authorizer interface {
	Authorize(ctx context.Context, req AuthzRequest) (allowed bool, reason string, err error)
}

type AuthzRequest struct {
	Command string
	Argv    []string
	Client  string
}

// Redactor masks secrets in output text.
type Redactor interface {
	Redact(text string) string
}

type Limits struct {
	Timeout        time.Duration
	MaxOutputBytes int64
	KillGrace      time.Duration
}

// Sandbox validates and runs commands. It is safe for concurrent use.
type Sandbox struct {
	policy   *AllowlistPolicy
	limits   Limits
	root     *confine.Root
	authz    Authorizer
	redactor Redactor
	slots    *semaphore.Weighted
	env      []string
	logger   *slog.Logger
}

type Option func(*Sandbox)

func WithAuthorizer(a Authorizer) Option { return func(s *Sandbox) { s.authz = a } }

func WithRedactor(r Redactor) Option { return func(s *Sandbox) { s.redactor = r } }

func WithLogger(l *slog.Logger) Option { return func(s *Sandbox) { s.logger = l } }

func New(cfg config.SandboxConfig, opts ...Option) (*Sandbox, error) {
	root, err := confine.NewRoot(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("sandbox root: %w", err)
	}
	s := &Sandbox{
		policy: NewAllowlistPolicy(cfg.AllowedCommands, cfg.MaxCommandLength),
		limits: Limits{
			Timeout:        cfg.Timeout,
			MaxOutputBytes: cfg.MaxOutputBytes,
			KillGrace:      cfg.KillGrace,
		},
		root:   root,
		env:    minimalEnv(root.Dir()),
		logger: slog.Default(),
	}
	if cfg.MaxConcurrent > 0 {
		s.slots = semaphore.NewWeighted(cfg.MaxConcurrent)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Sandbox) Policy() *AllowlistPolicy { return s.policy }

func (s *Sandbox) Root() string { return s.root.Dir() }

func minimalEnv(home string) []string {
	env := []string{"HOME=" + home, "LANG=C.UTF-8", "LC_ALL=C.UTF-8"}
	if path, ok := os.LookupEnv("PATH"); ok {
		env = append(env, "PATH="+path)
	}
	return env
}

// Command is a validated command holding a concurrency slot until Run
// returns or Release is called.
type Command struct {
	Line    string
	Argv    []string
	release func()
}

func (c *Command) Release() { c.release() }

// Prepare validates command and reserves a slot. Errors are
// *ValidationError (client fault) or ErrBusy.
func (s *Sandbox) Prepare(ctx context.Context, command, client string) (*Command, error) {
	argv, err := s.policy.Validate(command)
	if err != nil {
		return nil, err
	}
	for _, arg := range argv[1:] {
		if err := s.root.CheckExisting(arg); err != nil {
			return nil, reject(ReasonOutsideRoot, "Path outside project is not allowed")
		}
	}

	if s.authz != nil {
		allowed, reason, err := s.authz.Authorize(ctx, AuthzRequest{Command: command, Argv: argv, Client: client})
		if err != nil {
			s.logger.Error("command policy evaluation failed", "error", err)
			return nil, reject(ReasonDenied, "Command denied by policy")
		}
		if !allowed {
			msg := "Command denied by policy"
			if reason != "" {
				msg += ": " + reason
			}
			return nil, reject(ReasonDenied, msg)
		}
	}

	release := func() {}
	if s.slots != nil {
		if !s.slots.TryAcquire(1) {
			return nil, ErrBusy
		}
		var once sync.Once
		release = func() { once.Do(func() { s.slots.Release(1) }) }
	}
	return &Command{Line: command, Argv: argv, release: release}, nil
}

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeOutputLimit Outcome = "output_limit"
	OutcomeClientGone  Outcome = "client_gone"
	OutcomeStartFailed Outcome = "start_failed"
)

type Result struct {
	Outcome     Outcome
	ExitCode    int
	OutputBytes int64
	Duration    time.Duration
}

// Run spawns the command and passes each output line to emit as soon as it
// is read. emit may run on another goroutine but never concurrently, and
// Run returns only after the last call has finished. A failing emit is
// treated as a client disconnect and kills the process. A blocked emit does
// not hold up the timeout or the output cap. Run releases the command's slot.
func (s *Sandbox) Run(ctx context.Context, c *Command, emit func(Event) error) Result {
	defer c.Release()
	start := time.Now()
	res := Result{ExitCode: -1}
	fail := func(err error) Result {
		s.logger.Warn("command failed to start", "argv0", c.Argv[0], "error", err)
		emit(ErrorEvent("Failed to start command: " + c.Argv[0]))
		return Result{Outcome: OutcomeStartFailed, ExitCode: -1, Duration: time.Since(start)}
	}

	cmd := exec.Command(c.Argv[0], c.Argv[1:]...)
	cmd.Dir = s.root.Dir()
	cmd.Env = s.env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fail(err)
	}
	if err := cmd.Start(); err != nil {
		return fail(err)
	}

	p := newPump(stdout, stderr)
	out := newSender(emit)
	deadline := time.NewTimer(s.limits.Timeout)
	defer deadline.Stop()

	res.Outcome = s.pumpOutput(ctx, p, out, deadline.C, &res.OutputBytes)
	p.stop()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	if res.Outcome == OutcomeCompleted {
		select {
		case err := <-waitCh:
			res.ExitCode = exitCode(cmd, err)
		case <-deadline.C:
			res.Outcome = OutcomeTimeout
		case <-ctx.Done():
			res.Outcome = OutcomeClientGone
		case <-out.failed:
			res.Outcome = OutcomeClientGone
		}
	}
	if res.Outcome != OutcomeCompleted {
		s.terminate(cmd, waitCh)
	}
	p.wait()
	res.Duration = time.Since(start)

	var last *Event
	switch res.Outcome {
	case OutcomeCompleted:
		ev := ExitEvent(res.ExitCode)
		last = &ev
	case OutcomeTimeout:
		ev := ErrorEvent(fmt.Sprintf("Command timed out after %s", s.limits.Timeout))
		last = &ev
	case OutcomeOutputLimit:
		ev := ErrorEvent(fmt.Sprintf("Output limit exceeded (%d bytes)", s.limits.MaxOutputBytes))
		last = &ev
	}
	out.close(last)
	if res.Outcome == OutcomeCompleted && out.hasFailed() {
		res.Outcome = OutcomeClientGone
	}
	return res
}

// pumpOutput queues lines for the sender until both pipes close or a limit
// is hit. A stalled client blocks only the queue, never the limits.
func (s *Sandbox) pumpOutput(ctx context.Context, p *pump, out *sender, deadline <-chan time.Time, total *int64) Outcome {
	for {
		select {
		case ev := <-p.lines:
			*total += int64(len(ev.Text))
			if *total > s.limits.MaxOutputBytes {
				return OutcomeOutputLimit
			}
			if s.redactor != nil {
				ev.Text = s.redactor.Redact(ev.Text)
			}
			select {
			case out.events <- ev:
			case <-out.failed:
				return OutcomeClientGone
			case <-deadline:
				return OutcomeTimeout
			case <-ctx.Done():
				return OutcomeClientGone
			}
		case <-p.done:
			if out.hasFailed() {
				return OutcomeClientGone
			}
			return OutcomeCompleted
		case <-out.failed:
			return OutcomeClientGone
		case <-deadline:
			return OutcomeTimeout
		case <-ctx.Done():
			return OutcomeClientGone
		}
	}
}

// terminate asks the process to stop, then kills it after the grace period.
// Wait closes the pipes once the process is gone, which ends the readers.
func (s *Sandbox) terminate(cmd *exec.Cmd, waitCh <-chan error) {
	if err := cmd.Process.Signal(terminateSignal); err != nil {
		cmd.Process.Kill()
	}
	grace := time.NewTimer(s.limits.KillGrace)
	defer grace.Stop()
	select {
	case <-waitCh:
		return
	case <-grace.C:
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn("failed to kill command", "pid", cmd.Process.Pid, "error", err)
	}
	<-waitCh
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
