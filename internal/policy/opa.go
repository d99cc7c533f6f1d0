// Package policy evaluates Rego rules that gate sandbox commands.
package policy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/af-corp/pplx-bridge/internal/config"
	"github.com/af-corp/pplx-bridge/internal/sandbox"
)

const query = "[data.bridge.terminal.allow, data.bridge.terminal.reason]"

// Input is the document policies see as `input`.
type Input struct {
	Command string    `json:"command"`
	Args    []string  `json:"args"`
	Client  string    `json:"client"`
	Time    InputTime `json:"time"`
}

type InputTime struct {
	Hour int    `json:"hour"`
	Day  string `json:"day"`
}

var errNotLoaded = errors.New("no policies loaded")

// Evaluator implements sandbox.Authorizer using OPA.
type Evaluator struct {
	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
	cfg      config.PolicyConfig
	now      func() time.Time
}

var _ sandbox.Authorizer = (*Evaluator)(nil)

// NewEvaluator creates a policy evaluator. Call Load or LoadFromModules to
// compile policies; until then every command is denied.
func NewEvaluator(cfg config.PolicyConfig) *Evaluator {
	return &Evaluator{cfg: cfg, now: time.Now}
}

// Load compiles every .rego file under the bundle path, subdirectories
// included. An empty bundle is an error so a misconfigured path cannot leave
// the sandbox running with nothing to deny.
func (e *Evaluator) Load(ctx context.Context) error {
	dir := e.cfg.BundlePath
	if dir == "" {
		return errors.New("policy bundle_path is not set")
	}
	modules := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".rego" {
			return nil
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		modules[filepath.ToSlash(rel)] = string(src)
		return nil
	})
	if err != nil {
		return fmt.Errorf("read policy bundle %s: %w", dir, err)
	}
	if len(modules) == 0 {
		return fmt.Errorf("policy bundle %s has no .rego files", dir)
	}
	if err := e.LoadFromModules(ctx, modules); err != nil {
		return fmt.Errorf("policy bundle %s: %w", dir, err)
	}
	slog.Info("opa policies loaded", "modules", len(modules), "path", e.cfg.BundlePath)
	return nil
}

// LoadFromModules compiles policies from provided module sources.
func (e *Evaluator) LoadFromModules(ctx context.Context, modules map[string]string) error {
	opts := []func(*rego.Rego){rego.Query(query)}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("prepare rego: %w", err)
	}

	e.mu.Lock()
	e.prepared = &prepared
	e.mu.Unlock()
	return nil
}

// Evaluate runs the policy against the given input. Anything other than a
// well-formed [allow, reason] result denies.
func (e *Evaluator) Evaluate(ctx context.Context, input Input) (bool, string, error) {
	e.mu.RLock()
	prepared := e.prepared
	e.mu.RUnlock()

	if prepared == nil {
		return false, "", errNotLoaded
	}

	timeout := e.cfg.EvaluationTimeout
	if timeout == 0 {
		timeout = 100 * time.Millisecond
	}
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := prepared.Eval(evalCtx, rego.EvalInput(input))
	if err != nil {
		return false, "", fmt.Errorf("evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, "no policy result", nil
	}

	arr, ok := results[0].Expressions[0].Value.([]any)
	if !ok || len(arr) < 2 {
		return false, "unexpected policy result format", nil
	}
	allowed, _ := arr[0].(bool)
	reason, _ := arr[1].(string)
	return allowed, reason, nil
}

// Authorize implements sandbox.Authorizer.
func (e *Evaluator) Authorize(ctx context.Context, req sandbox.AuthzRequest) (bool, string, error) {
	now := e.now().UTC()
	return e.Evaluate(ctx, Input{
		Command: req.Argv[0],
		Args:    req.Argv[1:],
		Client:  req.Client,
		Time: InputTime{
			Hour: now.Hour(),
			Day:  now.Weekday().String(),
		},
	})
}
