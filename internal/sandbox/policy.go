package sandbox

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-shellwords"

	"github.com/af-corp/pplx-bridge/internal/confine"
)

// Reason identifies why a command was rejected before it ran.
type Reason string

const (
	ReasonEmpty         Reason = "empty"
	ReasonTooLong       Reason = "too_long"
	ReasonShellOperator Reason = "shell_operator"
	ReasonSyntax        Reason = "syntax"
	ReasonNotAllowed    Reason = "not_allowed"
	ReasonInvalidArg    Reason = "invalid_argument"
	ReasonOutsideRoot   Reason = "outside_root"
	ReasonUnsafeOption  Reason = "unsafe_option"
	ReasonDenied        Reason = "policy_denied"
)

// ValidationError is a rejected command. Message is shown to the client.
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func reject(reason Reason, msg string) *ValidationError {
	return &ValidationError{Reason: reason, Message: msg}
}

// shellOperators never reach a process: there is no shell to interpret them,
// so a command containing one is rejected rather than passed literally.
var shellOperators = []string{"&&", "||", ";", "|", "`", "$(", ">", "<", "&", "\n", "\r"}

// unsafeOptions are options that make a command open paths no argument
// names: symlinks followed while walking a tree, or file names read from a
// file. short holds single-letter options, long the full GNU spellings.
var unsafeOptions = map[string]struct {
	short string
	long  []string
}{
	"grep": {short: "R", long: []string{"--dereference-recursive"}},
	"ls":   {short: "L", long: []string{"--dereference"}},
	"tree": {short: "l"},
	"wc":   {long: []string{"--files0-from"}},
}

// AllowlistPolicy is the immutable set of runnable commands.
type AllowlistPolicy struct {
	allowed   map[string]struct{}
	maxLength int
}

func NewAllowlistPolicy(commands []string, maxLength int) *AllowlistPolicy {
	allowed := make(map[string]struct{}, len(commands))
	for _, c := range commands {
		if c = strings.TrimSpace(c); c != "" {
			allowed[c] = struct{}{}
		}
	}
	return &AllowlistPolicy{allowed: allowed, maxLength: maxLength}
}

func (p *AllowlistPolicy) Allowed(name string) bool {
	_, ok := p.allowed[name]
	return ok
}

// Commands returns the allowed names in sorted order.
func (p *AllowlistPolicy) Commands() []string {
	out := make([]string, 0, len(p.allowed))
	for c := range p.allowed {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Validate turns a command line into an argument vector or explains why it
// cannot run. Checks run in order and the first failure is returned.
func (p *AllowlistPolicy) Validate(command string) ([]string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, reject(ReasonEmpty, "Command cannot be empty")
	}
	if utf8.RuneCountInString(command) > p.maxLength {
		return nil, reject(ReasonTooLong, fmt.Sprintf("Command too long (max %d characters)", p.maxLength))
	}
	for _, op := range shellOperators {
		if strings.Contains(command, op) {
			return nil, reject(ReasonShellOperator, "Unsupported shell operators")
		}
	}

	parser := shellwords.NewParser()
	argv, err := parser.Parse(command)
	if err != nil || parser.Position != -1 {
		return nil, reject(ReasonSyntax, "Invalid command syntax")
	}
	if len(argv) == 0 {
		return nil, reject(ReasonEmpty, "Command cannot be empty")
	}
	if !p.Allowed(argv[0]) {
		return nil, reject(ReasonNotAllowed, "Command not allowed: "+argv[0])
	}

	if err := checkOptions(argv); err != nil {
		return nil, err
	}
	for _, arg := range argv[1:] {
		if err := checkArg(arg); err != nil {
			return nil, err
		}
	}
	return argv, nil
}

// checkOptions rejects unsafeOptions, including inside short bundles (-rnR)
// and as abbreviated long options (--files0), up to a "--" separator.
func checkOptions(argv []string) error {
	opts, ok := unsafeOptions[argv[0]]
	if !ok {
		return nil
	}
	for _, arg := range argv[1:] {
		switch {
		case arg == "--":
			return nil
		case strings.HasPrefix(arg, "--"):
			name, _, _ := strings.Cut(arg, "=")
			if len(name) < 3 {
				continue
			}
			for _, long := range opts.long {
				if strings.HasPrefix(long, name) {
					return reject(ReasonUnsafeOption, "Option not allowed: "+long)
				}
			}
		case len(arg) > 1 && arg[0] == '-' && opts.short != "":
			if i := strings.IndexAny(arg[1:], opts.short); i >= 0 {
				return reject(ReasonUnsafeOption, "Option not allowed: -"+arg[1+i:2+i])
			}
		}
	}
	return nil
}

// checkArg applies path confinement to an argument, to the value of a
// --flag=value argument, and to the attached value of a short flag (-f/path).
func checkArg(arg string) error {
	candidates := []string{arg}
	if _, value, ok := strings.Cut(arg, "="); ok {
		candidates = append(candidates, value)
	}
	if len(arg) > 2 && arg[0] == '-' && arg[1] != '-' {
		candidates = append(candidates, arg[2:])
	}
	for _, c := range candidates {
		if err := confine.CheckRelative(c); err != nil {
			if errors.Is(err, confine.ErrInvalid) {
				return reject(ReasonInvalidArg, "Invalid argument")
			}
			return reject(ReasonOutsideRoot, "Path outside project is not allowed")
		}
	}
	return nil
}
