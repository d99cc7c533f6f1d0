package sandbox

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultCommands = []string{"cat", "date", "echo", "grep", "head", "ls", "pwd", "tail", "tree", "wc", "whoami"}

func TestValidate_Allowed(t *testing.T) {
	p := NewAllowlistPolicy(defaultCommands, 200)

	tests := []struct {
		command string
		argv    []string
	}{
		{"echo hello", []string{"echo", "hello"}},
		{"  pwd  ", []string{"pwd"}},
		{"ls -la src", []string{"ls", "-la", "src"}},
		{"grep -n TODO main.go", []string{"grep", "-n", "TODO", "main.go"}},
		{"cat README.md", []string{"cat", "README.md"}},
		{"echo 'hello world'", []string{"echo", "hello world"}},
		{`echo "double quoted"`, []string{"echo", "double quoted"}},
		{"grep --include=*.go -r foo .", []string{"grep", "--include=*.go", "-r", "foo", "."}},
		{"grep -rn Root .", []string{"grep", "-rn", "Root", "."}},
		{"grep -n -- -R notes.txt", []string{"grep", "-n", "--", "-R", "notes.txt"}},
		{"ls -R src", []string{"ls", "-R", "src"}},
		{"ls --dereference-command-line src", []string{"ls", "--dereference-command-line", "src"}},
		{"tree -L 2", []string{"tree", "-L", "2"}},
		{"wc -l main.go", []string{"wc", "-l", "main.go"}},
	}
	for _, tt := range tests {
		argv, err := p.Validate(tt.command)
		require.NoError(t, err, tt.command)
		assert.Equal(t, tt.argv, argv, tt.command)
	}
}

func TestValidate_Rejected(t *testing.T) {
	p := NewAllowlistPolicy(defaultCommands, 200)

	tests := []struct {
		command string
		reason  Reason
		message string
	}{
		{"", ReasonEmpty, "Command cannot be empty"},
		{"   \t ", ReasonEmpty, "Command cannot be empty"},
		{"echo " + strings.Repeat("a", 196), ReasonTooLong, "Command too long (max 200 characters)"},
		{"ls && rm -rf .", ReasonShellOperator, "Unsupported shell operators"},
		{"ls || true", ReasonShellOperator, "Unsupported shell operators"},
		{"ls; rm x", ReasonShellOperator, "Unsupported shell operators"},
		{"cat x | wc", ReasonShellOperator, "Unsupported shell operators"},
		{"echo `id`", ReasonShellOperator, "Unsupported shell operators"},
		{"echo $(id)", ReasonShellOperator, "Unsupported shell operators"},
		{"echo hi > out", ReasonShellOperator, "Unsupported shell operators"},
		{"cat < in", ReasonShellOperator, "Unsupported shell operators"},
		{"sleep 1 &", ReasonShellOperator, "Unsupported shell operators"},
		{"echo a\nrm b", ReasonShellOperator, "Unsupported shell operators"},
		{"echo 'unterminated", ReasonSyntax, "Invalid command syntax"},
		{"rm -rf .", ReasonNotAllowed, "Command not allowed: rm"},
		{"curl http://example.com", ReasonNotAllowed, "Command not allowed: curl"},
		{"python -c 1", ReasonNotAllowed, "Command not allowed: python"},
		{"bash", ReasonNotAllowed, "Command not allowed: bash"},
		{"/bin/ls", ReasonNotAllowed, "Command not allowed: /bin/ls"},
		{"cat /etc/passwd", ReasonOutsideRoot, "Path outside project is not allowed"},
		{"cat ~/.bashrc", ReasonOutsideRoot, "Path outside project is not allowed"},
		{"cat ../secret", ReasonOutsideRoot, "Path outside project is not allowed"},
		{"cat src/../../secret", ReasonOutsideRoot, "Path outside project is not allowed"},
		{`cat C:\Windows\win.ini`, ReasonOutsideRoot, "Path outside project is not allowed"},
		{`cat \\server\share`, ReasonOutsideRoot, "Path outside project is not allowed"},
		{"grep --file=/etc/passwd x", ReasonOutsideRoot, "Path outside project is not allowed"},
		{"grep -f/etc/passwd x", ReasonOutsideRoot, "Path outside project is not allowed"},
		{"cat a\x00b", ReasonInvalidArg, "Invalid argument"},
		{"grep -R foo .", ReasonUnsafeOption, "Option not allowed: -R"},
		{"grep -rnR foo .", ReasonUnsafeOption, "Option not allowed: -R"},
		{"grep --dereference-recursive foo .", ReasonUnsafeOption, "Option not allowed: --dereference-recursive"},
		{"grep --dereference-r foo .", ReasonUnsafeOption, "Option not allowed: --dereference-recursive"},
		{"ls -L link", ReasonUnsafeOption, "Option not allowed: -L"},
		{"ls -laL src", ReasonUnsafeOption, "Option not allowed: -L"},
		{"ls --dereference src", ReasonUnsafeOption, "Option not allowed: --dereference"},
		{"tree -l", ReasonUnsafeOption, "Option not allowed: -l"},
		{"tree -al src", ReasonUnsafeOption, "Option not allowed: -l"},
		{"wc --files0-from=list.txt", ReasonUnsafeOption, "Option not allowed: --files0-from"},
		{"wc --files0 list.txt", ReasonUnsafeOption, "Option not allowed: --files0-from"},
	}
	for _, tt := range tests {
		_, err := p.Validate(tt.command)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), "%q: expected ValidationError, got %v", tt.command, err)
		assert.Equal(t, tt.reason, verr.Reason, tt.command)
		assert.Equal(t, tt.message, verr.Message, tt.command)
	}
}

func TestValidate_LengthBoundary(t *testing.T) {
	p := NewAllowlistPolicy([]string{"echo"}, 200)

	exact := "echo " + strings.Repeat("a", 195)
	require.Len(t, exact, 200)
	_, err := p.Validate(exact)
	assert.NoError(t, err)

	_, err = p.Validate(exact + "a")
	assert.Error(t, err)
}

func TestAllowlistPolicy_Commands(t *testing.T) {
	p := NewAllowlistPolicy([]string{"wc", " ls ", "cat", ""}, 10)
	assert.Equal(t, []string{"cat", "ls", "wc"}, p.Commands())
	assert.True(t, p.Allowed("ls"))
	assert.False(t, p.Allowed("LS"))
}
