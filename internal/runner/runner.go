package runner

import (
	"bytes"
	"errors"
	"os/exec"
	"strings"
)

// Result carries the outcome of one command exchange. ExitCode is
// meaningful even when Err is non-nil: external storage tools report
// well-defined conditions through non-zero exits.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Output returns stdout as trimmed text.
func (r Result) Output() string {
	return strings.TrimSpace(string(r.Stdout))
}

// Combined returns stdout followed by stderr, for log surfacing.
func (r Result) Combined() string {
	return strings.TrimSpace(string(r.Stdout) + string(r.Stderr))
}

// Runner abstracts command execution on one access path to the logical
// unit. The harness never cares whether the path is local or remote.
type Runner interface {
	Run(name string, args ...string) (Result, error)
}

// LocalRunner executes commands on the local host.
type LocalRunner struct{}

func (LocalRunner) Run(name string, args ...string) (Result, error) {
	cmd := exec.Command(name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		// Tool ran and reported a condition; the caller classifies it.
		return res, nil
	}

	res.ExitCode = 1
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		res.ExitCode = 127
	}
	return res, err
}

func joinCommand(cmd string, args []string) string {
	if len(args) == 0 {
		return shellEscape(cmd)
	}

	var builder strings.Builder
	builder.WriteString(shellEscape(cmd))
	for _, arg := range args {
		builder.WriteByte(' ')
		builder.WriteString(shellEscape(arg))
	}

	return builder.String()
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}

	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}
