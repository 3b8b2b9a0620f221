package executor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/codekids/codekids-hub/internal/domain/execution"
	"github.com/codekids/codekids-hub/internal/domain/shared"
)

// PythonRunner executes Python in a python3 subprocess. The program is fed on
// stdin so it never touches the filesystem.
type PythonRunner struct {
	cfg Config
}

// NewPythonRunner creates the subprocess runner.
func NewPythonRunner(cfg Config) *PythonRunner {
	return &PythonRunner{cfg: cfg.withDefaults()}
}

// Available reports whether the interpreter can be found on PATH.
func (r *PythonRunner) Available() bool {
	_, err := exec.LookPath(r.cfg.PythonPath)
	return err == nil
}

// Execute runs code. A non-zero exit is a failed Result; a missing interpreter
// is an infrastructure error.
func (r *PythonRunner) Execute(ctx context.Context, lang shared.CodingLanguage, code string) (*execution.Result, error) {
	if lang != shared.LanguagePython {
		return nil, shared.ErrUnsupportedLanguage
	}
	start := time.Now()
	if len(code) > r.cfg.MaxCodeBytes {
		return &execution.Result{Error: fmt.Sprintf("program is larger than %d bytes", r.cfg.MaxCodeBytes)}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	// -I isolates from user site-packages and PYTHON* env vars.
	cmd := exec.CommandContext(runCtx, r.cfg.PythonPath, "-I", "-")
	cmd.Stdin = strings.NewReader(code)
	stdout := newCappedBuffer(r.cfg.MaxOutputBytes)
	stderr := newCappedBuffer(r.cfg.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	res := &execution.Result{Output: stdout.String(), Duration: time.Since(start)}

	switch {
	case err == nil:
		res.Success = true
		return res, nil
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.Error = "execution timed out"
		return res, nil
	case errors.Is(err, exec.ErrNotFound):
		return nil, shared.WrapError("executor", "Execute", shared.ErrServiceUnavailable, "python interpreter not found", err)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.Error = lastLine(stderr.String())
		if res.Error == "" {
			res.Error = fmt.Sprintf("exit status %d", exitErr.ExitCode())
		}
		return res, nil
	}
	return nil, fmt.Errorf("python: run: %w", err)
}

// lastLine returns the final non-empty line, which for a Python traceback is
// the exception message.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
