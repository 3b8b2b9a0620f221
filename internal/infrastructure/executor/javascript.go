package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/codekids/codekids-hub/internal/domain/execution"
	"github.com/codekids/codekids-hub/internal/domain/shared"
)

// JavaScriptRunner executes JavaScript on a fresh goja runtime per run.
// console.log, console.info and console.error lines become the output.
type JavaScriptRunner struct {
	cfg Config
}

// NewJavaScriptRunner creates the in-process JavaScript runner.
func NewJavaScriptRunner(cfg Config) *JavaScriptRunner {
	return &JavaScriptRunner{cfg: cfg.withDefaults()}
}

// Execute runs code. Script errors are reported in the Result.
func (r *JavaScriptRunner) Execute(ctx context.Context, lang shared.CodingLanguage, code string) (*execution.Result, error) {
	if lang != shared.LanguageJavaScript && lang != shared.LanguageBlockly {
		return nil, shared.ErrUnsupportedLanguage
	}
	start := time.Now()
	if len(code) > r.cfg.MaxCodeBytes {
		return &execution.Result{Error: fmt.Sprintf("program is larger than %d bytes", r.cfg.MaxCodeBytes)}, nil
	}

	vm := goja.New()
	out := newCappedBuffer(r.cfg.MaxOutputBytes)

	timeout := r.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	done := make(chan struct{})
	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			vm.Interrupt("execution timed out")
		case <-ctx.Done():
			vm.Interrupt("execution cancelled")
		case <-done:
		}
	}()
	defer close(done)

	console := vm.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		out.WriteString(strings.Join(parts, " ") + "\n")
		return goja.Undefined()
	}
	for _, name := range []string{"log", "info", "warn", "error"} {
		if err := console.Set(name, logFn); err != nil {
			return nil, fmt.Errorf("javascript: set console.%s: %w", name, err)
		}
	}
	if err := vm.Set("console", console); err != nil {
		return nil, fmt.Errorf("javascript: set console: %w", err)
	}

	_, err := vm.RunString(code)
	res := &execution.Result{Output: out.String(), Duration: time.Since(start)}
	if err != nil {
		res.Error = scriptError(err)
		return res, nil
	}
	res.Success = true
	return res, nil
}

func scriptError(err error) string {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if s, ok := interrupted.Value().(string); ok {
			return s
		}
		return "execution interrupted"
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return exc.Value().String()
	}
	return err.Error()
}
