package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/codekids/codekids-hub/internal/domain/execution"
	"github.com/codekids/codekids-hub/internal/domain/shared"
	"github.com/codekids/codekids-hub/pkg/circuitbreaker"
	"github.com/codekids/codekids-hub/pkg/logger"
	"github.com/codekids/codekids-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// RemoteConfig configures the Piston-compatible remote runner.
type RemoteConfig struct {
	// BaseURL is the runner root, e.g. "https://emkc.org/api/v2/piston".
	BaseURL string

	// RequestsPerSecond and Burst throttle outgoing calls.
	RequestsPerSecond float64
	Burst             int

	// Fallback, if set, serves requests while the circuit is open.
	Fallback execution.Runner

	Logger *logger.Logger
}

// DefaultRemoteConfig returns sensible defaults for a self-hosted runner.
func DefaultRemoteConfig(baseURL string) RemoteConfig {
	return RemoteConfig{
		BaseURL:           strings.TrimRight(baseURL, "/"),
		RequestsPerSecond: 5,
		Burst:             10,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// RemoteRunner executes code on a Piston-compatible HTTP API. Calls are rate
// limited, retried on transient failures and guarded by a circuit breaker.
type RemoteRunner struct {
	cfg        Config
	remote     RemoteConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	retries    retry.Policy
	breaker    *circuitbreaker.Breaker
	log        *logger.Logger
}

// NewRemoteRunner creates the remote runner.
func NewRemoteRunner(cfg Config, remote RemoteConfig) *RemoteRunner {
	cfg = cfg.withDefaults()
	if remote.Logger == nil {
		remote.Logger = logger.Nop()
	}
	if remote.RequestsPerSecond <= 0 {
		remote.RequestsPerSecond = 5
	}
	if remote.Burst <= 0 {
		remote.Burst = 1
	}
	log := remote.Logger.With(logger.Component("remote_runner"))

	r := &RemoteRunner{
		cfg:    cfg,
		remote: remote,
		// The HTTP timeout leaves headroom over the run timeout for transfer.
		httpClient: &http.Client{Timeout: cfg.Timeout + 5*time.Second},
		limiter:    rate.NewLimiter(rate.Limit(remote.RequestsPerSecond), remote.Burst),
		log:        log,
	}
	r.retries = retry.Executor(func(attempt int, err error, delay time.Duration) {
		log.Warn("retrying remote execution", logger.Int("attempt", attempt), logger.Err(err), logger.Duration("delay", delay))
	})
	r.breaker = circuitbreaker.ForRemoteRunner(func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed", logger.String("breaker", name),
			logger.String("from", from.String()), logger.String("to", to.String()))
	})
	return r
}

// pistonRequest is the body of POST /execute.
type pistonRequest struct {
	Language   string       `json:"language"`
	Version    string       `json:"version"`
	Files      []pistonFile `json:"files"`
	RunTimeout int64        `json:"run_timeout"`
}

type pistonFile struct {
	Content string `json:"content"`
}

// Execute runs code remotely.
func (r *RemoteRunner) Execute(ctx context.Context, lang shared.CodingLanguage, code string) (*execution.Result, error) {
	if len(code) > r.cfg.MaxCodeBytes {
		return &execution.Result{Error: fmt.Sprintf("program is larger than %d bytes", r.cfg.MaxCodeBytes)}, nil
	}
	language := string(lang)
	if lang == shared.LanguageBlockly {
		language = string(shared.LanguageJavaScript)
	}
	body, err := json.Marshal(pistonRequest{
		Language:   language,
		Version:    "*",
		Files:      []pistonFile{{Content: code}},
		RunTimeout: r.cfg.Timeout.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("remote: marshal request: %w", err)
	}

	start := time.Now()
	var res *execution.Result
	call := func(ctx context.Context) error {
		return r.retries.Do(ctx, func(ctx context.Context) error {
			out, err := r.doSingleRequest(ctx, body)
			if err != nil {
				return err
			}
			res = out
			return nil
		})
	}

	if r.remote.Fallback != nil {
		err = r.breaker.DoOr(ctx, call, func(cause error) error {
			r.log.Warn("remote runner unavailable, using fallback", logger.Err(cause))
			out, ferr := r.remote.Fallback.Execute(ctx, lang, code)
			res = out
			return ferr
		})
	} else {
		err = r.breaker.Do(ctx, call)
	}
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return nil, shared.WrapError("executor", "Execute", shared.ErrServiceUnavailable, "code runner is unavailable", err)
		}
		return nil, shared.WrapError("executor", "Execute", shared.ErrExternalService, "remote execution failed", err)
	}
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}
	return res, nil
}

// doSingleRequest performs one HTTP round trip. Errors are classified for the
// retry policy: transport failures, 429 and 5xx are retryable, other 4xx are not.
func (r *RemoteRunner) doSingleRequest(ctx context.Context, body []byte) (*execution.Result, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, retry.Permanent(fmt.Errorf("rate limiter: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.remote.BaseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, retry.Retryable(fmt.Errorf("execute request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, int64(r.cfg.MaxOutputBytes)*2+4096))
	if err != nil {
		return nil, retry.Retryable(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, retry.Retryable(fmt.Errorf("runner returned status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		msg := gjson.GetBytes(respBody, "message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, retry.Permanent(fmt.Errorf("runner rejected request: %s", msg))
	}

	return ParsePistonResponse(respBody, r.cfg.MaxOutputBytes), nil
}

// ParsePistonResponse maps a Piston execute response onto a Result. Compile
// failures take precedence over the run stage.
func ParsePistonResponse(body []byte, maxOutput int) *execution.Result {
	doc := gjson.ParseBytes(body)
	res := &execution.Result{}

	if compile := doc.Get("compile"); compile.Exists() && compile.Get("code").Int() != 0 {
		res.Error = lastLine(compile.Get("stderr").String())
		if res.Error == "" {
			res.Error = "compilation failed"
		}
		return res
	}

	run := doc.Get("run")
	out := run.Get("stdout").String()
	if len(out) > maxOutput {
		out = out[:maxOutput]
	}
	res.Output = out

	if sig := run.Get("signal").String(); sig != "" {
		res.Error = "execution was stopped (" + sig + ")"
		if sig == "SIGKILL" {
			res.Error = "execution timed out"
		}
		return res
	}
	if code := run.Get("code").Int(); code != 0 {
		res.Error = lastLine(run.Get("stderr").String())
		if res.Error == "" {
			res.Error = fmt.Sprintf("exit status %d", code)
		}
		return res
	}
	res.Success = true
	return res
}
