package executor

import (
	"context"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/codekids/codekids-hub/internal/domain/execution"
	"github.com/codekids/codekids-hub/internal/domain/shared"
	"github.com/codekids/codekids-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// Observer receives one call per finished execution.
type Observer interface {
	ObserveExecution(lang string, success bool, d time.Duration)
}

// ResultCache stores results of deterministic runs.
type ResultCache interface {
	Get(ctx context.Context, key string) (*execution.Result, bool, error)
	Set(ctx context.Context, key string, res *execution.Result) error
}

// Dispatcher routes each language to its runner and implements execution.Runner.
type Dispatcher struct {
	runners  map[shared.CodingLanguage]execution.Runner
	cache    ResultCache
	observer Observer
	log      *logger.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRunner routes lang to r, replacing any earlier route.
func WithRunner(lang shared.CodingLanguage, r execution.Runner) DispatcherOption {
	return func(d *Dispatcher) { d.runners[lang] = r }
}

// WithCache enables the result cache.
func WithCache(c ResultCache) DispatcherOption {
	return func(d *Dispatcher) { d.cache = c }
}

// WithObserver reports every execution to o.
func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = l }
}

// NewDispatcher builds a dispatcher. Without options JavaScript and Blockly
// run on goja and Python in a subprocess.
func NewDispatcher(cfg Config, opts ...DispatcherOption) *Dispatcher {
	js := NewJavaScriptRunner(cfg)
	d := &Dispatcher{
		runners: map[shared.CodingLanguage]execution.Runner{
			shared.LanguageJavaScript: js,
			shared.LanguageBlockly:    js,
			shared.LanguagePython:     NewPythonRunner(cfg),
		},
		log: logger.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With(logger.Component("executor"))
	return d
}

// Execute runs code with the runner registered for lang. Cache hits skip the
// runner; only completed runs are cached, never infrastructure errors or timeouts.
func (d *Dispatcher) Execute(ctx context.Context, lang shared.CodingLanguage, code string) (*execution.Result, error) {
	runner, ok := d.runners[lang]
	if !ok {
		return nil, shared.ErrUnsupportedLanguage
	}

	key := CacheKey(lang, code)
	if d.cache != nil {
		if res, hit, err := d.cache.Get(ctx, key); err != nil {
			d.log.Warn("execution cache read failed", logger.Err(err))
		} else if hit {
			return res, nil
		}
	}

	start := time.Now()
	res, err := runner.Execute(ctx, lang, code)
	elapsed := time.Since(start)
	if d.observer != nil {
		d.observer.ObserveExecution(string(lang), err == nil && res.Success, elapsed)
	}
	if err != nil {
		d.log.Error("execution failed", logger.CodeLanguage(string(lang)), logger.Err(err), logger.Latency(elapsed))
		return nil, err
	}

	if d.cache != nil && cacheable(res) {
		if err := d.cache.Set(ctx, key, res); err != nil {
			d.log.Warn("execution cache write failed", logger.Err(err))
		}
	}
	return res, nil
}

func cacheable(res *execution.Result) bool {
	return res.Success || (res.Error != "" && res.Error != "execution timed out" && res.Error != "execution cancelled")
}

// CacheKey is the hex BLAKE2b-256 of language and code.
func CacheKey(lang shared.CodingLanguage, code string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(lang))
	h.Write([]byte{0})
	h.Write([]byte(code))
	return hex.EncodeToString(h.Sum(nil))
}
