package jsbridge

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Runtime evaluates script against one engine handle. Every value crosses
// the boundary as JSON text; no live script reference is ever handed out.
//
// A Runtime is not safe for concurrent use. Serialize access or use one
// Runtime per goroutine (see Pool).
type Runtime struct {
	cfg      Config
	engine   Engine
	contexts *contextManager
	preamble *Preamble
	count    int
	closed   bool

	log     *zap.Logger
	metrics *Metrics
}

type options struct {
	log     *zap.Logger
	metrics *Metrics
	engine  Engine
}

type Option func(*options)

func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithEngine supplies the engine handle instead of building one from
// Config.Engine. The Runtime takes ownership and disposes it on Close, so
// the option must not be shared between runtimes.
func WithEngine(e Engine) Option {
	return func(o *options) {
		o.engine = e
	}
}

func buildOptions(opts []Option) options {
	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New creates the engine handle, attaches it, and makes a first context
// current. Any failure here leaves nothing usable and wraps ErrInit.
func New(cfg Config, opts ...Option) (*Runtime, error) {
	o := buildOptions(opts)
	r := &Runtime{
		cfg:      cfg,
		engine:   o.engine,
		preamble: NewPreamble(),
		log:      o.log,
		metrics:  o.metrics,
	}

	if r.engine == nil {
		engine, err := newEngine(cfg.Engine, r.log)
		if err != nil {
			return nil, err
		}
		r.engine = engine
	}

	if err := r.engine.Initialize(); err != nil {
		r.engine.Dispose()
		return nil, fmt.Errorf("%w: %v", ErrInit, err)
	}

	r.contexts = newContextManager(r.engine, r.metrics, r.log)
	if err := r.contexts.create(); err != nil {
		r.engine.Dispose()
		return nil, err
	}

	r.metrics.preambleChanged(r.preamble.Len())
	r.log.Debug("runtime created",
		zap.String("engine", cfg.Engine),
		zap.Int("rotate_every", cfg.RotateEvery))
	return r, nil
}

// NewDefault creates a Runtime with DefaultConfig.
func NewDefault() (*Runtime, error) {
	return New(DefaultConfig())
}

// Eval evaluates expression, which may be any snippet of script source, and
// returns its completion value decoded from JSON. Functions decode as their
// source text and undefined as nil. A throw is returned as *JSError, any
// other engine failure as *EngineError.
func (r *Runtime) Eval(expression string) (any, error) {
	var out any
	err := r.eval(expression, func(s string) error {
		var err error
		out, err = decodeResult(s)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EvalInto is Eval decoding the result into out.
func (r *Runtime) EvalInto(expression string, out any) error {
	return r.eval(expression, func(s string) error {
		return decodeInto(s, out)
	})
}

// SetVariable declares or overwrites a global var in the current context.
// It lives until the next context rotation.
//
// name is spliced into the script as source text and must be trusted.
func (r *Runtime) SetVariable(name string, value any) (bool, error) {
	lit, err := encodeValue(value)
	if err != nil {
		return false, err
	}
	if err := r.eval("var "+name+" = "+parseExpression(lit)+";", discardResult); err != nil {
		return false, err
	}
	return true, nil
}

// GetVariable returns the decoded value of the script expression name. An
// undeclared name fails with *JSError; an undefined value returns nil.
//
// name is spliced into the script as source text and must be trusted.
func (r *Runtime) GetVariable(name string) (any, error) {
	text, err := r.getVariableJSON(name)
	if err != nil || text == "" {
		return nil, err
	}
	return decodeResult(text)
}

// GetVariableInto is GetVariable decoding into out.
func (r *Runtime) GetVariableInto(name string, out any) error {
	text, err := r.getVariableJSON(name)
	if err != nil {
		return err
	}
	if text == "" {
		text = "null"
	}
	return decodeInto(text, out)
}

// getVariableJSON serializes the variable inside the script and returns
// the JSON text, or "" when the script produced null.
func (r *Runtime) getVariableJSON(name string) (string, error) {
	var text string
	err := r.eval(getterExpression(name), func(s string) error {
		v, err := decodeResult(s)
		if err != nil {
			return err
		}
		switch v := v.(type) {
		case nil:
		case string:
			text = v
		default:
			return fmt.Errorf("%w: unexpected getter result %T", ErrMarshal, v)
		}
		return nil
	})
	return text, err
}

// Call invokes identifier with args applied positionally and returns the
// decoded result, e.g. Call("Math.max", 1, 5, 3).
//
// identifier is spliced into the script as source text, not encoded as a
// value. It must come from trusted code, never from user data.
func (r *Runtime) Call(identifier string, args ...any) (any, error) {
	lit, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	return r.Eval("(" + identifier + ").apply(this, " + parseExpression(lit) + ")")
}

// CallForEach invokes identifier once per argument and returns the results
// as an array, e.g. CallForEach("x => x*2", 1, 2, 3) gives [2 4 6].
//
// identifier has the same trusted-source contract as in Call.
func (r *Runtime) CallForEach(identifier string, args ...any) (any, error) {
	lit, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	return r.Eval("(function (items) { return items.map(function (x) { return (" +
		identifier + ")(x); }); })(" + parseExpression(lit) + ")")
}

// Compile appends src to the preamble without running it. It is run ahead
// of every later evaluation, in every context. Compile on a closed Runtime
// does nothing.
func (r *Runtime) Compile(src string) {
	if r.closed {
		return
	}
	r.preamble.Append(src)
	r.metrics.preambleChanged(r.preamble.Len())
}

// Require appends the contents of the file at path to the preamble.
func (r *Runtime) Require(path string) error {
	if r.closed {
		return ErrClosed
	}
	text, err := readFragment(path)
	if err != nil {
		return fmt.Errorf("require %s: %w", path, err)
	}
	r.Compile(text)
	r.log.Debug("fragment required", zap.String("path", path))
	return nil
}

// RequireGlob requires every file matching pattern in lexical order. Either
// all matches are appended or none are.
func (r *Runtime) RequireGlob(pattern string) error {
	if r.closed {
		return ErrClosed
	}
	paths, err := globFragments(pattern)
	if err != nil {
		return err
	}
	texts := make([]string, 0, len(paths))
	for _, path := range paths {
		text, err := readFragment(path)
		if err != nil {
			return fmt.Errorf("require %s: %w", path, err)
		}
		texts = append(texts, text)
	}
	for _, text := range texts {
		r.Compile(text)
	}
	r.log.Debug("fragments required", zap.String("pattern", pattern), zap.Int("files", len(paths)))
	return nil
}

// Preamble returns a copy of the current fragment list.
func (r *Runtime) Preamble() []string {
	return r.preamble.Fragments()
}

// Rotations reports how many times the context has been replaced.
func (r *Runtime) Rotations() int {
	return r.contexts.rotations
}

// Context returns the id of the current context.
func (r *Runtime) Context() ContextID {
	return r.contexts.current
}

// Reset returns the Runtime to its freshly created state: the preamble is
// back to the replacer alone and a new context replaces the current one,
// dropping every script global.
func (r *Runtime) Reset() error {
	if r.closed {
		return ErrClosed
	}
	if err := r.contexts.rotate(); err != nil {
		return err
	}
	r.count = 0
	r.preamble = NewPreamble()
	r.metrics.preambleChanged(r.preamble.Len())
	return nil
}

// Close disposes the engine handle and with it every context. It is safe to
// call more than once.
func (r *Runtime) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.engine.Dispose()
	r.log.Debug("runtime closed", zap.Int("rotations", r.contexts.rotations))
	return nil
}

func (r *Runtime) eval(expression string, decode func(string) error) error {
	if r.closed {
		return ErrClosed
	}

	start := time.Now()
	result := resultOK
	defer func() {
		r.metrics.evalDone(result, start)
	}()

	r.count++
	if r.cfg.RotateEvery > 0 && r.count >= r.cfg.RotateEvery {
		if err := r.contexts.rotate(); err != nil {
			result = resultEngineError
			return err
		}
		r.count = 0
	}

	source, err := encodeSource(r.preamble.Render() + "\n" + wrapExpression(expression))
	if err != nil {
		result = resultMarshalError
		return err
	}

	out, code := r.engine.Run(source, r.cfg.SourceURL, ParseScriptAttributeArrayBufferIsUtf16Encoded)
	switch code {
	case ErrorCodeNoError:
		if err := decode(out); err != nil {
			result = resultMarshalError
			return err
		}
		return nil

	case ErrorCodeScriptException:
		result = resultScriptException
		msg, xcode := r.engine.GetAndClearException()
		if xcode != ErrorCodeNoError {
			return &EngineError{Code: xcode, Result: out}
		}
		if msg == "" {
			msg = "uncaught exception"
		}
		r.log.Debug("script exception", zap.String("message", msg))
		return &JSError{Message: msg}

	default:
		result = resultEngineError
		r.log.Debug("engine error", zap.Stringer("code", code), zap.String("result", out))
		return &EngineError{Code: code, Result: out}
	}
}

func getterExpression(name string) string {
	return "JSON.stringify((function () { return " + name + "; })(), replace)"
}

func discardResult(string) error { return nil }
