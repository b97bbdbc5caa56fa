package jsbridge

import (
	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// gojaEngine is an Engine backed by goja. Each context is its own
// goja.Runtime, so contexts share nothing but the handle.
type gojaEngine struct {
	contexts    map[ContextID]*goja.Runtime
	current     ContextID
	exception   goja.Value
	initialized bool
	disposed    bool
	log         *zap.Logger
}

func newGojaEngine(log *zap.Logger) *gojaEngine {
	return &gojaEngine{
		contexts: make(map[ContextID]*goja.Runtime),
		log:      log.Named(TypeEngineGoja),
	}
}

func (e *gojaEngine) Initialize() error {
	if e.disposed {
		return errDisposedHandle
	}
	if e.initialized {
		return nil
	}
	attachProcess(e.log)
	e.initialized = true
	liveHandles.Add(1)
	return nil
}

func (e *gojaEngine) CreateContext() (ContextID, ErrorCode) {
	if e.disposed {
		return "", ErrorCodeRuntimeDisposed
	}
	id := ContextID(uuid.NewString())
	e.contexts[id] = goja.New()
	return id, ErrorCodeNoError
}

func (e *gojaEngine) SetCurrentContext(id ContextID) ErrorCode {
	if e.disposed {
		return ErrorCodeRuntimeDisposed
	}
	if _, ok := e.contexts[id]; !ok {
		return ErrorCodeInvalidArgument
	}
	e.current = id
	// Nothing outside the handle references a context, so once another one
	// is current the old ones are unreachable.
	for other := range e.contexts {
		if other != id {
			delete(e.contexts, other)
		}
	}
	return ErrorCodeNoError
}

func (e *gojaEngine) CurrentContext() ContextID {
	return e.current
}

func (e *gojaEngine) LiveContexts() int {
	return len(e.contexts)
}

func (e *gojaEngine) Run(source []byte, sourceURL string, attrs ParseAttributes) (string, ErrorCode) {
	if e.disposed {
		return "", ErrorCodeRuntimeDisposed
	}
	if e.exception != nil {
		return "", ErrorCodeInExceptionState
	}
	vm, ok := e.contexts[e.current]
	if !ok {
		return "", ErrorCodeNoCurrentContext
	}

	text, code := decodeSource(source, attrs)
	if code != ErrorCodeNoError {
		return "", code
	}

	prg, err := goja.Compile(sourceURL, text, false)
	if err != nil {
		return err.Error(), ErrorCodeScriptCompile
	}

	val, err := vm.RunProgram(prg)
	if err != nil {
		switch err := err.(type) {
		case *goja.Exception:
			e.exception = err.Value()
			if e.exception == nil {
				e.exception = goja.Undefined()
			}
			return err.Error(), ErrorCodeScriptException
		case *goja.InterruptedError:
			return err.Error(), ErrorCodeScriptTerminated
		default:
			return err.Error(), ErrorCodeFatal
		}
	}

	if val == nil {
		return "undefined", ErrorCodeNoError
	}
	return val.String(), ErrorCodeNoError
}

func (e *gojaEngine) GetAndClearException() (string, ErrorCode) {
	if e.disposed {
		return "", ErrorCodeRuntimeDisposed
	}
	if e.exception == nil {
		return "", ErrorCodeInvalidArgument
	}
	ex := e.exception
	e.exception = nil
	return gojaExceptionMessage(ex), ErrorCodeNoError
}

func (e *gojaEngine) Dispose() {
	if e.disposed {
		return
	}
	e.disposed = true
	e.contexts = nil
	e.current = ""
	e.exception = nil
	if e.initialized {
		liveHandles.Add(-1)
	}
	e.log.Debug("engine disposed")
}

// gojaExceptionMessage reads the thrown value's message property, falling
// back to its string form for non-Error throws.
func gojaExceptionMessage(v goja.Value) (msg string) {
	defer func() {
		if r := recover(); r != nil {
			msg = "uncaught exception"
		}
	}()

	if obj, ok := v.(*goja.Object); ok {
		if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) && !goja.IsNull(m) {
			if s := m.String(); s != "" {
				return s
			}
		}
	}
	if s := v.String(); s != "" {
		return s
	}
	return "uncaught exception"
}
