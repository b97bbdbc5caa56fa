package jsbridge

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/robertkrimen/otto"
	"go.uber.org/zap"
)

// ottoEngine is an Engine backed by otto. otto implements ES5 only, so
// fragments and expressions must avoid newer syntax such as arrow functions.
type ottoEngine struct {
	contexts    map[ContextID]*otto.Otto
	current     ContextID
	exception   error
	initialized bool
	disposed    bool
	log         *zap.Logger
}

func newOttoEngine(log *zap.Logger) *ottoEngine {
	return &ottoEngine{
		contexts: make(map[ContextID]*otto.Otto),
		log:      log.Named(TypeEngineOtto),
	}
}

func (e *ottoEngine) Initialize() error {
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

func (e *ottoEngine) CreateContext() (ContextID, ErrorCode) {
	if e.disposed {
		return "", ErrorCodeRuntimeDisposed
	}
	id := ContextID(uuid.NewString())
	e.contexts[id] = otto.New()
	return id, ErrorCodeNoError
}

func (e *ottoEngine) SetCurrentContext(id ContextID) ErrorCode {
	if e.disposed {
		return ErrorCodeRuntimeDisposed
	}
	if _, ok := e.contexts[id]; !ok {
		return ErrorCodeInvalidArgument
	}
	e.current = id
	for other := range e.contexts {
		if other != id {
			delete(e.contexts, other)
		}
	}
	return ErrorCodeNoError
}

func (e *ottoEngine) CurrentContext() ContextID {
	return e.current
}

func (e *ottoEngine) LiveContexts() int {
	return len(e.contexts)
}

func (e *ottoEngine) Run(source []byte, sourceURL string, attrs ParseAttributes) (string, ErrorCode) {
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

	script, err := vm.Compile(sourceURL, text)
	if err != nil {
		return err.Error(), ErrorCodeScriptCompile
	}
	val, err := vm.Run(script)
	if err != nil {
		// otto reports every uncaught throw as a Go error: *otto.Error for
		// Error objects, a plain error for other thrown values.
		e.exception = err
		return err.Error(), ErrorCodeScriptException
	}
	return val.String(), ErrorCodeNoError
}

func (e *ottoEngine) GetAndClearException() (string, ErrorCode) {
	if e.disposed {
		return "", ErrorCodeRuntimeDisposed
	}
	if e.exception == nil {
		return "", ErrorCodeInvalidArgument
	}
	ex := e.exception
	e.exception = nil
	return ottoExceptionMessage(ex), ErrorCodeNoError
}

func (e *ottoEngine) Dispose() {
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

// ottoExceptionMessage strips the "Name: " prefix otto puts in front of an
// Error's message.
func ottoExceptionMessage(err error) string {
	msg := err.Error()
	var oe *otto.Error
	if errors.As(err, &oe) {
		if name, rest, ok := strings.Cut(msg, ": "); ok && strings.HasSuffix(name, "Error") && !strings.ContainsAny(name, " \t") {
			msg = rest
		}
	}
	if msg == "" {
		return "uncaught exception"
	}
	return msg
}
