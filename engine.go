package jsbridge

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	TypeEngineGoja = "goja"
	TypeEngineOtto = "otto"
)

// ContextID names one execution context owned by an Engine.
type ContextID string

// ErrorCode is the status an Engine reports for every native call.
// Values follow the Chakra JsErrorCode layout: the high word is the
// category, the low word the specific error.
type ErrorCode uint32

const (
	ErrorCodeNoError ErrorCode = 0

	ErrorCodeCategoryUsage    ErrorCode = 0x10000
	ErrorCodeInvalidArgument  ErrorCode = 0x10001
	ErrorCodeNullArgument     ErrorCode = 0x10002
	ErrorCodeNoCurrentContext ErrorCode = 0x10003
	ErrorCodeInExceptionState ErrorCode = 0x10004
	ErrorCodeRuntimeDisposed  ErrorCode = 0x1000C
	ErrorCodeCategoryEngine   ErrorCode = 0x20000
	ErrorCodeOutOfMemory      ErrorCode = 0x20001
	ErrorCodeCategoryScript   ErrorCode = 0x30000
	ErrorCodeScriptException  ErrorCode = 0x30001
	ErrorCodeScriptCompile    ErrorCode = 0x30002
	ErrorCodeScriptTerminated ErrorCode = 0x30003
	ErrorCodeCategoryFatal    ErrorCode = 0x40000
	ErrorCodeFatal            ErrorCode = 0x40001
)

var errorCodeNames = map[ErrorCode]string{
	ErrorCodeNoError:          "NoError",
	ErrorCodeInvalidArgument:  "InvalidArgument",
	ErrorCodeNullArgument:     "NullArgument",
	ErrorCodeNoCurrentContext: "NoCurrentContext",
	ErrorCodeInExceptionState: "InExceptionState",
	ErrorCodeRuntimeDisposed:  "RuntimeDisposed",
	ErrorCodeOutOfMemory:      "OutOfMemory",
	ErrorCodeScriptException:  "ScriptException",
	ErrorCodeScriptCompile:    "ScriptCompile",
	ErrorCodeScriptTerminated: "ScriptTerminated",
	ErrorCodeFatal:            "Fatal",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(0x%X)", uint32(c))
}

// ParseAttributes describe how Run interprets the source buffer.
type ParseAttributes uint32

const (
	ParseScriptAttributeNone                      ParseAttributes = 0x0
	ParseScriptAttributeLibraryCode               ParseAttributes = 0x1
	ParseScriptAttributeArrayBufferIsUtf16Encoded ParseAttributes = 0x2
)

// Engine is the native engine handle. It owns every context it creates and
// releases all of them on Dispose. An Engine is not safe for concurrent use.
type Engine interface {
	// Initialize performs the one-time process/thread attach step.
	Initialize() error

	CreateContext() (ContextID, ErrorCode)
	SetCurrentContext(id ContextID) ErrorCode
	CurrentContext() ContextID
	LiveContexts() int

	// Run executes source in the current context. On success the result is
	// the script's completion value converted to a string. On any other
	// status the result is an opaque description of the failure.
	Run(source []byte, sourceURL string, attrs ParseAttributes) (string, ErrorCode)

	// GetAndClearException returns the message of the pending exception
	// raised by the last Run and clears it.
	GetAndClearException() (string, ErrorCode)

	Dispose()
}

// attachOnce and liveHandles are process-wide. liveHandles counts handles
// initialized and not yet disposed; it is bookkeeping for LiveHandles and
// the live handles gauge and never gates any engine call.
var (
	attachOnce  sync.Once
	liveHandles atomic.Int64
)

// LiveHandles reports how many engine handles in this process are
// initialized and not yet disposed.
func LiveHandles() int64 {
	return liveHandles.Load()
}

// attachProcess runs the process and main-thread attach step exactly once.
// Native engines loaded as shared objects need this where the loader does
// not invoke the library entry point itself; the pure-Go engines have no
// such hook, so only the bookkeeping remains.
func attachProcess(log *zap.Logger) {
	attachOnce.Do(func() {
		log.Debug("engine process attach")
	})
}

func newEngine(engineType string, log *zap.Logger) (Engine, error) {
	switch engineType {
	case TypeEngineGoja, "":
		return newGojaEngine(log), nil
	case TypeEngineOtto:
		return newOttoEngine(log), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, engineType)
}

// decodeSource turns a source buffer into script text according to attrs.
func decodeSource(source []byte, attrs ParseAttributes) (string, ErrorCode) {
	if source == nil {
		return "", ErrorCodeNullArgument
	}
	if attrs&ParseScriptAttributeArrayBufferIsUtf16Encoded == 0 {
		return string(source), ErrorCodeNoError
	}
	dec := unicode.BOMOverride(unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder())
	text, _, err := transform.Bytes(dec, source)
	if err != nil {
		return "", ErrorCodeInvalidArgument
	}
	return string(text), ErrorCodeNoError
}
