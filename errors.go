package jsbridge

import (
	"errors"
	"fmt"
)

var (
	ErrInit          = errors.New("jsbridge: engine initialization failed")
	ErrMarshal       = errors.New("jsbridge: value marshaling failed")
	ErrClosed        = errors.New("jsbridge: runtime is closed")
	ErrUnknownEngine = errors.New("jsbridge: unknown engine type")
	ErrNoMatch       = errors.New("jsbridge: pattern matched no files")

	errDisposedHandle = errors.New("engine handle already disposed")
)

// JSError is returned when evaluated script throws. Message is the thrown
// value's message property.
type JSError struct {
	Message string
}

func (e *JSError) Error() string {
	return e.Message
}

// EngineError is returned for any status other than success or a script
// exception. Result is the engine's opaque description of the failure.
type EngineError struct {
	Code   ErrorCode
	Result string
}

func (e *EngineError) Error() string {
	if e.Result == "" {
		return fmt.Sprintf("jsbridge: engine error %s", e.Code)
	}
	return fmt.Sprintf("jsbridge: engine error %s: %s", e.Code, e.Result)
}

// IsJSError reports whether err carries a script exception.
func IsJSError(err error) bool {
	var jsErr *JSError
	return errors.As(err, &jsErr)
}
