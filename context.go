package jsbridge

import (
	"fmt"

	"go.uber.org/zap"
)

// contextManager keeps exactly one current context on an engine handle.
type contextManager struct {
	engine    Engine
	current   ContextID
	rotations int
	metrics   *Metrics
	log       *zap.Logger
}

func newContextManager(engine Engine, metrics *Metrics, log *zap.Logger) *contextManager {
	return &contextManager{engine: engine, metrics: metrics, log: log}
}

// create makes a new context current. A failure leaves the runtime with
// nowhere to evaluate and is reported as ErrInit.
func (cm *contextManager) create() error {
	id, code := cm.engine.CreateContext()
	if code != ErrorCodeNoError {
		return fmt.Errorf("%w: create context: %s", ErrInit, code)
	}
	if code := cm.engine.SetCurrentContext(id); code != ErrorCodeNoError {
		return fmt.Errorf("%w: set current context: %s", ErrInit, code)
	}
	cm.current = id
	cm.metrics.contextCreated()
	cm.log.Debug("context created", zap.String("context", string(id)))
	return nil
}

// rotate replaces the current context. Script globals of the old context
// are gone afterwards; the preamble is re-run on the next evaluation.
func (cm *contextManager) rotate() error {
	prev := cm.current
	if err := cm.create(); err != nil {
		return err
	}
	cm.rotations++
	cm.metrics.contextRotated()
	cm.log.Debug("context rotated",
		zap.String("from", string(prev)),
		zap.String("to", string(cm.current)),
		zap.Int("rotations", cm.rotations))
	return nil
}
