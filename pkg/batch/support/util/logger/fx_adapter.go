package logger

import (
	"strings"

	"go.uber.org/fx/fxevent"
)

// FxLoggerAdapter routes fx lifecycle events to the leveled logger so that
// dependency wiring only shows up at DEBUG while failures surface as errors.
type FxLoggerAdapter struct{}

// NewFxLoggerAdapter creates a new FxLoggerAdapter.
func NewFxLoggerAdapter() fxevent.Logger {
	return &FxLoggerAdapter{}
}

// LogEvent implements fxevent.Logger.
func (l *FxLoggerAdapter) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuted:
		if e.Err != nil {
			Errorf("start hook %s failed: %v", hookName(e.FunctionName), e.Err)
			return
		}
		Debugf("start hook %s done in %s", hookName(e.FunctionName), e.Runtime)
	case *fxevent.OnStopExecuted:
		if e.Err != nil {
			Errorf("stop hook %s failed: %v", hookName(e.FunctionName), e.Err)
			return
		}
		Debugf("stop hook %s done in %s", hookName(e.FunctionName), e.Runtime)
	case *fxevent.Supplied:
		if e.Err != nil {
			Errorf("supply %s failed: %v", e.TypeName, e.Err)
		}
	case *fxevent.Provided:
		if e.Err != nil {
			Errorf("provide via %s failed: %v", hookName(e.ConstructorName), e.Err)
			return
		}
		Debugf("provided %s", strings.Join(e.OutputTypeNames, ", "))
	case *fxevent.Invoked:
		if e.Err != nil {
			Errorf("invoke %s failed: %v", hookName(e.FunctionName), e.Err)
		}
	case *fxevent.Stopping:
		Debugf("received %s, stopping", e.Signal)
	case *fxevent.RollingBack:
		Errorf("start failed, rolling back: %v", e.StartErr)
	case *fxevent.RolledBack:
		if e.Err != nil {
			Errorf("rollback failed: %v", e.Err)
		}
	case *fxevent.Started:
		if e.Err != nil {
			Errorf("application start failed: %v", e.Err)
			return
		}
		Debugf("application started")
	case *fxevent.LoggerInitialized:
		if e.Err != nil {
			Errorf("fx logger initialization failed: %v", e.Err)
		}
	}
}

// hookName strips the anonymous closure suffix fx reports (".func1") so the
// enclosing constructor is logged instead.
func hookName(funcName string) string {
	if idx := strings.LastIndex(funcName, ".func"); idx != -1 {
		return funcName[:idx]
	}
	return funcName
}
