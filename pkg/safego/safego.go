package safego

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

// Execute runs the given function in a new goroutine.
// It recovers from any panics within the goroutine, logs them with the provided logger and a descriptive name,
// and includes a stack trace.
func Execute(ctx context.Context, logger domain.Logger, goroutineName string, fn func()) {
	go func() {
		defer recoverAndLog(ctx, logger, goroutineName)
		fn()
	}()
}

// ExecuteTracked behaves like Execute but registers the goroutine on wg so callers can wait for it
// during shutdown. wg.Done is called even when fn panics.
func ExecuteTracked(ctx context.Context, logger domain.Logger, goroutineName string, wg *sync.WaitGroup, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer recoverAndLog(ctx, logger, goroutineName)
		fn()
	}()
}

// Call runs fn synchronously and converts a panic into an error so a single poisoned job
// cannot take down a worker loop.
func Call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}

func recoverAndLog(ctx context.Context, logger domain.Logger, goroutineName string) {
	if r := recover(); r != nil {
		// Create a new context if the original one is done, to ensure logging still works.
		logCtx := ctx
		if ctx.Err() != nil {
			logCtx = context.Background()
		}
		logger.Error(logCtx, fmt.Sprintf("Panic recovered in goroutine: %s", goroutineName),
			"panic_info", fmt.Sprintf("%v", r),
			"stacktrace", string(debug.Stack()),
		)
	}
}
