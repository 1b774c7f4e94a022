package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/bher20/hdotariff/internal/log"
)

// Supervise runs fn until ctx is done, restarting it after a panic or an
// error. A clean return or a context error ends supervision.
func Supervise(ctx context.Context, name string, restartDelay time.Duration, fn func(context.Context) error) error {
	logger := log.Ctx(ctx).With(slog.String("task", name))
	for {
		err := runGuarded(ctx, fn)
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.ErrorContext(ctx, "supervisor: task stopped, restarting",
			slog.Any("error", err), slog.Duration("delay", restartDelay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(restartDelay):
		}
	}
}

func runGuarded(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}
