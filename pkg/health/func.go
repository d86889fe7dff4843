package health

import (
	"context"
	"time"
)

// FuncChecker adapts a probe function, such as a store ping, to Checker
type FuncChecker struct {
	fn func(ctx context.Context) error
}

// NewFuncChecker wraps fn; a nil error means healthy
func NewFuncChecker(fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{fn: fn}
}

func (f *FuncChecker) Check(ctx context.Context) Result {
	start := time.Now()
	err := f.fn(ctx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	result := Result{
		Healthy:   err == nil,
		Message:   "ok",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Message = err.Error()
	}
	return result
}

func (f *FuncChecker) Kind() Kind {
	return KindFunc
}
