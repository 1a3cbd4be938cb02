package exception

import (
	"context"
	"os"
	"runtime/debug"

	"github.com/mezonai/msig/logx"
	"github.com/mezonai/msig/monitoring"
)

func SafeGo(name string, fn func()) {
	go func() {
		defer recoverPanic(name, false)
		fn()
	}()
}

func SafeGoWithPanic(name string, fn func()) {
	go func() {
		defer recoverPanic(name, true)
		fn()
	}()
}

// SafeRun runs fn on the calling goroutine and turns a panic into a returned error.
func SafeRun(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.IncreasePanicCount()
			logx.Error("PANIC", "Panic in:", name, r, string(debug.Stack()))
			err = logx.Errorf("panic in %s: %v", name, r)
		}
	}()
	return fn(ctx)
}

func recoverPanic(name string, exit bool) {
	if r := recover(); r != nil {
		monitoring.IncreasePanicCount()
		logx.Error("PANIC", "Panic in:", name, r, string(debug.Stack()))
		if exit {
			os.Exit(1)
		}
	}
}
