package util

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// CatchPanicOrError runs f and converts a panic into an error
func CatchPanicOrError(f func() error, includeStack ...bool) error {
	var err error
	var stack string
	takeStack := len(includeStack) > 0 && includeStack[0]
	func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if takeStack {
				stack = string(debug.Stack())
			}
			var ok bool
			if err, ok = r.(error); !ok {
				err = fmt.Errorf("%v (err type=%T)", r, r)
			}
		}()
		err = f()
	}()
	if err != nil && takeStack {
		err = fmt.Errorf("%w\n%s", err, stack)
	}
	return err
}

// RunWrappedRoutine starts fun in a goroutine. Uncaught panic is passed to onUncaughtPanic,
// unless it matches one of ignored errors
func RunWrappedRoutine(name string, fun func(), onUncaughtPanic func(err error), ignore ...error) {
	go func() {
		err := CatchPanicOrError(func() error {
			fun()
			return nil
		}, true)
		if err == nil {
			return
		}
		for _, e := range ignore {
			if errors.Is(err, e) {
				return
			}
		}
		err = fmt.Errorf("uncaught panic in '%s': %v", name, err)
		if onUncaughtPanic != nil {
			onUncaughtPanic(err)
		} else {
			panic(err)
		}
	}()
}
