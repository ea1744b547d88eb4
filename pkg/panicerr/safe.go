// Package panicerr turns panics in background work into Internal errors so a
// single bad callback cannot take the process down.
package panicerr

import (
	"context"

	"github.com/sourcegraph/conc/panics"

	"github.com/kazz187/worktrack/pkg/cerr"
)

// Safe wraps fn so a panic is returned as an error.
func Safe(fn func() error) func() error {
	return func() error {
		var (
			catcher panics.Catcher
			err     error
		)
		catcher.Try(func() {
			err = fn()
		})
		return result(catcher.Recovered(), err)
	}
}

// SafeContext is Safe for functions that take a context.
func SafeContext(fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		var (
			catcher panics.Catcher
			err     error
		)
		catcher.Try(func() {
			err = fn(ctx)
		})
		return result(catcher.Recovered(), err)
	}
}

// Value runs fn and returns its result, or the zero value and an error when
// fn panics.
func Value[T any](fn func() (T, error)) (T, error) {
	var (
		catcher panics.Catcher
		v       T
		err     error
	)
	catcher.Try(func() {
		v, err = fn()
	})
	if r := catcher.Recovered(); r != nil {
		var zero T
		return zero, result(r, nil)
	}
	return v, err
}

func result(r *panics.Recovered, err error) error {
	if r != nil {
		e := cerr.NewError(cerr.Internal, "recovered from panic", r.AsError())
		e.Stack = string(r.Stack)
		return e
	}
	return err
}
