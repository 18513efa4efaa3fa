package supervisor

import (
	"context"

	"github.com/thejerf/suture/v4"
)

// Func adapts a function to suture.Service. Name shows up in supervisor
// logs.
type Func struct {
	Name string
	Run  func(ctx context.Context) error
}

func (f Func) Serve(ctx context.Context) error { return f.Run(ctx) }

func (f Func) String() string { return f.Name }

// Once runs fn until it succeeds. Failures are restarted with the tree's
// backoff; success removes the service from the tree.
func Once(name string, fn func(ctx context.Context) error) Func {
	return Func{Name: name, Run: func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return err
		}
		return suture.ErrDoNotRestart
	}}
}

// UntilDone runs start, then blocks until ctx is done. It suits components
// that install background work and stop it with ctx.
func UntilDone(name string, start func(ctx context.Context) error) Func {
	return Func{Name: name, Run: func(ctx context.Context) error {
		if err := start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	}}
}
