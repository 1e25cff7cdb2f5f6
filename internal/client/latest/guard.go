// Package latest implements last-request-wins for interactive calls: when
// the user re-triggers an action, the previous in-flight call is cancelled
// and its result is discarded even if it completes first.
package latest

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded is returned to a call that was overtaken by a newer one.
var ErrSuperseded = errors.New("superseded by a newer request")

// Guard tracks the newest call. The zero value is ready to use.
type Guard struct {
	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// Do runs fn as the newest call, cancelling the previous one. If another
// call starts before fn returns, the result is dropped and ErrSuperseded is
// returned.
func Do[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		v      T
		fnErr  error
		result = func(rv T, rerr error) { v, fnErr = rv, rerr }
	)
	if err := Deliver(ctx, g, fn, result); err != nil {
		var zero T
		return zero, err
	}
	return v, fnErr
}

// Deliver runs fn like Do and hands its result to deliver only if the call
// is still the newest. deliver runs under the guard's lock: a newer call
// cannot start, let alone deliver, until it returns, so results reach the
// consumer in call order. deliver must not use g.
func Deliver[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error), deliver func(T, error)) error {
	ctx, gen := g.begin(ctx)

	v, err := fn(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()

	if gen != g.gen {
		return ErrSuperseded
	}
	g.cancel()
	g.cancel = nil
	deliver(v, err)
	return nil
}

func (g *Guard) begin(parent context.Context) (context.Context, uint64) {
	ctx, cancel := context.WithCancel(parent)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cancel != nil {
		g.cancel()
	}
	g.gen++
	g.cancel = cancel
	return ctx, g.gen
}

// Cancel abandons the current call, if any.
func (g *Guard) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	g.gen++
}
