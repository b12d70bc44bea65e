// Package bounded waits for a blocking operation for at most a fixed amount of
// wall-clock time.
//
// The operation is never cancelled: when the deadline passes the caller gets
// Timeout back immediately and the operation keeps running in its own goroutine
// until it returns on its own. Work detached this way still holds whatever it
// was using (CPU, the model, open files), so timeouts and concurrency have to
// be sized with that in mind. Detached reports how much of it is in flight.
package bounded

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

const DefaultTimeout = 300 * time.Second

var ErrTimeout = errors.New("operation timed out")

type Kind int

const (
	Success Kind = iota
	EngineError
	Timeout
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case EngineError:
		return "engine_error"
	case Timeout:
		return "timeout"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

const (
	statePending int32 = iota
	stateFinished
	stateAbandoned
)

type Outcome struct {
	Kind    Kind
	Text    string
	Err     error
	Elapsed time.Duration
}

type Operation func(ctx context.Context) (string, error)

// LateFunc is called from the detached goroutine once an operation that
// already timed out finally returns.
type LateFunc func(text string, err error, elapsed time.Duration)

type Executor struct {
	OnLate LateFunc

	detached atomic.Int64
}

func (e *Executor) Detached() int64 {
	return e.detached.Load()
}

// Run starts op and waits for it, for timeout at most. A non-positive timeout
// means DefaultTimeout. The context handed to op keeps ctx's values but is
// never cancelled.
func (e *Executor) Run(ctx context.Context, op Operation, timeout time.Duration) Outcome {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if ctx == nil {
		ctx = context.Background()
	}

	type result struct {
		text string
		err  error
	}

	// state moves from pending to exactly one of finished or abandoned.
	var state atomic.Int32
	done := make(chan result, 1)
	started := time.Now()

	go func() {
		text, err := invoke(context.WithoutCancel(ctx), op)
		if state.CompareAndSwap(statePending, stateFinished) {
			done <- result{text: text, err: err}
			return
		}

		e.detached.Add(-1)
		if e.OnLate != nil {
			e.OnLate(text, err, time.Since(started))
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return outcomeOf(r.text, r.err, time.Since(started))
	case <-timer.C:
	}

	e.detached.Add(1)
	if !state.CompareAndSwap(statePending, stateAbandoned) {
		// Finished at the same instant the timer fired.
		e.detached.Add(-1)
		r := <-done
		return outcomeOf(r.text, r.err, time.Since(started))
	}

	return Outcome{Kind: Timeout, Err: fmt.Errorf("%w after %s", ErrTimeout, timeout), Elapsed: time.Since(started)}
}

func outcomeOf(text string, err error, elapsed time.Duration) Outcome {
	if err != nil {
		return Outcome{Kind: EngineError, Err: err, Elapsed: elapsed}
	}
	return Outcome{Kind: Success, Text: text, Elapsed: elapsed}
}

func invoke(ctx context.Context, op Operation) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return op(ctx)
}
