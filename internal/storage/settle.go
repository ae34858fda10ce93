package storage

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// settleLatch lets exactly one of several racing events produce the outcome of a call.
type settleLatch struct {
	settled atomic.Bool
}

// settle returns true for the first caller only.
func (l *settleLatch) settle() bool {
	return l.settled.CompareAndSwap(false, true)
}

type transferOutcome struct {
	size int64
	err  error
}

// transferFunc performs the provider transfer and returns the size the provider reports.
type transferFunc func(ctx context.Context, body io.Reader) (int64, error)

// guardedTransfer runs transfer against body and races it with timeout and ctx.
// When the timer or ctx wins, body is closed and the transfer context is
// cancelled; whatever the transfer reports afterwards is dropped.
func guardedTransfer(ctx context.Context, timeout time.Duration, body io.ReadCloser, transfer transferFunc) (int64, error) {
	if timeout <= 0 {
		timeout = DefaultUploadTimeout
	}

	tctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var latch settleLatch
	done := make(chan transferOutcome, 1)

	go func() {
		size, err := transfer(tctx, body)
		if !latch.settle() {
			return
		}
		done <- transferOutcome{size: size, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var abortErr error
	select {
	case out := <-done:
		return finishTransfer(out)
	case <-timer.C:
		abortErr = fmt.Errorf("%w after %s", ErrUploadTimeout, timeout)
	case <-ctx.Done():
		abortErr = context.Cause(ctx)
	}

	if !latch.settle() {
		// the transfer settled between the timer firing and this point
		return finishTransfer(<-done)
	}
	_ = body.Close()
	cancel()
	return 0, abortErr
}

func finishTransfer(out transferOutcome) (int64, error) {
	if out.err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransfer, out.err)
	}
	return out.size, nil
}
