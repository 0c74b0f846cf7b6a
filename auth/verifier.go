package auth

import (
	"context"
	"sync/atomic"
)

type verifyState int32

const (
	stateUninitialized verifyState = iota
	stateVerifying
	stateReady
)

func (s verifyState) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateVerifying:
		return "verifying"
	case stateReady:
		return "ready"
	}
	return "unknown"
}

// verifier is the one-shot start-up check. Only the first
// uninitialized -> verifying transition is taken; every later call is a no-op.
type verifier struct {
	state atomic.Int32
	ready chan struct{}
}

func newVerifier() *verifier {
	return &verifier{ready: make(chan struct{})}
}

func (v *verifier) begin() bool {
	return v.state.CompareAndSwap(int32(stateUninitialized), int32(stateVerifying))
}

func (v *verifier) finish() {
	v.state.Store(int32(stateReady))
	close(v.ready)
}

func (v *verifier) current() verifyState {
	return verifyState(v.state.Load())
}

func (v *verifier) wait(ctx context.Context) error {
	select {
	case <-v.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
