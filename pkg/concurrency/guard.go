// Package concurrency provides the exclusive-ownership token that
// arbitrates access to a shared connection: at any instant the socket has
// exactly one logical owner, either the background listener or one
// foreground transfer.
package concurrency

import (
	"errors"
)

// ErrBusy is returned by TryAcquire when another owner holds the token.
var ErrBusy = errors.New("connection is busy")

// Guard is a single-slot semaphore. Unlike a mutex-plus-flag convention,
// ownership is the token itself: code that has not acquired the Guard has
// nothing to read with.
type Guard struct {
	slot chan struct{}
}

// NewGuard returns a Guard with the token available.
func NewGuard() *Guard {
	g := &Guard{slot: make(chan struct{}, 1)}
	g.slot <- struct{}{}
	return g
}

// Acquire blocks until the token is available and takes it.
func (g *Guard) Acquire() {
	<-g.slot
}

// TryAcquire takes the token if it is free, otherwise returns ErrBusy
// without blocking. The listener loop uses this so it yields the socket
// to a transfer instead of being preempted mid-read.
func (g *Guard) TryAcquire() error {
	select {
	case <-g.slot:
		return nil
	default:
		return ErrBusy
	}
}

// Release returns the token. Releasing a token that was never acquired is
// a programming error and panics.
func (g *Guard) Release() {
	select {
	case g.slot <- struct{}{}:
	default:
		panic("concurrency: release of unheld guard")
	}
}

// Execute runs task while holding the token, failing fast with ErrBusy if
// another owner holds it.
func (g *Guard) Execute(task func() error) error {
	if err := g.TryAcquire(); err != nil {
		return err
	}
	defer g.Release()
	return task()
}
