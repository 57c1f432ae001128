package rhi

import (
	"context"
	"sync"
)

// executor runs entry lists and backend calls for a device.
//
// Every native call of a device goes through its executor: lists, factory
// calls, destroy fences and presentation. The immediate executor runs them
// on the calling goroutine; the replay worker runs them on one locked OS
// thread in submission order.
type executor interface {
	// submit hands a submitted list over for execution. The immediate
	// executor returns the list's fault; the replay worker returns once the
	// list is queued.
	submit(list *EntryList) error

	// fence runs fn after every list submitted before it.
	fence(fn func())

	// do runs fn after every list submitted before it and returns its
	// error. It blocks until fn has run.
	do(fn func() error) error

	// waitIdle blocks until everything submitted so far has executed.
	waitIdle(ctx context.Context) error

	// shutdown runs fn as the last job and stops the executor.
	shutdown(fn func() error) error
}

// immediateExecutor runs everything on the calling goroutine. The mutex
// serializes lists from concurrent submitters so they never interleave.
type immediateExecutor struct {
	dev *Device

	mu      sync.Mutex
	stopped bool
}

func newImmediateExecutor(dev *Device) *immediateExecutor {
	return &immediateExecutor{dev: dev}
}

func (e *immediateExecutor) lock() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrDeviceClosed
	}
	return nil
}

func (e *immediateExecutor) unlock() {
	e.mu.Unlock()
}

func (e *immediateExecutor) submit(list *EntryList) error {
	if err := e.lock(); err != nil {
		list.finish(err)
		return err
	}
	defer e.unlock()
	return e.dev.runList(list)
}

func (e *immediateExecutor) fence(fn func()) {
	if e.lock() != nil {
		return
	}
	defer e.unlock()
	fn()
}

func (e *immediateExecutor) do(fn func() error) error {
	if err := e.lock(); err != nil {
		return err
	}
	defer e.unlock()
	return fn()
}

func (e *immediateExecutor) waitIdle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.lock(); err != nil {
		return err
	}
	defer e.unlock()
	return e.dev.native.WaitIdle()
}

func (e *immediateExecutor) shutdown(fn func() error) error {
	if err := e.lock(); err != nil {
		return err
	}
	defer e.unlock()
	e.stopped = true
	return fn()
}
