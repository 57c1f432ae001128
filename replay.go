package rhi

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
)

type jobKind uint8

const (
	jobList jobKind = iota
	jobFence
	jobCall
	jobBarrier
	jobStop
)

// job is one unit of work in the intake queue.
type job struct {
	kind    jobKind
	list    *EntryList
	fence   func()
	call    func() error
	result  chan error
	barrier chan struct{}
}

// intake is the FIFO shared by submitters and the replay worker. It is the
// only mutable state the two sides share.
type intake struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []job
	head   int
	closed bool

	// outstanding counts jobs pushed and not yet finished.
	outstanding int
}

func newIntake() *intake {
	in := &intake{}
	in.cond = sync.NewCond(&in.mu)
	return in
}

// push appends j. After a stop job has been pushed the intake refuses new
// work with ErrDeviceClosed.
func (in *intake) push(j job) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return ErrDeviceClosed
	}
	if j.kind == jobStop {
		in.closed = true
	}
	in.queue = append(in.queue, j)
	in.outstanding++
	in.cond.Signal()
	return nil
}

// pop blocks until a job is available.
func (in *intake) pop() job {
	in.mu.Lock()
	defer in.mu.Unlock()

	for in.head == len(in.queue) {
		in.cond.Wait()
	}
	j := in.queue[in.head]
	in.queue[in.head] = job{}
	in.head++
	if in.head == len(in.queue) {
		in.queue = in.queue[:0]
		in.head = 0
	}
	return j
}

// done marks one popped job as finished.
func (in *intake) done() {
	in.mu.Lock()
	in.outstanding--
	in.mu.Unlock()
}

// pushIfBusy enqueues a barrier unless nothing is outstanding. It returns
// nil when the intake is already idle.
func (in *intake) pushIfBusy() (chan struct{}, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.outstanding == 0 {
		return nil, nil
	}
	if in.closed {
		return nil, ErrDeviceClosed
	}
	ch := make(chan struct{})
	in.queue = append(in.queue, job{kind: jobBarrier, barrier: ch})
	in.outstanding++
	in.cond.Signal()
	return ch, nil
}

func (in *intake) len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.outstanding
}

// replayWorker executes lists and backend calls on a single goroutine
// locked to its OS thread. Context-affine backends are only ever called
// from that thread.
type replayWorker struct {
	dev    *Device
	in     *intake
	exited chan struct{}
}

// startReplayWorker starts the worker and waits until it has made the
// backend context current.
func startReplayWorker(dev *Device) (*replayWorker, error) {
	w := &replayWorker{
		dev:    dev,
		in:     newIntake(),
		exited: make(chan struct{}),
	}
	ready := make(chan error, 1)
	go w.run(ready)
	if err := <-ready; err != nil {
		<-w.exited
		return nil, fmt.Errorf("rhi: starting replay worker: %w", err)
	}
	return w, nil
}

func (w *replayWorker) run(ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.exited)

	binder, _ := w.dev.native.(ContextBinder)
	if binder != nil {
		if err := binder.MakeCurrent(); err != nil {
			ready <- err
			return
		}
	}
	ready <- nil
	Logger().Debug("rhi: replay worker started", "backend", w.dev.info.Name)

	for {
		j := w.in.pop()
		switch j.kind {
		case jobList:
			_ = w.dev.runList(j.list)
		case jobFence:
			j.fence()
		case jobCall:
			j.result <- j.call()
		case jobBarrier:
			close(j.barrier)
		case jobStop:
			err := j.call()
			if binder != nil {
				err = errors.Join(err, binder.ReleaseCurrent())
			}
			w.in.done()
			Logger().Debug("rhi: replay worker stopped", "backend", w.dev.info.Name)
			j.result <- err
			return
		}
		w.in.done()
	}
}

func (w *replayWorker) submit(list *EntryList) error {
	if err := w.in.push(job{kind: jobList, list: list}); err != nil {
		list.finish(err)
		return err
	}
	return nil
}

func (w *replayWorker) fence(fn func()) {
	_ = w.in.push(job{kind: jobFence, fence: fn})
}

func (w *replayWorker) do(fn func() error) error {
	result := make(chan error, 1)
	if err := w.in.push(job{kind: jobCall, call: fn, result: result}); err != nil {
		return err
	}
	return <-result
}

func (w *replayWorker) waitIdle(ctx context.Context) error {
	barrier, err := w.in.pushIfBusy()
	if err != nil || barrier == nil {
		return err
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *replayWorker) shutdown(fn func() error) error {
	result := make(chan error, 1)
	if err := w.in.push(job{kind: jobStop, call: fn, result: result}); err != nil {
		return err
	}
	err := <-result
	<-w.exited
	return err
}
