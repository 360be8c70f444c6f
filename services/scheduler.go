package services

// The scheduler is the cluster that runs plugin and enrichment
// tasks. It has a fixed number of slots. A task that waits for tasks
// it submitted must give up its slot for the duration of the wait
// (Secede) and take one back afterwards (Rejoin), otherwise the
// children may never get a slot.

import (
	"context"
	"errors"
	"sync"
)

var (
	scheduler_mu sync.Mutex
	g_scheduler  Scheduler

	// A task with the same key is already running.
	ErrBusy = errors.New("Task already in flight")

	ErrReservationUsed = errors.New("Reservation already used")
)

func GetScheduler() (Scheduler, error) {
	scheduler_mu.Lock()
	defer scheduler_mu.Unlock()

	if g_scheduler == nil {
		return nil, notReady("Scheduler")
	}
	return g_scheduler, nil
}

func RegisterScheduler(s Scheduler) {
	scheduler_mu.Lock()
	defer scheduler_mu.Unlock()

	g_scheduler = s
}

type TaskFunc func(ctx context.Context) (interface{}, error)

type TaskResult struct {
	Name   string
	Result interface{}
	Err    error
}

// Resolved exactly once when its task finishes.
type Future struct {
	name string
	once sync.Once
	done chan struct{}

	result interface{}
	err    error
}

func (self *Future) Name() string {
	return self.name
}

func (self *Future) Done() <-chan struct{} {
	return self.done
}

func (self *Future) Resolve(result interface{}, err error) {
	self.once.Do(func() {
		self.result = result
		self.err = err
		close(self.done)
	})
}

func (self *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-self.done:
		return self.result, self.err
	}
}

func NewFuture(name string) *Future {
	return &Future{name: name, done: make(chan struct{})}
}

// A key held for a task which has not been submitted yet.
type Reservation interface {
	// Queue the task under the reserved key. Can only be called
	// once.
	Submit(ctx context.Context, fn TaskFunc) (*Future, error)

	// Give the key back without running anything. A no-op after
	// Submit.
	Release()
}

type Scheduler interface {
	// Queue fn to run when a slot is free. A non empty key must not
	// already be in flight, otherwise ErrBusy is returned.
	Submit(ctx context.Context, key string, fn TaskFunc) (*Future, error)

	// Claim the key before doing work which must not race a task
	// with the same key. Returns ErrBusy when it is in flight.
	Reserve(key string) (Reservation, error)

	// Wait for all the futures to resolve.
	Gather(ctx context.Context, futures []*Future) []TaskResult

	// Release the slot held by the task running in ctx. A no-op
	// outside a task.
	Secede(ctx context.Context)

	// Take a slot back after Secede.
	Rejoin(ctx context.Context) error

	Close()
}

// Fan in the futures without holding a slot while waiting.
func GatherDetached(ctx context.Context,
	scheduler Scheduler, futures []*Future) ([]TaskResult, error) {
	scheduler.Secede(ctx)
	results := scheduler.Gather(ctx, futures)
	return results, scheduler.Rejoin(ctx)
}
