// The scheduler runs tasks on a bounded number of slots.
//
// Every task runs on its own goroutine from the pool but must hold a
// slot while it does work. A task which fans out and waits for its
// children gives its slot back (Secede) so the children can run, and
// takes a slot again (Rejoin) before continuing.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/Velocidex/ordereddict"
	"github.com/alitto/pond/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/logging"
	"www.velocidex.com/golang/memtriage/services"
	"www.velocidex.com/golang/memtriage/utils"
)

var (
	tasksSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memtriage_scheduler_tasks_submitted",
		Help: "Number of tasks submitted to the scheduler.",
	})

	tasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memtriage_scheduler_tasks_failed",
		Help: "Number of tasks which returned an error.",
	})

	slotsBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "memtriage_scheduler_slots_busy",
		Help: "Number of scheduler slots currently held by a task.",
	})
)

type slotKey struct{}

// Tracks if the task running in a context holds its slot.
type slotToken struct {
	mu   sync.Mutex
	held bool
}

type Scheduler struct {
	config_obj *config_proto.Config

	pool  pond.Pool
	slots *semaphore.Weighted
	size  int64

	mu        sync.Mutex
	in_flight map[string]bool
	busy      int64
}

// Holds a key until its task is submitted or the reservation is
// released.
type reservation struct {
	scheduler *Scheduler
	key       string

	mu   sync.Mutex
	done bool
}

func (self *reservation) Submit(
	ctx context.Context, fn services.TaskFunc) (*services.Future, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	if self.done {
		return nil, fmt.Errorf("%w: %v", services.ErrReservationUsed, self.key)
	}
	self.done = true

	return self.scheduler.submit(ctx, self.key, fn), nil
}

func (self *reservation) Release() {
	self.mu.Lock()
	defer self.mu.Unlock()

	if self.done {
		return
	}
	self.done = true
	self.scheduler.forget(self.key)
}

func (self *Scheduler) Reserve(key string) (services.Reservation, error) {
	if key != "" {
		self.mu.Lock()
		defer self.mu.Unlock()

		if self.in_flight[key] {
			return nil, fmt.Errorf("%w: %v", services.ErrBusy, key)
		}
		self.in_flight[key] = true
	}

	return &reservation{scheduler: self, key: key}, nil
}

func (self *Scheduler) Submit(ctx context.Context,
	key string, fn services.TaskFunc) (*services.Future, error) {
	reservation, err := self.Reserve(key)
	if err != nil {
		return nil, err
	}
	return reservation.Submit(ctx, fn)
}

// The key stays reserved until the task finishes.
func (self *Scheduler) submit(ctx context.Context,
	key string, fn services.TaskFunc) *services.Future {
	future := services.NewFuture(key)
	tasksSubmitted.Inc()

	self.pool.Submit(func() {
		result, err := self.runTask(ctx, fn)
		if err != nil {
			tasksFailed.Inc()
		}

		self.forget(key)
		future.Resolve(result, err)
	})

	return future
}

func (self *Scheduler) forget(key string) {
	if key == "" {
		return
	}

	self.mu.Lock()
	delete(self.in_flight, key)
	self.mu.Unlock()
}

func (self *Scheduler) runTask(ctx context.Context,
	fn services.TaskFunc) (result interface{}, err error) {
	token := &slotToken{}
	err = self.acquire(ctx, token)
	if err != nil {
		return nil, err
	}
	defer self.release(token)

	defer utils.RecoverError(&err)

	return fn(context.WithValue(ctx, slotKey{}, token))
}

func (self *Scheduler) acquire(ctx context.Context, token *slotToken) error {
	token.mu.Lock()
	defer token.mu.Unlock()

	if token.held {
		return nil
	}

	err := self.slots.Acquire(ctx, 1)
	if err != nil {
		return err
	}
	token.held = true

	self.mu.Lock()
	self.busy++
	self.mu.Unlock()
	slotsBusy.Inc()
	return nil
}

func (self *Scheduler) release(token *slotToken) {
	token.mu.Lock()
	defer token.mu.Unlock()

	if !token.held {
		return
	}
	token.held = false
	self.slots.Release(1)

	self.mu.Lock()
	self.busy--
	self.mu.Unlock()
	slotsBusy.Dec()
}

func (self *Scheduler) Secede(ctx context.Context) {
	token, ok := ctx.Value(slotKey{}).(*slotToken)
	if ok {
		self.release(token)
	}
}

func (self *Scheduler) Rejoin(ctx context.Context) error {
	token, ok := ctx.Value(slotKey{}).(*slotToken)
	if !ok {
		return nil
	}
	return self.acquire(ctx, token)
}

func (self *Scheduler) Gather(ctx context.Context,
	futures []*services.Future) []services.TaskResult {
	result := make([]services.TaskResult, 0, len(futures))
	for _, future := range futures {
		value, err := future.Wait(ctx)
		result = append(result, services.TaskResult{
			Name:   future.Name(),
			Result: value,
			Err:    err,
		})
	}
	return result
}

func (self *Scheduler) Stats() *ordereddict.Dict {
	self.mu.Lock()
	defer self.mu.Unlock()

	in_flight := make([]string, 0, len(self.in_flight))
	for k := range self.in_flight {
		in_flight = append(in_flight, k)
	}

	return ordereddict.NewDict().
		Set("Slots", self.size).
		Set("Busy", self.busy).
		Set("RunningTasks", self.pool.RunningWorkers()).
		Set("SubmittedTasks", self.pool.SubmittedTasks()).
		Set("CompletedTasks", self.pool.CompletedTasks()).
		Set("InFlight", in_flight)
}

func (self *Scheduler) Close() {
	self.pool.StopAndWait()
}

// The pool itself is unbounded: the slots limit concurrency.
func NewScheduler(config_obj *config_proto.Config) *Scheduler {
	size := int64(config_obj.Scheduler.Slots)
	if size <= 0 {
		size = 1
	}

	return &Scheduler{
		config_obj: config_obj,
		pool:       pond.NewPool(0),
		slots:      semaphore.NewWeighted(size),
		size:       size,
		in_flight:  make(map[string]bool),
	}
}

func StartSchedulerService(
	ctx context.Context,
	wg *sync.WaitGroup,
	config_obj *config_proto.Config) error {

	logger := logging.GetLogger(config_obj, &logging.OrchestratorComponent)
	logger.Info("Starting <green>Scheduler Service</> with %v slots",
		config_obj.Scheduler.Slots)

	scheduler := NewScheduler(config_obj)
	services.RegisterScheduler(scheduler)

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		scheduler.Close()
	}()

	return nil
}
