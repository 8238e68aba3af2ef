// Package cron runs recurring tasks on six-field cron expressions (seconds
// first). Each task arms one timer for its next fire time, runs to
// completion, and only then computes the following fire time, so runs of a
// task never overlap.
package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/SegaraRai/streamist-sub001/internal/logger"
	"github.com/SegaraRai/streamist-sub001/internal/metrics"
	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Parse validates a six-field cron expression.
func Parse(spec string) (cron.Schedule, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("cron: parse %q: %w", spec, err)
	}
	return sched, nil
}

type TaskID uint64

type Func func(ctx context.Context) error

type Scheduler struct {
	ctx      context.Context
	clock    Clock
	location *time.Location
	maxDelay time.Duration

	mu     sync.Mutex
	nextID TaskID
	tasks  map[TaskID]*task
}

type Option func(*Scheduler)

func WithClock(clock Clock) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// WithLocation sets the default time zone of new tasks. The default is UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		s.location = loc
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		s.maxDelay = d
	}
}

// New creates a scheduler whose tasks run with ctx. Cancelling ctx does not
// stop tasks; use UnscheduleAll.
func New(ctx context.Context, opts ...Option) *Scheduler {
	s := &Scheduler{
		ctx:      ctx,
		clock:    RealClock,
		location: time.UTC,
		maxDelay: DefaultMaxDelay,
		tasks:    make(map[TaskID]*task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type taskOptions struct {
	name     string
	location *time.Location
}

type TaskOption func(*taskOptions)

// Named labels the task in logs and metrics.
func Named(name string) TaskOption {
	return func(o *taskOptions) {
		o.name = name
	}
}

func InLocation(loc *time.Location) TaskOption {
	return func(o *taskOptions) {
		o.location = loc
	}
}

type task struct {
	id       TaskID
	name     string
	spec     string
	schedule cron.Schedule
	location *time.Location
	fn       Func

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu   sync.Mutex
	next time.Time
}

// Schedule registers fn to run on spec and arms its first timer.
func (s *Scheduler) Schedule(spec string, fn Func, opts ...TaskOption) (TaskID, error) {
	sched, err := Parse(spec)
	if err != nil {
		return 0, err
	}

	o := taskOptions{location: s.location}
	for _, opt := range opts {
		opt(&o)
	}

	s.mu.Lock()
	s.nextID++
	t := &task{
		id:       s.nextID,
		name:     o.name,
		spec:     spec,
		schedule: sched,
		location: o.location,
		fn:       fn,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if t.name == "" {
		t.name = fmt.Sprintf("task-%d", t.id)
	}
	s.tasks[t.id] = t
	s.mu.Unlock()

	go s.loop(t)
	return t.id, nil
}

func (s *Scheduler) loop(t *task) {
	defer close(t.done)

	log := logger.FromContext(s.ctx).With("task", t.name)

	for {
		next := t.schedule.Next(s.clock.Now().In(t.location))
		if next.IsZero() {
			log.Warn("cron expression has no future fire time", "spec", t.spec)
			return
		}
		t.mu.Lock()
		t.next = next
		t.mu.Unlock()

		fired := make(chan struct{})
		timer := AfterFuncAt(s.clock, next, s.maxDelay, func() { close(fired) })

		select {
		case <-t.quit:
			timer.Stop()
			return
		case <-fired:
		}

		select {
		case <-t.quit:
			return
		default:
		}

		s.run(t)
	}
}

func (s *Scheduler) run(t *task) {
	log := logger.FromContext(s.ctx).With("task", t.name)
	start := s.clock.Now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return t.fn(s.ctx)
	}()

	duration := s.clock.Now().Sub(start)
	metrics.RecordCronRun(t.name, err, duration)
	if err != nil {
		log.Error("scheduled task failed", "error", err, "duration_ms", duration.Milliseconds())
		return
	}
	log.Debug("scheduled task completed", "duration_ms", duration.Milliseconds())
}

// Unschedule stops a task. If the task is running, Unschedule waits for the
// run to finish. It reports false for an unknown id.
func (s *Scheduler) Unschedule(id TaskID) bool {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return false
	}

	t.stopOnce.Do(func() { close(t.quit) })
	<-t.done

	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
	return true
}

// UnscheduleAll stops every task and waits for all in-flight runs.
func (s *Scheduler) UnscheduleAll() {
	var wg sync.WaitGroup
	for _, id := range s.IDs() {
		wg.Add(1)
		go func(id TaskID) {
			defer wg.Done()
			s.Unschedule(id)
		}(id)
	}
	wg.Wait()
}

// IDs returns the registered task ids in ascending order.
func (s *Scheduler) IDs() []TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]TaskID, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Next returns the fire time the task is currently waiting for.
func (s *Scheduler) Next(id TaskID) (time.Time, bool) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next, !t.next.IsZero()
}
