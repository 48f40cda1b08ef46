// Package scheduler decides when tasks run. A single goroutine owns all
// scheduling state; every mutation (tick dispatch, manual trigger,
// toggle, run completion) flows through its channel, which is what
// guarantees a task never runs twice concurrently.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"ghvault/internal/config"
	"ghvault/internal/models"
)

var (
	ErrNotFound       = errors.New("scheduler: task not found")
	ErrAlreadyRunning = errors.New("scheduler: task is already running")
	ErrAtCapacity     = errors.New("scheduler: all worker slots are busy")
	ErrStopped        = errors.New("scheduler: not running")
)

// Runner executes one task run to completion. Implementations own the
// execution log lifecycle and run statistics.
type Runner interface {
	Run(ctx context.Context, task *models.ScheduledTask, trigger string)
}

// TaskSource is the persistence surface the scheduler needs.
type TaskSource interface {
	DueTasks(now time.Time) ([]models.ScheduledTask, error)
	FindByID(id uint) (*models.ScheduledTask, error)
	SetActive(id uint, active bool) error
	UpdateNextRun(id uint, next time.Time) error
}

// Status is a point-in-time snapshot for the health endpoint.
// QueueDepth counts tasks that were due on the last tick but had to
// wait, whether for a worker slot or for their own previous run.
type Status struct {
	RunningTaskIDs []uint    `json:"running_task_ids"`
	RunningCount   int       `json:"running_count"`
	QueueDepth     int       `json:"queue_depth"`
	MaxConcurrent  int64     `json:"max_concurrent"`
	LastTickTime   time.Time `json:"last_tick_time"`
}

type command struct {
	trigger *triggerCmd
	toggle  *toggleCmd
	status  chan Status
}

type triggerCmd struct {
	id    uint
	reply chan error
}

type toggleCmd struct {
	id     uint
	active bool
	reply  chan error
}

// Scheduler polls for due tasks and dispatches them to the runner.
type Scheduler struct {
	cfg    config.SchedulerConfig
	source TaskSource
	runner Runner
	logger *zap.Logger

	cmds    chan command
	doneCh  chan uint
	stopped chan struct{}

	// Owned by the run loop goroutine.
	running    map[uint]struct{}
	slots      *semaphore.Weighted
	lastTick   time.Time
	queueDepth int
}

func New(cfg config.SchedulerConfig, source TaskSource, runner Runner, logger *zap.Logger) *Scheduler {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	cfg.MaxConcurrent = maxConcurrent
	return &Scheduler{
		cfg:     cfg,
		source:  source,
		runner:  runner,
		logger:  logger,
		cmds:    make(chan command),
		doneCh:  make(chan uint),
		stopped: make(chan struct{}),
		running: make(map[uint]struct{}),
		slots:   semaphore.NewWeighted(maxConcurrent),
	}
}

// Start launches the scheduling loop. It returns immediately; cancel the
// context to begin shutdown and use Wait to block until in-flight runs
// have drained.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting scheduler",
		zap.Duration("tick_interval", s.cfg.TickInterval),
		zap.Int64("max_concurrent", s.cfg.MaxConcurrent))
	go s.run(ctx)
}

// Wait blocks until the scheduler has stopped and all runs finished.
func (s *Scheduler) Wait() {
	<-s.stopped
}

// Trigger starts a manual run of the task, active or not. It returns
// ErrAlreadyRunning when a run is in flight and ErrAtCapacity when every
// worker slot is busy; manual triggers are never queued.
func (s *Scheduler) Trigger(id uint) error {
	reply := make(chan error, 1)
	select {
	case s.cmds <- command{trigger: &triggerCmd{id: id, reply: reply}}:
		return <-reply
	case <-s.stopped:
		return ErrStopped
	}
}

// Toggle flips a task's active flag. Activation recomputes the next run
// so a long-dormant task does not fire immediately for missed slots.
func (s *Scheduler) Toggle(id uint, active bool) error {
	reply := make(chan error, 1)
	select {
	case s.cmds <- command{toggle: &toggleCmd{id: id, active: active, reply: reply}}:
		return <-reply
	case <-s.stopped:
		return ErrStopped
	}
}

// Status reports what is currently running.
func (s *Scheduler) Status() Status {
	reply := make(chan Status, 1)
	select {
	case s.cmds <- command{status: reply}:
		return <-reply
	case <-s.stopped:
		return Status{MaxConcurrent: s.cfg.MaxConcurrent}
	}
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drain()
			close(s.stopped)
			s.logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		case id := <-s.doneCh:
			delete(s.running, id)
		case cmd := <-s.cmds:
			s.handle(ctx, cmd)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	s.lastTick = now
	tasks, err := s.source.DueTasks(now)
	if err != nil {
		s.logger.Error("Failed to load due tasks", zap.Error(err))
		return
	}

	waiting := 0
	slotsFree := true
	for i := range tasks {
		task := tasks[i]

		// Tasks created without a next run get one on first sight.
		if task.NextRunTime == nil {
			s.backfillNextRun(&task, now)
			continue
		}

		if _, active := s.running[task.ID]; active {
			s.logger.Debug("Task still running, skipping tick", zap.Uint("task_id", task.ID))
			waiting++
			continue
		}
		if slotsFree && !s.slots.TryAcquire(1) {
			slotsFree = false
			s.logger.Warn("Worker slots exhausted, remaining due tasks wait for the next tick",
				zap.Uint("task_id", task.ID))
		}
		if !slotsFree {
			waiting++
			continue
		}
		s.launch(ctx, task, models.TriggerCron)
	}
	s.queueDepth = waiting
}

func (s *Scheduler) handle(ctx context.Context, cmd command) {
	switch {
	case cmd.trigger != nil:
		cmd.trigger.reply <- s.manualTrigger(ctx, cmd.trigger.id)
	case cmd.toggle != nil:
		cmd.toggle.reply <- s.applyToggle(cmd.toggle.id, cmd.toggle.active)
	case cmd.status != nil:
		ids := make([]uint, 0, len(s.running))
		for id := range s.running {
			ids = append(ids, id)
		}
		cmd.status <- Status{
			RunningTaskIDs: ids,
			RunningCount:   len(ids),
			QueueDepth:     s.queueDepth,
			MaxConcurrent:  s.cfg.MaxConcurrent,
			LastTickTime:   s.lastTick,
		}
	}
}

func (s *Scheduler) manualTrigger(ctx context.Context, id uint) error {
	if _, active := s.running[id]; active {
		return ErrAlreadyRunning
	}
	task, err := s.source.FindByID(id)
	if err != nil {
		return err
	}
	if task == nil {
		return ErrNotFound
	}
	if !s.slots.TryAcquire(1) {
		return ErrAtCapacity
	}
	s.launch(ctx, *task, models.TriggerManual)
	return nil
}

func (s *Scheduler) applyToggle(id uint, active bool) error {
	task, err := s.source.FindByID(id)
	if err != nil {
		return err
	}
	if task == nil {
		return ErrNotFound
	}
	if err := s.source.SetActive(id, active); err != nil {
		return err
	}
	if active {
		next, err := NextRun(task.CronExpression, task.Timezone, time.Now().UTC())
		if err != nil {
			s.logger.Error("Cannot compute next run for activated task",
				zap.Uint("task_id", id), zap.Error(err))
			return nil
		}
		if err := s.source.UpdateNextRun(id, next); err != nil {
			s.logger.Error("Failed to store next run", zap.Uint("task_id", id), zap.Error(err))
		}
	}
	return nil
}

func (s *Scheduler) backfillNextRun(task *models.ScheduledTask, now time.Time) {
	next, err := NextRun(task.CronExpression, task.Timezone, now)
	if err != nil {
		// Park the task so the bad expression is reported once, not
		// on every tick. Toggling it back on revalidates.
		s.logger.Error("Task has an unschedulable cron expression, deactivating",
			zap.Uint("task_id", task.ID),
			zap.String("cron", task.CronExpression),
			zap.Error(err))
		if derr := s.source.SetActive(task.ID, false); derr != nil {
			s.logger.Error("Failed to deactivate task", zap.Uint("task_id", task.ID), zap.Error(derr))
		}
		return
	}
	if err := s.source.UpdateNextRun(task.ID, next); err != nil {
		s.logger.Error("Failed to store next run", zap.Uint("task_id", task.ID), zap.Error(err))
	}
}

// launch marks the task running and hands it to the runner. The running
// map is only touched on the loop goroutine; the worker reports back
// through doneCh.
func (s *Scheduler) launch(ctx context.Context, task models.ScheduledTask, trigger string) {
	s.running[task.ID] = struct{}{}
	s.logger.Info("Dispatching task",
		zap.Uint("task_id", task.ID),
		zap.String("name", task.Name),
		zap.String("trigger", trigger))

	go func() {
		defer s.slots.Release(1)
		defer func() { s.doneCh <- task.ID }()
		s.runner.Run(ctx, &task, trigger)
	}()
}

// drain waits for in-flight runs while still answering late commands so
// callers blocked on Trigger/Toggle are not deadlocked during shutdown.
func (s *Scheduler) drain() {
	s.logger.Info("Draining in-flight runs", zap.Int("running", len(s.running)))
	for len(s.running) > 0 {
		select {
		case id := <-s.doneCh:
			delete(s.running, id)
		case cmd := <-s.cmds:
			switch {
			case cmd.trigger != nil:
				cmd.trigger.reply <- ErrStopped
			case cmd.toggle != nil:
				cmd.toggle.reply <- ErrStopped
			case cmd.status != nil:
				cmd.status <- Status{RunningCount: len(s.running), MaxConcurrent: s.cfg.MaxConcurrent, LastTickTime: s.lastTick}
			}
		}
	}
}
