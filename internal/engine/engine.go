package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatbi/internal/audit"
	"chatbi/internal/delivery"
	"chatbi/internal/directory"
	"chatbi/internal/models"
	"chatbi/internal/notify"
	"chatbi/internal/render"
	"chatbi/internal/schedule"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const queueSize = 256

var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrQueueFull        = errors.New("execution queue is full")
)

type Config struct {
	Workers             int
	PollInterval        time.Duration
	DeliveryMaxAttempts int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.DeliveryMaxAttempts <= 0 {
		c.DeliveryMaxAttempts = 5
	}
	return c
}

type job struct {
	runID      uint
	scheduleID uint
	// locked means the trigger path already holds the schedule lock
	locked bool
	actor  audit.Actor
}

// Engine drives execution runs through the
// pending -> rendering -> delivering -> completed/failed state machine.
// A polling loop picks up due schedules and a worker pool executes runs; a
// per-schedule lock keeps at most one run in flight per schedule.
type Engine struct {
	db        *gorm.DB
	store     *schedule.Store
	resolver  *directory.Resolver
	renderer  render.Renderer
	deliverer delivery.Deliverer
	notifier  *notify.SlackNotifier
	audit     *audit.Logger
	cfg       Config
	log       zerolog.Logger

	queue     chan job
	stopChan  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func New(db *gorm.DB, store *schedule.Store, resolver *directory.Resolver, renderer render.Renderer, deliverer delivery.Deliverer, notifier *notify.SlackNotifier, auditLog *audit.Logger, cfg Config, log zerolog.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		db:        db,
		store:     store,
		resolver:  resolver,
		renderer:  renderer,
		deliverer: deliverer,
		notifier:  notifier,
		audit:     auditLog,
		cfg:       cfg.withDefaults(),
		log:       log,
		queue:     make(chan job, queueSize),
		stopChan:  make(chan struct{}),
		runCtx:    ctx,
		runCancel: cancel,
		locks:     make(map[uint]*sync.Mutex),
	}
}

// Start launches the worker pool and the due-schedule polling loop.
func (e *Engine) Start() {
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.tick(time.Now())
			case <-e.stopChan:
				return
			}
		}
	}()

	e.log.Info().Int("workers", e.cfg.Workers).Dur("poll_interval", e.cfg.PollInterval).Msg("execution engine started")
}

// Stop cancels in-flight work and waits for the workers to exit.
func (e *Engine) Stop() {
	close(e.stopChan)
	e.runCancel()
	e.wg.Wait()
}

func (e *Engine) scheduleLock(id uint) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.locks[id]
	if !ok {
		m = &sync.Mutex{}
		e.locks[id] = m
	}
	return m
}

// tick scans for due schedules and queues a run for each. A schedule whose
// previous run has not reached a terminal state is skipped, never queued
// twice: the recurrence must not stack overlapping deliveries.
func (e *Engine) tick(now time.Time) {
	due, err := e.store.ListDue(now)
	if err != nil {
		e.log.Error().Err(err).Msg("failed to scan due schedules")
		return
	}

	systemActor := audit.Actor{ID: "system", Name: "scheduler"}
	for i := range due {
		sched := &due[i]
		lock := e.scheduleLock(sched.ID)
		if !lock.TryLock() {
			e.log.Debug().Uint("schedule_id", sched.ID).Msg("previous run still in flight, skipping")
			continue
		}
		run, err := e.createRun(sched, models.TriggerSchedule)
		if err != nil {
			lock.Unlock()
			e.log.Error().Err(err).Uint("schedule_id", sched.ID).Msg("failed to create run")
			continue
		}
		select {
		case e.queue <- job{runID: run.ID, scheduleID: sched.ID, locked: true, actor: systemActor}:
		default:
			lock.Unlock()
			e.log.Error().Uint("schedule_id", sched.ID).Msg("execution queue is full, dropping trigger")
		}
	}
}

// TriggerSendNow queues an out-of-band run for a schedule. If a run is
// already in flight the new run queues behind it rather than being rejected.
func (e *Engine) TriggerSendNow(scheduleID uint, actor audit.Actor) (*models.ExecutionRun, error) {
	return e.triggerManual(scheduleID, models.TriggerSendNow, actor)
}

// TriggerSendTest queues a test run. Test runs never touch the schedule's
// lastRun/nextRun.
func (e *Engine) TriggerSendTest(scheduleID uint, actor audit.Actor) (*models.ExecutionRun, error) {
	return e.triggerManual(scheduleID, models.TriggerSendTest, actor)
}

func (e *Engine) triggerManual(scheduleID uint, trigger models.TriggerType, actor audit.Actor) (*models.ExecutionRun, error) {
	sched, err := e.store.Get(scheduleID)
	if err != nil {
		if errors.Is(err, schedule.ErrNotFound) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}

	run, err := e.createRun(sched, trigger)
	if err != nil {
		return nil, err
	}
	select {
	case e.queue <- job{runID: run.ID, scheduleID: sched.ID, actor: actor}:
	default:
		return nil, ErrQueueFull
	}
	return run, nil
}

func (e *Engine) createRun(sched *models.Schedule, trigger models.TriggerType) (*models.ExecutionRun, error) {
	run := &models.ExecutionRun{
		ScheduleID:   sched.ID,
		ScheduleName: sched.Name,
		TemplateID:   sched.TemplateID,
		TemplateName: sched.TemplateName,
		Status:       models.RunStatusPending,
		TriggeredBy:  trigger,
		TriggeredAt:  time.Now(),
	}
	if err := e.db.Create(run).Error; err != nil {
		return nil, fmt.Errorf("failed to create execution run: %v", err)
	}
	return run, nil
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopChan:
			return
		case j := <-e.queue:
			lock := e.scheduleLock(j.scheduleID)
			if !j.locked {
				// manual sends queue behind an in-flight run
				lock.Lock()
			}
			e.execute(j.runID, j.actor)
			lock.Unlock()
		}
	}
}
