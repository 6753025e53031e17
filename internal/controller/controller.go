// Package controller is the façade the presentation layer talks to. It
// sequences lifecycle and ordering operations against the store, re-reads the
// affected tasks, applies the reminder policy and reconciles the external
// alarm facility. Mutating commands run one at a time on a background worker;
// alarm calls are best-effort and never part of the store transaction.
package controller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dverney/taskmill/internal/db"
	"github.com/dverney/taskmill/internal/lifecycle"
	"github.com/dverney/taskmill/internal/model"
	"github.com/dverney/taskmill/internal/order"
	"github.com/dverney/taskmill/internal/reminder"
)

// ArchiveMode selects between archiving one occurrence (spawning the next for
// recurring tasks) and ending the whole series.
type ArchiveMode string

const (
	ArchiveSingle ArchiveMode = "single"
	ArchiveSeries ArchiveMode = "series"
)

type Controller struct {
	store  *db.Store
	life   *lifecycle.Lifecycle
	orders *order.Engine
	sched  reminder.Scheduler
	filter *StatusFilter
	log    *slog.Logger
	now    func() time.Time

	pollInterval time.Duration

	jobs chan job

	subMu   sync.Mutex
	subs    map[uuid.UUID]*Subscription
	filters sync.Map // uuid.UUID -> model.Filter

	wg sync.WaitGroup
}

type job struct {
	fn   func(ctx context.Context) error
	done chan error
}

func New(store *db.Store, life *lifecycle.Lifecycle, orders *order.Engine, sched reminder.Scheduler, filter *StatusFilter, log *slog.Logger, now func() time.Time, pollInterval time.Duration) *Controller {
	if now == nil {
		now = time.Now
	}
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &Controller{
		store:        store,
		life:         life,
		orders:       orders,
		sched:        sched,
		filter:       filter,
		log:          log,
		now:          now,
		pollInterval: pollInterval,
		jobs:         make(chan job),
		subs:         make(map[uuid.UUID]*Subscription),
	}
}

// Start launches the single-flight command worker and the day-change poller.
// Both stop when ctx is cancelled; Wait blocks until they have.
func (c *Controller) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.worker(ctx)
	go c.pollDayChange(ctx)
}

func (c *Controller) Wait() { c.wg.Wait() }

func (c *Controller) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-c.jobs:
			j.done <- j.fn(ctx)
		}
	}
}

// run executes fn on the worker, serializing it with every other mutating
// command, and blocks for its result.
func (c *Controller) run(ctx context.Context, fn func(ctx context.Context) error) error {
	j := job{fn: fn, done: make(chan error, 1)}
	select {
	case c.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pollDayChange watches for the local date rolling over and re-emits observer
// snapshots when it does. Read-only; cancellation just stops the ticking.
func (c *Controller) pollDayChange(ctx context.Context) {
	defer c.wg.Done()

	lastKnown := model.DateOf(c.now())
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := model.DateOf(c.now())
			if !current.Equal(lastKnown) {
				c.log.Info("day changed", "from", lastKnown.Format("2006-01-02"), "to", current.Format("2006-01-02"))
				lastKnown = current
				c.notifyObservers(ctx)
			}
		}
	}
}

/* ------------ commands ------------ */

// Create persists a new task with the user's reminder intent, then schedules
// the alarm if the policy allows it.
func (c *Controller) Create(ctx context.Context, in lifecycle.Input, notify reminder.Option) (int64, error) {
	var id int64
	err := c.run(ctx, func(ctx context.Context) error {
		// A non-None option wins over a caller-supplied instant. Persist the
		// intent even when it is past or blocked; the stored instant stays
		// the source of truth.
		if notify.Kind != reminder.OptionNone {
			in.ReminderTime = notify.Instant(in.Due, c.now().Location())
		}

		var err error
		id, err = c.life.Create(ctx, in)
		if err != nil {
			return err
		}

		task, err := c.store.TaskByID(ctx, id)
		if err != nil {
			return err
		}
		switch res := reminder.Resolve(task, reminder.OptionForTask(task), c.now()); res.Kind {
		case reminder.Scheduled:
			c.sched.Schedule(id, res.Instant)
		case reminder.InPast:
			c.log.Info("reminder not scheduled, instant already passed", "task", id)
		case reminder.Blocked:
		}

		c.notifyObservers(ctx)
		return nil
	})
	return id, err
}

// TransitionStatus applies the status change, then reconciles alarms for the
// task and for any occurrence the transition spawned or retracted.
func (c *Controller) TransitionStatus(ctx context.Context, taskID int64, newStatus model.TaskStatus) (lifecycle.UpdateResult, error) {
	var result lifecycle.UpdateResult
	err := c.run(ctx, func(ctx context.Context) error {
		before, err := c.store.TaskByID(ctx, taskID)
		if err != nil {
			return err
		}
		oldReminder := before.ReminderTime
		wasDone := before.Status == model.StatusDone

		result, err = c.life.TransitionStatus(ctx, taskID, newStatus)
		if err != nil {
			return err
		}

		updated, err := c.store.TaskByID(ctx, taskID)
		if err != nil {
			return err
		}
		nowDone := newStatus == model.StatusDone

		switch {
		case nowDone && !wasDone:
			// Entering DONE always silences this task's alarm.
			c.sched.Cancel(taskID, oldReminder)
			if result.CreatedID != nil {
				c.scheduleIfEligible(ctx, *result.CreatedID)
			}

		case !nowDone && wasDone:
			switch res := reminder.Resolve(updated, reminder.OptionForTask(updated), c.now()); res.Kind {
			case reminder.Scheduled:
				c.sched.Schedule(taskID, res.Instant)
			case reminder.InPast:
				c.log.Info("reminder not rescheduled, instant already passed", "task", taskID)
			case reminder.Blocked:
				c.sched.Cancel(taskID, oldReminder)
			}
			if result.DeletedID != nil {
				// The retracted occurrence is gone; its alarm must not fire.
				c.sched.Cancel(*result.DeletedID, nil)
			}
		}

		c.notifyObservers(ctx)
		return nil
	})
	return result, err
}

// Archive archives a task in the requested mode and reconciles alarms for it
// and any spawned next occurrence.
func (c *Controller) Archive(ctx context.Context, taskID int64, mode ArchiveMode) error {
	return c.run(ctx, func(ctx context.Context) error {
		task, err := c.store.TaskByID(ctx, taskID)
		if err != nil {
			return err
		}
		c.sched.Cancel(taskID, task.ReminderTime)

		switch mode {
		case ArchiveSingle:
			spawned, err := c.life.ArchiveSingleOccurrence(ctx, taskID)
			if err != nil {
				return err
			}
			if spawned != nil {
				c.scheduleIfEligible(ctx, *spawned)
			}
		default:
			if err := c.life.ArchiveSeries(ctx, taskID); err != nil {
				return err
			}
		}

		c.notifyObservers(ctx)
		return nil
	})
}

// Unarchive restores a task and re-evaluates its reminder.
func (c *Controller) Unarchive(ctx context.Context, taskID int64) error {
	return c.run(ctx, func(ctx context.Context) error {
		if err := c.life.Unarchive(ctx, taskID); err != nil {
			return err
		}
		c.scheduleIfEligible(ctx, taskID)
		c.notifyObservers(ctx)
		return nil
	})
}

// ApplyEdits applies tri-state field edits and reconciles the alarm against
// the task's previous reminder intent.
func (c *Controller) ApplyEdits(ctx context.Context, taskID int64, edits lifecycle.Edits) error {
	return c.run(ctx, func(ctx context.Context) error {
		before, err := c.store.TaskByID(ctx, taskID)
		if err != nil {
			return err
		}
		oldReminder := before.ReminderTime

		updated, err := c.life.ApplyEdits(ctx, taskID, edits)
		if err != nil {
			return err
		}

		switch res := reminder.Resolve(updated, reminder.OptionForTask(updated), c.now()); res.Kind {
		case reminder.Scheduled:
			c.sched.Reschedule(taskID, oldReminder, &res.Instant)
		case reminder.InPast:
			c.log.Info("edited reminder is in the past", "task", taskID)
			if oldReminder != nil {
				c.sched.Cancel(taskID, oldReminder)
			}
		case reminder.Blocked:
			if oldReminder != nil {
				c.sched.Cancel(taskID, oldReminder)
			}
		}

		c.notifyObservers(ctx)
		return nil
	})
}

// Reorder moves a visible task between positions within one ordering scope.
func (c *Controller) Reorder(ctx context.Context, scope order.Scope, categoryID int64, from, to int) error {
	return c.run(ctx, func(ctx context.Context) error {
		visible := func(t model.Task) bool { return c.filter.IsVisible(t.Status) }
		if err := c.orders.Reorder(ctx, scope, categoryID, visible, from, to); err != nil {
			return err
		}
		c.notifyObservers(ctx)
		return nil
	})
}

// ToggleStatusVisibility flips one status in the shared visibility filter and
// re-emits every observer's snapshot.
func (c *Controller) ToggleStatusVisibility(ctx context.Context, st model.TaskStatus) {
	c.filter.Toggle(st)
	c.notifyObservers(ctx)
}

// ArchiveCompletedBeforeToday archives yesterday's completed tasks.
func (c *Controller) ArchiveCompletedBeforeToday(ctx context.Context) error {
	return c.run(ctx, func(ctx context.Context) error {
		if err := c.life.ArchiveCompletedBeforeToday(ctx); err != nil {
			return err
		}
		c.notifyObservers(ctx)
		return nil
	})
}

// ArchiveCompletedInCategory archives every completed task in one category.
func (c *Controller) ArchiveCompletedInCategory(ctx context.Context, categoryID int64) error {
	return c.run(ctx, func(ctx context.Context) error {
		if err := c.life.ArchiveCompletedInCategory(ctx, categoryID); err != nil {
			return err
		}
		c.notifyObservers(ctx)
		return nil
	})
}

// ReindexCategoryOrders renumbers every ordering sequence densely.
func (c *Controller) ReindexCategoryOrders(ctx context.Context) error {
	return c.run(ctx, func(ctx context.Context) error {
		if err := c.life.ReindexCategoryOrders(ctx); err != nil {
			return err
		}
		c.notifyObservers(ctx)
		return nil
	})
}

// Backup reads the full database content, archived rows included.
func (c *Controller) Backup(ctx context.Context) ([]model.Category, []model.Task, error) {
	cats, err := c.store.Categories(ctx)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := c.store.Snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	return cats, tasks, nil
}

// Restore replaces the database content wholesale and re-emits every
// observer's snapshot. Alarms for replaced tasks are left to the next
// reconciliation; a restore is a cold-start operation.
func (c *Controller) Restore(ctx context.Context, cats []model.Category, tasks []model.Task) error {
	return c.run(ctx, func(ctx context.Context) error {
		if err := c.store.ReplaceAll(ctx, cats, tasks); err != nil {
			return err
		}
		c.log.Info("restored database", "categories", len(cats), "tasks", len(tasks))
		c.notifyObservers(ctx)
		return nil
	})
}

// PurgeArchived permanently deletes archived tasks and cancels their alarms.
func (c *Controller) PurgeArchived(ctx context.Context) error {
	return c.run(ctx, func(ctx context.Context) error {
		ids, err := c.store.PurgeArchived(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			c.sched.Cancel(id, nil)
		}
		c.log.Info("purged archived tasks", "count", len(ids))
		c.notifyObservers(ctx)
		return nil
	})
}

// scheduleIfEligible evaluates the policy for a freshly created/restored task
// and schedules its alarm when allowed. InPast is deliberately quiet for
// auto-created occurrences.
func (c *Controller) scheduleIfEligible(ctx context.Context, taskID int64) {
	task, err := c.store.TaskByID(ctx, taskID)
	if err != nil {
		c.log.Warn("cannot re-read task for reminder reconciliation", "task", taskID, "error", err)
		return
	}
	if res := reminder.Resolve(task, reminder.OptionForTask(task), c.now()); res.Kind == reminder.Scheduled {
		c.sched.Schedule(taskID, res.Instant)
	}
}

// TasksForFilter is the read-side query used by one-shot consumers. It applies
// the same status-visibility set as the observe hub.
func (c *Controller) TasksForFilter(ctx context.Context, f model.Filter) ([]model.Task, error) {
	return c.queryFiltered(ctx, f)
}

// VisibleStatuses reports the current status-visibility set.
func (c *Controller) VisibleStatuses() []model.TaskStatus {
	return c.filter.Visible()
}

/* ------------ observation ------------ */

// Subscription is a live view over a filtered task query. C re-emits the full
// snapshot after every mutation; slow consumers miss intermediate snapshots
// rather than blocking the worker.
type Subscription struct {
	id     uuid.UUID
	C      chan []model.Task
	cancel func()

	mu     sync.Mutex
	closed bool
}

func (s *Subscription) Close() { s.cancel() }

// send delivers a snapshot without blocking: a stale buffered snapshot is
// dropped and the send retried once. The mutex orders sends against close, so
// a notifier that captured this subscription before Close cannot hit a closed
// channel.
func (s *Subscription) send(snapshot []model.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.C <- snapshot:
	default:
		select {
		case <-s.C:
		default:
		}
		select {
		case s.C <- snapshot:
		default:
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.C)
	}
}

// ObserveTasks subscribes to the filtered, board-ordered task list, applying
// the shared status-visibility set on top of the row filter. The current
// snapshot is delivered immediately.
func (c *Controller) ObserveTasks(ctx context.Context, f model.Filter) (*Subscription, error) {
	id := uuid.New()
	sub := &Subscription{
		id: id,
		C:  make(chan []model.Task, 1),
	}
	sub.cancel = func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.filters.Delete(id)
		c.subMu.Unlock()
		sub.close()
	}

	snapshot, err := c.queryFiltered(ctx, f)
	if err != nil {
		return nil, err
	}

	c.filters.Store(id, f)
	c.subMu.Lock()
	c.subs[id] = sub
	c.subMu.Unlock()

	sub.send(snapshot)
	return sub, nil
}

func (c *Controller) queryFiltered(ctx context.Context, f model.Filter) ([]model.Task, error) {
	rows, err := c.store.TasksForFilter(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]model.Task, 0, len(rows))
	for _, t := range rows {
		if c.filter.IsVisible(t.Status) {
			out = append(out, t)
		}
	}
	return out, nil
}

// notifyObservers re-runs every subscriber's query and pushes the fresh
// snapshot without blocking on slow consumers.
func (c *Controller) notifyObservers(ctx context.Context) {
	c.subMu.Lock()
	subs := make(map[uuid.UUID]*Subscription, len(c.subs))
	for id, sub := range c.subs {
		subs[id] = sub
	}
	c.subMu.Unlock()

	for id, sub := range subs {
		f, ok := c.filters.Load(id)
		if !ok {
			continue
		}
		snapshot, err := c.queryFiltered(ctx, f.(model.Filter))
		if err != nil {
			c.log.Warn("observer refresh failed", "subscription", id, "error", err)
			continue
		}
		sub.send(snapshot)
	}
}
