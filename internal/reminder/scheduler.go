package reminder

import (
	"log/slog"
	"sync"
	"time"
)

// Scheduler is the external alarm facility. Implementations are fire-and-forget
// from the caller's point of view; outcomes are not transactional with the
// task store.
type Scheduler interface {
	Schedule(taskID int64, at time.Time)
	Cancel(taskID int64, prev *time.Time)
	// Reschedule is cancel-if-nil-new, else schedule at the new instant.
	Reschedule(taskID int64, old, new *time.Time)
}

// AlarmClock is an in-process Scheduler backed by one time.AfterFunc timer per
// task id. Fire delivers the task id to the callback; overdue instants fire
// immediately.
type AlarmClock struct {
	mu     sync.Mutex
	timers map[int64]*time.Timer
	fire   func(taskID int64)
	log    *slog.Logger
}

func NewAlarmClock(log *slog.Logger, fire func(taskID int64)) *AlarmClock {
	return &AlarmClock{
		timers: make(map[int64]*time.Timer),
		fire:   fire,
		log:    log,
	}
}

func (c *AlarmClock) Schedule(taskID int64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.timers[taskID]; ok {
		prev.Stop()
	}

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	c.timers[taskID] = time.AfterFunc(delay, func() {
		c.mu.Lock()
		delete(c.timers, taskID)
		c.mu.Unlock()
		c.fire(taskID)
	})
	c.log.Debug("reminder scheduled", "task", taskID, "at", at)
}

func (c *AlarmClock) Cancel(taskID int64, prev *time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if timer, ok := c.timers[taskID]; ok {
		timer.Stop()
		delete(c.timers, taskID)
		c.log.Debug("reminder cancelled", "task", taskID)
	}
}

func (c *AlarmClock) Reschedule(taskID int64, old, new *time.Time) {
	if new == nil {
		c.Cancel(taskID, old)
		return
	}
	c.Schedule(taskID, *new)
}

// Stop cancels every pending alarm, used on shutdown.
func (c *AlarmClock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, timer := range c.timers {
		timer.Stop()
		delete(c.timers, id)
	}
}
