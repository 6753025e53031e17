// Package reminder decides whether a task should carry an external alarm and
// talks to the alarm facility. Policy resolution is pure; scheduling is
// best-effort and never transactional with the store.
package reminder

import (
	"time"

	"github.com/dverney/taskmill/internal/model"
)

type ResultKind int

const (
	// Blocked: the task can never carry a reminder (DONE or archived), or the
	// option yields no instant.
	Blocked ResultKind = iota
	// InPast: an instant was computed but it is not in the future.
	InPast
	// Scheduled: the instant is valid and should be handed to the scheduler.
	Scheduled
)

// Result is the outcome of resolving a notify option against a task snapshot.
// Transient, never persisted.
type Result struct {
	Kind    ResultKind
	Instant time.Time // set iff Kind == Scheduled
}

type OptionKind int

const (
	OptionNone OptionKind = iota
	OptionMorningOfDue
	OptionEveningBefore
	OptionAtInstant
)

// Option is a requested notification choice. The instant field is only used by
// OptionAtInstant.
type Option struct {
	Kind OptionKind
	At   time.Time
}

// OptionForTask recovers the notify option a stored task represents: a
// persisted reminder instant maps back to an explicit-instant option.
func OptionForTask(t model.Task) Option {
	if t.ReminderTime == nil {
		return Option{Kind: OptionNone}
	}
	return Option{Kind: OptionAtInstant, At: *t.ReminderTime}
}

// Instant maps the option and a due date to a concrete instant, or nil when no
// reminder is implied. Relative options need a due date to anchor on.
func (o Option) Instant(due *time.Time, loc *time.Location) *time.Time {
	switch o.Kind {
	case OptionAtInstant:
		at := o.At
		return &at
	case OptionMorningOfDue:
		if due == nil {
			return nil
		}
		at := time.Date(due.Year(), due.Month(), due.Day(), 9, 0, 0, 0, loc)
		return &at
	case OptionEveningBefore:
		if due == nil {
			return nil
		}
		prev := due.AddDate(0, 0, -1)
		at := time.Date(prev.Year(), prev.Month(), prev.Day(), 18, 0, 0, 0, loc)
		return &at
	}
	return nil
}

// Resolve applies the reminder policy to a task snapshot:
// DONE or archived tasks are always Blocked, an option with no instant is
// Blocked, a non-future instant is InPast, anything else is Scheduled.
func Resolve(t model.Task, opt Option, now time.Time) Result {
	if t.Status == model.StatusDone || t.IsArchived {
		return Result{Kind: Blocked}
	}

	instant := opt.Instant(t.Due, now.Location())
	if instant == nil {
		return Result{Kind: Blocked}
	}
	if !instant.After(now) {
		return Result{Kind: InPast}
	}
	return Result{Kind: Scheduled, Instant: *instant}
}

// SameLocalTimeOn transplants the local time-of-day of an instant onto another
// civil date, used when a spawned occurrence inherits its parent's reminder.
func SameLocalTimeOn(instant time.Time, date time.Time, loc *time.Location) time.Time {
	local := instant.In(loc)
	return time.Date(date.Year(), date.Month(), date.Day(),
		local.Hour(), local.Minute(), local.Second(), 0, loc)
}
