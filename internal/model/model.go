package model

import (
	"fmt"
	"time"
)

// TaskStatus is the lifecycle state of a task. Every transition between two
// distinct statuses is permitted; only crossing the DONE boundary has side
// effects (recurrence spawn/retract), handled by the lifecycle package.
type TaskStatus string

const (
	StatusTodo       TaskStatus = "TODO"
	StatusPending    TaskStatus = "PENDING"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusDone       TaskStatus = "DONE"
)

// AllStatuses lists every status in display order.
func AllStatuses() []TaskStatus {
	return []TaskStatus{StatusTodo, StatusPending, StatusInProgress, StatusDone}
}

func ParseStatus(name string) (TaskStatus, error) {
	switch TaskStatus(name) {
	case StatusTodo, StatusPending, StatusInProgress, StatusDone:
		return TaskStatus(name), nil
	}
	return "", fmt.Errorf("invalid task status %q", name)
}

// Recurrence names a repetition rule. Non-NONE rules pair a period with a
// weekday-compatibility constraint; the recur package owns the arithmetic.
type Recurrence string

const (
	RecurrenceNone     Recurrence = "NONE"
	RecurrenceDaily    Recurrence = "DAILY"
	RecurrenceWeekdays Recurrence = "WEEKDAYS"
	RecurrenceWeekly   Recurrence = "WEEKLY"
	RecurrenceMonthly  Recurrence = "MONTHLY"
	RecurrenceYearly   Recurrence = "YEARLY"
)

func ParseRecurrence(name string) (Recurrence, error) {
	switch Recurrence(name) {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekdays, RecurrenceWeekly, RecurrenceMonthly, RecurrenceYearly:
		return Recurrence(name), nil
	}
	return "", fmt.Errorf("invalid recurrence %q", name)
}

type Task struct {
	ID                int64
	CategoryID        int64
	Text              string
	Due               *time.Time // civil date, normalized to midnight UTC
	BaseDate          *time.Time // non-nil iff Recurrence != NONE
	Recurrence        Recurrence
	Status            TaskStatus
	CompletedDate     *time.Time // non-nil iff Status == DONE
	IsArchived        bool
	ReminderTime      *time.Time
	CategoryPageOrder int // dense, unique within the category
	AllPageOrder      int // dense, unique across the global board
	SpawnedFromTaskID *int64
	CreatedAt         time.Time
}

type Category struct {
	ID        int64
	Title     string
	Color     string
	CreatedAt time.Time
}

// Filter selects the task rows an observer sees before status filtering.
type Filter struct {
	Date         *time.Time `json:"date"`
	CategoryID   *int64     `json:"category_id"`
	ShowArchived bool       `json:"show_archived"`
}

// Date builds a civil date at midnight UTC, the canonical representation for
// due, base and completed dates throughout the module.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOf truncates an instant to its civil date in the instant's location.
func DateOf(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), t.Day())
}

func SameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
