// Package recur computes the next valid due date for repeating tasks. All
// functions are pure; dates are civil dates at midnight UTC.
package recur

import (
	"time"

	"github.com/dverney/taskmill/internal/model"
)

// NextValidDueDate advances baseDate by one period of the rule, then rolls
// forward one day at a time until the rule's weekday constraint accepts the
// result. Returns nil for NONE and for any rule it does not recognize, so a
// bad rule can never produce the base date itself. Feeding the returned date
// back in as the new base yields the occurrence after it, never the same date
// again.
func NextValidDueDate(rule model.Recurrence, baseDate time.Time) *time.Time {
	next, ok := advance(rule, baseDate)
	if !ok {
		return nil
	}
	for !allowsWeekday(rule, next.Weekday()) {
		next = next.AddDate(0, 0, 1)
	}
	return &next
}

func advance(rule model.Recurrence, d time.Time) (time.Time, bool) {
	switch rule {
	case model.RecurrenceDaily, model.RecurrenceWeekdays:
		return d.AddDate(0, 0, 1), true
	case model.RecurrenceWeekly:
		return d.AddDate(0, 0, 7), true
	case model.RecurrenceMonthly:
		return d.AddDate(0, 1, 0), true
	case model.RecurrenceYearly:
		return d.AddDate(1, 0, 0), true
	}
	return time.Time{}, false
}

func allowsWeekday(rule model.Recurrence, day time.Weekday) bool {
	if rule == model.RecurrenceWeekdays {
		return day != time.Saturday && day != time.Sunday
	}
	return true
}
