package reminder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dverney/taskmill/internal/model"
)

var now = time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

func futureDue() *time.Time {
	d := model.Date(2024, time.March, 12)
	return &d
}

func TestResolveBlockedForDoneAndArchived(t *testing.T) {
	opt := Option{Kind: OptionMorningOfDue}

	done := model.Task{Status: model.StatusDone, Due: futureDue()}
	archived := model.Task{Status: model.StatusTodo, IsArchived: true, Due: futureDue()}

	for _, task := range []model.Task{done, archived} {
		for _, kind := range []OptionKind{OptionNone, OptionMorningOfDue, OptionEveningBefore, OptionAtInstant} {
			opt.Kind = kind
			opt.At = now.Add(time.Hour)
			assert.Equal(t, Blocked, Resolve(task, opt, now).Kind)
		}
	}
}

func TestResolveBlockedWithoutInstant(t *testing.T) {
	task := model.Task{Status: model.StatusTodo}

	assert.Equal(t, Blocked, Resolve(task, Option{Kind: OptionNone}, now).Kind)
	// Relative options need a due date to anchor on.
	assert.Equal(t, Blocked, Resolve(task, Option{Kind: OptionMorningOfDue}, now).Kind)
	assert.Equal(t, Blocked, Resolve(task, Option{Kind: OptionEveningBefore}, now).Kind)
}

func TestResolveInPast(t *testing.T) {
	task := model.Task{Status: model.StatusTodo}
	opt := Option{Kind: OptionAtInstant, At: now.Add(-time.Minute)}
	assert.Equal(t, InPast, Resolve(task, opt, now).Kind)

	// Exactly "now" is not in the future either.
	opt.At = now
	assert.Equal(t, InPast, Resolve(task, opt, now).Kind)
}

func TestResolveScheduled(t *testing.T) {
	task := model.Task{Status: model.StatusInProgress, Due: futureDue()}

	res := Resolve(task, Option{Kind: OptionMorningOfDue}, now)
	require.Equal(t, Scheduled, res.Kind)
	assert.Equal(t, 9, res.Instant.Hour())
	assert.Equal(t, 12, res.Instant.Day())

	res = Resolve(task, Option{Kind: OptionEveningBefore}, now)
	require.Equal(t, Scheduled, res.Kind)
	assert.Equal(t, 18, res.Instant.Hour())
	assert.Equal(t, 11, res.Instant.Day())
}

func TestSameLocalTimeOn(t *testing.T) {
	orig := time.Date(2024, time.March, 4, 7, 30, 0, 0, time.UTC)
	moved := SameLocalTimeOn(orig, model.Date(2024, time.March, 11), time.UTC)

	assert.Equal(t, 11, moved.Day())
	assert.Equal(t, 7, moved.Hour())
	assert.Equal(t, 30, moved.Minute())
}

func TestOptionForTask(t *testing.T) {
	assert.Equal(t, OptionNone, OptionForTask(model.Task{}).Kind)

	at := now.Add(time.Hour)
	opt := OptionForTask(model.Task{ReminderTime: &at})
	require.Equal(t, OptionAtInstant, opt.Kind)
	assert.True(t, opt.At.Equal(at))
}
