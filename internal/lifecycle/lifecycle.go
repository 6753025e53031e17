// Package lifecycle applies task status transitions, spawns and retracts
// recurring occurrences, and edits task fields. Every multi-step write runs in
// a single store transaction.
package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/dverney/taskmill/internal/db"
	"github.com/dverney/taskmill/internal/model"
	"github.com/dverney/taskmill/internal/recur"
	"github.com/dverney/taskmill/internal/reminder"
)

const maxTitleLength = 100

var lineBreaks = regexp.MustCompile(`[\r\n]+`)

// UpdateResult is the side-effect ledger of a status transition: the id of a
// spawned next occurrence and/or the id of a retracted one.
type UpdateResult struct {
	CreatedID *int64
	DeletedID *int64
}

// Input carries the fields of a task to create.
type Input struct {
	Title        string
	Due          *time.Time
	Recurrence   model.Recurrence
	CategoryID   int64
	ReminderTime *time.Time
}

// Edits is a partial-update request; unset fields keep their current value.
type Edits struct {
	Title      model.FieldEdit[string]
	Due        model.FieldEdit[*time.Time]
	Recurrence model.FieldEdit[model.Recurrence]
	CategoryID model.FieldEdit[int64]
	Notify     model.FieldEdit[reminder.Option]
}

type Lifecycle struct {
	store *db.Store
	log   *slog.Logger
	now   func() time.Time
}

func New(store *db.Store, log *slog.Logger, now func() time.Time) *Lifecycle {
	if now == nil {
		now = time.Now
	}
	return &Lifecycle{store: store, log: log, now: now}
}

func (l *Lifecycle) today() time.Time {
	return model.DateOf(l.now())
}

// Create validates and persists a new task, assigning both order fields at the
// end of their scopes. Returns the new id.
func (l *Lifecycle) Create(ctx context.Context, in Input) (int64, error) {
	var id int64
	err := l.store.WithTx(ctx, func(tx *db.Store) error {
		var err error
		id, err = l.create(ctx, tx, in, nil)
		return err
	})
	return id, err
}

func (l *Lifecycle) create(ctx context.Context, tx *db.Store, in Input, spawnedFrom *int64) (int64, error) {
	title := sanitizeTitle(in.Title)
	if title == "" {
		return 0, fmt.Errorf("%w: task title cannot be blank", ErrValidation)
	}

	// The zero value of Recurrence means no recurrence was requested.
	rec := in.Recurrence
	if rec == "" {
		rec = model.RecurrenceNone
	}

	var baseDate *time.Time
	if rec != model.RecurrenceNone {
		if in.Due == nil {
			return 0, fmt.Errorf("%w: recurring tasks must have a due date", ErrValidation)
		}
		d := *in.Due
		baseDate = &d
	}

	maxCat, err := tx.MaxCategoryOrder(ctx, in.CategoryID)
	if err != nil {
		return 0, err
	}
	maxAll, err := tx.MaxAllOrder(ctx)
	if err != nil {
		return 0, err
	}

	id, err := tx.InsertTask(ctx, model.Task{
		CategoryID:        in.CategoryID,
		Text:              title,
		Due:               in.Due,
		BaseDate:          baseDate,
		Recurrence:        rec,
		Status:            model.StatusTodo,
		ReminderTime:      in.ReminderTime,
		CategoryPageOrder: maxCat + 1,
		AllPageOrder:      maxAll + 1,
		SpawnedFromTaskID: spawnedFrom,
		CreatedAt:         l.now(),
	})
	if err != nil {
		return 0, err
	}
	l.log.Debug("task created", "id", id, "category", in.CategoryID, "recurrence", rec)
	return id, nil
}

// TransitionStatus moves a task to a new status. Entering DONE on a recurring
// task spawns its next occurrence; leaving DONE retracts a previously spawned
// one. The whole transition is one transaction.
func (l *Lifecycle) TransitionStatus(ctx context.Context, taskID int64, newStatus model.TaskStatus) (UpdateResult, error) {
	var result UpdateResult

	err := l.store.WithTx(ctx, func(tx *db.Store) error {
		task, err := tx.TaskByID(ctx, taskID)
		if err != nil {
			return notFoundOr(err, taskID)
		}

		wasDone := task.Status == model.StatusDone
		nowDone := newStatus == model.StatusDone

		task.Status = newStatus
		if nowDone {
			today := l.today()
			task.CompletedDate = &today
		} else {
			task.CompletedDate = nil
		}
		rows, err := tx.UpdateTask(ctx, task)
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("%w: task %d", ErrConflict, taskID)
		}

		if task.Recurrence == model.RecurrenceNone || wasDone == nowDone {
			return nil
		}

		if task.BaseDate == nil {
			return fmt.Errorf("%w: task %d is recurring but has no base date", ErrInvariant, taskID)
		}
		nextDue := recur.NextValidDueDate(task.Recurrence, *task.BaseDate)
		if nextDue == nil {
			return nil
		}

		if nowDone {
			createdID, err := l.spawnNext(ctx, tx, task, *nextDue)
			if err != nil {
				return err
			}
			result.CreatedID = &createdID
			return nil
		}

		deletedID, found, err := l.retractNext(ctx, tx, task, *nextDue)
		if err != nil {
			return err
		}
		if found {
			result.DeletedID = &deletedID
		}
		return nil
	})

	return result, err
}

// spawnNext creates the next occurrence of a recurring task, carrying the
// parent's reminder forward at the same local time-of-day on the new due date.
func (l *Lifecycle) spawnNext(ctx context.Context, tx *db.Store, parent model.Task, nextDue time.Time) (int64, error) {
	var nextReminder *time.Time
	if parent.ReminderTime != nil {
		moved := reminder.SameLocalTimeOn(*parent.ReminderTime, nextDue, l.now().Location())
		nextReminder = &moved
	}

	id, err := l.create(ctx, tx, Input{
		Title:        parent.Text,
		Due:          &nextDue,
		Recurrence:   parent.Recurrence,
		CategoryID:   parent.CategoryID,
		ReminderTime: nextReminder,
	}, &parent.ID)
	if err != nil {
		return 0, err
	}
	l.log.Debug("spawned next occurrence", "parent", parent.ID, "id", id, "due", nextDue)
	return id, nil
}

// retractNext deletes the occurrence spawned from this task, preferring the
// explicit back-reference and falling back to content matching for rows that
// predate it.
func (l *Lifecycle) retractNext(ctx context.Context, tx *db.Store, parent model.Task, nextDue time.Time) (int64, bool, error) {
	id, found, err := tx.SpawnedTaskID(ctx, parent.ID)
	if err != nil {
		return 0, false, err
	}
	if !found {
		id, found, err = tx.NextOccurrenceID(ctx, parent.CategoryID, parent.Text, parent.Recurrence, nextDue)
		if err != nil || !found {
			return 0, false, err
		}
	}

	if err := tx.DeleteTask(ctx, id); err != nil {
		return 0, false, err
	}
	l.log.Debug("retracted next occurrence", "parent", parent.ID, "id", id)
	return id, true, nil
}

// ArchiveSingleOccurrence archives one occurrence of a task. Recurring tasks
// first spawn their next occurrence, then the current one is archived as DONE;
// both steps share a transaction. Returns the spawned id, if any.
func (l *Lifecycle) ArchiveSingleOccurrence(ctx context.Context, taskID int64) (*int64, error) {
	var spawned *int64

	err := l.store.WithTx(ctx, func(tx *db.Store) error {
		task, err := tx.TaskByID(ctx, taskID)
		if err != nil {
			return notFoundOr(err, taskID)
		}

		if task.Recurrence == model.RecurrenceNone {
			task.IsArchived = true
			return l.updateExpectingRow(ctx, tx, task)
		}

		if task.BaseDate == nil {
			return fmt.Errorf("%w: task %d is recurring but has no base date", ErrInvariant, taskID)
		}

		if nextDue := recur.NextValidDueDate(task.Recurrence, *task.BaseDate); nextDue != nil {
			id, err := l.spawnNext(ctx, tx, task, *nextDue)
			if err != nil {
				return err
			}
			spawned = &id
		}

		today := l.today()
		task.IsArchived = true
		task.Status = model.StatusDone
		task.CompletedDate = &today
		return l.updateExpectingRow(ctx, tx, task)
	})

	return spawned, err
}

// ArchiveSeries archives the task without spawning anything, ending the series.
func (l *Lifecycle) ArchiveSeries(ctx context.Context, taskID int64) error {
	return l.store.WithTx(ctx, func(tx *db.Store) error {
		task, err := tx.TaskByID(ctx, taskID)
		if err != nil {
			return notFoundOr(err, taskID)
		}
		task.IsArchived = true
		return l.updateExpectingRow(ctx, tx, task)
	})
}

// Unarchive returns an archived task to its default views.
func (l *Lifecycle) Unarchive(ctx context.Context, taskID int64) error {
	return l.store.WithTx(ctx, func(tx *db.Store) error {
		task, err := tx.TaskByID(ctx, taskID)
		if err != nil {
			return notFoundOr(err, taskID)
		}
		task.IsArchived = false
		return l.updateExpectingRow(ctx, tx, task)
	})
}

// UpdateDetails rewrites the editable fields of a task in one update. Pure
// field edit: status is untouched and no occurrence is spawned.
func (l *Lifecycle) UpdateDetails(ctx context.Context, task model.Task, newTitle string, newDue *time.Time, newRecurrence model.Recurrence, newCategoryID int64, newReminder *time.Time) error {
	title := sanitizeTitle(newTitle)
	if title == "" {
		return fmt.Errorf("%w: task title cannot be blank", ErrValidation)
	}

	if newRecurrence == "" {
		newRecurrence = model.RecurrenceNone
	}

	var baseDate *time.Time
	if newRecurrence != model.RecurrenceNone {
		if newDue == nil {
			return fmt.Errorf("%w: recurring tasks must have a due date", ErrValidation)
		}
		d := *newDue
		baseDate = &d
	}

	task.Text = title
	task.Due = newDue
	task.BaseDate = baseDate
	task.Recurrence = newRecurrence
	task.CategoryID = newCategoryID
	task.ReminderTime = newReminder
	return l.updateExpectingRow(ctx, l.store, task)
}

// ApplyEdits resolves each tri-state field edit against the stored task and
// delegates to UpdateDetails. Titles and categories cannot be cleared; a
// cleared due date becomes none, a cleared recurrence becomes NONE, a cleared
// notify option becomes no notification. Returns the updated snapshot.
func (l *Lifecycle) ApplyEdits(ctx context.Context, taskID int64, edits Edits) (model.Task, error) {
	current, err := l.store.TaskByID(ctx, taskID)
	if err != nil {
		return model.Task{}, notFoundOr(err, taskID)
	}

	newTitle := edits.Title.Resolve(current.Text, func() string { return current.Text })
	newDue := edits.Due.Resolve(current.Due, func() *time.Time { return nil })
	newRecurrence := edits.Recurrence.Resolve(current.Recurrence, func() model.Recurrence { return model.RecurrenceNone })
	newCategoryID := edits.CategoryID.Resolve(current.CategoryID, func() int64 { return current.CategoryID })
	notify := edits.Notify.Resolve(reminder.OptionForTask(current), func() reminder.Option {
		return reminder.Option{Kind: reminder.OptionNone}
	})

	// Persist the user's reminder intent even when it is already in the past;
	// the stored instant is the source of truth the policy re-evaluates.
	newReminder := notify.Instant(newDue, l.now().Location())

	if err := l.UpdateDetails(ctx, current, newTitle, newDue, newRecurrence, newCategoryID, newReminder); err != nil {
		return model.Task{}, err
	}

	updated, err := l.store.TaskByID(ctx, taskID)
	if err != nil {
		return model.Task{}, notFoundOr(err, taskID)
	}
	return updated, nil
}

// ArchiveCompletedBeforeToday archives DONE tasks whose completion date has
// passed, keeping the default views to the current day.
func (l *Lifecycle) ArchiveCompletedBeforeToday(ctx context.Context) error {
	return l.store.ArchiveCompletedBefore(ctx, l.today())
}

func (l *Lifecycle) ArchiveCompletedInCategory(ctx context.Context, categoryID int64) error {
	return l.store.ArchiveCompletedInCategory(ctx, categoryID)
}

// ReindexCategoryOrders renumbers every category's order sequence densely from
// zero. Repair pass used after bulk imports.
func (l *Lifecycle) ReindexCategoryOrders(ctx context.Context) error {
	return l.store.WithTx(ctx, func(tx *db.Store) error {
		catIDs, err := tx.CategoryIDs(ctx)
		if err != nil {
			return err
		}
		for _, catID := range catIDs {
			tasks, err := tx.TasksInCategory(ctx, catID, true)
			if err != nil {
				return err
			}
			var changed []model.Task
			for i, task := range tasks {
				if task.CategoryPageOrder != i {
					task.CategoryPageOrder = i
					changed = append(changed, task)
				}
			}
			if err := tx.UpdateTasks(ctx, changed); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Lifecycle) updateExpectingRow(ctx context.Context, tx *db.Store, task model.Task) error {
	rows, err := tx.UpdateTask(ctx, task)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: task %d", ErrConflict, task.ID)
	}
	return nil
}

func notFoundOr(err error, taskID int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: task %d", ErrNotFound, taskID)
	}
	return err
}

func sanitizeTitle(title string) string {
	clean := lineBreaks.ReplaceAllString(strings.TrimSpace(title), " ")
	runes := []rune(clean)
	if len(runes) > maxTitleLength {
		return string(runes[:maxTitleLength])
	}
	return clean
}
