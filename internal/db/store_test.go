package db

import (
	"context"
	"testing"
	"time"

	"github.com/dverney/taskmill/internal/model"
)

func TestInsertTaskRoundTrip(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	catID := mustCategory(t, store, "Work")

	due := model.Date(2024, time.June, 3)
	reminder := time.Date(2024, time.June, 3, 8, 30, 0, 0, time.UTC)
	id, err := store.InsertTask(ctx, model.Task{
		CategoryID:   catID,
		Text:         "File the report",
		Due:          &due,
		BaseDate:     &due,
		Recurrence:   model.RecurrenceWeekly,
		Status:       model.StatusTodo,
		ReminderTime: &reminder,
		CreatedAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("insert task: %v", err)
	}

	got, err := store.TaskByID(ctx, id)
	if err != nil {
		t.Fatalf("task by id: %v", err)
	}
	if got.Text != "File the report" {
		t.Fatalf("expected text round trip, got %q", got.Text)
	}
	if got.Due == nil || !got.Due.Equal(due) {
		t.Fatalf("expected due %v, got %v", due, got.Due)
	}
	if got.BaseDate == nil || !got.BaseDate.Equal(due) {
		t.Fatalf("expected base date %v, got %v", due, got.BaseDate)
	}
	if got.Recurrence != model.RecurrenceWeekly {
		t.Fatalf("expected weekly recurrence, got %q", got.Recurrence)
	}
	if got.ReminderTime == nil || !got.ReminderTime.Equal(reminder) {
		t.Fatalf("expected reminder %v, got %v", reminder, got.ReminderTime)
	}
}

func TestMaxOrdersStartAtMinusOne(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	catID := mustCategory(t, store, "Home")

	max, err := store.MaxCategoryOrder(ctx, catID)
	if err != nil {
		t.Fatalf("max category order: %v", err)
	}
	if max != -1 {
		t.Fatalf("expected -1 on empty scope, got %d", max)
	}

	max, err = store.MaxAllOrder(ctx)
	if err != nil {
		t.Fatalf("max all order: %v", err)
	}
	if max != -1 {
		t.Fatalf("expected -1 on empty board, got %d", max)
	}
}

func TestSpawnedTaskLookupIgnoresArchived(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	catID := mustCategory(t, store, "Home")
	parentID := mustTask(t, store, catID, "Water plants", 0)

	childID, err := store.InsertTask(ctx, model.Task{
		CategoryID:        catID,
		Text:              "Water plants",
		Status:            model.StatusTodo,
		Recurrence:        model.RecurrenceNone,
		SpawnedFromTaskID: &parentID,
		CreatedAt:         time.Now(),
	})
	if err != nil {
		t.Fatalf("insert child: %v", err)
	}

	id, found, err := store.SpawnedTaskID(ctx, parentID)
	if err != nil {
		t.Fatalf("spawned lookup: %v", err)
	}
	if !found || id != childID {
		t.Fatalf("expected spawned id %d, got %d found=%v", childID, id, found)
	}

	child, err := store.TaskByID(ctx, childID)
	if err != nil {
		t.Fatalf("child by id: %v", err)
	}
	child.IsArchived = true
	if _, err := store.UpdateTask(ctx, child); err != nil {
		t.Fatalf("archive child: %v", err)
	}

	_, found, err = store.SpawnedTaskID(ctx, parentID)
	if err != nil {
		t.Fatalf("spawned lookup after archive: %v", err)
	}
	if found {
		t.Fatal("expected archived child to be invisible to spawned lookup")
	}
}

func TestPurgeArchivedReturnsIDs(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	catID := mustCategory(t, store, "Home")
	keep := mustTask(t, store, catID, "Keep me", 0)
	gone := mustTask(t, store, catID, "Purge me", 1)

	task, err := store.TaskByID(ctx, gone)
	if err != nil {
		t.Fatalf("task by id: %v", err)
	}
	task.IsArchived = true
	if _, err := store.UpdateTask(ctx, task); err != nil {
		t.Fatalf("archive: %v", err)
	}

	ids, err := store.PurgeArchived(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if len(ids) != 1 || ids[0] != gone {
		t.Fatalf("expected purge of %d, got %v", gone, ids)
	}

	if _, err := store.TaskByID(ctx, keep); err != nil {
		t.Fatalf("surviving task should load: %v", err)
	}
	if _, err := store.TaskByID(ctx, gone); err == nil {
		t.Fatal("expected purged task to be gone")
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	catID := mustCategory(t, store, "Home")

	errBoom := contextError("boom")
	err := store.WithTx(ctx, func(tx *Store) error {
		if _, err := tx.InsertTask(ctx, model.Task{
			CategoryID: catID, Text: "Ghost", Status: model.StatusTodo,
			Recurrence: model.RecurrenceNone, CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
		return errBoom
	})
	if err == nil {
		t.Fatal("expected error from transaction")
	}

	tasks, err := store.AllTasks(ctx, true)
	if err != nil {
		t.Fatalf("all tasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected rollback to discard insert, got %d rows", len(tasks))
	}
}

func TestReplaceAllSwapsContent(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	oldCat := mustCategory(t, store, "Old")
	mustTask(t, store, oldCat, "Old task", 0)

	cats := []model.Category{{ID: 7, Title: "Restored", CreatedAt: time.Now()}}
	tasks := []model.Task{{
		ID: 42, CategoryID: 7, Text: "Restored task",
		Status: model.StatusPending, Recurrence: model.RecurrenceNone,
		CreatedAt: time.Now(),
	}}
	if err := store.ReplaceAll(ctx, cats, tasks); err != nil {
		t.Fatalf("replace all: %v", err)
	}

	got, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(got) != 1 || got[0].ID != 42 || got[0].Text != "Restored task" {
		t.Fatalf("unexpected snapshot after restore: %+v", got)
	}
}

type contextError string

func (e contextError) Error() string { return string(e) }

func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	sqlDB, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return NewStore(sqlDB), func() {
		_ = sqlDB.Close()
	}
}

func mustCategory(t *testing.T, store *Store, title string) int64 {
	t.Helper()
	id, err := store.InsertCategory(context.Background(), model.Category{Title: title, CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("insert category: %v", err)
	}
	return id
}

func mustTask(t *testing.T, store *Store, catID int64, text string, order int) int64 {
	t.Helper()
	id, err := store.InsertTask(context.Background(), model.Task{
		CategoryID:        catID,
		Text:              text,
		Status:            model.StatusTodo,
		Recurrence:        model.RecurrenceNone,
		CategoryPageOrder: order,
		AllPageOrder:      order,
		CreatedAt:         time.Now(),
	})
	if err != nil {
		t.Fatalf("insert task: %v", err)
	}
	return id
}
