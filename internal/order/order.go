// Package order reindexes the two manual-ordering sequences (per-category and
// global board) when a task is dragged across a filtered view.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dverney/taskmill/internal/db"
	"github.com/dverney/taskmill/internal/model"
)

// ErrBadIndex reports a drag position outside the visible slice.
var ErrBadIndex = errors.New("reorder index out of range")

// Scope names one of the two disjoint ordering sequences.
type Scope string

const (
	ScopeCategory Scope = "category"
	ScopeAll      Scope = "all"
)

func ParseScope(name string) (Scope, error) {
	switch Scope(name) {
	case ScopeCategory, ScopeAll:
		return Scope(name), nil
	}
	return "", fmt.Errorf("invalid ordering scope %q", name)
}

// Plan moves the visible element at from to position to, stitches the
// reordered visible slice back into the full scope (non-visible tasks keep
// their relative positions), and renumbers the merged list densely from zero.
// Only tasks whose order value actually changes are returned for persistence;
// from == to short-circuits to an empty plan.
func Plan(full, visible []model.Task, from, to int, getOrder func(model.Task) int, setOrder func(model.Task, int) model.Task) ([]model.Task, error) {
	if from < 0 || from >= len(visible) || to < 0 || to >= len(visible) {
		return nil, fmt.Errorf("%w: from=%d to=%d visible=%d", ErrBadIndex, from, to, len(visible))
	}
	if from == to {
		return nil, nil
	}

	fullSorted := append([]model.Task(nil), full...)
	sort.SliceStable(fullSorted, func(i, j int) bool {
		return getOrder(fullSorted[i]) < getOrder(fullSorted[j])
	})

	visibleSorted := append([]model.Task(nil), visible...)
	sort.SliceStable(visibleSorted, func(i, j int) bool {
		return getOrder(visibleSorted[i]) < getOrder(visibleSorted[j])
	})

	visibleIDs := make(map[int64]struct{}, len(visibleSorted))
	for _, t := range visibleSorted {
		visibleIDs[t.ID] = struct{}{}
	}

	moved := visibleSorted[from]
	visibleSorted = append(visibleSorted[:from], visibleSorted[from+1:]...)
	visibleSorted = append(visibleSorted, model.Task{})
	copy(visibleSorted[to+1:], visibleSorted[to:])
	visibleSorted[to] = moved

	// Substitute each visible slot in the full list with the next element of
	// the reordered visible sequence.
	next := 0
	merged := make([]model.Task, 0, len(fullSorted))
	for _, t := range fullSorted {
		if _, ok := visibleIDs[t.ID]; ok {
			merged = append(merged, visibleSorted[next])
			next++
		} else {
			merged = append(merged, t)
		}
	}

	var updates []model.Task
	for idx, t := range merged {
		if getOrder(t) != idx {
			updates = append(updates, setOrder(t, idx))
		}
	}
	return updates, nil
}

// Engine serializes every reorder through one mutex and persists the plan in a
// single store transaction. The mutex covers the whole read-merge-write
// sequence; two drags on the same scope can otherwise interleave their reads
// and clobber each other's renumbering.
type Engine struct {
	mu    sync.Mutex
	store *db.Store
	log   *slog.Logger
}

func NewEngine(store *db.Store, log *slog.Logger) *Engine {
	return &Engine{store: store, log: log}
}

// Reorder moves the visible task at from to position to within the given
// scope. categoryID is only consulted for ScopeCategory; visible decides which
// tasks of the scope the user currently sees.
func (e *Engine) Reorder(ctx context.Context, scope Scope, categoryID int64, visible func(model.Task) bool, from, to int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var full []model.Task
	var err error
	var getOrder func(model.Task) int
	var setOrder func(model.Task, int) model.Task

	switch scope {
	case ScopeCategory:
		full, err = e.store.TasksInCategory(ctx, categoryID, false)
		getOrder = func(t model.Task) int { return t.CategoryPageOrder }
		setOrder = func(t model.Task, ord int) model.Task { t.CategoryPageOrder = ord; return t }
	case ScopeAll:
		full, err = e.store.AllTasks(ctx, false)
		getOrder = func(t model.Task) int { return t.AllPageOrder }
		setOrder = func(t model.Task, ord int) model.Task { t.AllPageOrder = ord; return t }
	default:
		return fmt.Errorf("invalid ordering scope %q", scope)
	}
	if err != nil {
		return err
	}

	visibleTasks := make([]model.Task, 0, len(full))
	for _, t := range full {
		if visible(t) {
			visibleTasks = append(visibleTasks, t)
		}
	}

	updates, err := Plan(full, visibleTasks, from, to, getOrder, setOrder)
	if err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}

	e.log.Debug("reorder", "scope", scope, "from", from, "to", to, "rows", len(updates))
	return e.store.WithTx(ctx, func(tx *db.Store) error {
		return tx.UpdateTasks(ctx, updates)
	})
}
