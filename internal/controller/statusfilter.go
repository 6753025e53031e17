package controller

import (
	"log/slog"
	"sync"

	"github.com/dverney/taskmill/internal/model"
)

// StatusFilter is the process-wide "which statuses are visible" set. It is
// constructed once from persisted defaults and handed to the controller
// explicitly; every change is written back through the persist hook.
type StatusFilter struct {
	mu      sync.Mutex
	visible map[model.TaskStatus]bool
	persist func([]model.TaskStatus)
	log     *slog.Logger
}

func NewStatusFilter(initial []model.TaskStatus, persist func([]model.TaskStatus), log *slog.Logger) *StatusFilter {
	visible := make(map[model.TaskStatus]bool)
	if len(initial) == 0 {
		initial = model.AllStatuses()
	}
	for _, st := range initial {
		visible[st] = true
	}
	return &StatusFilter{visible: visible, persist: persist, log: log}
}

// Toggle flips the visibility of one status and persists the new set.
func (f *StatusFilter) Toggle(st model.TaskStatus) {
	f.mu.Lock()
	if f.visible[st] {
		delete(f.visible, st)
	} else {
		f.visible[st] = true
	}
	snapshot := f.snapshotLocked()
	f.mu.Unlock()

	f.log.Debug("status visibility changed", "visible", snapshot)
	if f.persist != nil {
		f.persist(snapshot)
	}
}

func (f *StatusFilter) IsVisible(st model.TaskStatus) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible[st]
}

func (f *StatusFilter) Visible() []model.TaskStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

func (f *StatusFilter) snapshotLocked() []model.TaskStatus {
	var out []model.TaskStatus
	for _, st := range model.AllStatuses() {
		if f.visible[st] {
			out = append(out, st)
		}
	}
	return out
}
