package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dverney/taskmill/internal/lifecycle"
	"github.com/dverney/taskmill/internal/model"
	"github.com/dverney/taskmill/internal/reminder"
)

const dateLayout = "2006-01-02"

type notifyIn struct {
	Kind string     `json:"kind"` // none | morning_of_due | evening_before | at_instant
	At   *time.Time `json:"at"`
}

func (n notifyIn) option() (reminder.Option, error) {
	switch n.Kind {
	case "", "none":
		return reminder.Option{Kind: reminder.OptionNone}, nil
	case "morning_of_due":
		return reminder.Option{Kind: reminder.OptionMorningOfDue}, nil
	case "evening_before":
		return reminder.Option{Kind: reminder.OptionEveningBefore}, nil
	case "at_instant":
		if n.At == nil {
			return reminder.Option{}, fmt.Errorf("notify kind at_instant needs an instant")
		}
		return reminder.Option{Kind: reminder.OptionAtInstant, At: *n.At}, nil
	}
	return reminder.Option{}, fmt.Errorf("invalid notify kind %q", n.Kind)
}

type createTaskIn struct {
	Title      string    `json:"title"`
	CategoryID int64     `json:"category_id"`
	Due        *string   `json:"due"`
	Recurrence *string   `json:"recurrence"`
	Notify     *notifyIn `json:"notify"`
}

// patchTaskIn distinguishes absent fields (NoChange) from JSON null (Clear)
// by keeping the raw message around.
type patchTaskIn struct {
	Title      *string         `json:"title"`
	Due        json.RawMessage `json:"due"`
	Recurrence json.RawMessage `json:"recurrence"`
	CategoryID *int64          `json:"category_id"`
	Notify     json.RawMessage `json:"notify"`
}

var jsonNull = []byte("null")

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), jsonNull)
}

func (in patchTaskIn) edits() (lifecycle.Edits, error) {
	var edits lifecycle.Edits

	if in.Title != nil {
		edits.Title = model.Set(*in.Title)
	}

	if len(in.Due) > 0 {
		if isNull(in.Due) {
			edits.Due = model.Clear[*time.Time]()
		} else {
			var raw string
			if err := json.Unmarshal(in.Due, &raw); err != nil {
				return edits, fmt.Errorf("invalid due: %w", err)
			}
			due, err := parseDate(raw)
			if err != nil {
				return edits, err
			}
			edits.Due = model.Set(&due)
		}
	}

	if len(in.Recurrence) > 0 {
		if isNull(in.Recurrence) {
			edits.Recurrence = model.Clear[model.Recurrence]()
		} else {
			var raw string
			if err := json.Unmarshal(in.Recurrence, &raw); err != nil {
				return edits, fmt.Errorf("invalid recurrence: %w", err)
			}
			rec, err := model.ParseRecurrence(raw)
			if err != nil {
				return edits, err
			}
			edits.Recurrence = model.Set(rec)
		}
	}

	if in.CategoryID != nil {
		edits.CategoryID = model.Set(*in.CategoryID)
	}

	if len(in.Notify) > 0 {
		if isNull(in.Notify) {
			edits.Notify = model.Clear[reminder.Option]()
		} else {
			var n notifyIn
			if err := json.Unmarshal(in.Notify, &n); err != nil {
				return edits, fmt.Errorf("invalid notify: %w", err)
			}
			opt, err := n.option()
			if err != nil {
				return edits, err
			}
			edits.Notify = model.Set(opt)
		}
	}

	return edits, nil
}

type taskOut struct {
	ID                int64      `json:"id"`
	CategoryID        int64      `json:"category_id"`
	Title             string     `json:"title"`
	Due               *string    `json:"due,omitempty"`
	BaseDate          *string    `json:"base_date,omitempty"`
	Recurrence        string     `json:"recurrence"`
	Status            string     `json:"status"`
	CompletedDate     *string    `json:"completed_date,omitempty"`
	IsArchived        bool       `json:"is_archived"`
	ReminderTime      *time.Time `json:"reminder_time,omitempty"`
	CategoryPageOrder int        `json:"category_page_order"`
	AllPageOrder      int        `json:"all_page_order"`
	SpawnedFromTaskID *int64     `json:"spawned_from_task_id,omitempty"`
}

func toTaskOut(t model.Task) taskOut {
	return taskOut{
		ID:                t.ID,
		CategoryID:        t.CategoryID,
		Title:             t.Text,
		Due:               formatDate(t.Due),
		BaseDate:          formatDate(t.BaseDate),
		Recurrence:        string(t.Recurrence),
		Status:            string(t.Status),
		CompletedDate:     formatDate(t.CompletedDate),
		IsArchived:        t.IsArchived,
		ReminderTime:      t.ReminderTime,
		CategoryPageOrder: t.CategoryPageOrder,
		AllPageOrder:      t.AllPageOrder,
		SpawnedFromTaskID: t.SpawnedFromTaskID,
	}
}

func toTaskOuts(tasks []model.Task) []taskOut {
	out := make([]taskOut, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskOut(t))
	}
	return out
}

type categoryOut struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Color string `json:"color"`
}

func parseDate(raw string) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", raw)
	}
	return d, nil
}

func formatDate(d *time.Time) *string {
	if d == nil {
		return nil
	}
	s := d.Format(dateLayout)
	return &s
}
