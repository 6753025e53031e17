package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dverney/taskmill/internal/controller"
	"github.com/dverney/taskmill/internal/db"
	"github.com/dverney/taskmill/internal/lifecycle"
	"github.com/dverney/taskmill/internal/model"
	"github.com/dverney/taskmill/internal/order"
)

type nopScheduler struct{}

func (nopScheduler) Schedule(int64, time.Time)               {}
func (nopScheduler) Cancel(int64, *time.Time)                {}
func (nopScheduler) Reschedule(int64, *time.Time, *time.Time) {}

func newTestServer(t *testing.T) (*Server, int64) {
	t.Helper()
	sqlDB, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := db.NewStore(sqlDB)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := func() time.Time { return time.Date(2024, time.January, 4, 10, 0, 0, 0, time.UTC) }

	catID, err := store.InsertCategory(context.Background(), model.Category{Title: "Inbox", CreatedAt: now()})
	require.NoError(t, err)

	life := lifecycle.New(store, log, now)
	orders := order.NewEngine(store, log)
	filter := controller.NewStatusFilter(nil, nil, log)
	ctrl := controller.New(store, life, orders, nopScheduler{}, filter, log, now, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	ctrl.Start(ctx)
	t.Cleanup(func() {
		cancel()
		ctrl.Wait()
	})

	return NewServer(ctrl, store, log), catID
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestCreateAndGetTask(t *testing.T) {
	s, catID := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/tasks", m{
		"title":       "  Write report\nfinal  ",
		"category_id": catID,
		"due":         "2024-01-10",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created taskOut
	decode(t, rec, &created)
	assert.Equal(t, "Write report final", created.Title)
	assert.Equal(t, "TODO", created.Status)
	require.NotNil(t, created.Due)
	assert.Equal(t, "2024-01-10", *created.Due)

	rec = doJSON(t, s, http.MethodGet, fmt.Sprintf("/api/tasks/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateBlankTitleIsRejected(t *testing.T) {
	s, catID := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/tasks", m{"title": "   ", "category_id": catID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetMissingTaskReturns404(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/tasks/9999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPatchDistinguishesNullFromAbsent(t *testing.T) {
	s, catID := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/tasks", m{
		"title": "Trim me", "category_id": catID, "due": "2024-01-10",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created taskOut
	decode(t, rec, &created)

	// Absent due: unchanged.
	rec = doJSON(t, s, http.MethodPatch, fmt.Sprintf("/api/tasks/%d", created.ID), m{"title": "Renamed"})
	require.Equal(t, http.StatusOK, rec.Code)
	var patched taskOut
	decode(t, rec, &patched)
	assert.Equal(t, "Renamed", patched.Title)
	require.NotNil(t, patched.Due)

	// Explicit null: cleared.
	req := httptest.NewRequest(http.MethodPatch, fmt.Sprintf("/api/tasks/%d", created.ID),
		bytes.NewBufferString(`{"due": null}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	patched = taskOut{}
	decode(t, w, &patched)
	assert.Nil(t, patched.Due)
}

func TestStatusTransitionSpawnsNextOccurrence(t *testing.T) {
	s, catID := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/tasks", m{
		"title": "Daily sync", "category_id": catID, "due": "2024-01-04", "recurrence": "DAILY",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created taskOut
	decode(t, rec, &created)

	rec = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/tasks/%d/status", created.ID), m{"status": "DONE"})
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		CreatedID *int64 `json:"created_id"`
	}
	decode(t, rec, &res)
	require.NotNil(t, res.CreatedID)

	rec = doJSON(t, s, http.MethodGet, fmt.Sprintf("/api/tasks/%d", *res.CreatedID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var spawned taskOut
	decode(t, rec, &spawned)
	require.NotNil(t, spawned.Due)
	assert.Equal(t, "2024-01-05", *spawned.Due)
	require.NotNil(t, spawned.SpawnedFromTaskID)
	assert.Equal(t, created.ID, *spawned.SpawnedFromTaskID)
}

func TestArchiveRejectsUnknownMode(t *testing.T) {
	s, catID := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/tasks", m{"title": "Archive me", "category_id": catID})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created taskOut
	decode(t, rec, &created)

	rec = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/tasks/%d/archive", created.ID), m{"mode": "forever"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/tasks/%d/archive", created.ID), m{"mode": "series"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestReorderEndpoint(t *testing.T) {
	s, catID := newTestServer(t)

	var ids []int64
	for _, title := range []string{"A", "B", "C"} {
		rec := doJSON(t, s, http.MethodPost, "/api/tasks", m{"title": title, "category_id": catID})
		require.Equal(t, http.StatusCreated, rec.Code)
		var created taskOut
		decode(t, rec, &created)
		ids = append(ids, created.ID)
	}

	rec := doJSON(t, s, http.MethodPost, "/api/reorder", m{
		"scope": "category", "category_id": catID, "from": 0, "to": 2,
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodGet, fmt.Sprintf("/api/tasks?category_id=%d", catID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Tasks []taskOut `json:"tasks"`
	}
	decode(t, rec, &out)
	require.Len(t, out.Tasks, 3)
	assert.Equal(t, []int64{ids[1], ids[2], ids[0]}, []int64{out.Tasks[0].ID, out.Tasks[1].ID, out.Tasks[2].ID})
}

func TestToggleStatusFilter(t *testing.T) {
	s, catID := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/tasks", m{"title": "Done soon", "category_id": catID})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created taskOut
	decode(t, rec, &created)

	rec = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/tasks/%d/status", created.ID), m{"status": "DONE"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/filters/status/toggle", m{"status": "DONE"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Tasks []taskOut `json:"tasks"`
	}
	decode(t, rec, &out)
	assert.Empty(t, out.Tasks)
}

type m = map[string]any
