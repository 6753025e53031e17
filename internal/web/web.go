// Package web exposes the controller over HTTP. It is a thin adapter: every
// handler decodes a payload, calls one controller operation and maps the
// lifecycle sentinels onto status codes.
package web

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dverney/taskmill/internal/controller"
	"github.com/dverney/taskmill/internal/db"
	"github.com/dverney/taskmill/internal/lifecycle"
	"github.com/dverney/taskmill/internal/model"
	"github.com/dverney/taskmill/internal/order"
)

type Server struct {
	ctrl   *controller.Controller
	store  *db.Store
	log    *slog.Logger
	router *gin.Engine
}

func NewServer(ctrl *controller.Controller, store *db.Store, log *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{ctrl: ctrl, store: store, log: log, router: router}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	api := s.router.Group("/api")
	api.Use(s.requestLog())

	api.GET("/tasks", s.listTasks)
	api.POST("/tasks", s.createTask)
	api.GET("/tasks/:id", s.getTask)
	api.PATCH("/tasks/:id", s.patchTask)
	api.POST("/tasks/:id/status", s.transitionStatus)
	api.POST("/tasks/:id/archive", s.archiveTask)
	api.POST("/tasks/:id/unarchive", s.unarchiveTask)

	api.POST("/reorder", s.reorder)

	api.GET("/categories", s.listCategories)
	api.POST("/categories", s.createCategory)
	api.POST("/categories/:id/archive-completed", s.archiveCompletedInCategory)

	api.GET("/filters/status", s.visibleStatuses)
	api.POST("/filters/status/toggle", s.toggleStatus)

	api.POST("/maintenance/archive-completed", s.archiveCompleted)
	api.POST("/maintenance/purge-archived", s.purgeArchived)
	api.POST("/maintenance/reindex", s.reindexOrders)

	api.GET("/backup", s.backup)
	api.POST("/restore", s.restore)
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

/* ------------ tasks ------------ */

func (s *Server) listTasks(c *gin.Context) {
	var f model.Filter

	if raw := c.Query("date"); raw != "" {
		d, err := parseDate(raw)
		if err != nil {
			badRequest(c, err)
			return
		}
		f.Date = &d
	}
	if raw := c.Query("category_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(c, errors.New("invalid category_id"))
			return
		}
		f.CategoryID = &id
	}
	f.ShowArchived = c.Query("archived") == "true"

	tasks, err := s.ctrl.TasksForFilter(c.Request.Context(), f)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": toTaskOuts(tasks)})
}

func (s *Server) createTask(c *gin.Context) {
	var in createTaskIn
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	input := lifecycle.Input{
		Title:      in.Title,
		CategoryID: in.CategoryID,
	}
	if in.Due != nil {
		due, err := parseDate(*in.Due)
		if err != nil {
			badRequest(c, err)
			return
		}
		input.Due = &due
	}
	if in.Recurrence != nil {
		rec, err := model.ParseRecurrence(*in.Recurrence)
		if err != nil {
			badRequest(c, err)
			return
		}
		input.Recurrence = rec
	}

	notify := notifyIn{}
	if in.Notify != nil {
		notify = *in.Notify
	}
	opt, err := notify.option()
	if err != nil {
		badRequest(c, err)
		return
	}

	id, err := s.ctrl.Create(c.Request.Context(), input, opt)
	if err != nil {
		s.fail(c, err)
		return
	}

	task, err := s.store.TaskByID(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toTaskOut(task))
}

func (s *Server) getTask(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	task, err := s.store.TaskByID(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskOut(task))
}

func (s *Server) patchTask(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var in patchTaskIn
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	edits, err := in.edits()
	if err != nil {
		badRequest(c, err)
		return
	}

	if err := s.ctrl.ApplyEdits(c.Request.Context(), id, edits); err != nil {
		s.fail(c, err)
		return
	}

	task, err := s.store.TaskByID(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskOut(task))
}

func (s *Server) transitionStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var in struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	status, err := model.ParseStatus(in.Status)
	if err != nil {
		badRequest(c, err)
		return
	}

	res, err := s.ctrl.TransitionStatus(c.Request.Context(), id, status)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"created_id": res.CreatedID,
		"deleted_id": res.DeletedID,
	})
}

func (s *Server) archiveTask(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var in struct {
		Mode string `json:"mode"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	var mode controller.ArchiveMode
	switch in.Mode {
	case "", "single":
		mode = controller.ArchiveSingle
	case "series":
		mode = controller.ArchiveSeries
	default:
		badRequest(c, errors.New("mode must be single or series"))
		return
	}

	if err := s.ctrl.Archive(c.Request.Context(), id, mode); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) unarchiveTask(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.ctrl.Unarchive(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

/* ------------ ordering ------------ */

func (s *Server) reorder(c *gin.Context) {
	var in struct {
		Scope      string `json:"scope"`
		CategoryID int64  `json:"category_id"`
		From       int    `json:"from"`
		To         int    `json:"to"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	scope, err := order.ParseScope(in.Scope)
	if err != nil {
		badRequest(c, err)
		return
	}

	if err := s.ctrl.Reorder(c.Request.Context(), scope, in.CategoryID, in.From, in.To); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

/* ------------ categories ------------ */

func (s *Server) listCategories(c *gin.Context) {
	cats, err := s.store.Categories(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]categoryOut, 0, len(cats))
	for _, cat := range cats {
		out = append(out, categoryOut{ID: cat.ID, Title: cat.Title, Color: cat.Color})
	}
	c.JSON(http.StatusOK, gin.H{"categories": out})
}

func (s *Server) createCategory(c *gin.Context) {
	var in struct {
		Title string `json:"title"`
		Color string `json:"color"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	if in.Title == "" {
		badRequest(c, errors.New("title is required"))
		return
	}

	id, err := s.store.InsertCategory(c.Request.Context(), model.Category{
		Title:     in.Title,
		Color:     in.Color,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, categoryOut{ID: id, Title: in.Title, Color: in.Color})
}

/* ------------ filters and maintenance ------------ */

func (s *Server) visibleStatuses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"visible": s.ctrl.VisibleStatuses()})
}

func (s *Server) toggleStatus(c *gin.Context) {
	var in struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	status, err := model.ParseStatus(in.Status)
	if err != nil {
		badRequest(c, err)
		return
	}

	s.ctrl.ToggleStatusVisibility(c.Request.Context(), status)
	c.JSON(http.StatusOK, gin.H{"visible": s.ctrl.VisibleStatuses()})
}

func (s *Server) archiveCompleted(c *gin.Context) {
	if err := s.ctrl.ArchiveCompletedBeforeToday(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) purgeArchived(c *gin.Context) {
	if err := s.ctrl.PurgeArchived(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) archiveCompletedInCategory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.ctrl.ArchiveCompletedInCategory(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) reindexOrders(c *gin.Context) {
	if err := s.ctrl.ReindexCategoryOrders(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// backupPayload is the wire format for backup and restore; it carries the raw
// rows rather than the trimmed task view so a round trip is lossless.
type backupPayload struct {
	Categories []model.Category `json:"categories"`
	Tasks      []model.Task     `json:"tasks"`
}

func (s *Server) backup(c *gin.Context) {
	cats, tasks, err := s.ctrl.Backup(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, backupPayload{Categories: cats, Tasks: tasks})
}

func (s *Server) restore(c *gin.Context) {
	var in backupPayload
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.ctrl.Restore(c.Request.Context(), in.Categories, in.Tasks); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

/* ------------ helpers ------------ */

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, errors.New("invalid task id"))
		return 0, false
	}
	return id, true
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lifecycle.ErrValidation), errors.Is(err, order.ErrBadIndex):
		status = http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		status = http.StatusNotFound
	case errors.Is(err, lifecycle.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, lifecycle.ErrInvariant):
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
