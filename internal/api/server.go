package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"chatbi/internal/audit"
	"chatbi/internal/directory"
	"chatbi/internal/engine"
	"chatbi/internal/models"
	"chatbi/internal/schedule"
	"chatbi/internal/template"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Server struct {
	db        *gorm.DB
	templates *template.Registry
	schedules *schedule.Store
	engine    *engine.Engine
	auditLog  *audit.Logger
	dir       directory.Directory
	router    *gin.Engine
}

func NewServer(db *gorm.DB, templates *template.Registry, schedules *schedule.Store, eng *engine.Engine, auditLog *audit.Logger, dir directory.Directory) *Server {
	server := &Server{
		db:        db,
		templates: templates,
		schedules: schedules,
		engine:    eng,
		auditLog:  auditLog,
		dir:       dir,
		router:    gin.Default(),
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")

	api.GET("/health", s.health)
	api.GET("/recipients", s.listRecipients)

	templates := api.Group("/templates")
	{
		templates.POST("", s.createTemplate)
		templates.GET("", s.listTemplates)
		templates.GET("/:id", s.getTemplate)
		templates.PUT("/:id", s.updateTemplate)
		templates.POST("/:id/duplicate", s.duplicateTemplate)
		templates.DELETE("/:id", s.deleteTemplate)
	}

	schedules := api.Group("/schedules")
	{
		schedules.POST("", s.createSchedule)
		schedules.GET("", s.listSchedules)
		schedules.GET("/:id", s.getSchedule)
		schedules.PATCH("/:id", s.patchSchedule)
		schedules.DELETE("/:id", s.deleteSchedule)
		schedules.POST("/:id/send-now", s.sendNow)
		schedules.POST("/:id/send-test", s.sendTest)
		schedules.GET("/:id/runs", s.listRuns)
		schedules.GET("/:id/next-runs", s.nextRuns)
	}

	api.GET("/runs/:id/deliveries", s.listDeliveries)
	api.GET("/audit", s.queryAudit)
}

func (s *Server) Start(port int) error {
	return s.router.Run(fmt.Sprintf(":%d", port))
}

// Router exposes the underlying router for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// actor reads the acting user from request headers. Authentication is owned
// by the surrounding platform; the core only needs identity for the audit
// trail.
func actor(c *gin.Context) audit.Actor {
	a := audit.Actor{
		ID:   c.GetHeader("X-User-Id"),
		Name: c.GetHeader("X-User-Name"),
	}
	if a.ID == "" {
		a.ID = "anonymous"
	}
	if a.Name == "" {
		a.Name = a.ID
	}
	return a
}

func idParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

// writeError maps domain errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, template.ErrNotFound),
		errors.Is(err, schedule.ErrNotFound),
		errors.Is(err, engine.ErrScheduleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, template.ErrReferencedBySchedule):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		// validation failures surface directly to the caller
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listRecipients(c *gin.Context) {
	recipients, err := s.dir.ListRecipients()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, recipients)
}

// ---- templates ----

func (s *Server) createTemplate(c *gin.Context) {
	var t models.ReportTemplate
	if err := c.BindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.templates.Create(&t, actor(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (s *Server) listTemplates(c *gin.Context) {
	filter := template.Filter{
		Source: models.TemplateSource(c.Query("source")),
		Query:  c.Query("q"),
	}
	if tag := c.Query("tag"); tag != "" {
		filter.Tags = []string{tag}
	}
	list, err := s.templates.List(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getTemplate(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	t, err := s.templates.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) updateTemplate(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var update models.ReportTemplate
	if err := c.BindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t, err := s.templates.Update(id, &update, actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) duplicateTemplate(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	t, err := s.templates.Duplicate(id, actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (s *Server) deleteTemplate(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := s.templates.Delete(id, actor(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---- schedules ----

func (s *Server) createSchedule(c *gin.Context) {
	var in schedule.CreateInput
	if err := c.BindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sched, err := s.schedules.Create(&in, actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sched)
}

func (s *Server) listSchedules(c *gin.Context) {
	list, err := s.schedules.List(models.ScheduleStatus(c.Query("status")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getSchedule(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	sched, err := s.schedules.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

// patchRequest is the PATCH /schedules/:id body: either a status action
// (pause/resume) or a full edit.
type patchRequest struct {
	Action string                `json:"action,omitempty"` // "pause" or "resume"
	Edit   *schedule.CreateInput `json:"edit,omitempty"`
}

func (s *Server) patchSchedule(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req patchRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var (
		sched *models.Schedule
		err   error
	)
	switch {
	case req.Action == "pause":
		sched, err = s.schedules.Pause(id, actor(c))
	case req.Action == "resume":
		sched, err = s.schedules.Resume(id, actor(c))
	case req.Edit != nil:
		sched, err = s.schedules.Update(id, req.Edit, actor(c))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "patch requires an action (pause/resume) or an edit"})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (s *Server) deleteSchedule(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := s.schedules.Delete(id, actor(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) sendNow(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	run, err := s.engine.TriggerSendNow(id, actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	// triggering is asynchronous: the caller polls run state for progress
	c.JSON(http.StatusAccepted, run)
}

func (s *Server) sendTest(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	run, err := s.engine.TriggerSendTest(id, actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, run)
}

func (s *Server) listRuns(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var runs []models.ExecutionRun
	if err := s.db.Where("schedule_id = ?", id).Order("triggered_at desc").Find(&runs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch runs"})
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) nextRuns(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	count := 5
	if v := c.Query("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 50 {
			count = n
		}
	}
	runs, err := s.schedules.NextRuns(id, count)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) listDeliveries(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var logs []models.DeliveryLog
	if err := s.db.Where("run_id = ?", id).Order("id").Find(&logs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch delivery logs"})
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (s *Server) queryAudit(c *gin.Context) {
	filter := audit.QueryFilter{
		UserID:     c.Query("user"),
		Action:     models.AuditAction(c.Query("action")),
		EntityType: models.EntityType(c.Query("entityType")),
	}
	if v := c.Query("entityId"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 32); err == nil {
			filter.EntityID = uint(id)
		}
	}
	if v := c.Query("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.From = &t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.To = &t
		}
	}

	events, err := s.auditLog.Query(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query audit log"})
		return
	}
	c.JSON(http.StatusOK, events)
}
