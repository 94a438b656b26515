package api

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"labReport/internal/api/middleware"
	"labReport/internal/database"
	"labReport/internal/editor"
	"labReport/internal/errcode"
	"labReport/internal/notify"
	"labReport/internal/report"
	"labReport/internal/tasks"
)

// ReportHandler 负责报告生成相关的 API。
type ReportHandler struct {
	reports  *report.Service
	projects *database.ReportSource
	sessions *editor.Manager
	jobs     tasks.Enqueuer
}

func NewReportHandler(reports *report.Service, projects *database.ReportSource, sessions *editor.Manager, jobs tasks.Enqueuer) *ReportHandler {
	return &ReportHandler{reports: reports, projects: projects, sessions: sessions, jobs: jobs}
}

// generateRequest 指定模板的方式二选一：已保存的 template_id，或编辑会话 session_id（使用未保存的当前内容）。
type generateRequest struct {
	TemplateID uint   `json:"template_id"`
	SessionID  string `json:"session_id"`
	ProjectID  uint   `json:"project_id" binding:"required"`
	Engine     string `json:"engine"`
}

// GET /v1/projects
func (h *ReportHandler) ListProjects(c *gin.Context) {
	projects, err := h.projects.ListProjects(c.Request.Context())
	if err != nil {
		middleware.LoggerFromContext(c).Error("list projects failed", slog.Any("error", err))
		Internal(c, "failed to list projects")
		return
	}
	c.JSON(http.StatusOK, projects)
}

// POST /v1/reports/generate
// 同步生成并直接下载 PDF。同一项目已有生成在进行时返回 409。
func (h *ReportHandler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	gen := report.Request{TemplateID: req.TemplateID, ProjectID: req.ProjectID, Engine: report.Engine(req.Engine)}
	switch {
	case req.SessionID != "":
		s, err := h.sessions.Get(req.SessionID)
		if err != nil {
			NotFound(c, err.Error())
			return
		}
		gen.Template = s.Snapshot().Template
	case req.TemplateID == 0:
		BadRequest(c, "template_id or session_id is required")
		return
	}

	res, err := h.reports.Generate(c.Request.Context(), gen)
	if err != nil {
		generationError(c, err)
		return
	}

	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": res.FileName}))
	c.Header("X-Render-Warnings", strconv.Itoa(len(res.Warnings)))
	c.Data(http.StatusOK, "application/pdf", res.PDF)
}

// POST /v1/reports/enqueue
// 异步生成，结果经 project_notify:<id> 通知。
func (h *ReportHandler) Enqueue(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.TemplateID == 0 {
		BadRequest(c, "template_id is required")
		return
	}
	if h.jobs == nil {
		ServiceUnavailable(c, "background jobs are disabled")
		return
	}

	held, err := h.reports.InFlight(c.Request.Context(), req.ProjectID)
	if err != nil {
		middleware.LoggerFromContext(c).Error("check in-flight flag failed", slog.Any("error", err))
		Internal(c, "failed to check generation status")
		return
	}
	if held {
		ErrorWithCode(c, http.StatusConflict, errcode.GenerationInFlight, report.ErrInFlight.Error())
		return
	}

	correlationID := middleware.GetCorrelationID(c)
	task, err := tasks.NewPDFGenerateTask(tasks.PDFGeneratePayload{
		TemplateID:    req.TemplateID,
		ProjectID:     req.ProjectID,
		Engine:        req.Engine,
		CorrelationID: correlationID,
	})
	if err != nil {
		Internal(c, "failed to build task")
		return
	}
	if err := h.jobs.Enqueue(c.Request.Context(), task); err != nil {
		middleware.LoggerFromContext(c).Error("enqueue report failed", slog.Any("error", err))
		Internal(c, "failed to enqueue report")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":         "queued",
		"correlation_id": correlationID,
		"channel":        notify.ProjectChannel(req.ProjectID),
	})
}

// GET /v1/reports/status/:projectID
func (h *ReportHandler) Status(c *gin.Context) {
	id, ok := parseID(c, "projectID")
	if !ok {
		return
	}
	held, err := h.reports.InFlight(c.Request.Context(), id)
	if err != nil {
		Internal(c, "failed to check generation status")
		return
	}
	c.JSON(http.StatusOK, gin.H{"project_id": id, "in_flight": held})
}

func generationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, report.ErrInFlight):
		ErrorWithCode(c, http.StatusConflict, errcode.GenerationInFlight, err.Error())
	case errors.Is(err, database.ErrTemplateNotFound):
		NotFound(c, "template not found")
	case errors.Is(err, database.ErrProjectNotFound):
		NotFound(c, "project not found")
	case errors.Is(err, report.ErrUnknownEngine):
		BadRequest(c, err.Error())
	case errors.Is(err, report.ErrBrowserUnavailable):
		ServiceUnavailable(c, err.Error())
	default:
		middleware.LoggerFromContext(c).Error("generate report failed", slog.Any("error", err))
		ErrorWithCode(c, http.StatusInternalServerError, errcode.SystemError, "failed to generate report")
	}
}
