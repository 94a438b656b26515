package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"labReport/internal/api/middleware"
	"labReport/internal/canvas"
	"labReport/internal/database"
	"labReport/internal/editor"
	"labReport/internal/errcode"
	"labReport/internal/layout"
	"labReport/internal/metrics"
	"labReport/internal/report"
)

// SessionHandler 把编辑会话的 Store 操作暴露为 HTTP 接口。
// 所有变更接口都返回 {applied, session}；查找失败不是错误，applied=false。
type SessionHandler struct {
	sessions  *editor.Manager
	templates *database.TemplateStore
	reports   *report.Service
}

func NewSessionHandler(sessions *editor.Manager, templates *database.TemplateStore, reports *report.Service) *SessionHandler {
	return &SessionHandler{sessions: sessions, templates: templates, reports: reports}
}

type openSessionRequest struct {
	TemplateID uint `json:"template_id"`
}

type updateNodeRequest struct {
	Path  string `json:"path" binding:"required"`
	Value any    `json:"value"`
}

type selectRequest struct {
	InstanceID string `json:"instance_id"`
}

type pageSettingRequest struct {
	Key   string `json:"key" binding:"required"`
	Value any    `json:"value"`
}

type saveSessionRequest struct {
	Name  string `json:"name"`
	AsNew bool   `json:"as_new"`
}

type mutationResponse struct {
	Applied bool            `json:"applied"`
	Node    *layout.Node    `json:"node,omitempty"`
	Session editor.Snapshot `json:"session"`
}

// POST /v1/sessions
// template_id 为 0 时从空白模板开始。
func (h *SessionHandler) Open(c *gin.Context) {
	var req openSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, err.Error())
			return
		}
	}

	var (
		name    string
		content []byte
	)
	if req.TemplateID != 0 {
		model, err := h.templates.Get(c.Request.Context(), req.TemplateID)
		if err != nil {
			templateError(c, err)
			return
		}
		name, content = model.Name, model.Content
	}

	s, err := h.sessions.Open(req.TemplateID, name, content)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusCreated, s.Snapshot())
}

// GET /v1/sessions/:sid
func (h *SessionHandler) Get(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// DELETE /v1/sessions/:sid
func (h *SessionHandler) Close(c *gin.Context) {
	if !h.sessions.Close(c.Param("sid")) {
		NotFound(c, editor.ErrSessionNotFound.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /v1/sessions/:sid/move
func (h *SessionHandler) Move(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var drag layout.DragResult
	if err := c.ShouldBindJSON(&drag); err != nil {
		BadRequest(c, err.Error())
		return
	}

	var res layout.MoveResult
	snap, err := s.Do(func(st *layout.Store) error {
		var err error
		res, err = st.MoveNode(drag)
		return err
	})
	var placement *layout.PlacementError
	if errors.As(err, &placement) {
		metrics.CountPlacementRejection(string(placement.Rule))
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": placement.Message,
			"code":  errcode.PlacementViolation,
			"rule":  placement.Rule,
			"kind":  placement.Kind,
		})
		return
	}
	if err != nil {
		Internal(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, mutationResponse{Applied: res.Applied, Node: res.Node, Session: snap})
}

// PATCH /v1/sessions/:sid/nodes/:instanceId
func (h *SessionHandler) UpdateNode(c *gin.Context) {
	var req updateNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	id := c.Param("instanceId")
	h.mutate(c, func(st *layout.Store) bool {
		return st.UpdateNodeProperty(id, req.Path, req.Value)
	})
}

// DELETE /v1/sessions/:sid/nodes/:instanceId
func (h *SessionHandler) DeleteNode(c *gin.Context) {
	id := c.Param("instanceId")
	h.mutate(c, func(st *layout.Store) bool {
		return st.DeleteNode(id)
	})
}

// POST /v1/sessions/:sid/select
// instance_id 为空时清除选中。
func (h *SessionHandler) Select(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	h.mutate(c, func(st *layout.Store) bool {
		return st.Select(req.InstanceID)
	})
}

// POST /v1/sessions/:sid/pages
func (h *SessionHandler) AddPage(c *gin.Context) {
	h.mutate(c, func(st *layout.Store) bool {
		return st.AddPage()
	})
}

// DELETE /v1/sessions/:sid/pages/:index
func (h *SessionHandler) DeletePage(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		BadRequest(c, "invalid page index")
		return
	}
	h.mutate(c, func(st *layout.Store) bool {
		return st.DeletePage(index)
	})
}

// PATCH /v1/sessions/:sid/page-settings
func (h *SessionHandler) UpdatePageSetting(c *gin.Context) {
	var req pageSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	h.mutate(c, func(st *layout.Store) bool {
		return st.UpdatePageSetting(req.Key, req.Value)
	})
}

// POST /v1/sessions/:sid/undo
func (h *SessionHandler) Undo(c *gin.Context) {
	h.mutate(c, func(st *layout.Store) bool { return st.Undo() })
}

// POST /v1/sessions/:sid/redo
func (h *SessionHandler) Redo(c *gin.Context) {
	h.mutate(c, func(st *layout.Store) bool { return st.Redo() })
}

// POST /v1/sessions/:sid/save
// 会话尚未关联模板或 as_new=true 时创建新模板，否则更新原模板（版本号递增）。
func (h *SessionHandler) Save(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req saveSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, err.Error())
			return
		}
	}

	snap := s.Snapshot()
	content, err := json.Marshal(snap.Template)
	if err != nil {
		Internal(c, "failed to encode template")
		return
	}
	name := req.Name
	if name == "" {
		name = snap.Name
	}

	var model database.ReportTemplate
	if snap.TemplateID == 0 || req.AsNew {
		model, err = h.templates.Create(c.Request.Context(), name, content)
	} else {
		model, err = h.templates.Update(c.Request.Context(), snap.TemplateID, name, content)
	}
	if err != nil {
		templateError(c, err)
		return
	}
	s.Bind(model.ID, model.Name)
	c.JSON(http.StatusOK, gin.H{
		"id":      model.ID,
		"name":    model.Name,
		"version": model.Version,
		"session": s.Snapshot(),
	})
}

// GET /v1/sessions/:sid/canvas?project_id=&mode=editable|preview
// 返回画布 HTML；渲染警告数量写在 X-Render-Warnings 响应头。
func (h *SessionHandler) Canvas(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var projectID uint
	if raw := c.Query("project_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			BadRequest(c, "invalid project_id")
			return
		}
		projectID = uint(id)
	}
	mode := canvas.Editable
	if c.Query("mode") == "preview" {
		mode = canvas.Preview
	}

	snap := s.Snapshot()
	html, warnings, err := h.reports.Canvas(c.Request.Context(), snap.Template, projectID, canvas.Options{
		Mode:     mode,
		Selected: snap.Selected,
		Title:    snap.Name,
	})
	switch {
	case errors.Is(err, database.ErrProjectNotFound):
		NotFound(c, "project not found")
		return
	case err != nil:
		middleware.LoggerFromContext(c).Error("render canvas failed", slog.Any("error", err))
		Internal(c, "failed to render canvas")
		return
	}
	c.Header("X-Render-Warnings", strconv.Itoa(len(warnings)))
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

func (h *SessionHandler) session(c *gin.Context) (*editor.Session, bool) {
	s, err := h.sessions.Get(c.Param("sid"))
	if err != nil {
		NotFound(c, err.Error())
		return nil, false
	}
	return s, true
}

func (h *SessionHandler) mutate(c *gin.Context, fn func(st *layout.Store) bool) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var applied bool
	snap, _ := s.Do(func(st *layout.Store) error {
		applied = fn(st)
		return nil
	})
	c.JSON(http.StatusOK, mutationResponse{Applied: applied, Session: snap})
}
