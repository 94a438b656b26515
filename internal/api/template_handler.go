package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"labReport/internal/api/middleware"
	"labReport/internal/database"
	"labReport/internal/layout"
	"labReport/internal/storage"
	"labReport/internal/tasks"
)

const previewURLTTL = 15 * time.Minute

// TemplateHandler 负责模板相关的 API。
type TemplateHandler struct {
	store    *database.TemplateStore
	assets   storage.Store
	jobs     tasks.Enqueuer
	registry *layout.Registry
}

func NewTemplateHandler(store *database.TemplateStore, assets storage.Store, jobs tasks.Enqueuer, registry *layout.Registry) *TemplateHandler {
	return &TemplateHandler{store: store, assets: assets, jobs: jobs, registry: registry}
}

type templateRequest struct {
	Name    string          `json:"name" binding:"required"`
	Content json.RawMessage `json:"content"`
}

type saveAsRequest struct {
	Name string `json:"name" binding:"required"`
}

type templateListItem struct {
	ID              uint      `json:"id"`
	Name            string    `json:"name"`
	Version         int       `json:"version"`
	PreviewImageURL string    `json:"preview_image_url,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type templateDetailResponse struct {
	templateListItem
	Content json.RawMessage `json:"content"`
}

// GET /v1/components
func (h *TemplateHandler) ListComponents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"components": h.registry.Components()})
}

// GET /v1/templates
func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	templates, err := h.store.List(c.Request.Context())
	if err != nil {
		templateError(c, err)
		return
	}
	items := make([]templateListItem, 0, len(templates))
	for _, t := range templates {
		items = append(items, h.item(c, t))
	}
	c.JSON(http.StatusOK, items)
}

// POST /v1/templates
// content 为空时创建一个空白模板。
func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	content, err := normalizeContent(req.Content, h.registry)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	model, err := h.store.Create(c.Request.Context(), req.Name, content)
	if err != nil {
		templateError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.detail(c, model))
}

// GET /v1/templates/:id
func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	model, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		templateError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.detail(c, model))
}

// PUT /v1/templates/:id
func (h *TemplateHandler) UpdateTemplate(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	content, err := normalizeContent(req.Content, h.registry)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	model, err := h.store.Update(c.Request.Context(), id, req.Name, content)
	if err != nil {
		templateError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.detail(c, model))
}

// DELETE /v1/templates/:id
// 同时删除模板缩略图。
func (h *TemplateHandler) DeleteTemplate(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	model, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		templateError(c, err)
		return
	}
	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		templateError(c, err)
		return
	}
	if model.PreviewImageKey != "" {
		if err := h.assets.Delete(c.Request.Context(), model.PreviewImageKey); err != nil {
			middleware.LoggerFromContext(c).Warn("delete template preview failed",
				slog.String("object_key", model.PreviewImageKey),
				slog.Any("error", err),
			)
		}
	}
	c.Status(http.StatusNoContent)
}

// POST /v1/templates/:id/save-as
func (h *TemplateHandler) SaveAs(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req saveAsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	source, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		templateError(c, err)
		return
	}
	model, err := h.store.Create(c.Request.Context(), req.Name, source.Content)
	if err != nil {
		templateError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.detail(c, model))
}

// POST /v1/templates/:id/preview
// 异步生成缩略图，结果经 template_notify:<id> 通知。
func (h *TemplateHandler) EnqueuePreview(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if h.jobs == nil {
		ServiceUnavailable(c, "background jobs are disabled")
		return
	}
	if _, err := h.store.Get(c.Request.Context(), id); err != nil {
		templateError(c, err)
		return
	}
	correlationID := middleware.GetCorrelationID(c)
	task, err := tasks.NewTemplatePreviewTask(tasks.TemplatePreviewPayload{TemplateID: id, CorrelationID: correlationID})
	if err != nil {
		Internal(c, "failed to build task")
		return
	}
	if err := h.jobs.Enqueue(c.Request.Context(), task); err != nil {
		middleware.LoggerFromContext(c).Error("enqueue template preview failed", slog.Any("error", err))
		Internal(c, "failed to enqueue preview")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "correlation_id": correlationID})
}

func (h *TemplateHandler) item(c *gin.Context, t database.ReportTemplate) templateListItem {
	item := templateListItem{ID: t.ID, Name: t.Name, Version: t.Version, UpdatedAt: t.UpdatedAt}
	if t.PreviewImageKey != "" {
		url, err := h.assets.URL(c.Request.Context(), t.PreviewImageKey, previewURLTTL, "")
		if err == nil {
			item.PreviewImageURL = url
		}
	}
	return item
}

func (h *TemplateHandler) detail(c *gin.Context, t database.ReportTemplate) templateDetailResponse {
	return templateDetailResponse{templateListItem: h.item(c, t), Content: json.RawMessage(t.Content)}
}

// templateError 把模板存储错误映射为 HTTP 响应。
func templateError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, database.ErrTemplateNotFound):
		NotFound(c, "template not found")
	case errors.Is(err, database.ErrDuplicateName):
		Conflict(c, "template name already exists")
	case errors.Is(err, database.ErrInvalidName), errors.Is(err, database.ErrInvalidContent):
		BadRequest(c, err.Error())
	default:
		middleware.LoggerFromContext(c).Error("template store failed", slog.Any("error", err))
		Internal(c, "failed to access templates")
	}
}

// normalizeContent 解码（并修复）模板后重新序列化，保证入库的都是规范格式。
func normalizeContent(raw json.RawMessage, reg *layout.Registry) ([]byte, error) {
	tpl, err := layout.Decode(raw, reg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tpl)
}

func parseID(c *gin.Context, param string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(param), 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, "invalid "+param)
		return 0, false
	}
	return uint(id), true
}
