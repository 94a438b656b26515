package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"labReport/internal/database"
	"labReport/internal/errcode"
	"labReport/internal/notify"
	"labReport/internal/report"
	"labReport/internal/storage"
	"labReport/internal/tasks"
)

// Thumbnailer 截取模板缩略图。
type Thumbnailer interface {
	Thumbnail(ctx context.Context, templateID uint) ([]byte, error)
}

// PreviewRecorder 记录模板缩略图的对象键。
type PreviewRecorder interface {
	SetPreviewImage(ctx context.Context, id uint, key string) error
}

// TemplatePreviewHandler 负责模板缩略图生成任务。
type TemplatePreviewHandler struct {
	thumbnails Thumbnailer
	templates  PreviewRecorder
	assets     storage.Store
	publisher  notify.Publisher
	logger     *slog.Logger
}

func NewTemplatePreviewHandler(
	thumbnails Thumbnailer,
	templates PreviewRecorder,
	assets storage.Store,
	publisher notify.Publisher,
	logger *slog.Logger,
) *TemplatePreviewHandler {
	return &TemplatePreviewHandler{
		thumbnails: thumbnails,
		templates:  templates,
		assets:     assets,
		publisher:  publisher,
		logger:     logger,
	}
}

// PreviewKey 返回模板缩略图的对象键。
func PreviewKey(templateID uint) string {
	return fmt.Sprintf("%stemplate-%d.png", storage.PreviewPrefix, templateID)
}

func (h *TemplatePreviewHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.TemplatePreviewPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal template preview payload failed", slog.Any("error", err))
		return errors.Join(err, asynq.SkipRetry)
	}

	log = log.With(
		slog.Uint64("template_id", uint64(payload.TemplateID)),
		slog.String("correlation_id", payload.CorrelationID),
	)
	log.Info("starting template preview generation")

	base := notify.Message{
		Kind:          notify.KindTemplatePreview,
		TemplateID:    payload.TemplateID,
		CorrelationID: payload.CorrelationID,
	}
	defer func() { finalFailure(ctx, h.publisher, log, base, retErr) }()

	png, err := h.thumbnails.Thumbnail(ctx, payload.TemplateID)
	switch {
	case errors.Is(err, database.ErrTemplateNotFound):
		log.Warn("template not found, skipping task")
		return nil
	case errors.Is(err, report.ErrBrowserUnavailable):
		log.Warn("browser not configured, skipping template preview")
		publish(ctx, h.publisher, log, failure(base, errcode.SystemError, err))
		return nil
	case err != nil:
		log.Error("capture template thumbnail failed", slog.Any("error", err))
		return err
	}

	key := PreviewKey(payload.TemplateID)
	if _, err := h.assets.Put(ctx, key, bytes.NewReader(png), int64(len(png)), "image/png"); err != nil {
		log.Error("upload template preview failed", slog.Any("error", err))
		return err
	}
	if err := h.templates.SetPreviewImage(ctx, payload.TemplateID, key); err != nil {
		if errors.Is(err, database.ErrTemplateNotFound) {
			log.Warn("template deleted during preview generation")
			_ = h.assets.Delete(ctx, key)
			return nil
		}
		log.Error("update template preview failed", slog.Any("error", err))
		return err
	}

	done := base
	done.Status = notify.StatusCompleted
	if url, err := h.assets.URL(ctx, key, 7*24*time.Hour, ""); err == nil {
		done.DownloadURL = url
	}
	publish(ctx, h.publisher, log, done)

	log.Info("template preview generation completed")
	return nil
}
