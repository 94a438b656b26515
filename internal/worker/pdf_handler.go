package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"labReport/internal/database"
	"labReport/internal/errcode"
	"labReport/internal/notify"
	"labReport/internal/render"
	"labReport/internal/report"
	"labReport/internal/tasks"
)

// ReportGenerator 是 PDF 任务需要的报告服务能力。
type ReportGenerator interface {
	GenerateAndStore(ctx context.Context, req report.Request) (*report.Result, string, string, error)
}

// PDFTaskHandler 负责消费报告 PDF 生成任务。
type PDFTaskHandler struct {
	reports   ReportGenerator
	publisher notify.Publisher
	logger    *slog.Logger
}

// NewPDFTaskHandler 创建任务处理器。
func NewPDFTaskHandler(reports ReportGenerator, publisher notify.Publisher, logger *slog.Logger) *PDFTaskHandler {
	return &PDFTaskHandler{reports: reports, publisher: publisher, logger: logger}
}

// ProcessTask 实现 asynq.Handler。
func (h *PDFTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.PDFGeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return errors.Join(err, asynq.SkipRetry)
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("project_id", uint64(payload.ProjectID)),
		slog.Uint64("template_id", uint64(payload.TemplateID)),
	)
	log.Info("starting report pdf generation")

	base := notify.Message{
		Kind:          notify.KindReport,
		ProjectID:     payload.ProjectID,
		TemplateID:    payload.TemplateID,
		CorrelationID: payload.CorrelationID,
	}
	started := base
	started.Status = notify.StatusStarted
	publish(ctx, h.publisher, log, started)

	defer func() { finalFailure(ctx, h.publisher, log, base, retErr) }()

	res, _, url, err := h.reports.GenerateAndStore(ctx, report.Request{
		TemplateID: payload.TemplateID,
		ProjectID:  payload.ProjectID,
		Engine:     report.Engine(payload.Engine),
	})
	switch {
	case errors.Is(err, report.ErrInFlight):
		log.Warn("pdf already being generated, skipping task")
		publish(ctx, h.publisher, log, failure(base, errcode.GenerationInFlight, err))
		return nil
	case errors.Is(err, database.ErrTemplateNotFound),
		errors.Is(err, database.ErrProjectNotFound),
		errors.Is(err, report.ErrUnknownEngine),
		errors.Is(err, report.ErrBrowserUnavailable):
		log.Warn("report cannot be generated, skipping task", slog.Any("error", err))
		publish(ctx, h.publisher, log, failure(base, errcode.SystemError, err))
		return nil
	case err != nil:
		log.Error("generate report pdf failed", slog.Any("error", err))
		return err
	}

	done := base
	done.Status = notify.StatusCompleted
	done.ErrorCode = errcode.OK
	done.DownloadURL = url
	done.FileName = res.FileName
	done.Warnings = res.Warnings
	if missing := countKind(res.Warnings, render.WarnResourceMissing); missing > 0 {
		done.ErrorCode = errcode.ResourceMissing
		done.ErrorMessage = "部分图片资源缺失/无效，已自动跳过并继续生成"
		log.Warn("pdf generated with missing assets", slog.Int("missing_count", missing))
	}
	publish(ctx, h.publisher, log, done)

	log.Info("report pdf generation completed", slog.String("file_name", res.FileName))
	return nil
}

func countKind(warnings []render.Warning, kind render.WarningKind) int {
	n := 0
	for _, w := range warnings {
		if w.Kind == kind {
			n++
		}
	}
	return n
}
