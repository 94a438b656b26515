package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"labReport/internal/metrics"
	"labReport/internal/tasks"
)

// Inline 在当前进程内执行任务，用于未启用 redis 的单机部署。
// 任务在后台 goroutine 中运行，不重试。
type Inline struct {
	handler asynq.Handler
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewInline(handler asynq.Handler, timeout time.Duration, logger *slog.Logger) *Inline {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Inline{handler: handler, timeout: timeout, logger: logger}
}

func (e *Inline) Enqueue(ctx context.Context, task *asynq.Task) error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()
		if err := e.handler.ProcessTask(runCtx, task); err != nil {
			e.logger.Error("inline task failed", slog.String("type", task.Type()), slog.Any("error", err))
		}
	}()
	return nil
}

// Wait 等待所有已提交的任务结束。
func (e *Inline) Wait() { e.wg.Wait() }

// NewServeMux 注册全部任务处理器并挂上任务指标中间件。
func NewServeMux(pdf *PDFTaskHandler, preview *TemplatePreviewHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypePDFGenerate, pdf)
	mux.Handle(tasks.TypeTemplatePreview, preview)
	return mux
}
