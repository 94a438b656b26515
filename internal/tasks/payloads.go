package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypePDFGenerate     = "report:pdf"
	TypeTemplatePreview = "template:preview"
)

// PDFGeneratePayload 描述一次异步报告生成。
type PDFGeneratePayload struct {
	TemplateID    uint   `json:"template_id"`
	ProjectID     uint   `json:"project_id"`
	Engine        string `json:"engine,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// TemplatePreviewPayload 描述一次模板缩略图生成。
type TemplatePreviewPayload struct {
	TemplateID    uint   `json:"template_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewPDFGenerateTask 构造报告 PDF 生成任务。
func NewPDFGenerateTask(p PDFGeneratePayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePDFGenerate, payload, asynq.MaxRetry(3), asynq.Timeout(5*time.Minute)), nil
}

// NewTemplatePreviewTask 构造模板缩略图任务。缩略图可以重新生成，失败只重试一次。
func NewTemplatePreviewTask(p TemplatePreviewPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeTemplatePreview, payload, asynq.MaxRetry(1), asynq.Timeout(2*time.Minute)), nil
}

// Enqueuer 把任务交给执行方：asynq 队列或进程内执行器。
type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task) error
}

// AsynqEnqueuer 把任务写入 redis 队列。
type AsynqEnqueuer struct {
	client *asynq.Client
}

func NewAsynqEnqueuer(client *asynq.Client) *AsynqEnqueuer {
	return &AsynqEnqueuer{client: client}
}

func (e *AsynqEnqueuer) Enqueue(ctx context.Context, task *asynq.Task) error {
	if _, err := e.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}
	return nil
}
