// Package notify 负责把异步任务的结果推送给前端（经 Redis Pub/Sub 或进程内 Hub 转发到 WebSocket），
// 并提供 PDF 生成的“进行中”标记。
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"labReport/internal/render"
)

// 消息状态。
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// 消息类别。
const (
	KindReport          = "report"
	KindTemplatePreview = "template-preview"
)

// Message 是统一的 WebSocket 消息协议。字段名与前端解析保持一致。
type Message struct {
	Kind          string           `json:"kind"`
	Status        string           `json:"status"`
	ProjectID     uint             `json:"project_id,omitempty"`
	TemplateID    uint             `json:"template_id,omitempty"`
	CorrelationID string           `json:"correlation_id"`
	ErrorCode     int              `json:"error_code"`
	ErrorMessage  string           `json:"error_message"`
	DownloadURL   string           `json:"download_url,omitempty"`
	FileName      string           `json:"file_name,omitempty"`
	Warnings      []render.Warning `json:"warnings,omitempty"`
}

// ProjectChannel 返回项目报告通知的频道名。
func ProjectChannel(projectID uint) string {
	return fmt.Sprintf("project_notify:%d", projectID)
}

// TemplateChannel 返回模板缩略图通知的频道名。
func TemplateChannel(templateID uint) string {
	return fmt.Sprintf("template_notify:%d", templateID)
}

// Channel 返回消息应发往的频道。
func (m Message) Channel() string {
	if m.Kind == KindTemplatePreview {
		return TemplateChannel(m.TemplateID)
	}
	return ProjectChannel(m.ProjectID)
}

// Publisher 发布通知。
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Subscriber 订阅频道。返回的 channel 在 ctx 结束或 close 被调用后关闭。
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (messages <-chan string, closeFn func(), err error)
}

func encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal notification payload: %w", err)
	}
	return data, nil
}
