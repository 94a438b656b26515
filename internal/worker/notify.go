package worker

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	"labReport/internal/errcode"
	"labReport/internal/notify"
)

// publish 发送通知；发送失败只记录日志，不影响任务结果。
func publish(ctx context.Context, pub notify.Publisher, log *slog.Logger, msg notify.Message) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, msg); err != nil {
		log.Error("publish notification failed",
			slog.String("status", msg.Status),
			slog.String("channel", msg.Channel()),
			slog.Any("error", err),
		)
	}
}

func failure(base notify.Message, code int, err error) notify.Message {
	base.Status = notify.StatusError
	base.ErrorCode = code
	base.ErrorMessage = strings.TrimSpace(err.Error())
	return base
}

// isFinalAttempt 报告当前是否是最后一次重试。不在 asynq 中执行（进程内执行器）时只有一次机会。
func isFinalAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return true
	}
	return retryCount >= maxRetry
}

// finalFailure 在最后一次尝试失败时发送错误通知。
func finalFailure(ctx context.Context, pub notify.Publisher, log *slog.Logger, base notify.Message, err error) {
	if err == nil || !isFinalAttempt(ctx) {
		return
	}
	publish(ctx, pub, log, failure(base, errcode.SystemError, err))
}
