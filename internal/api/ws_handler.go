package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"labReport/internal/notify"
)

// WsHandler 把通知频道上的消息转发给 WebSocket 客户端。
// 客户端通过 project_id（报告生成）或 template_id（模板缩略图）选择频道。
type WsHandler struct {
	subscriber     notify.Subscriber
	logger         *slog.Logger
	upgrader       websocket.Upgrader
	allowedOrigins []string
}

// NewWsHandler 构造 WebSocket 处理器。
func NewWsHandler(subscriber notify.Subscriber, logger *slog.Logger, allowedOrigins []string) *WsHandler {
	h := &WsHandler{
		subscriber:     subscriber,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if len(h.allowedOrigins) == 0 {
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			}
			for _, allowed := range h.allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
	return h
}

// channelFromQuery 解析订阅的频道。
func channelFromQuery(c *gin.Context) (string, error) {
	if raw := c.Query("project_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			return "", fmt.Errorf("invalid project_id")
		}
		return notify.ProjectChannel(uint(id)), nil
	}
	if raw := c.Query("template_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			return "", fmt.Errorf("invalid template_id")
		}
		return notify.TemplateChannel(uint(id)), nil
	}
	return "", fmt.Errorf("project_id or template_id is required")
}

// HandleConnection 负责升级连接并启动读写循环。
func (h *WsHandler) HandleConnection(c *gin.Context) {
	if h.subscriber == nil {
		ServiceUnavailable(c, "notifications are disabled")
		return
	}
	channel, err := channelFromQuery(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	log := h.logger.With(
		slog.String("client_ip", c.ClientIP()),
		slog.String("channel", channel),
	)

	errCh := make(chan error, 2)
	go h.readLoop(ctx, conn, errCh, cancel)
	go h.subscribeLoop(ctx, conn, channel, errCh, cancel, log)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Info("websocket connection closed", slog.Any("error", err))
		} else {
			log.Info("websocket connection closed")
		}
	}
}

// readLoop 不处理客户端消息，只用来发现断开。
func (h *WsHandler) readLoop(
	ctx context.Context,
	conn *websocket.Conn,
	errCh chan<- error,
	cancel context.CancelFunc,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, _, err := conn.ReadMessage(); err != nil {
			writeClose(conn, websocket.CloseNormalClosure, "bye")
			errCh <- fmt.Errorf("read message: %w", err)
			cancel()
			return
		}
	}
}

func writeClose(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}

func (h *WsHandler) subscribeLoop(
	ctx context.Context,
	conn *websocket.Conn,
	channel string,
	errCh chan<- error,
	cancel context.CancelFunc,
	log *slog.Logger,
) {
	msgs, closeSub, err := h.subscriber.Subscribe(ctx, channel)
	if err != nil {
		writeClose(conn, websocket.CloseInternalServerErr, "subscribe failed")
		errCh <- err
		cancel()
		return
	}
	defer closeSub()

	log.Info("subscribed to notification channel")

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				errCh <- fmt.Errorf("notification channel closed")
				cancel()
				return
			}

			log.Debug("forwarding message to client")
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				errCh <- fmt.Errorf("write message: %w", err)
				cancel()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				errCh <- fmt.Errorf("write ping: %w", err)
				cancel()
				return
			}
		}
	}
}
