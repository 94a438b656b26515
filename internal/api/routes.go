package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"labReport/internal/config"
	"labReport/internal/database"
	"labReport/internal/editor"
	"labReport/internal/notify"
	"labReport/internal/report"
	"labReport/internal/storage"
	"labReport/internal/tasks"
)

const (
	uploadsPerMinute   = 30
	generatesPerMinute = 20
)

// Deps 汇总路由需要的协作者。Jobs、Subscriber、Limiter 可以为 nil。
type Deps struct {
	Config     *config.Config
	Logger     *slog.Logger
	Templates  *database.TemplateStore
	Projects   *database.ReportSource
	Reports    *report.Service
	Sessions   *editor.Manager
	Assets     storage.Store
	Jobs       tasks.Enqueuer
	Subscriber notify.Subscriber
	Limiter    Limiter
}

// RegisterRoutes 注册 /v1 路由。
func RegisterRoutes(router *gin.Engine, d Deps) {
	templateHandler := NewTemplateHandler(d.Templates, d.Assets, d.Jobs, d.Sessions.Registry())
	sessionHandler := NewSessionHandler(d.Sessions, d.Templates, d.Reports)
	reportHandler := NewReportHandler(d.Reports, d.Projects, d.Sessions, d.Jobs)
	assetHandler := NewAssetHandler(d.Assets, d.Logger, d.Config.Assets.ClamdAddr, d.Config.Assets.MaxBytes)
	wsHandler := NewWsHandler(d.Subscriber, d.Logger, d.Config.API.AllowedOrigins)

	uploadLimit := RateLimit(scaled(d.Limiter, uploadsPerMinute), "upload")
	generateLimit := RateLimit(scaled(d.Limiter, generatesPerMinute), "generate")

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)
		v1.GET("/components", templateHandler.ListComponents)
		v1.GET("/projects", reportHandler.ListProjects)

		templateGroup := v1.Group("/templates")
		{
			templateGroup.GET("", templateHandler.ListTemplates)
			templateGroup.POST("", templateHandler.CreateTemplate)
			templateGroup.GET("/:id", templateHandler.GetTemplate)
			templateGroup.PUT("/:id", templateHandler.UpdateTemplate)
			templateGroup.DELETE("/:id", templateHandler.DeleteTemplate)
			templateGroup.POST("/:id/save-as", templateHandler.SaveAs)
			templateGroup.POST("/:id/preview", templateHandler.EnqueuePreview)
		}

		sessionGroup := v1.Group("/sessions")
		{
			sessionGroup.POST("", sessionHandler.Open)
			sessionGroup.GET("/:sid", sessionHandler.Get)
			sessionGroup.DELETE("/:sid", sessionHandler.Close)
			sessionGroup.POST("/:sid/move", sessionHandler.Move)
			sessionGroup.PATCH("/:sid/nodes/:instanceId", sessionHandler.UpdateNode)
			sessionGroup.DELETE("/:sid/nodes/:instanceId", sessionHandler.DeleteNode)
			sessionGroup.POST("/:sid/select", sessionHandler.Select)
			sessionGroup.POST("/:sid/pages", sessionHandler.AddPage)
			sessionGroup.DELETE("/:sid/pages/:index", sessionHandler.DeletePage)
			sessionGroup.PATCH("/:sid/page-settings", sessionHandler.UpdatePageSetting)
			sessionGroup.POST("/:sid/undo", sessionHandler.Undo)
			sessionGroup.POST("/:sid/redo", sessionHandler.Redo)
			sessionGroup.POST("/:sid/save", sessionHandler.Save)
			sessionGroup.GET("/:sid/canvas", sessionHandler.Canvas)
		}

		reportGroup := v1.Group("/reports")
		{
			reportGroup.POST("/generate", generateLimit, reportHandler.Generate)
			reportGroup.POST("/enqueue", generateLimit, reportHandler.Enqueue)
			reportGroup.GET("/status/:projectID", reportHandler.Status)
		}

		assetGroup := v1.Group("/assets")
		{
			assetGroup.POST("/upload", uploadLimit, assetHandler.UploadAsset)
			assetGroup.GET("", assetHandler.ListAssets)
			assetGroup.GET("/base64", assetHandler.GetAssetBase64)
			assetGroup.GET("/raw", assetHandler.GetRaw)
			assetGroup.DELETE("", assetHandler.DeleteAsset)
		}
	}
}

// scaled 为不同路由设置各自的窗口上限；非 redis 限流器原样返回。
func scaled(l Limiter, perMinute int64) Limiter {
	if rl, ok := l.(*RedisLimiter); ok {
		return &RedisLimiter{client: rl.client, limit: perMinute, window: time.Minute}
	}
	return l
}
