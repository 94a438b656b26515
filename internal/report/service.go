// Package report 负责报告生成：读取模板与报告数据，渲染 PDF 或画布，并维护生成中的标记。
package report

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"labReport/internal/canvas"
	"labReport/internal/config"
	"labReport/internal/database"
	"labReport/internal/layout"
	"labReport/internal/metrics"
	"labReport/internal/notify"
	"labReport/internal/pdf"
	"labReport/internal/render"
	"labReport/internal/reportdata"
	"labReport/internal/storage"
)

// Engine 选择 PDF 的生成方式。
type Engine string

const (
	// EngineNative 使用内置的 PDF 渲染器。
	EngineNative Engine = "native"
	// EngineBrowser 把预览模式的画布交给无头浏览器打印。
	EngineBrowser Engine = "browser"
)

const assetURLTTL = 15 * time.Minute

var (
	// ErrInFlight 表示该项目的 PDF 正在生成。
	ErrInFlight = notify.ErrInFlight
	// ErrBrowserUnavailable 表示未配置无头浏览器。
	ErrBrowserUnavailable = errors.New("browser engine is not configured")
	// ErrUnknownEngine 表示请求的生成方式不存在。
	ErrUnknownEngine = errors.New("unknown pdf engine")
)

// Templates 是模板存储中生成报告所需的部分。
type Templates interface {
	Get(ctx context.Context, id uint) (database.ReportTemplate, error)
}

// DataSource 是报告数据协作者。
type DataSource interface {
	FetchFullReportData(ctx context.Context, projectID uint) (*reportdata.Report, error)
}

// Request 描述一次 PDF 生成。Template 非空时直接使用（例如编辑会话中未保存的模板），否则按 TemplateID 读取。
type Request struct {
	TemplateID uint             `json:"templateId"`
	ProjectID  uint             `json:"projectId"`
	Engine     Engine           `json:"engine"`
	Template   *layout.Template `json:"-"`
}

// Result 是生成结果。
type Result struct {
	FileName string
	PDF      []byte
	Pages    int
	Warnings []render.Warning
}

// Options 配置 Service。
type Options struct {
	Strict   bool
	// Decimals 为 nil 时使用 render.DefaultDecimals。
	Decimals *int
	Browser  *pdf.Browser
	Now      func() time.Time
}

// Service 组合模板存储、报告数据、资产存储与两个渲染器。
type Service struct {
	templates Templates
	data      DataSource
	assets    storage.Store
	flag      notify.InFlight
	registry  *layout.Registry
	browser   *pdf.Browser
	strict    bool
	decimals  *int
	now       func() time.Time
	logger    *slog.Logger
}

// NewService 创建报告服务。flag 为 nil 时使用进程内标记。
func NewService(
	templates Templates,
	data DataSource,
	assets storage.Store,
	flag notify.InFlight,
	registry *layout.Registry,
	opts Options,
	logger *slog.Logger,
) *Service {
	if flag == nil {
		flag = notify.NewMemoryFlag()
	}
	if registry == nil {
		registry = layout.DefaultRegistry()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		templates: templates,
		data:      data,
		assets:    assets,
		flag:      flag,
		registry:  registry,
		browser:   opts.Browser,
		strict:    opts.Strict,
		decimals:  opts.Decimals,
		now:       opts.Now,
		logger:    logger,
	}
}

// Registry 返回服务使用的组件注册表。
func (s *Service) Registry() *layout.Registry { return s.registry }

// FlagKey 返回项目的生成中标记键。
func FlagKey(projectID uint) string {
	return "report:" + strconv.FormatUint(uint64(projectID), 10)
}

// InFlight 报告项目的 PDF 是否正在生成。
func (s *Service) InFlight(ctx context.Context, projectID uint) (bool, error) {
	return s.flag.Held(ctx, FlagKey(projectID))
}

// Generate 生成 PDF。同一项目已有生成在进行时返回 ErrInFlight。
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	release, err := s.flag.Acquire(ctx, FlagKey(req.ProjectID))
	if err != nil {
		return nil, err
	}
	defer release()
	defer metrics.TrackPDFGeneration()()

	return s.generate(ctx, req)
}

// GenerateAndStore 生成 PDF 并写入资产存储，返回对象键与下载地址。
func (s *Service) GenerateAndStore(ctx context.Context, req Request) (*Result, string, string, error) {
	res, err := s.Generate(ctx, req)
	if err != nil {
		return nil, "", "", err
	}
	key := fmt.Sprintf("%s%d/%s.pdf", storage.ReportPrefix, req.ProjectID, uuid.NewString())
	if _, err := s.assets.Put(ctx, key, bytes.NewReader(res.PDF), int64(len(res.PDF)), "application/pdf"); err != nil {
		return nil, "", "", fmt.Errorf("store pdf: %w", err)
	}
	url, err := s.assets.URL(ctx, key, 24*time.Hour, res.FileName)
	if err != nil {
		return nil, "", "", fmt.Errorf("sign pdf url: %w", err)
	}
	return res, key, url, nil
}

func (s *Service) generate(ctx context.Context, req Request) (*Result, error) {
	tpl := req.Template
	if tpl == nil {
		var err error
		if tpl, err = s.LoadTemplate(ctx, req.TemplateID); err != nil {
			return nil, err
		}
	}
	report, err := s.LoadReport(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	rctx := s.Context(report)

	var (
		data   []byte
		engine = req.Engine
		start  = time.Now()
	)
	switch engine {
	case EngineNative, "":
		engine = EngineNative
		data, err = pdf.NewRenderer(s.loader(ctx)).RenderBytes(tpl, rctx)
	case EngineBrowser:
		if s.browser == nil {
			return nil, ErrBrowserUnavailable
		}
		var html string
		html, err = canvas.NewRenderer(s.inlineLinker(ctx)).RenderString(tpl, rctx, canvas.Options{
			Mode:  canvas.Preview,
			Title: FileName(reportProject(report)),
		})
		if err == nil {
			data, err = s.browser.PrintPDF(ctx, html)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, engine)
	}
	if err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	metrics.ObserveRender(string(engine), start)

	res := &Result{
		FileName: FileName(reportProject(report)),
		PDF:      data,
		Pages:    len(tpl.Pages),
		Warnings: rctx.Warnings(),
	}
	s.logWarnings(res.Warnings, slog.Uint64("project_id", uint64(req.ProjectID)), slog.String("engine", string(engine)))
	return res, nil
}

// LoadTemplate 读取并解码模板。
func (s *Service) LoadTemplate(ctx context.Context, id uint) (*layout.Template, error) {
	model, err := s.templates.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	tpl, repairs, err := layout.DecodeWithRepairs(model.Content, s.registry)
	if err != nil {
		return nil, fmt.Errorf("decode template %d: %w", id, err)
	}
	for _, r := range repairs {
		s.logger.Warn("template content repaired",
			slog.Uint64("template_id", uint64(id)),
			slog.String("path", r.Path),
			slog.String("message", r.Message),
		)
	}
	return tpl, nil
}

// LoadReport 读取项目数据；projectID 为 0 时返回 nil（无数据预览）。
func (s *Service) LoadReport(ctx context.Context, projectID uint) (*reportdata.Report, error) {
	if projectID == 0 {
		return nil, nil
	}
	report, err := s.data.FetchFullReportData(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// Context 按服务配置创建渲染上下文。
func (s *Service) Context(report *reportdata.Report) render.Context {
	return render.NewContext(report, render.Options{
		Strict:   s.strict,
		Decimals: s.decimals,
		Now:      s.now(),
	})
}

// Canvas 渲染画布 HTML。
func (s *Service) Canvas(ctx context.Context, tpl *layout.Template, projectID uint, opts canvas.Options) (string, []render.Warning, error) {
	report, err := s.LoadReport(ctx, projectID)
	if err != nil {
		return "", nil, err
	}
	rctx := s.Context(report)

	start := time.Now()
	html, err := canvas.NewRenderer(s.linker(ctx)).RenderString(tpl, rctx, opts)
	if err != nil {
		return "", nil, err
	}
	metrics.ObserveRender("canvas", start)
	return html, rctx.Warnings(), nil
}

// Thumbnail 截取模板第一页（无报告数据）的缩略图。
func (s *Service) Thumbnail(ctx context.Context, templateID uint) ([]byte, error) {
	if s.browser == nil {
		return nil, ErrBrowserUnavailable
	}
	tpl, err := s.LoadTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	html, err := canvas.NewRenderer(s.inlineLinker(ctx)).RenderString(tpl, s.Context(nil), canvas.Options{Mode: canvas.Preview})
	if err != nil {
		return nil, err
	}
	start := time.Now()
	png, err := s.browser.Thumbnail(ctx, html)
	if err != nil {
		return nil, err
	}
	metrics.ObserveRender("browser", start)
	return png, nil
}

func (s *Service) logWarnings(warnings []render.Warning, attrs ...any) {
	for _, w := range warnings {
		metrics.CountRenderWarning(string(w.Kind))
		args := append([]any{
			slog.String("kind", string(w.Kind)),
			slog.String("instance_id", w.InstanceID),
			slog.String("message", w.Message),
		}, attrs...)
		s.logger.Warn("render warning", args...)
	}
}

// linker 把资产对象键转换为可访问的地址，其余 src 原样使用。
func (s *Service) linker(ctx context.Context) canvas.AssetLinker {
	return func(src string) (string, bool) {
		if !storage.IsAssetKey(src) {
			return canvas.DirectLinker(src)
		}
		if s.assets == nil {
			return "", false
		}
		u, err := s.assets.URL(ctx, src, assetURLTTL, "")
		if err != nil {
			return "", false
		}
		return u, true
	}
}

// inlineLinker 把资产内联为 data URI，供无头浏览器使用。
func (s *Service) inlineLinker(ctx context.Context) canvas.AssetLinker {
	return func(src string) (string, bool) {
		if !storage.IsAssetKey(src) {
			return canvas.DirectLinker(src)
		}
		data, ok := s.loader(ctx)(src)
		if !ok {
			return "", false
		}
		return "data:" + contentTypeOf(src) + ";base64," + base64.StdEncoding.EncodeToString(data), true
	}
}

func (s *Service) loader(ctx context.Context) pdf.AssetLoader {
	return func(src string) ([]byte, bool) {
		if s.assets == nil || !storage.IsAssetKey(src) {
			return nil, false
		}
		data, _, err := storage.ReadAll(ctx, s.assets, src)
		if err != nil {
			s.logger.Warn("load asset failed", slog.String("object_key", src), slog.Any("error", err))
			return nil, false
		}
		return data, true
	}
}

func contentTypeOf(key string) string {
	if strings.HasSuffix(strings.ToLower(key), ".png") {
		return "image/png"
	}
	return "image/jpeg"
}

func reportProject(r *reportdata.Report) reportdata.Project {
	if r == nil {
		return reportdata.Project{}
	}
	return r.Project
}

var unsafeFileChars = regexp.MustCompile(`[^\p{L}\p{N} ._()-]+`)

// FileName 由项目名称生成 PDF 文件名。
func FileName(p reportdata.Project) string {
	name := unsafeFileChars.ReplaceAllString(p.Name, "_")
	name = strings.Trim(strings.TrimSpace(name), "._")
	if name == "" {
		name = "laporan"
	}
	if r := []rune(name); len(r) > 120 {
		name = string(r[:120])
	}
	return name + ".pdf"
}

// OptionsFrom 按渲染配置构造 Options，总是启用无头浏览器。
func OptionsFrom(cfg config.RenderConfig) Options {
	browser := pdf.NewBrowser()
	browser.Bin = cfg.BrowserBin
	decimals := cfg.DefaultDecimals
	return Options{
		Strict:   cfg.StrictConditions,
		Decimals: &decimals,
		Browser:  browser,
	}
}
