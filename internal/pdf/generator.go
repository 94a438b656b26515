package pdf

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// DefaultBrowserTimeout 限制一次浏览器渲染的总时长。
const DefaultBrowserTimeout = 30 * time.Second

// Browser 使用 go-rod 启动无头 Chromium，把画布预览 HTML 打印为 PDF 或截取缩略图。
// 每次调用都启动独立的浏览器进程。
type Browser struct {
	Timeout time.Duration
	// Bin 为空时自动查找本机的 Chromium。
	Bin string
}

// NewBrowser 返回使用默认超时的 Browser。
func NewBrowser() *Browser {
	return &Browser{Timeout: DefaultBrowserTimeout}
}

// PrintPDF 渲染 HTML 并返回 PDF 字节。纸张尺寸来自 HTML 中的 @page 规则。
func (b *Browser) PrintPDF(ctx context.Context, htmlContent string) ([]byte, error) {
	var data []byte
	err := b.withPage(ctx, htmlContent, func(page *rod.Page) error {
		reader, err := page.PDF(&proto.PagePrintToPDF{
			PrintBackground:   true,
			PreferCSSPageSize: true,
		})
		if err != nil {
			return fmt.Errorf("export pdf: %w", err)
		}
		defer func() {
			_ = reader.Close()
		}()

		data, err = io.ReadAll(reader)
		if err != nil {
			return fmt.Errorf("read pdf bytes: %w", err)
		}
		return nil
	})
	return data, err
}

// Thumbnail 截取第一页（section.page）的 PNG 图像。
func (b *Browser) Thumbnail(ctx context.Context, htmlContent string) ([]byte, error) {
	var data []byte
	err := b.withPage(ctx, htmlContent, func(page *rod.Page) error {
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width: 900, Height: 1200, DeviceScaleFactor: 1,
		}); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		el, err := page.Element("section.page")
		if err != nil {
			return fmt.Errorf("find first page: %w", err)
		}
		data, err = el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
		if err != nil {
			return fmt.Errorf("capture screenshot: %w", err)
		}
		return nil
	})
	return data, err
}

func (b *Browser) withPage(ctx context.Context, htmlContent string, fn func(page *rod.Page) error) error {
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultBrowserTimeout
	}

	launch := launcher.New().
		Context(ctx).
		Headless(true).
		NoSandbox(true)

	if b.Bin != "" {
		launch = launch.Bin(b.Bin)
	} else if path, ok := launcher.LookPath(); ok {
		launch = launch.Bin(path)
	}

	browserURL, err := launch.Launch()
	if err != nil {
		return fmt.Errorf("launch chromium: %w", err)
	}
	defer launch.Cleanup()

	browser := rod.New().Context(ctx).ControlURL(browserURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect browser: %w", err)
	}
	defer func() {
		_ = browser.Close()
	}()

	page, err := browser.Timeout(timeout).Page(proto.TargetCreateTarget{})
	if err != nil {
		return fmt.Errorf("create page: %w", err)
	}
	defer func() {
		_ = page.Close()
	}()

	page = page.Timeout(timeout)
	if err := page.SetDocumentContent(htmlContent); err != nil {
		return fmt.Errorf("set document content: %w", err)
	}

	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load: %w", err)
	}

	return fn(page)
}
