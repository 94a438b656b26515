// Package pdf 生成报告 PDF：Renderer 用 gofpdf 直接排版文档树，
// Browser 用无头 Chromium 打印画布 HTML 或截取缩略图。
package pdf

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"labReport/internal/layout"
	"labReport/internal/render"
)

const (
	margin     = 15.0
	blockGap   = 2.0
	footerZone = 12.0
	fontFamily = "Helvetica"
	ptToMM     = 0.3528
)

// AssetLoader 读取 image 节点引用的资源，找不到时返回 false。
type AssetLoader func(src string) ([]byte, bool)

// Renderer 把模板排版为 PDF，每个逻辑页对应一个物理页，不自动分页。
type Renderer struct {
	dispatcher *render.Dispatcher[*frame, float64]
	load       AssetLoader
}

// frame 是当前节点可用的水平区域；纵向位置由 gofpdf 的光标决定。
type frame struct {
	doc *gofpdf.Fpdf
	tr  func(string) string
	x   float64
	w   float64
}

func (f *frame) narrow(x, w float64) *frame {
	return &frame{doc: f.doc, tr: f.tr, x: x, w: w}
}

// NewRenderer 创建 PDF 渲染器。load 为 nil 时只支持 data: URI 形式的图片。
func NewRenderer(load AssetLoader) *Renderer {
	r := &Renderer{load: load}
	r.dispatcher = render.NewDispatcher[*frame, float64]().
		Handle(layout.KindHeader, r.header).
		Handle(layout.KindFooter, r.footer).
		Handle(layout.KindSection, r.section).
		Handle(layout.KindColumns, r.columns).
		Handle(layout.KindTrialLoop, r.trialLoop).
		Handle(layout.KindCustomText, r.customText).
		Handle(layout.KindPlaceholder, r.placeholder).
		Handle(layout.KindFormula, r.formula).
		Handle(layout.KindTable, r.table).
		Handle(layout.KindChart, r.chart).
		Handle(layout.KindImage, r.image).
		Handle(layout.KindQRCode, r.qrCode).
		Handle(layout.KindSignature, r.signature).
		Handle(layout.KindSpacer, r.spacer).
		Handle(layout.KindLine, r.line)
	return r
}

// Render 写出 PDF。创建日期取自 ctx.Now，相同输入得到相同字节。
func (r *Renderer) Render(w io.Writer, t *layout.Template, ctx render.Context) error {
	orientation := "P"
	if t.Settings.Orientation == layout.Landscape {
		orientation = "L"
	}
	size := "A4"
	if t.Settings.Size == layout.PaperLetter {
		size = "Letter"
	}
	doc := gofpdf.New(orientation, "mm", size, "")
	doc.SetCreationDate(ctx.Now)
	doc.SetModificationDate(ctx.Now)
	doc.SetCatalogSort(true)
	doc.SetAutoPageBreak(false, 0)
	doc.SetMargins(margin, margin, margin)
	doc.SetCreator("labReport", true)
	if ctx.Report != nil && ctx.Report.Project.Name != "" {
		doc.SetTitle(ctx.Report.Project.Name, true)
	}

	tr := doc.UnicodeTranslatorFromDescriptor("")
	for i, page := range t.Pages {
		doc.AddPage()
		pageW, pageH := doc.GetPageSize()
		root := &frame{doc: doc, tr: tr, x: margin, w: pageW - 2*margin}
		pctx := ctx.WithPage(i+1, len(t.Pages))

		doc.SetY(margin)
		if h, ok := r.dispatcher.Render(page.Header, pctx, root); ok && h > 0 {
			doc.SetY(margin + h + blockGap)
		}
		r.list(page.Nodes, pctx, root)
		if page.Footer != nil {
			doc.SetY(pageH - margin - footerZone)
			r.dispatcher.Render(page.Footer, pctx, root)
		}
	}

	if err := doc.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// RenderBytes 与 Render 相同，但返回字节。
func (r *Renderer) RenderBytes(t *layout.Template, ctx render.Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.Render(&buf, t, ctx); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type dispatcher = render.Dispatcher[*frame, float64]

// list 从当前光标开始依次排版节点，返回占用的总高度。
func (r *Renderer) list(nodes []*layout.Node, ctx render.Context, f *frame) float64 {
	start := f.doc.GetY()
	for _, n := range nodes {
		if h, ok := r.dispatcher.Render(n, ctx, f); ok && h > 0 {
			f.doc.SetY(f.doc.GetY() + blockGap)
		}
	}
	return f.doc.GetY() - start
}

// block 执行 draw 并处理通用外观：背景仅用于文本类叶子节点（在 text 中处理），边框在内容之后绘制。
func (r *Renderer) block(n *layout.Node, f *frame, draw func(f *frame)) float64 {
	pad := n.Properties.FloatOr("appearance.padding", 0)
	start := f.doc.GetY()
	inner := f
	if pad > 0 {
		inner = f.narrow(f.x+pad, f.w-2*pad)
		f.doc.SetY(start + pad)
	}
	draw(inner)
	end := f.doc.GetY() + pad
	if bw := n.Properties.FloatOr("appearance.border.width", 0); bw > 0 {
		cr, cg, cb := parseColor(n.Properties.String("appearance.border.color", ""), 0, 0, 0)
		f.doc.SetDrawColor(cr, cg, cb)
		f.doc.SetLineWidth(bw)
		f.doc.Rect(f.x, start, f.w, end-start, "D")
		f.doc.SetDrawColor(0, 0, 0)
	}
	f.doc.SetY(end)
	return end - start
}

type textStyle struct {
	size  float64
	bold  bool
	align string
	fill  string
}

func styleOf(props layout.Properties, size float64, bold bool, align string) textStyle {
	st := textStyle{
		size:  props.FloatOr("fontSize", size),
		bold:  props.Bool("bold", bold),
		align: align,
		fill:  props.String("appearance.background", ""),
	}
	switch props.String("align", "") {
	case "center":
		st.align = "C"
	case "right":
		st.align = "R"
	case "justify":
		st.align = "J"
	case "left":
		st.align = "L"
	}
	if st.size <= 0 {
		st.size = 10
	}
	return st
}

func (f *frame) text(s string, st textStyle) {
	if s == "" {
		return
	}
	fontStyle := ""
	if st.bold {
		fontStyle = "B"
	}
	f.doc.SetFont(fontFamily, fontStyle, st.size)
	fill := false
	if st.fill != "" {
		cr, cg, cb := parseColor(st.fill, 255, 255, 255)
		f.doc.SetFillColor(cr, cg, cb)
		fill = true
	}
	f.doc.SetX(f.x)
	f.doc.MultiCell(f.w, st.size*ptToMM*1.3, f.tr(s), "", st.align, fill)
}

func (r *Renderer) header(_ *dispatcher, n *layout.Node, ctx render.Context, f *frame) float64 {
	return r.block(n, f, func(f *frame) {
		f.text(render.Resolve(n.Properties.String("title", ""), ctx), styleOf(nil, 14, true, "C"))
		f.text(render.Resolve(n.Properties.String("subtitle", ""), ctx), styleOf(nil, 10, false, "C"))
		r.list(n.Children, ctx, f)
		y := f.doc.GetY() + 1
		f.doc.SetLineWidth(0.4)
		f.doc.Line(f.x, y, f.x+f.w, y)
		f.doc.SetY(y + 1)
	})
}

func (r *Renderer) footer(_ *dispatcher, n *layout.Node, ctx render.Context, f *frame) float64 {
	return r.block(n, f, func(f *frame) {
		y := f.doc.GetY()
		f.doc.SetLineWidth(0.2)
		f.doc.Line(f.x, y, f.x+f.w, y)
		f.doc.SetY(y + 1)
		f.text(render.Resolve(n.Properties.String("text", ""), ctx), styleOf(nil, 8, false, "C"))
		r.list(n.Children, ctx, f)
	})
}

func (r *Renderer) section(_ *dispatcher, n *layout.Node, ctx render.Context, f *frame) float64 {
	return r.block(n, f, func(f *frame) {
		f.text(render.Resolve(n.Properties.String("title", ""), ctx), styleOf(nil, 11, true, "L"))
		r.list(n.Children, ctx, f)
	})
}

// columns 在同一起始高度排版每一列，结束位置取最高的一列。
func (r *Renderer) columns(_ *dispatcher, n *layout.Node, ctx render.Context, f *frame) float64 {
	return r.block(n, f, func(f *frame) {
		count := len(n.Columns)
		if count == 0 {
			return
		}
		gap := n.Properties.FloatOr("gap", 4)
		colW := (f.w - gap*float64(count-1)) / float64(count)
		start := f.doc.GetY()
		tallest := 0.0
		for i, col := range n.Columns {
			f.doc.SetY(start)
			h := r.list(col, ctx, f.narrow(f.x+float64(i)*(colW+gap), colW))
			tallest = max(tallest, h)
		}
		f.doc.SetY(start + tallest)
	})
}

func (r *Renderer) trialLoop(_ *dispatcher, n *layout.Node, ctx render.Context, f *frame) float64 {
	return r.block(n, f, func(f *frame) {
		title := n.Properties.String("title", "")
		for _, lp := range render.LoopPasses(n, ctx) {
			f.text(render.Resolve(title, lp.Ctx), styleOf(nil, 11, true, "L"))
			r.list(n.Children, lp.Ctx, f)
		}
	})
}

func (r *Renderer) customText(_ *dispatcher, n *layout.Node, ctx render.Context, f *frame) float64 {
	return r.block(n, f, func(f *frame) {
		f.text(render.Resolve(n.Properties.String("content", ""), ctx), styleOf(n.Properties, 10, false, "L"))
	})
}

func labelled(label, value string) string {
	if label == "" {
		return value
	}
	return label + ": " + value
}

func (r *Renderer) placeholder(_ *dispatcher, n *layout.Node, ctx render.Context, f *frame) float64 {
	return r.block(n, f, func(f *frame) {
		token := strings.TrimSpace(n.Properties.String("token", ""))
		value := render.Resolve("{{"+token+"}}", ctx)
		f.text(labelled(n.Properties.String("label", ""), value), styleOf(n.Properties, 10, false, "L"))
	})
}

func (r *Renderer) formula(_ *dispatcher, n *layout.Node, ctx render.Context, f *frame) float64 {
	return r.block(n, f, func(f *frame) {
		value := render.FormulaText(n.Properties.String("expression", ""), n.Properties.Int("decimals", -1),
			n.Properties.String("unit", ""), ctx)
		label := render.Resolve(n.Properties.String("label", ""), ctx)
		f.text(labelled(label, value), styleOf(n.Properties, 10, false, "L"))
	})
}

var tableWeights = []float64{0.3, 0.2, 0.25, 0.25}

func (r *Renderer) table(_ *dispatcher, n *layout.Node, ctx render.Context, f *frame) float64 {
	return r.block(n, f, func(f *frame) {
		f.text(render.Resolve(n.Properties.String("title", ""), ctx), styleOf(nil, 10, true, "L"))
		tbl := render.BuildTestTable(ctx)
		doc := f.doc
		doc.SetLineWidth(0.2)
		row := func(cells []string, style string) {
			doc.SetFont(fontFamily, style, 9)
			doc.SetX(f.x)
			for i, c := range cells {
				doc.CellFormat(f.w*tableWeights[i], 6, f.tr(c), "1", 0, "C", false, 0, "")
			}
			doc.Ln(-1)
		}
		row(tbl.Headers, "B")
		if len(tbl.Rows) == 0 {
			doc.SetFont(fontFamily, "I", 9)
			doc.SetX(f.x)
			doc.CellFormat(f.w, 6, f.tr("Belum ada data uji"), "1", 1, "C", false, 0, "")
		}
		for _, cells := range tbl.Rows {
			row(cells, "")
		}
		if tbl.Average != "" && n.Properties.Bool("showAverage", true) {
			doc.SetFont(fontFamily, "B", 9)
			doc.SetX(f.x)
			labelW := f.w * (tableWeights[0] + tableWeights[1] + tableWeights[2])
			doc.CellFormat(labelW, 6, "Rata-rata", "1", 0, "C", false, 0, "")
			doc.CellFormat(f.w*tableWeights[3], 6, tbl.Average, "1", 1, "C", false, 0, "")
		}
	})
}

// chart 以矢量矩形绘制每个试件的抗压强度。
func (r *Renderer) chart(_ *dispatcher, n *layout.Node, ctx render.Context, f *frame) float64 {
	return r.block(n, f, func(f *frame) {
		f.text(render.Resolve(n.Properties.String("title", ""), ctx), styleOf(nil, 10, true, "L"))
		doc := f.doc
		height := n.Properties.FloatOr("height", 60)
		top := doc.GetY()
		base := top + height - 5
		bars := render.StrengthSeries(ctx)
		cr, cg, cb := parseColor(n.Properties.String("color", ""), 37, 99, 235)
		doc.SetFillColor(cr, cg, cb)
		doc.SetFont(fontFamily, "", 7)
		if len(bars) > 0 {
			peak := render.MaxBar(bars)
			slot := f.w / float64(len(bars))
			for i, b := range bars {
				h := b.Value / peak * (height - 10)
				x := f.x + float64(i)*slot + slot*0.15
				doc.Rect(x, base-h, slot*0.7, h, "F")
				doc.SetXY(f.x+float64(i)*slot, base-h-4)
				doc.CellFormat(slot, 4, render.FormatNumber(b.Value, ctx.Decimals), "", 0, "C", false, 0, "")
				doc.SetXY(f.x+float64(i)*slot, base)
				doc.CellFormat(slot, 4, f.tr(b.Label), "", 0, "C", false, 0, "")
			}
		}
		doc.SetLineWidth(0.2)
		doc.Line(f.x, base, f.x+f.w, base)
		doc.SetY(top + height)
	})
}

func (r *Renderer) image(_ *dispatcher, n *layout.Node, ctx render.Context, f *frame) float64 {
	return r.block(n, f, func(f *frame) {
		src := strings.TrimSpace(n.Properties.String("src", ""))
		if src == "" {
			return
		}
		data, ok := r.asset(src)
		if !ok {
			ctx.Warn(render.WarnResourceMissing, "image %q not found", src)
			return
		}
		if !f.placeImage("img:"+src, data, n.Properties.FloatOr("width", 40), n.Properties.FloatOr("height", 0)) {
			ctx.Warn(render.WarnResourceMissing, "image %q has an unsupported format", src)
		}
	})
}

func (r *Renderer) qrCode(_ *dispatcher, n *layout.Node, ctx render.Context, f *frame) float64 {
	return r.block(n, f, func(f *frame) {
		value := render.Resolve(n.Properties.String("value", ""), ctx)
		png, err := render.QRCodePNG(value, 256)
		if err != nil {
			ctx.Warn(render.WarnMissingData, "%v", err)
			return
		}
		size := n.Properties.FloatOr("size", 25)
		f.placeImage("qr:"+value, png, size, size)
	})
}

func (r *Renderer) signature(_ *dispatcher, n *layout.Node, ctx render.Context, f *frame) float64 {
	return r.block(n, f, func(f *frame) {
		box := f.narrow(f.x, min(60, f.w))
		box.text(render.Resolve(n.Properties.String("label", ""), ctx), styleOf(nil, 10, false, "C"))
		f.doc.SetY(f.doc.GetY() + 20)
		name := render.Resolve(n.Properties.String("name", ""), ctx)
		if name == "" {
			name = "(                                   )"
		}
		box.text(name, textStyle{size: 10, bold: true, align: "C"})
		box.text(render.Resolve(n.Properties.String("role", ""), ctx), styleOf(nil, 9, false, "C"))
	})
}

func (r *Renderer) spacer(_ *dispatcher, n *layout.Node, _ render.Context, f *frame) float64 {
	h := n.Properties.FloatOr("height", 5)
	f.doc.SetY(f.doc.GetY() + h)
	return h
}

func (r *Renderer) line(_ *dispatcher, n *layout.Node, _ render.Context, f *frame) float64 {
	thickness := n.Properties.FloatOr("thickness", 0.3)
	cr, cg, cb := parseColor(n.Properties.String("color", ""), 0, 0, 0)
	y := f.doc.GetY() + 1
	f.doc.SetDrawColor(cr, cg, cb)
	f.doc.SetLineWidth(thickness)
	f.doc.Line(f.x, y, f.x+f.w, y)
	f.doc.SetDrawColor(0, 0, 0)
	f.doc.SetY(y + thickness + 1)
	return thickness + 2
}

// placeImage 注册并绘制图片；height 为 0 时按原始宽高比计算。
func (f *frame) placeImage(name string, data []byte, width, height float64) bool {
	imageType := imageTypeOf(data)
	if imageType == "" {
		return false
	}
	opts := gofpdf.ImageOptions{ImageType: imageType}
	info := f.doc.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))
	if info == nil || f.doc.Err() {
		f.doc.ClearError()
		return false
	}
	width = min(width, f.w)
	if width <= 0 {
		width = f.w
	}
	if height <= 0 && info.Width() > 0 {
		height = width * info.Height() / info.Width()
	}
	y := f.doc.GetY()
	f.doc.ImageOptions(name, f.x, y, width, height, false, opts, 0, "")
	f.doc.SetY(y + height)
	return true
}

func (r *Renderer) asset(src string) ([]byte, bool) {
	if rest, ok := strings.CutPrefix(src, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return nil, false
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		return data, err == nil
	}
	if r.load == nil {
		return nil, false
	}
	return r.load(src)
}

func imageTypeOf(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/png":
		return "PNG"
	case "image/jpeg":
		return "JPG"
	case "image/gif":
		return "GIF"
	default:
		return ""
	}
}

// parseColor 解析 #rgb / #rrggbb，失败时返回默认值。
func parseColor(s string, r, g, b int) (int, int, int) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return r, g, b
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return r, g, b
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)
}
