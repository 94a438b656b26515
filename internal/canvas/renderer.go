// Package canvas 把文档树渲染为编辑器画布使用的 HTML。
//
// 编辑模式下每个节点带 data-instance-id，每个可放置区域带 data-droppable-id，
// 前端据此把拖拽事件翻译为 layout.DragResult；预览模式输出干净的 HTML，
// 也是无头浏览器生成缩略图与 PDF 的输入。
package canvas

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"io"
	"regexp"
	"strconv"
	"strings"

	"labReport/internal/layout"
	"labReport/internal/render"
)

// Mode 选择输出模式。
type Mode int

const (
	// Preview 输出只读 HTML，不含任何编辑器属性。
	Preview Mode = iota
	// Editable 输出带放置区域与节点标识的 HTML。
	Editable
)

// Options 控制一次画布渲染。
type Options struct {
	Mode     Mode
	Selected string
	Title    string
}

// AssetLinker 把 image 节点的 src 转换为浏览器可加载的地址；无法解析时返回 false。
type AssetLinker func(src string) (string, bool)

// DirectLinker 直接使用 src 本身。
func DirectLinker(src string) (string, bool) { return src, src != "" }

// Renderer 是画布渲染器，可并发使用。
type Renderer struct {
	dispatcher *render.Dispatcher[*pass, template.HTML]
	link       AssetLinker
}

type pass struct {
	opts     Options
	editable bool
	err      error
}

// NewRenderer 创建画布渲染器。link 为 nil 时使用 DirectLinker。
func NewRenderer(link AssetLinker) *Renderer {
	if link == nil {
		link = DirectLinker
	}
	r := &Renderer{link: link}
	r.dispatcher = render.NewDispatcher[*pass, template.HTML]().
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

type documentView struct {
	Title    string
	Editable bool
	PageCSS  template.CSS
	BaseCSS  template.CSS
	Pages    []pageView
}

type pageView struct {
	Index         int
	Class         string
	HeaderAddress string
	BodyAddress   string
	FooterAddress string
	Header        template.HTML
	Body          template.HTML
	Footer        template.HTML
}

// Render 把整个模板写为一个 HTML 文档。页码占位符按页解析。
func (r *Renderer) Render(w io.Writer, t *layout.Template, ctx render.Context, opts Options) error {
	p := &pass{opts: opts, editable: opts.Mode == Editable}
	doc := documentView{
		Title:    opts.Title,
		Editable: p.editable,
		PageCSS:  pageCSS(t.Settings),
		BaseCSS:  template.CSS(baseCSS),
	}
	if doc.Title == "" {
		doc.Title = "Laporan"
	}
	class := fmt.Sprintf("page-%s %s", t.Settings.Size, t.Settings.Orientation)
	for i, page := range t.Pages {
		pctx := ctx.WithPage(i+1, len(t.Pages))
		pv := pageView{
			Index:         i,
			Class:         class,
			HeaderAddress: layout.HeaderAddress(i),
			BodyAddress:   layout.PageAddress(i),
			FooterAddress: layout.FooterAddress(i),
		}
		pv.Header, _ = r.dispatcher.Render(page.Header, pctx, p)
		pv.Body = join(r.dispatcher.RenderList(page.Nodes, pctx, p))
		pv.Footer, _ = r.dispatcher.Render(page.Footer, pctx, p)
		doc.Pages = append(doc.Pages, pv)
	}
	if p.err != nil {
		return p.err
	}
	if err := documentTemplate.Execute(w, doc); err != nil {
		return fmt.Errorf("render canvas: %w", err)
	}
	return nil
}

// RenderString 与 Render 相同，但返回字符串。
func (r *Renderer) RenderString(t *layout.Template, ctx render.Context, opts Options) (string, error) {
	var buf bytes.Buffer
	if err := r.Render(&buf, t, ctx, opts); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func pageCSS(s layout.PageSettings) template.CSS {
	size := "A4"
	if s.Size == layout.PaperLetter {
		size = "letter"
	}
	return template.CSS(fmt.Sprintf("@page{size:%s %s;margin:0}", size, s.Orientation))
}

type listView struct {
	Address string
	Items   []template.HTML
}

type passView struct {
	TrialID  string
	Title    string
	Children listView
}

type barView struct {
	X, Y, W, H float64
	Label      string
	Value      string
}

type chartView struct {
	Width, Height float64
	HeightMM      float64
	Color         string
	Bars          []barView
}

type nodeView struct {
	ID       string
	Kind     layout.Kind
	Editable bool
	Selected bool
	Style    template.CSS
	Inner    template.HTML

	Title    string
	Subtitle string
	Text     string

	Children   listView
	Columns    []listView
	GridStyle  template.CSS
	Passes     []passView
	Table      render.TestTable
	Chart      chartView
	Src        template.URL
	MediaStyle template.CSS
}

func (r *Renderer) view(n *layout.Node, p *pass) nodeView {
	return nodeView{
		ID:       n.InstanceID,
		Kind:     n.Kind,
		Editable: p.editable,
		Selected: p.editable && p.opts.Selected != "" && p.opts.Selected == n.InstanceID,
		Style:    nodeStyle(n.Properties),
	}
}

// emit 先执行 kind 对应的模板，再用通用节点外壳包裹。
func (r *Renderer) emit(v nodeView, p *pass) template.HTML {
	var inner bytes.Buffer
	if err := nodeTemplates.ExecuteTemplate(&inner, string(v.Kind), v); err != nil {
		p.fail(err)
		return ""
	}
	v.Inner = template.HTML(inner.String())
	var out bytes.Buffer
	if err := nodeTemplates.ExecuteTemplate(&out, "node", v); err != nil {
		p.fail(err)
		return ""
	}
	return template.HTML(out.String())
}

func (p *pass) fail(err error) {
	if p.err == nil {
		p.err = fmt.Errorf("render canvas node: %w", err)
	}
}

func (r *Renderer) list(list []*layout.Node, address string, ctx render.Context, p *pass) listView {
	lv := listView{Items: r.dispatcher.RenderList(list, ctx, p)}
	if p.editable {
		lv.Address = address
	}
	return lv
}

type dispatcher = render.Dispatcher[*pass, template.HTML]

func (r *Renderer) header(_ *dispatcher, n *layout.Node, ctx render.Context, p *pass) template.HTML {
	v := r.view(n, p)
	v.Title = render.Resolve(n.Properties.String("title", ""), ctx)
	v.Text = render.Resolve(n.Properties.String("subtitle", ""), ctx)
	v.Children = r.list(n.Children, layout.SectionAddress(n.InstanceID), ctx, p)
	return r.emit(v, p)
}

func (r *Renderer) footer(_ *dispatcher, n *layout.Node, ctx render.Context, p *pass) template.HTML {
	v := r.view(n, p)
	v.Text = render.Resolve(n.Properties.String("text", ""), ctx)
	v.Children = r.list(n.Children, layout.SectionAddress(n.InstanceID), ctx, p)
	return r.emit(v, p)
}

func (r *Renderer) section(_ *dispatcher, n *layout.Node, ctx render.Context, p *pass) template.HTML {
	v := r.view(n, p)
	v.Title = render.Resolve(n.Properties.String("title", ""), ctx)
	v.Children = r.list(n.Children, layout.SectionAddress(n.InstanceID), ctx, p)
	return r.emit(v, p)
}

func (r *Renderer) columns(_ *dispatcher, n *layout.Node, ctx render.Context, p *pass) template.HTML {
	v := r.view(n, p)
	gap := n.Properties.FloatOr("gap", 4)
	v.GridStyle = template.CSS(fmt.Sprintf("grid-template-columns:repeat(%d,minmax(0,1fr));column-gap:%smm",
		max(len(n.Columns), 1), num(gap)))
	for i, col := range n.Columns {
		v.Columns = append(v.Columns, r.list(col, layout.ColumnAddress(n.InstanceID, i), ctx, p))
	}
	return r.emit(v, p)
}

// trialLoop 为每个 trial 重复渲染子节点，子节点的 instanceId 在每次迭代中保持不变。
// 只有第一次迭代作为放置区域；编辑模式下没有 trial 时仍渲染一次以便编辑子节点。
func (r *Renderer) trialLoop(_ *dispatcher, n *layout.Node, ctx render.Context, p *pass) template.HTML {
	v := r.view(n, p)
	passes := render.LoopPasses(n, ctx)
	if len(passes) == 0 && p.editable {
		passes = []render.LoopPass{{Ctx: ctx}}
	}
	title := n.Properties.String("title", "")
	for i, lp := range passes {
		address := ""
		if i == 0 {
			address = layout.LoopAddress(n.InstanceID)
		}
		pv := passView{
			Title:    render.Resolve(title, lp.Ctx),
			Children: r.list(n.Children, address, lp.Ctx, p),
		}
		if lp.Trial != nil {
			pv.TrialID = strconv.FormatUint(uint64(lp.Trial.ID), 10)
		}
		v.Passes = append(v.Passes, pv)
	}
	return r.emit(v, p)
}

func (r *Renderer) customText(_ *dispatcher, n *layout.Node, ctx render.Context, p *pass) template.HTML {
	v := r.view(n, p)
	v.Text = render.Resolve(n.Properties.String("content", ""), ctx)
	return r.emit(v, p)
}

func (r *Renderer) placeholder(_ *dispatcher, n *layout.Node, ctx render.Context, p *pass) template.HTML {
	v := r.view(n, p)
	v.Title = n.Properties.String("label", "")
	token := strings.TrimSpace(n.Properties.String("token", ""))
	v.Text = render.Resolve("{{"+token+"}}", ctx)
	return r.emit(v, p)
}

func (r *Renderer) formula(_ *dispatcher, n *layout.Node, ctx render.Context, p *pass) template.HTML {
	v := r.view(n, p)
	v.Title = render.Resolve(n.Properties.String("label", ""), ctx)
	v.Text = render.FormulaText(n.Properties.String("expression", ""), n.Properties.Int("decimals", -1),
		n.Properties.String("unit", ""), ctx)
	return r.emit(v, p)
}

func (r *Renderer) table(_ *dispatcher, n *layout.Node, ctx render.Context, p *pass) template.HTML {
	v := r.view(n, p)
	v.Title = render.Resolve(n.Properties.String("title", ""), ctx)
	v.Table = render.BuildTestTable(ctx)
	if !n.Properties.Bool("showAverage", true) {
		v.Table.Average = ""
	}
	return r.emit(v, p)
}

const (
	chartWidth  = 100.0
	chartHeight = 50.0
)

func (r *Renderer) chart(_ *dispatcher, n *layout.Node, ctx render.Context, p *pass) template.HTML {
	v := r.view(n, p)
	v.Title = render.Resolve(n.Properties.String("title", ""), ctx)
	bars := render.StrengthSeries(ctx)
	v.Chart = chartView{
		Width:    chartWidth,
		Height:   chartHeight,
		HeightMM: n.Properties.FloatOr("height", 60),
		Color:    colorOr(n.Properties.String("color", ""), "#2563eb"),
	}
	if len(bars) > 0 {
		top := render.MaxBar(bars)
		slot := chartWidth / float64(len(bars))
		for i, b := range bars {
			h := b.Value / top * (chartHeight - 2)
			v.Chart.Bars = append(v.Chart.Bars, barView{
				X:     float64(i)*slot + slot*0.15,
				Y:     chartHeight - h,
				W:     slot * 0.7,
				H:     h,
				Label: b.Label,
				Value: render.FormatNumber(b.Value, ctx.Decimals),
			})
		}
	}
	return r.emit(v, p)
}

func (r *Renderer) image(_ *dispatcher, n *layout.Node, ctx render.Context, p *pass) template.HTML {
	v := r.view(n, p)
	if src := strings.TrimSpace(n.Properties.String("src", "")); src != "" {
		if u, ok := r.link(src); ok {
			v.Src, ok = safeURL(u)
			if !ok {
				ctx.Warn(render.WarnResourceMissing, "image %q has an unsupported address", src)
			}
		} else {
			ctx.Warn(render.WarnResourceMissing, "image %q not found", src)
		}
	}
	v.MediaStyle = mediaStyle(n.Properties.FloatOr("width", 40), n.Properties.FloatOr("height", 0))
	return r.emit(v, p)
}

func (r *Renderer) qrCode(_ *dispatcher, n *layout.Node, ctx render.Context, p *pass) template.HTML {
	v := r.view(n, p)
	v.Text = render.Resolve(n.Properties.String("value", ""), ctx)
	if png, err := render.QRCodePNG(v.Text, 256); err == nil {
		v.Src = template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png))
	} else {
		ctx.Warn(render.WarnMissingData, "%v", err)
	}
	size := n.Properties.FloatOr("size", 25)
	v.MediaStyle = mediaStyle(size, size)
	return r.emit(v, p)
}

func (r *Renderer) signature(_ *dispatcher, n *layout.Node, ctx render.Context, p *pass) template.HTML {
	v := r.view(n, p)
	v.Title = render.Resolve(n.Properties.String("label", ""), ctx)
	v.Text = render.Resolve(n.Properties.String("name", ""), ctx)
	v.Subtitle = render.Resolve(n.Properties.String("role", ""), ctx)
	return r.emit(v, p)
}

func (r *Renderer) spacer(_ *dispatcher, n *layout.Node, _ render.Context, p *pass) template.HTML {
	v := r.view(n, p)
	v.Style = template.CSS(string(v.Style) + fmt.Sprintf("height:%smm;", num(n.Properties.FloatOr("height", 5))))
	return r.emit(v, p)
}

func (r *Renderer) line(_ *dispatcher, n *layout.Node, _ render.Context, p *pass) template.HTML {
	v := r.view(n, p)
	v.Style = template.CSS(string(v.Style) + fmt.Sprintf("border-top:%smm solid %s;",
		num(n.Properties.FloatOr("thickness", 0.3)), colorOr(n.Properties.String("color", ""), "#000000")))
	return r.emit(v, p)
}

func join(items []template.HTML) template.HTML {
	var b strings.Builder
	for _, it := range items {
		b.WriteString(string(it))
	}
	return template.HTML(b.String())
}

var colorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

func colorOr(c, fallback string) string {
	c = strings.TrimSpace(c)
	if colorPattern.MatchString(c) {
		return c
	}
	return fallback
}

var alignments = map[string]bool{"left": true, "center": true, "right": true, "justify": true}

// nodeStyle 只从经过校验的数值与枚举构造 CSS。
func nodeStyle(props layout.Properties) template.CSS {
	var b strings.Builder
	if a := props.String("align", ""); alignments[a] {
		fmt.Fprintf(&b, "text-align:%s;", a)
	}
	if size, ok := props.Float("fontSize"); ok && size > 0 {
		fmt.Fprintf(&b, "font-size:%spt;", num(size))
	}
	if props.Bool("bold", false) {
		b.WriteString("font-weight:bold;")
	}
	if bg := colorOr(props.String("appearance.background", ""), ""); bg != "" {
		fmt.Fprintf(&b, "background-color:%s;", bg)
	}
	if pad, ok := props.Float("appearance.padding"); ok && pad > 0 {
		fmt.Fprintf(&b, "padding:%smm;", num(pad))
	}
	if bw, ok := props.Float("appearance.border.width"); ok && bw > 0 {
		fmt.Fprintf(&b, "border:%smm solid %s;", num(bw),
			colorOr(props.String("appearance.border.color", ""), "#000000"))
	}
	return template.CSS(b.String())
}

func mediaStyle(width, height float64) template.CSS {
	style := ""
	if width > 0 {
		style += fmt.Sprintf("width:%smm;", num(width))
	}
	if height > 0 {
		style += fmt.Sprintf("height:%smm;", num(height))
	}
	return template.CSS(style)
}

func safeURL(u string) (template.URL, bool) {
	for _, prefix := range []string{"data:image/", "https://", "http://", "/"} {
		if strings.HasPrefix(u, prefix) {
			return template.URL(u), true
		}
	}
	return "", false
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
