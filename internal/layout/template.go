package layout

import (
	"encoding/json"
)

// PaperSize 是纸张尺寸枚举。
type PaperSize string

// Orientation 是页面方向枚举。
type Orientation string

const (
	PaperA4     PaperSize = "a4"
	PaperLetter PaperSize = "letter"

	Portrait  Orientation = "portrait"
	Landscape Orientation = "landscape"
)

// PageSettings 是模板级别的页面设置。
type PageSettings struct {
	Size        PaperSize   `json:"size"`
	Orientation Orientation `json:"orientation"`
}

// DefaultPageSettings 返回 A4 纵向。
func DefaultPageSettings() PageSettings {
	return PageSettings{Size: PaperA4, Orientation: Portrait}
}

func (s PageSettings) normalized() PageSettings {
	switch s.Size {
	case PaperA4, PaperLetter:
	default:
		s.Size = PaperA4
	}
	switch s.Orientation {
	case Portrait, Landscape:
	default:
		s.Orientation = Portrait
	}
	return s
}

// Page 是模板中的一页：可选页眉、可选页脚与有序的正文节点。
type Page struct {
	Header *Node   `json:"header"`
	Footer *Node   `json:"footer"`
	Nodes  []*Node `json:"nodes"`
}

// Clone 深拷贝页面。
func (p *Page) Clone() *Page {
	return &Page{
		Header: p.Header.Clone(),
		Footer: p.Footer.Clone(),
		Nodes:  cloneList(p.Nodes),
	}
}

// Template 是持久化单元：页面序列与页面设置。
type Template struct {
	Pages    []*Page
	Settings PageSettings
}

// NewTemplate 返回仅含一张空白页、默认页面设置的模板。
func NewTemplate() *Template {
	return &Template{
		Pages:    []*Page{newPage()},
		Settings: DefaultPageSettings(),
	}
}

func newPage() *Page {
	return &Page{Nodes: []*Node{}}
}

// Clone 深拷贝整个模板，Store 的所有变更都作用在副本上。
func (t *Template) Clone() *Template {
	out := &Template{
		Pages:    make([]*Page, len(t.Pages)),
		Settings: t.Settings,
	}
	for i, p := range t.Pages {
		out.Pages[i] = p.Clone()
	}
	return out
}

// NodeCount 返回模板中全部节点数量（含页眉页脚及所有后代）。
func (t *Template) NodeCount() int {
	total := 0
	t.walk(func(*Node, position) bool {
		total++
		return false
	})
	return total
}

// Find 在整棵树中按 instanceId 查找节点，未找到返回 nil。
func (t *Template) Find(instanceID string) *Node {
	n, _, ok := t.find(instanceID)
	if !ok {
		return nil
	}
	return n
}

type templateJSON struct {
	Layout       []*Page      `json:"layout"`
	PageSettings PageSettings `json:"pageSettings"`
}

// MarshalJSON 输出持久化格式 { layout: Page[], pageSettings }。
func (t *Template) MarshalJSON() ([]byte, error) {
	pages := make([]*Page, len(t.Pages))
	for i, p := range t.Pages {
		if p.Nodes == nil {
			cp := *p
			cp.Nodes = []*Node{}
			p = &cp
		}
		pages[i] = p
	}
	return json.Marshal(templateJSON{Layout: pages, PageSettings: t.Settings})
}
