package layout

import (
	"slices"
)

// ParentPage 是 ValidParents 中表示“直接放在页面上”的特殊值。
const ParentPage = "page"

// 组件 kind 常量。
const (
	KindHeader      Kind = "header"
	KindFooter      Kind = "footer"
	KindSection     Kind = "section"
	KindColumns     Kind = "columns"
	KindTrialLoop   Kind = "trial-loop"
	KindCustomText  Kind = "custom-text"
	KindPlaceholder Kind = "placeholder"
	KindFormula     Kind = "formula"
	KindTable       Kind = "table"
	KindChart       Kind = "chart"
	KindImage       Kind = "image"
	KindQRCode      Kind = "qr-code"
	KindSignature   Kind = "signature"
	KindSpacer      Kind = "spacer"
	KindLine        Kind = "line"
)

// ColumnCountProperty 是多列容器的列数属性名。
const ColumnCountProperty = "columnCount"

// MaxColumns 限制多列容器的列数上限。
const MaxColumns = 6

// Slot 标记只能放入页面页眉/页脚槽位的组件。
type Slot string

const (
	SlotNone   Slot = ""
	SlotHeader Slot = "header"
	SlotFooter Slot = "footer"
)

// Component 是组件注册表中的一个条目：展示信息、子节点形态与放置规则。
type Component struct {
	Kind                Kind       `json:"kind"`
	Name                string     `json:"name"`
	Icon                string     `json:"icon"`
	Group               string     `json:"group"`
	Shape               Shape      `json:"shape"`
	Defaults            Properties `json:"defaults"`
	Slot                Slot       `json:"slot,omitempty"`
	ValidParents        []string   `json:"validParents,omitempty"`
	InvalidChildren     []Kind     `json:"invalidChildren,omitempty"`
	MaxInstancesPerPage int        `json:"maxInstancesPerPage,omitempty"`
}

// AllowsParent 判断组件能否放入 parent（"page" 或容器 kind）。
// 未声明 ValidParents 的组件可放在任意位置。
func (c Component) AllowsParent(parent string) bool {
	if len(c.ValidParents) == 0 {
		return true
	}
	return slices.Contains(c.ValidParents, parent)
}

// Forbids 判断 child 是否被禁止嵌套在该组件内部。
func (c Component) Forbids(child Kind) bool {
	return slices.Contains(c.InvalidChildren, child)
}

// Registry 是静态的组件目录，无运行时状态。
type Registry struct {
	components map[Kind]Component
	order      []Kind
}

// NewRegistry 按给定顺序构造注册表，重复的 kind 以后者为准。
func NewRegistry(components ...Component) *Registry {
	r := &Registry{components: make(map[Kind]Component, len(components))}
	for _, c := range components {
		if _, exists := r.components[c.Kind]; !exists {
			r.order = append(r.order, c.Kind)
		}
		r.components[c.Kind] = c
	}
	return r
}

// Lookup 返回 kind 对应的组件定义。
func (r *Registry) Lookup(kind Kind) (Component, bool) {
	c, ok := r.components[kind]
	return c, ok
}

// Components 按注册顺序返回全部组件。
func (r *Registry) Components() []Component {
	out := make([]Component, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.components[k])
	}
	return out
}

// NewNode 从目录条目合成一个全新节点：深拷贝默认属性并分配 instanceId。
func (r *Registry) NewNode(kind Kind, instanceID string) (*Node, bool) {
	c, ok := r.components[kind]
	if !ok {
		return nil, false
	}
	n := &Node{
		Kind:       kind,
		InstanceID: instanceID,
		Properties: c.Defaults.Clone(),
	}
	if n.Properties == nil {
		n.Properties = Properties{}
	}
	switch c.Shape {
	case ShapeFlat:
		n.Children = []*Node{}
	case ShapeMulti:
		count := clampColumns(n.Properties.Int(ColumnCountProperty, 2))
		n.Properties[ColumnCountProperty] = count
		n.Columns = make([][]*Node, count)
		for i := range n.Columns {
			n.Columns[i] = []*Node{}
		}
	}
	return n, true
}

func (r *Registry) shapeOf(kind Kind) (Shape, bool) {
	c, ok := r.components[kind]
	if !ok {
		return ShapeLeaf, false
	}
	return c.Shape, true
}

func clampColumns(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxColumns {
		return MaxColumns
	}
	return n
}

// DefaultRegistry 返回实验室报告构建器的标准组件目录。
func DefaultRegistry() *Registry {
	return NewRegistry(
		Component{
			Kind: KindHeader, Name: "Kop Laporan", Icon: "heading", Group: "layout", Shape: ShapeFlat,
			Defaults: Properties{
				"title":    "LAPORAN PENGUJIAN BETON",
				"subtitle": "{{nama_proyek}}",
			},
			Slot:                SlotHeader,
			ValidParents:        []string{ParentPage},
			MaxInstancesPerPage: 1,
		},
		Component{
			Kind: KindFooter, Name: "Kaki Halaman", Icon: "align-bottom", Group: "layout", Shape: ShapeFlat,
			Defaults: Properties{
				"text": "Halaman {{halaman}} dari {{total_halaman}}",
			},
			Slot:                SlotFooter,
			ValidParents:        []string{ParentPage},
			MaxInstancesPerPage: 1,
		},
		Component{
			Kind: KindSection, Name: "Bagian", Icon: "square", Group: "layout", Shape: ShapeFlat,
			Defaults: Properties{"title": ""},
		},
		Component{
			Kind: KindColumns, Name: "Kolom", Icon: "columns", Group: "layout", Shape: ShapeMulti,
			Defaults: Properties{ColumnCountProperty: 2, "gap": 4},
		},
		Component{
			Kind: KindTrialLoop, Name: "Perulangan Trial", Icon: "repeat", Group: "data", Shape: ShapeFlat,
			Defaults: Properties{
				"title":            "{{nama_trial}}",
				"selectedTrialIds": []any{},
			},
			InvalidChildren: []Kind{KindTrialLoop},
		},
		Component{
			Kind: KindCustomText, Name: "Teks", Icon: "type", Group: "content", Shape: ShapeLeaf,
			Defaults: Properties{"content": "Teks baru", "fontSize": 10, "bold": false, "align": "left"},
		},
		Component{
			Kind: KindPlaceholder, Name: "Data Proyek", Icon: "brackets", Group: "content", Shape: ShapeLeaf,
			Defaults: Properties{"label": "Nama Proyek", "token": "nama_proyek"},
		},
		Component{
			Kind: KindFormula, Name: "Rumus", Icon: "function", Group: "data", Shape: ShapeLeaf,
			Defaults: Properties{"label": "Rasio fcr/fc", "expression": "fcr / fc", "decimals": 2, "unit": ""},
		},
		Component{
			Kind: KindTable, Name: "Tabel Hasil Uji", Icon: "table", Group: "data", Shape: ShapeLeaf,
			Defaults: Properties{"title": "Hasil Uji Tekan", "showAverage": true},
		},
		Component{
			Kind: KindChart, Name: "Grafik Kuat Tekan", Icon: "bar-chart", Group: "data", Shape: ShapeLeaf,
			Defaults: Properties{"title": "Kuat Tekan per Benda Uji", "height": 60, "color": "#2563eb"},
		},
		Component{
			Kind: KindImage, Name: "Gambar", Icon: "image", Group: "media", Shape: ShapeLeaf,
			Defaults: Properties{"src": "", "width": 40, "height": 0},
		},
		Component{
			Kind: KindQRCode, Name: "Kode QR", Icon: "qr-code", Group: "media", Shape: ShapeLeaf,
			Defaults: Properties{"value": "{{nomor_proyek}}", "size": 25},
		},
		Component{
			Kind: KindSignature, Name: "Tanda Tangan", Icon: "pen", Group: "content", Shape: ShapeLeaf,
			Defaults: Properties{"label": "Disetujui oleh", "name": "", "role": "Kepala Laboratorium"},
		},
		Component{
			Kind: KindSpacer, Name: "Spasi", Icon: "move-vertical", Group: "layout", Shape: ShapeLeaf,
			Defaults: Properties{"height": 5},
		},
		Component{
			Kind: KindLine, Name: "Garis", Icon: "minus", Group: "layout", Shape: ShapeLeaf,
			Defaults: Properties{"thickness": 0.3, "color": "#000000"},
		},
	)
}
