package layout

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// IDFunc 为新节点生成 instanceId。
type IDFunc func(kind Kind) string

// NewInstanceID 是默认的 instanceId 生成器：<kind>-<uuid>。
func NewInstanceID(kind Kind) string {
	return string(kind) + "-" + uuid.NewString()
}

// Repair 记录解码时被替换为默认值的一处内容。
type Repair struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (r Repair) String() string { return r.Path + ": " + r.Message }

// Decode 解析持久化的模板 JSON，丢弃修复记录。
func Decode(raw []byte, reg *Registry) (*Template, error) {
	t, _, err := decode(raw, reg, NewInstanceID)
	return t, err
}

// DecodeWithRepairs 解析持久化的模板 JSON。
//
// 缺失的 layout/pageSettings 使用默认值补齐；layout 为扁平节点数组（分页前的旧格式）
// 时视为单页正文；重复或缺失的 instanceId 会被重新分配，多列容器的列数与 columnCount
// 不一致时按 Store 的规则修复。类型不符的部分替换为默认值并记入返回的 Repair 列表。
// 只有语法错误的 JSON 才会返回 error。
func DecodeWithRepairs(raw []byte, reg *Registry) (*Template, []Repair, error) {
	return decode(raw, reg, NewInstanceID)
}

func decode(raw []byte, reg *Registry, newID IDFunc) (*Template, []Repair, error) {
	raw = bytes.TrimSpace(raw)
	if isNull(raw) {
		return NewTemplate(), nil, nil
	}
	if !json.Valid(raw) {
		var v any
		err := json.Unmarshal(raw, &v)
		return nil, nil, fmt.Errorf("decode template: %w", err)
	}

	d := &decoder{reg: reg, newID: newID, seen: map[string]struct{}{}}
	t := &Template{Settings: DefaultPageSettings()}

	var layoutRaw json.RawMessage
	switch raw[0] {
	case '[':
		layoutRaw = raw
	case '{':
		var doc map[string]json.RawMessage
		_ = json.Unmarshal(raw, &doc)
		layoutRaw = doc["layout"]
		t.Settings = d.pageSettings(doc["pageSettings"])
	default:
		d.repair("$", "template is not an object, using a blank template")
	}

	t.Pages = d.pages(layoutRaw)
	if len(t.Pages) == 0 {
		t.Pages = []*Page{newPage()}
	}
	return t, d.repairs, nil
}

type decoder struct {
	reg     *Registry
	newID   IDFunc
	seen    map[string]struct{}
	repairs []Repair
}

func (d *decoder) repair(path, format string, args ...any) {
	d.repairs = append(d.repairs, Repair{Path: path, Message: fmt.Sprintf(format, args...)})
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// array 把 raw 解为数组；null 返回 nil，其他类型记一条修复并返回 nil。
func (d *decoder) array(path string, raw json.RawMessage) []json.RawMessage {
	if isNull(raw) {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		d.repair(path, "expected an array, using an empty list")
		return nil
	}
	return items
}

// object 把 raw 解为对象；失败时返回 false。
func object(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

func (d *decoder) str(path string, raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		d.repair(path, "expected a string, value dropped")
		return ""
	}
	return s
}

func (d *decoder) pageSettings(raw json.RawMessage) PageSettings {
	if isNull(raw) {
		return DefaultPageSettings()
	}
	m, ok := object(raw)
	if !ok {
		d.repair("pageSettings", "expected an object, using a4 portrait")
		return DefaultPageSettings()
	}
	s := PageSettings{
		Size:        PaperSize(d.str("pageSettings.size", m["size"])),
		Orientation: Orientation(d.str("pageSettings.orientation", m["orientation"])),
	}
	return s.normalized()
}

func (d *decoder) pages(raw json.RawMessage) []*Page {
	items := d.array("layout", raw)
	if len(items) == 0 {
		return nil
	}

	if looksLikeNode(items[0]) {
		page := newPage()
		page.Nodes = d.nodeList("layout", items)
		return []*Page{page}
	}

	pages := make([]*Page, 0, len(items))
	for i, item := range items {
		path := fmt.Sprintf("layout[%d]", i)
		page := newPage()
		pages = append(pages, page)
		m, ok := object(item)
		if !ok {
			d.repair(path, "expected a page object, using an empty page")
			continue
		}
		page.Header = d.optionalNode(path+".header", m["header"])
		page.Footer = d.optionalNode(path+".footer", m["footer"])
		page.Nodes = d.nodeList(path+".nodes", d.array(path+".nodes", m["nodes"]))
	}
	return pages
}

func looksLikeNode(raw json.RawMessage) bool {
	m, ok := object(raw)
	if !ok {
		return false
	}
	if _, ok := m["nodes"]; ok {
		return false
	}
	_, hasInstance := m["instanceId"]
	_, hasKind := m["kind"]
	_, hasID := m["id"]
	return hasInstance || hasKind || hasID
}

func (d *decoder) optionalNode(path string, raw json.RawMessage) *Node {
	if isNull(raw) {
		return nil
	}
	return d.node(path, raw)
}

func (d *decoder) nodeList(path string, items []json.RawMessage) []*Node {
	out := make([]*Node, 0, len(items))
	for i, item := range items {
		if isNull(item) {
			continue
		}
		if n := d.node(fmt.Sprintf("%s[%d]", path, i), item); n != nil {
			out = append(out, n)
		}
	}
	return out
}

// node 逐字段解码节点。不是对象的元素被丢弃，字段类型不符时使用默认值。
func (d *decoder) node(path string, raw json.RawMessage) *Node {
	m, ok := object(raw)
	if !ok {
		d.repair(path, "expected a node object, node dropped")
		return nil
	}

	kind := Kind(d.str(path+".kind", m["kind"]))
	if kind == "" {
		kind = Kind(d.str(path+".id", m["id"]))
	}
	n := &Node{
		Kind:       kind,
		InstanceID: d.str(path+".instanceId", m["instanceId"]),
		Properties: Properties{},
	}
	if raw := m["properties"]; !isNull(raw) {
		var props Properties
		if err := json.Unmarshal(raw, &props); err != nil || props == nil {
			d.repair(path+".properties", "expected an object, using empty properties")
		} else {
			n.Properties = props
		}
	}
	if _, dup := d.seen[n.InstanceID]; n.InstanceID == "" || dup {
		n.InstanceID = d.newID(kind)
	}
	d.seen[n.InstanceID] = struct{}{}

	d.children(path+".children", n, m["children"])
	return n
}

func (d *decoder) children(path string, n *Node, raw json.RawMessage) {
	shape, known := d.reg.shapeOf(n.Kind)
	present := !isNull(raw)
	items := d.array(path, raw)

	nested := len(items) > 0 && len(bytes.TrimSpace(items[0])) > 0 && bytes.TrimSpace(items[0])[0] == '['
	switch {
	case nested || (len(items) == 0 && shape == ShapeMulti):
		n.Columns = make([][]*Node, 0, len(items))
		for i, colRaw := range items {
			colPath := fmt.Sprintf("%s[%d]", path, i)
			n.Columns = append(n.Columns, d.nodeList(colPath, d.array(colPath, colRaw)))
		}
		want := len(n.Columns)
		if count, ok := n.Properties.Float(ColumnCountProperty); ok {
			want = int(count)
		} else if want == 0 {
			want = 2
		}
		resizeColumns(n, want)
	case len(items) > 0 || shape == ShapeFlat || (!known && present):
		n.Children = d.nodeList(path, items)
	}
}
