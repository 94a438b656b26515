package layout

import (
	"encoding/json"
)

// Kind 引用组件注册表中的一个条目，例如 "section"、"columns"。
type Kind string

// Shape 描述节点持有子节点的方式。
type Shape int

const (
	// ShapeLeaf 没有子节点。
	ShapeLeaf Shape = iota
	// ShapeFlat 持有单个有序子节点列表（section、trial-loop）。
	ShapeFlat
	// ShapeMulti 持有多列子节点列表（columns）。
	ShapeMulti
)

func (s Shape) String() string {
	switch s {
	case ShapeFlat:
		return "flat"
	case ShapeMulti:
		return "multi"
	default:
		return "leaf"
	}
}

// MarshalText 让 Shape 在组件目录 JSON 中以字符串形式出现。
func (s Shape) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Node 是文档树的递归单元。
//
// 子节点的形态由字段是否为 nil 决定：Columns 非 nil 为多列容器，
// Children 非 nil 为平铺容器，二者皆为 nil 为叶子节点。
// 注册表在创建节点时保证对应字段被初始化。
type Node struct {
	Kind       Kind
	InstanceID string
	Properties Properties
	Children   []*Node
	Columns    [][]*Node
}

// Shape 返回节点的子节点形态。
func (n *Node) Shape() Shape {
	switch {
	case n.Columns != nil:
		return ShapeMulti
	case n.Children != nil:
		return ShapeFlat
	default:
		return ShapeLeaf
	}
}

// Clone 深拷贝节点及其整个子树。
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{
		Kind:       n.Kind,
		InstanceID: n.InstanceID,
		Properties: n.Properties.Clone(),
	}
	if n.Children != nil {
		out.Children = cloneList(n.Children)
	}
	if n.Columns != nil {
		out.Columns = make([][]*Node, len(n.Columns))
		for i, col := range n.Columns {
			out.Columns[i] = cloneList(col)
		}
	}
	return out
}

// Size 返回以该节点为根的子树节点总数（含自身）。
func (n *Node) Size() int {
	if n == nil {
		return 0
	}
	total := 1
	for _, child := range n.Children {
		total += child.Size()
	}
	for _, col := range n.Columns {
		for _, child := range col {
			total += child.Size()
		}
	}
	return total
}

// Walk 先序遍历子树，fn 返回 false 时停止下探该节点的子树。
func (n *Node) Walk(fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
	for _, col := range n.Columns {
		for _, child := range col {
			child.Walk(fn)
		}
	}
}

func cloneList(list []*Node) []*Node {
	out := make([]*Node, 0, len(list))
	for _, n := range list {
		out = append(out, n.Clone())
	}
	return out
}

type nodeJSON struct {
	Kind       Kind        `json:"kind"`
	InstanceID string      `json:"instanceId"`
	Properties Properties  `json:"properties"`
	Children   interface{} `json:"children,omitempty"`
}

// MarshalJSON 按节点形态输出 children：平铺容器为 Node[]，多列容器为 Node[][]。
func (n *Node) MarshalJSON() ([]byte, error) {
	props := n.Properties
	if props == nil {
		props = Properties{}
	}
	out := nodeJSON{
		Kind:       n.Kind,
		InstanceID: n.InstanceID,
		Properties: props,
	}
	switch n.Shape() {
	case ShapeMulti:
		cols := make([][]*Node, len(n.Columns))
		for i, col := range n.Columns {
			if col == nil {
				col = []*Node{}
			}
			cols[i] = col
		}
		out.Children = cols
	case ShapeFlat:
		out.Children = n.Children
	}
	return json.Marshal(out)
}
