package layout

import (
	"fmt"
	"strconv"
	"strings"
)

// 可拖放区域地址（droppableId）。
const (
	// LibraryDroppable 是组件目录的拖拽来源地址。
	LibraryDroppable = "library"
	// LibraryDraggablePrefix 是目录条目 draggableId 的可选前缀。
	LibraryDraggablePrefix = "library-"

	pagePrefix    = "page-"
	loopPrefix    = "loop-"
	sectionPrefix = "section-"
	columnInfix   = "-col-"
	headerSuffix  = "-header"
	footerSuffix  = "-footer"
)

// PageAddress 返回页面正文的地址。
func PageAddress(page int) string { return pagePrefix + strconv.Itoa(page) }

// HeaderAddress 返回页面页眉槽位的地址。
func HeaderAddress(page int) string { return PageAddress(page) + headerSuffix }

// FooterAddress 返回页面页脚槽位的地址。
func FooterAddress(page int) string { return PageAddress(page) + footerSuffix }

// ColumnAddress 返回多列容器第 n 列的地址。
func ColumnAddress(instanceID string, n int) string {
	return fmt.Sprintf("%s%s%d", instanceID, columnInfix, n)
}

// LoopAddress 返回 trial-loop 子节点列表的地址。
func LoopAddress(instanceID string) string { return loopPrefix + instanceID }

// SectionAddress 返回任意平铺容器子节点列表的地址。
func SectionAddress(instanceID string) string { return sectionPrefix + instanceID }

type addressKind int

const (
	addrLibrary addressKind = iota
	addrPage
	addrHeader
	addrFooter
	addrColumn
	addrFlat
)

type address struct {
	kind   addressKind
	page   int
	id     string
	column int
}

func parseAddress(s string) (address, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return address{}, false
	}
	if s == LibraryDroppable {
		return address{kind: addrLibrary}, true
	}
	if rest, ok := strings.CutPrefix(s, pagePrefix); ok {
		kind := addrPage
		switch {
		case strings.HasSuffix(rest, headerSuffix):
			kind, rest = addrHeader, strings.TrimSuffix(rest, headerSuffix)
		case strings.HasSuffix(rest, footerSuffix):
			kind, rest = addrFooter, strings.TrimSuffix(rest, footerSuffix)
		}
		idx, err := strconv.Atoi(rest)
		if err != nil || idx < 0 {
			return address{}, false
		}
		return address{kind: kind, page: idx}, true
	}
	if i := strings.LastIndex(s, columnInfix); i > 0 {
		if n, err := strconv.Atoi(s[i+len(columnInfix):]); err == nil && n >= 0 {
			return address{kind: addrColumn, id: s[:i], column: n}, true
		}
	}
	for _, prefix := range []string{loopPrefix, sectionPrefix} {
		if id, ok := strings.CutPrefix(s, prefix); ok && id != "" {
			return address{kind: addrFlat, id: id}, true
		}
	}
	return address{}, false
}

// position 描述节点在树中的位置。
type position struct {
	page      int
	list      *[]*Node
	slot      **Node
	index     int
	ancestors []*Node
}

// walk 先序遍历全部页面；fn 返回 true 时终止遍历。
func (t *Template) walk(fn func(n *Node, pos position) bool) bool {
	for i, p := range t.Pages {
		if p.Header != nil && walkNode(p.Header, position{page: i, slot: &p.Header}, fn) {
			return true
		}
		if walkList(&p.Nodes, i, nil, fn) {
			return true
		}
		if p.Footer != nil && walkNode(p.Footer, position{page: i, slot: &p.Footer}, fn) {
			return true
		}
	}
	return false
}

func walkList(list *[]*Node, page int, ancestors []*Node, fn func(*Node, position) bool) bool {
	for idx, n := range *list {
		if walkNode(n, position{page: page, list: list, index: idx, ancestors: ancestors}, fn) {
			return true
		}
	}
	return false
}

func walkNode(n *Node, pos position, fn func(*Node, position) bool) bool {
	if fn(n, pos) {
		return true
	}
	chain := make([]*Node, len(pos.ancestors), len(pos.ancestors)+1)
	copy(chain, pos.ancestors)
	chain = append(chain, n)
	switch n.Shape() {
	case ShapeFlat:
		return walkList(&n.Children, pos.page, chain, fn)
	case ShapeMulti:
		for c := range n.Columns {
			if walkList(&n.Columns[c], pos.page, chain, fn) {
				return true
			}
		}
	}
	return false
}

func (t *Template) find(instanceID string) (*Node, position, bool) {
	var (
		found *Node
		at    position
	)
	if instanceID == "" {
		return nil, position{}, false
	}
	t.walk(func(n *Node, pos position) bool {
		if n.InstanceID == instanceID {
			found, at = n, pos
			return true
		}
		return false
	})
	return found, at, found != nil
}

// container 是一个可放入/取出节点的位置：页面正文、槽位、列或平铺容器的子节点列表。
type container struct {
	page      int
	list      *[]*Node
	slot      **Node
	slotKind  Slot
	parent    string
	ancestors []*Node
}

func (t *Template) resolve(a address) (container, bool) {
	switch a.kind {
	case addrPage, addrHeader, addrFooter:
		if a.page < 0 || a.page >= len(t.Pages) {
			return container{}, false
		}
		p := t.Pages[a.page]
		c := container{page: a.page, parent: ParentPage}
		switch a.kind {
		case addrHeader:
			c.slot, c.slotKind = &p.Header, SlotHeader
		case addrFooter:
			c.slot, c.slotKind = &p.Footer, SlotFooter
		default:
			c.list = &p.Nodes
		}
		return c, true
	case addrColumn, addrFlat:
		owner, pos, ok := t.find(a.id)
		if !ok {
			return container{}, false
		}
		chain := make([]*Node, len(pos.ancestors), len(pos.ancestors)+1)
		copy(chain, pos.ancestors)
		chain = append(chain, owner)
		c := container{page: pos.page, parent: string(owner.Kind), ancestors: chain}
		if a.kind == addrColumn {
			if owner.Shape() != ShapeMulti || a.column >= len(owner.Columns) {
				return container{}, false
			}
			c.list = &owner.Columns[a.column]
		} else {
			if owner.Shape() != ShapeFlat {
				return container{}, false
			}
			c.list = &owner.Children
		}
		return c, true
	}
	return container{}, false
}

func (c container) take(index int) *Node {
	if c.slot != nil {
		n := *c.slot
		if index != 0 || n == nil {
			return nil
		}
		*c.slot = nil
		return n
	}
	list := *c.list
	if index < 0 || index >= len(list) {
		return nil
	}
	n := list[index]
	*c.list = append(list[:index:index], list[index+1:]...)
	return n
}

func (c container) put(index int, n *Node) {
	if c.slot != nil {
		*c.slot = n
		return
	}
	list := *c.list
	if index < 0 {
		index = 0
	}
	if index > len(list) {
		index = len(list)
	}
	out := make([]*Node, 0, len(list)+1)
	out = append(out, list[:index]...)
	out = append(out, n)
	out = append(out, list[index:]...)
	*c.list = out
}

func (pos position) remove() {
	if pos.slot != nil {
		*pos.slot = nil
		return
	}
	list := *pos.list
	*pos.list = append(list[:pos.index:pos.index], list[pos.index+1:]...)
}

// countKindOnPage 统计某页（含页眉页脚与全部后代）中指定 kind 的节点数量。
func (t *Template) countKindOnPage(page int, kind Kind) int {
	if page < 0 || page >= len(t.Pages) {
		return 0
	}
	count := 0
	p := t.Pages[page]
	visit := func(n *Node) bool {
		if n.Kind == kind {
			count++
		}
		return true
	}
	p.Header.Walk(visit)
	for _, n := range p.Nodes {
		n.Walk(visit)
	}
	p.Footer.Walk(visit)
	return count
}
