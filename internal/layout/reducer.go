package layout

import (
	"strings"
)

// Location 是拖拽的来源或目标：可拖放区域地址 + 索引。
type Location struct {
	DroppableID string `json:"droppableId"`
	Index       int    `json:"index"`
}

// DragResult 是一次拖拽结束事件。Destination 为 nil 表示拖到了可放置区域之外。
type DragResult struct {
	DraggableID string    `json:"draggableId"`
	Source      Location  `json:"source"`
	Destination *Location `json:"destination"`
}

// 以下函数是纯 reducer：直接修改传入的模板。Store 总是传入副本，
// 因此 reducer 返回“未变更”时副本被丢弃，原树保持不变。

// moveNode 执行拖拽结束操作。返回被移动（或新建）的节点；
// 查找失败返回 (nil, nil)，违反放置规则返回 *PlacementError。
// 任何失败路径都会把节点放回原位置与原索引。
func moveNode(t *Template, reg *Registry, d DragResult, newID IDFunc) (*Node, error) {
	if d.Destination == nil {
		return nil, nil
	}
	srcAddr, ok := parseAddress(d.Source.DroppableID)
	if !ok {
		return nil, nil
	}
	dstAddr, ok := parseAddress(d.Destination.DroppableID)
	if !ok || dstAddr.kind == addrLibrary {
		return nil, nil
	}

	var (
		node    *Node
		restore = func() {}
	)
	if srcAddr.kind == addrLibrary {
		kind := Kind(strings.TrimPrefix(d.DraggableID, LibraryDraggablePrefix))
		node, ok = reg.NewNode(kind, newID(kind))
		if !ok {
			return nil, nil
		}
	} else {
		from, ok := t.resolve(srcAddr)
		if !ok {
			return nil, nil
		}
		node = from.take(d.Source.Index)
		if node == nil {
			return nil, nil
		}
		index := d.Source.Index
		restore = func() { from.put(index, node) }
		if d.DraggableID != "" && node.InstanceID != d.DraggableID {
			restore()
			return nil, nil
		}
	}

	// 目标在源节点被取出之后解析：把容器拖进它自己的后代时目标已不在树中，自然失败。
	to, ok := t.resolve(dstAddr)
	if !ok {
		restore()
		return nil, nil
	}
	comp, _ := reg.Lookup(node.Kind)
	if to.list != nil && to.parent == ParentPage && comp.Slot != SlotNone {
		p := t.Pages[to.page]
		to.list = nil
		to.slotKind = comp.Slot
		if comp.Slot == SlotHeader {
			to.slot = &p.Header
		} else {
			to.slot = &p.Footer
		}
	}

	if err := checkPlacement(t, reg, node, comp, to); err != nil {
		restore()
		return nil, err
	}

	to.put(d.Destination.Index, node)
	return node, nil
}

func checkPlacement(t *Template, reg *Registry, node *Node, comp Component, to container) *PlacementError {
	if !comp.AllowsParent(to.parent) {
		return validParentError(node.Kind, to.parent, comp.ValidParents)
	}
	if to.slot != nil && comp.Slot != to.slotKind {
		return slotError(node.Kind, to.slotKind)
	}

	counts := map[Kind]int{}
	var order []Kind
	node.Walk(func(n *Node) bool {
		if _, seen := counts[n.Kind]; !seen {
			order = append(order, n.Kind)
		}
		counts[n.Kind]++
		return true
	})

	for _, anc := range to.ancestors {
		ancComp, ok := reg.Lookup(anc.Kind)
		if !ok {
			continue
		}
		for _, k := range order {
			if ancComp.Forbids(k) {
				return invalidChildError(k, anc.Kind)
			}
		}
	}

	for _, k := range order {
		c, ok := reg.Lookup(k)
		if !ok || c.MaxInstancesPerPage <= 0 {
			continue
		}
		if t.countKindOnPage(to.page, k)+counts[k] > c.MaxInstancesPerPage {
			return maxPerPageError(k, c.MaxInstancesPerPage, to.page)
		}
	}
	return nil
}

// deleteNode 从树中任意位置移除节点，返回被移除的节点。
func deleteNode(t *Template, instanceID string) *Node {
	n, pos, ok := t.find(instanceID)
	if !ok {
		return nil
	}
	pos.remove()
	return n
}

// updateNodeProperty 按点分路径设置属性；修改多列容器的 columnCount 时同步调整列。
func updateNodeProperty(t *Template, instanceID, path string, value any) bool {
	n, _, ok := t.find(instanceID)
	if !ok || len(splitPath(path)) == 0 {
		return false
	}
	if n.Properties == nil {
		n.Properties = Properties{}
	}
	if n.Shape() == ShapeMulti && strings.Join(splitPath(path), ".") == ColumnCountProperty {
		count, ok := ToFloat(value)
		if !ok {
			return false
		}
		want := clampColumns(int(count))
		if want == len(n.Columns) && n.Properties.Int(ColumnCountProperty, -1) == want {
			return false
		}
		resizeColumns(n, want)
		return true
	}
	return n.Properties.Set(path, value) == nil
}

// resizeColumns 调整列数：缩减时把被移除列中的节点按顺序追加到最后一个保留列，
// 扩充时追加空列。调整后 len(Columns) == columnCount。
func resizeColumns(n *Node, count int) {
	count = clampColumns(count)
	if n.Columns == nil {
		n.Columns = [][]*Node{}
	}
	if len(n.Columns) > count {
		var overflow []*Node
		for _, col := range n.Columns[count:] {
			overflow = append(overflow, col...)
		}
		n.Columns = n.Columns[:count:count]
		last := n.Columns[count-1]
		merged := make([]*Node, 0, len(last)+len(overflow))
		merged = append(merged, last...)
		merged = append(merged, overflow...)
		n.Columns[count-1] = merged
	}
	for len(n.Columns) < count {
		n.Columns = append(n.Columns, []*Node{})
	}
	for i, col := range n.Columns {
		if col == nil {
			n.Columns[i] = []*Node{}
		}
	}
	if n.Properties == nil {
		n.Properties = Properties{}
	}
	n.Properties[ColumnCountProperty] = count
}

func addPage(t *Template) {
	t.Pages = append(t.Pages, newPage())
}

// deletePage 删除页面；删除最后仅剩的一页时只清空正文。
func deletePage(t *Template, index int) bool {
	if index < 0 || index >= len(t.Pages) {
		return false
	}
	if len(t.Pages) == 1 {
		if len(t.Pages[0].Nodes) == 0 {
			return false
		}
		t.Pages[0].Nodes = []*Node{}
		return true
	}
	t.Pages = append(t.Pages[:index:index], t.Pages[index+1:]...)
	return true
}

// updatePageSetting 浅层修改页面设置；未知键或非法枚举值不做变更。
func updatePageSetting(t *Template, key string, value any) bool {
	s, _ := value.(string)
	s = strings.ToLower(strings.TrimSpace(s))
	switch strings.TrimSpace(key) {
	case "size":
		size := PaperSize(s)
		if size != PaperA4 && size != PaperLetter || size == t.Settings.Size {
			return false
		}
		t.Settings.Size = size
	case "orientation":
		o := Orientation(s)
		if o != Portrait && o != Landscape || o == t.Settings.Orientation {
			return false
		}
		t.Settings.Orientation = o
	default:
		return false
	}
	return true
}
