package layout

import (
	"encoding/json"
)

// DefaultHistoryLimit 是撤销栈的默认深度。
const DefaultHistoryLimit = 50

// MoveResult 描述一次拖拽结束操作的结果。
type MoveResult struct {
	Applied bool  `json:"applied"`
	Node    *Node `json:"node,omitempty"`
}

// Store 是单个编辑会话持有的文档树状态容器。
//
// 每次变更都在当前快照的深拷贝上运行纯 reducer，只有 reducer 报告发生变更时
// 才提交新快照并压入撤销栈。Store 不是并发安全的，由会话负责串行化访问。
type Store struct {
	registry *Registry
	newID    IDFunc
	limit    int

	present  *Template
	past     []*Template
	future   []*Template
	selected string
}

// Option 配置 Store。
type Option func(*Store)

// WithHistoryLimit 设置撤销栈深度，<=0 时使用默认值。
func WithHistoryLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithIDFunc 替换 instanceId 生成器，主要用于测试。
func WithIDFunc(fn IDFunc) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewStore 创建持有一张空白页的 Store。
func NewStore(reg *Registry, opts ...Option) *Store {
	if reg == nil {
		reg = DefaultRegistry()
	}
	s := &Store{
		registry: reg,
		newID:    NewInstanceID,
		limit:    DefaultHistoryLimit,
		present:  NewTemplate(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry 返回 Store 使用的组件注册表。
func (s *Store) Registry() *Registry { return s.registry }

// Initialize 用反序列化的模板（raw 为空时用默认空白模板）替换当前树，并清空历史与选中状态。
func (s *Store) Initialize(raw []byte) error {
	t, _, err := decode(raw, s.registry, s.newID)
	if err != nil {
		return err
	}
	s.present = t
	s.past = nil
	s.future = nil
	s.selected = ""
	return nil
}

// Template 返回当前快照。调用方不得修改返回值，需要修改时请 Clone。
func (s *Store) Template() *Template { return s.present }

// MarshalJSON 输出当前快照的持久化格式。
func (s *Store) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.present)
}

// AddPage 追加一张空白页。
func (s *Store) AddPage() bool {
	return s.commit(func(t *Template) bool {
		addPage(t)
		return true
	})
}

// DeletePage 按索引删除页面；仅剩一页时清空其正文。
func (s *Store) DeletePage(index int) bool {
	return s.commit(func(t *Template) bool {
		return deletePage(t, index)
	})
}

// UpdatePageSetting 浅层修改页面设置（size / orientation）。
func (s *Store) UpdatePageSetting(key string, value any) bool {
	return s.commit(func(t *Template) bool {
		return updatePageSetting(t, key, value)
	})
}

// UpdateNodeProperty 在树中任意位置定位节点并按点分路径设置属性。
func (s *Store) UpdateNodeProperty(instanceID, path string, value any) bool {
	return s.commit(func(t *Template) bool {
		return updateNodeProperty(t, instanceID, path, value)
	})
}

// DeleteNode 删除节点；若被删除的节点（或其后代）处于选中状态则清除选中。
func (s *Store) DeleteNode(instanceID string) bool {
	var removed *Node
	ok := s.commit(func(t *Template) bool {
		removed = deleteNode(t, instanceID)
		return removed != nil
	})
	if ok && s.selected != "" {
		removed.Walk(func(n *Node) bool {
			if n.InstanceID == s.selected {
				s.selected = ""
				return false
			}
			return true
		})
	}
	return ok
}

// MoveNode 执行拖拽结束操作。放置规则被违反时返回 *PlacementError，树保持不变。
func (s *Store) MoveNode(d DragResult) (MoveResult, error) {
	var (
		moved *Node
		err   error
	)
	applied := s.commit(func(t *Template) bool {
		moved, err = moveNode(t, s.registry, d, s.newID)
		return err == nil && moved != nil
	})
	if err != nil {
		return MoveResult{}, err
	}
	return MoveResult{Applied: applied, Node: moved}, nil
}

// Select 设置当前选中节点；空字符串或不存在的节点会清除选中。
func (s *Store) Select(instanceID string) bool {
	if instanceID != "" && s.present.Find(instanceID) == nil {
		s.selected = ""
		return false
	}
	s.selected = instanceID
	return true
}

// Selected 返回当前选中节点的 instanceId。
func (s *Store) Selected() string { return s.selected }

// CanUndo 报告撤销栈是否非空。
func (s *Store) CanUndo() bool { return len(s.past) > 0 }

// CanRedo 报告重做栈是否非空。
func (s *Store) CanRedo() bool { return len(s.future) > 0 }

// Undo 回到上一个快照。
func (s *Store) Undo() bool {
	if len(s.past) == 0 {
		return false
	}
	prev := s.past[len(s.past)-1]
	s.past = s.past[:len(s.past)-1]
	s.future = append(s.future, s.present)
	s.present = prev
	s.dropStaleSelection()
	return true
}

// Redo 重新应用被撤销的快照。
func (s *Store) Redo() bool {
	if len(s.future) == 0 {
		return false
	}
	next := s.future[len(s.future)-1]
	s.future = s.future[:len(s.future)-1]
	s.past = append(s.past, s.present)
	s.present = next
	s.dropStaleSelection()
	return true
}

func (s *Store) commit(reducer func(t *Template) bool) bool {
	next := s.present.Clone()
	if !reducer(next) {
		return false
	}
	s.past = append(s.past, s.present)
	if over := len(s.past) - s.limit; over > 0 {
		s.past = append([]*Template(nil), s.past[over:]...)
	}
	s.present = next
	s.future = nil
	return true
}

func (s *Store) dropStaleSelection() {
	if s.selected != "" && s.present.Find(s.selected) == nil {
		s.selected = ""
	}
}
