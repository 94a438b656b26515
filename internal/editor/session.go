// Package editor 管理模板编辑会话。每个会话独占一个 layout.Store（含撤销/重做历史），
// 会话之间互不共享；同一会话上的操作按到达顺序串行执行。
package editor

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"labReport/internal/layout"
)

// ErrSessionNotFound 表示会话不存在或已过期。
var ErrSessionNotFound = errors.New("editing session not found")

// DefaultIdleTTL 是会话的默认空闲过期时间。
const DefaultIdleTTL = 2 * time.Hour

// Session 是一个模板编辑会话。
type Session struct {
	id string

	mu         sync.Mutex
	store      *layout.Store
	templateID uint
	name       string
	touched    time.Time
}

// Snapshot 是会话在某一时刻的只读视图。Template 是不可变快照，可以在锁外使用。
type Snapshot struct {
	ID         string           `json:"sessionId"`
	TemplateID uint             `json:"templateId,omitempty"`
	Name       string           `json:"name"`
	Template   *layout.Template `json:"template"`
	Selected   string           `json:"selected,omitempty"`
	CanUndo    bool             `json:"canUndo"`
	CanRedo    bool             `json:"canRedo"`
}

// ID 返回会话 id。
func (s *Session) ID() string { return s.id }

// Do 在会话锁内对 Store 执行 fn，并返回执行后的快照。
func (s *Session) Do(fn func(st *layout.Store) error) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = time.Now()
	err := fn(s.store)
	return s.snapshotLocked(), err
}

// Snapshot 返回当前快照。
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Bind 记录会话保存到的模板。
func (s *Session) Bind(templateID uint, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templateID = templateID
	s.name = name
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		ID:         s.id,
		TemplateID: s.templateID,
		Name:       s.name,
		Template:   s.store.Template(),
		Selected:   s.store.Selected(),
		CanUndo:    s.store.CanUndo(),
		CanRedo:    s.store.CanRedo(),
	}
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

// Manager 持有全部活动会话。
type Manager struct {
	registry     *layout.Registry
	historyLimit int
	idleTTL      time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager 创建会话管理器。historyLimit <= 0 时使用 layout.DefaultHistoryLimit，idleTTL <= 0 时使用 DefaultIdleTTL。
func NewManager(registry *layout.Registry, historyLimit int, idleTTL time.Duration) *Manager {
	if registry == nil {
		registry = layout.DefaultRegistry()
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Manager{
		registry:     registry,
		historyLimit: historyLimit,
		idleTTL:      idleTTL,
		sessions:     map[string]*Session{},
	}
}

// Registry 返回会话使用的组件注册表。
func (m *Manager) Registry() *layout.Registry { return m.registry }

// Open 用模板内容创建新会话；raw 为空时从空白模板开始。
func (m *Manager) Open(templateID uint, name string, raw []byte) (*Session, error) {
	store := layout.NewStore(m.registry, layout.WithHistoryLimit(m.historyLimit))
	if err := store.Initialize(raw); err != nil {
		return nil, err
	}
	s := &Session{
		id:         uuid.NewString(),
		store:      store,
		templateID: templateID,
		name:       name,
		touched:    time.Now(),
	}
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	return s, nil
}

// Get 返回会话。
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close 结束会话并丢弃其历史。
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	return true
}

// Len 返回活动会话数量。
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep 清除在 now-idleTTL 之前最后一次使用的会话，返回清除的数量。
func (m *Manager) Sweep(now time.Time) int {
	cutoff := now.Add(-m.idleTTL)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}
