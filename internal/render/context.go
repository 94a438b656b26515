// Package render 包含两个渲染器共享的部分：占位符解析、条件判断、公式计算、
// 渲染上下文以及按 kind 分派的渲染器骨架。画布与 PDF 只在各自的视图函数上不同。
package render

import (
	"fmt"
	"time"

	"labReport/internal/reportdata"
)

// DefaultDecimals 是测量值的默认小数位数。
const DefaultDecimals = 2

// WarningKind 对渲染警告分类。
type WarningKind string

const (
	WarnMissingData     WarningKind = "missing-data"
	WarnCondition       WarningKind = "condition"
	WarnFormula         WarningKind = "formula"
	WarnResourceMissing WarningKind = "resource-missing"
)

// Warning 是渲染过程中发现的数据问题，不会中断渲染。
type Warning struct {
	Kind       WarningKind `json:"kind"`
	InstanceID string      `json:"instanceId,omitempty"`
	Message    string      `json:"message"`
}

type warningSink struct {
	items []Warning
	seen  map[Warning]struct{}
}

func (s *warningSink) add(w Warning) {
	if _, dup := s.seen[w]; dup {
		return
	}
	s.seen[w] = struct{}{}
	s.items = append(s.items, w)
}

// Options 控制一次渲染。
type Options struct {
	// Strict 为 true 时缺失数据的条件判为不满足并记录警告。
	Strict   bool
	// Decimals 为 nil 或负数时使用 DefaultDecimals，0 表示取整。
	Decimals *int
	Now      time.Time
}

// Context 是渲染时的数据上下文，按值传递；收窄操作返回新的 Context，
// 所有副本共享同一个警告列表。
type Context struct {
	Report     *reportdata.Report
	Trial      *reportdata.Trial
	PageNumber int
	TotalPages int
	Now        time.Time
	Strict     bool
	Decimals   int

	node string
	sink *warningSink
}

// NewContext 创建渲染上下文。report 可以为 nil（没有关联项目的模板预览）。
func NewContext(report *reportdata.Report, opts Options) Context {
	decimals := DefaultDecimals
	if opts.Decimals != nil && *opts.Decimals >= 0 {
		decimals = *opts.Decimals
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	return Context{
		Report:   report,
		Now:      now,
		Strict:   opts.Strict,
		Decimals: decimals,
		sink:     &warningSink{seen: map[Warning]struct{}{}},
	}
}

// WithTrial 把上下文收窄到单个 trial。
func (c Context) WithTrial(t *reportdata.Trial) Context {
	c.Trial = t
	return c
}

// WithPage 设置当前页码（从 1 开始）与总页数。
func (c Context) WithPage(number, total int) Context {
	c.PageNumber = number
	c.TotalPages = total
	return c
}

// WithNode 记录当前正在渲染的节点，用于警告定位。
func (c Context) WithNode(instanceID string) Context {
	c.node = instanceID
	return c
}

// CurrentTrial 返回收窄后的 trial，未收窄时返回第一个 trial。
func (c Context) CurrentTrial() *reportdata.Trial {
	if c.Trial != nil {
		return c.Trial
	}
	return c.Report.FirstTrial()
}

// Warn 记录一条警告；相同的警告只保留一条。
func (c Context) Warn(kind WarningKind, format string, args ...any) {
	if c.sink == nil {
		return
	}
	c.sink.add(Warning{Kind: kind, InstanceID: c.node, Message: fmt.Sprintf(format, args...)})
}

// Warnings 返回目前记录的全部警告。
func (c Context) Warnings() []Warning {
	if c.sink == nil {
		return nil
	}
	return append([]Warning(nil), c.sink.items...)
}

// permissive 处理缺失数据：默认视为满足；严格模式下记录警告并视为不满足。
func (c Context) permissive(kind WarningKind, format string, args ...any) bool {
	if !c.Strict {
		return true
	}
	c.Warn(kind, format, args...)
	return false
}
