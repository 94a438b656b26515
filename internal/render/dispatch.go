package render

import (
	"labReport/internal/layout"
	"labReport/internal/reportdata"
)

// SelectedTrialsProperty 是 trial-loop 选中 trial 的属性键。
const SelectedTrialsProperty = "selectedTrialIds"

// Handler 渲染某一 kind 的节点。arg 是渲染器自己的位置信息（画布深度、PDF 版面框等）。
type Handler[A, T any] func(d *Dispatcher[A, T], n *layout.Node, ctx Context, arg A) T

// Dispatcher 把节点 kind 映射到渲染函数。条件判断在分派前统一进行，
// 因此两个渲染器对同一上下文显示的内容始终一致。
type Dispatcher[A, T any] struct {
	handlers map[layout.Kind]Handler[A, T]
}

// NewDispatcher 创建空的分派器。
func NewDispatcher[A, T any]() *Dispatcher[A, T] {
	return &Dispatcher[A, T]{handlers: map[layout.Kind]Handler[A, T]{}}
}

// Handle 注册 kind 的渲染函数，返回分派器本身以便链式调用。
func (d *Dispatcher[A, T]) Handle(kind layout.Kind, h Handler[A, T]) *Dispatcher[A, T] {
	d.handlers[kind] = h
	return d
}

// Handles 报告 kind 是否有渲染函数。
func (d *Dispatcher[A, T]) Handles(kind layout.Kind) bool {
	_, ok := d.handlers[kind]
	return ok
}

// Render 渲染单个节点。条件不成立或 kind 未注册时返回 (零值, false)。
func (d *Dispatcher[A, T]) Render(n *layout.Node, ctx Context, arg A) (T, bool) {
	var zero T
	if n == nil {
		return zero, false
	}
	ctx = ctx.WithNode(n.InstanceID)
	if !CheckConditions(ConditionsOf(n.Properties), ctx) {
		return zero, false
	}
	h, ok := d.handlers[n.Kind]
	if !ok {
		return zero, false
	}
	return h(d, n, ctx, arg), true
}

// RenderList 依次渲染节点列表，跳过不显示的节点。
func (d *Dispatcher[A, T]) RenderList(list []*layout.Node, ctx Context, arg A) []T {
	out := make([]T, 0, len(list))
	for _, n := range list {
		if v, ok := d.Render(n, ctx, arg); ok {
			out = append(out, v)
		}
	}
	return out
}

// LoopPass 是 trial-loop 的一次迭代。
type LoopPass struct {
	Index int
	Trial *reportdata.Trial
	Ctx   Context
}

// LoopPasses 返回 trial-loop 的迭代：按 selectedTrialIds 的顺序，未选择时遍历全部 trial。
// 每次迭代的上下文收窄到对应 trial。
func LoopPasses(n *layout.Node, ctx Context) []LoopPass {
	trials := ctx.Report.SelectTrials(SelectedTrialIDs(n.Properties))
	out := make([]LoopPass, 0, len(trials))
	for i, t := range trials {
		out = append(out, LoopPass{Index: i, Trial: t, Ctx: ctx.WithTrial(t)})
	}
	return out
}

// SelectedTrialIDs 解析 selectedTrialIds；JSON 数字与数字字符串都被接受。
func SelectedTrialIDs(props layout.Properties) []uint {
	items := props.List(SelectedTrialsProperty)
	out := make([]uint, 0, len(items))
	for _, item := range items {
		f, ok := toNumber(item)
		if !ok || f < 0 {
			continue
		}
		out = append(out, uint(f))
	}
	return out
}
