package render

import (
	"strings"

	"labReport/internal/layout"
)

// ConditionsProperty 是节点属性中条件列表的键。
const ConditionsProperty = "conditions"

// Operator 是条件比较运算符。
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// Condition 在渲染时针对当前 trial 的设计结果求值。
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// ConditionsOf 从节点属性中读取条件列表，格式不对的条目被忽略。
func ConditionsOf(props layout.Properties) []Condition {
	items := props.List(ConditionsProperty)
	if len(items) == 0 {
		return nil
	}
	out := make([]Condition, 0, len(items))
	for _, item := range items {
		var m layout.Properties
		switch v := item.(type) {
		case map[string]any:
			m = v
		case layout.Properties:
			m = v
		case Condition:
			out = append(out, v)
			continue
		default:
			continue
		}
		value, _ := m.Get("value")
		out = append(out, Condition{
			Field:    m.String("field", ""),
			Operator: Operator(strings.TrimSpace(m.String("operator", ""))),
			Value:    value,
		})
	}
	return out
}

// CheckConditions 当且仅当全部条件成立时返回 true；nil 或空列表返回 true。
//
// 字段缺失、操作数不是数字或运算符未知时该条件视为成立；
// 严格模式下视为不成立，并在上下文中记录警告。
func CheckConditions(conds []Condition, ctx Context) bool {
	for _, c := range conds {
		if !c.holds(ctx) {
			return false
		}
	}
	return true
}

func (c Condition) holds(ctx Context) bool {
	field := strings.TrimSpace(c.Field)
	if field == "" {
		return ctx.permissive(WarnCondition, "condition without field")
	}
	raw, ok := ctx.CurrentTrial().Result(field)
	if !ok {
		return ctx.permissive(WarnCondition, "condition field %q is missing", field)
	}
	left, lok := toNumber(raw)
	right, rok := toNumber(c.Value)
	if !lok || !rok {
		return ctx.permissive(WarnCondition, "condition on %q compares non-numeric values", field)
	}
	switch c.Operator {
	case OpGreater:
		return left > right
	case OpLess:
		return left < right
	case OpGreaterEqual:
		return left >= right
	case OpLessEqual:
		return left <= right
	case OpEqual:
		return left == right
	case OpNotEqual:
		return left != right
	default:
		return ctx.permissive(WarnCondition, "unknown operator %q", c.Operator)
	}
}
