package layout

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Properties 是节点的开放键值属性表，结构取决于节点 kind。
type Properties map[string]any

// Clone 深拷贝属性表，嵌套 map 与切片均复制。
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return map[string]any(Properties(val).Clone())
	case Properties:
		return val.Clone()
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return val
	}
}

// Get 按点分路径读取属性，例如 "appearance.padding"。嵌套路径经 gjson 查询，
// 返回 JSON 形式的值（数字为 float64，对象为 map[string]any）。
func (p Properties) Get(path string) (any, bool) {
	if p == nil {
		return nil, false
	}
	parts := splitPath(path)
	switch len(parts) {
	case 0:
		return nil, false
	case 1:
		v, ok := p[parts[0]]
		return v, ok
	}
	raw, err := json.Marshal(map[string]any(p))
	if err != nil {
		return nil, false
	}
	res := gjson.GetBytes(raw, queryPath(parts))
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// Set 按点分路径写入属性。缺失的中间层会被创建，不是对象的中间层被替换为对象。
func (p Properties) Set(path string, value any) error {
	parts := splitPath(path)
	if len(parts) == 0 {
		return fmt.Errorf("set property: empty path %q", path)
	}
	if p == nil {
		return fmt.Errorf("set property %q: nil properties", path)
	}
	if len(parts) == 1 {
		p[parts[0]] = value
		return nil
	}

	raw, err := json.Marshal(map[string]any(p))
	if err != nil {
		return fmt.Errorf("set property %q: %w", path, err)
	}
	for i := 1; i < len(parts); i++ {
		res := gjson.GetBytes(raw, queryPath(parts[:i]))
		if !res.Exists() {
			break
		}
		if !res.IsObject() {
			if raw, err = sjson.DeleteBytes(raw, updatePath(parts[:i])); err != nil {
				return fmt.Errorf("set property %q: %w", path, err)
			}
			break
		}
	}
	if raw, err = sjson.SetBytes(raw, updatePath(parts), value); err != nil {
		return fmt.Errorf("set property %q: %w", path, err)
	}

	// 只替换被修改的顶层键，其余属性保持原样。
	var top any
	if err := json.Unmarshal([]byte(gjson.GetBytes(raw, queryPath(parts[:1])).Raw), &top); err != nil {
		return fmt.Errorf("set property %q: %w", path, err)
	}
	p[parts[0]] = top
	return nil
}

// String 返回字符串属性；非字符串标量会被格式化。
func (p Properties) String(path, fallback string) string {
	v, ok := p.Get(path)
	if !ok || v == nil {
		return fallback
	}
	switch val := v.(type) {
	case string:
		return val
	case float64, int, int64, bool, json.Number:
		return fmt.Sprint(val)
	default:
		return fallback
	}
}

// Float 返回数值属性，字符串形式的数字也会被解析。
func (p Properties) Float(path string) (float64, bool) {
	v, ok := p.Get(path)
	if !ok {
		return 0, false
	}
	return ToFloat(v)
}

// FloatOr 与 Float 相同，但在缺失时返回 fallback。
func (p Properties) FloatOr(path string, fallback float64) float64 {
	if f, ok := p.Float(path); ok {
		return f
	}
	return fallback
}

// Int 返回整数属性。
func (p Properties) Int(path string, fallback int) int {
	if f, ok := p.Float(path); ok {
		return int(math.Round(f))
	}
	return fallback
}

// Bool 返回布尔属性。
func (p Properties) Bool(path string, fallback bool) bool {
	v, ok := p.Get(path)
	if !ok {
		return fallback
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			return fallback
		}
		return b
	default:
		return fallback
	}
}

// Map 返回嵌套的属性子表，不存在时返回 nil。
func (p Properties) Map(path string) Properties {
	v, ok := p.Get(path)
	if !ok {
		return nil
	}
	m, ok := asMap(v)
	if !ok {
		return nil
	}
	return Properties(m)
}

// List 返回切片属性。
func (p Properties) List(path string) []any {
	v, ok := p.Get(path)
	if !ok {
		return nil
	}
	switch val := v.(type) {
	case []any:
		return val
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	default:
		return nil
	}
}

// ToFloat 将 JSON 解码得到的值转换为 float64。
func ToFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func asMap(v any) (map[string]any, bool) {
	switch val := v.(type) {
	case map[string]any:
		return val, val != nil
	case Properties:
		return map[string]any(val), val != nil
	default:
		return nil, false
	}
}

// escapeSegment 转义 gjson/sjson 路径中的特殊字符。
func escapeSegment(seg string) string {
	if !strings.ContainsAny(seg, `\*?|#@!`) {
		return seg
	}
	var b strings.Builder
	for _, r := range seg {
		if strings.ContainsRune(`\*?|#@!`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func queryPath(parts []string) string {
	out := make([]string, len(parts))
	for i, part := range parts {
		out[i] = escapeSegment(part)
	}
	return strings.Join(out, ".")
}

// updatePath 与 queryPath 相同，但纯数字段加 ":" 前缀，
// 让 sjson 把它当作对象键而不是数组下标。
func updatePath(parts []string) string {
	out := make([]string, len(parts))
	for i, part := range parts {
		if isIndex(part) {
			out[i] = ":" + part
			continue
		}
		out[i] = escapeSegment(part)
	}
	return strings.Join(out, ".")
}

func isIndex(seg string) bool {
	seg = strings.TrimPrefix(seg, "-")
	if seg == "" {
		return false
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func splitPath(path string) []string {
	path = strings.Trim(strings.TrimSpace(path), ".")
	if path == "" {
		return nil
	}
	raw := strings.Split(path, ".")
	parts := raw[:0]
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
