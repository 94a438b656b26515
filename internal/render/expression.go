package render

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"labReport/internal/reportdata"
)

// ErrEmptyFormula 表示公式为空。
var ErrEmptyFormula = errors.New("empty formula")

// 公式只允许算术与比较运算，内置函数全部禁用。
var programs sync.Map // map[string]*vm.Program

// CompileFormula 编译公式并缓存结果。
func CompileFormula(src string) (*vm.Program, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, ErrEmptyFormula
	}
	if p, ok := programs.Load(src); ok {
		return p.(*vm.Program), nil
	}
	prog, err := expr.Compile(src,
		expr.AsFloat64(),
		expr.DisableAllBuiltins(),
		expr.Optimize(true),
	)
	if err != nil {
		return nil, fmt.Errorf("compile formula: %w", err)
	}
	programs.Store(src, prog)
	return prog, nil
}

// FormulaEnv 构造公式的变量表：设计输入与设计结果的顶层字段，设计结果优先。
// 可解析为数字的字符串会被转换为 float64。
func FormulaEnv(t *reportdata.Trial) map[string]any {
	env := map[string]any{}
	if t == nil {
		return env
	}
	for _, src := range []map[string]any{t.DesignInput, t.DesignResult} {
		for k, v := range src {
			if f, ok := toNumber(v); ok {
				env[k] = f
				continue
			}
			env[k] = v
		}
	}
	if avg, ok := t.AverageStrength(); ok {
		env["kuatTekanRata"] = avg
	}
	return env
}

// EvaluateFormula 针对当前 trial 计算公式。
func EvaluateFormula(src string, ctx Context) (float64, error) {
	prog, err := CompileFormula(src)
	if err != nil {
		return 0, err
	}
	out, err := expr.Run(prog, FormulaEnv(ctx.CurrentTrial()))
	if err != nil {
		return 0, fmt.Errorf("evaluate formula: %w", err)
	}
	f, ok := out.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("evaluate formula: result %v is not a finite number", out)
	}
	return f, nil
}

// FormulaText 返回公式节点显示的文本；计算失败时显示 "-" 并记录警告。
func FormulaText(src string, decimals int, unit string, ctx Context) string {
	v, err := EvaluateFormula(src, ctx)
	if err != nil {
		ctx.Warn(WarnFormula, "%v", err)
		return "-"
	}
	if decimals < 0 {
		decimals = ctx.Decimals
	}
	text := FormatNumber(v, decimals)
	if unit = strings.TrimSpace(unit); unit != "" {
		text += " " + unit
	}
	return text
}
