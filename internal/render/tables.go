package render

import (
	"strconv"

	"labReport/internal/reportdata"
)

// TestTableHeaders 是试件测试结果表的列标题。
var TestTableHeaders = []string{"Kode Benda Uji", "Umur (hari)", "Beban (kN)", "Kuat Tekan (MPa)"}

// TestTable 是 table 节点在两个渲染器中共用的数据。
type TestTable struct {
	Headers []string
	Rows    [][]string
	Average string
}

// BuildTestTable 生成当前 trial 的测试结果表，缺失的数值显示为 "-"。
func BuildTestTable(ctx Context) TestTable {
	tbl := TestTable{Headers: TestTableHeaders}
	trial := ctx.CurrentTrial()
	if trial == nil {
		return tbl
	}
	for _, rec := range trial.Tests {
		tbl.Rows = append(tbl.Rows, []string{
			rec.SpecimenCode,
			strconv.Itoa(rec.AgeDays),
			numberOrDash(rec.Result, reportdata.FieldLoad, ctx.Decimals),
			numberOrDash(rec.Result, reportdata.FieldStrength, ctx.Decimals),
		})
	}
	if avg, ok := trial.AverageStrength(); ok {
		tbl.Average = FormatNumber(avg, ctx.Decimals)
	}
	return tbl
}

// Bar 是强度柱状图中的一根柱子。
type Bar struct {
	Label string
	Value float64
}

// StrengthSeries 返回当前 trial 每个试件的抗压强度，跳过没有结果的试件。
func StrengthSeries(ctx Context) []Bar {
	trial := ctx.CurrentTrial()
	if trial == nil {
		return nil
	}
	var out []Bar
	for _, rec := range trial.Tests {
		if v, ok := rec.Strength(); ok {
			out = append(out, Bar{Label: rec.SpecimenCode, Value: v})
		}
	}
	return out
}

// MaxBar 返回柱子的最大值，至少为 1。
func MaxBar(bars []Bar) float64 {
	top := 1.0
	for _, b := range bars {
		if b.Value > top {
			top = b.Value
		}
	}
	return top
}

func numberOrDash(m map[string]any, field string, decimals int) string {
	v, ok := m[field]
	if !ok {
		return "-"
	}
	f, ok := toNumber(v)
	if !ok {
		return "-"
	}
	return FormatNumber(f, decimals)
}
