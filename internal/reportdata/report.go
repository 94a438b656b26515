// Package reportdata 定义渲染时使用的报告数据上下文：项目、trial 及其试件测试记录。
// 这些数据由外部数据源提供，渲染引擎只读不写。
package reportdata

import (
	"math"
	"time"

	"labReport/internal/layout"
)

// 设计输入 / 设计结果 / 测试结果中约定的字段名。
const (
	FieldDesignStrength = "fc"
	FieldSlump          = "slump"
	FieldTargetStrength = "fcr"
	FieldWCRatio        = "wcRatio"
	FieldCementContent  = "cementContent"
	FieldWaterContent   = "waterContent"

	FieldStrength = "kuatTekan"
	FieldLoad     = "beban"
)

// Project 是报告所属的项目记录。
type Project struct {
	ID         uint      `json:"id"`
	Name       string    `json:"name"`
	ClientName string    `json:"clientName"`
	Location   string    `json:"location"`
	Number     string    `json:"number"`
	ReportDate time.Time `json:"reportDate"`
}

// TestRecord 是单个试件的测试记录，Input/Result 为解析后的 JSON。
type TestRecord struct {
	ID           uint           `json:"id"`
	SpecimenCode string         `json:"specimenCode"`
	AgeDays      int            `json:"ageDays"`
	TestedAt     time.Time      `json:"testedAt"`
	Input        map[string]any `json:"input"`
	Result       map[string]any `json:"result"`
}

// Strength 返回试件抗压强度（MPa）。
func (r TestRecord) Strength() (float64, bool) {
	return number(r.Result, FieldStrength)
}

// Trial 是一次配合比试拌，嵌带设计输入、设计结果与测试记录。
type Trial struct {
	ID           uint           `json:"id"`
	Name         string         `json:"name"`
	DesignInput  map[string]any `json:"designInput"`
	DesignResult map[string]any `json:"designResult"`
	Tests        []TestRecord   `json:"tests"`
}

// Input 按点分路径读取设计输入字段。
func (t *Trial) Input(path string) (any, bool) {
	if t == nil {
		return nil, false
	}
	return layout.Properties(t.DesignInput).Get(path)
}

// Result 按点分路径读取设计结果字段。
func (t *Trial) Result(path string) (any, bool) {
	if t == nil {
		return nil, false
	}
	return layout.Properties(t.DesignResult).Get(path)
}

// Field 先查设计结果再查设计输入。
func (t *Trial) Field(path string) (any, bool) {
	if v, ok := t.Result(path); ok {
		return v, true
	}
	return t.Input(path)
}

// AverageStrength 返回全部有强度值的试件的平均抗压强度。
func (t *Trial) AverageStrength() (float64, bool) {
	if t == nil {
		return 0, false
	}
	var (
		sum   float64
		count int
	)
	for _, rec := range t.Tests {
		if v, ok := rec.Strength(); ok {
			sum += v
			count++
		}
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// Report 是一次渲染的完整数据上下文。
type Report struct {
	Project Project `json:"project"`
	Trials  []Trial `json:"trials"`
}

// FirstTrial 返回第一个 trial，没有 trial 时返回 nil。
func (r *Report) FirstTrial() *Trial {
	if r == nil || len(r.Trials) == 0 {
		return nil
	}
	return &r.Trials[0]
}

// TrialByID 按 id 查找 trial。
func (r *Report) TrialByID(id uint) *Trial {
	if r == nil {
		return nil
	}
	for i := range r.Trials {
		if r.Trials[i].ID == id {
			return &r.Trials[i]
		}
	}
	return nil
}

// SelectTrials 按 ids 的顺序返回选中的 trial；ids 为空时返回全部 trial。
// 不存在的 id 被忽略。
func (r *Report) SelectTrials(ids []uint) []*Trial {
	if r == nil {
		return nil
	}
	if len(ids) == 0 {
		out := make([]*Trial, 0, len(r.Trials))
		for i := range r.Trials {
			out = append(out, &r.Trials[i])
		}
		return out
	}
	out := make([]*Trial, 0, len(ids))
	for _, id := range ids {
		if t := r.TrialByID(id); t != nil {
			out = append(out, t)
		}
	}
	return out
}

func number(m map[string]any, path string) (float64, bool) {
	v, ok := layout.Properties(m).Get(path)
	if !ok {
		return 0, false
	}
	f, ok := layout.ToFloat(v)
	if !ok || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
