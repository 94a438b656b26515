package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labReport/internal/layout"
	"labReport/internal/reportdata"
)

func sampleReport() *reportdata.Report {
	return &reportdata.Report{
		Project: reportdata.Project{
			ID:         7,
			Name:       "Bridge X",
			ClientName: "PT Beton Jaya",
			Location:   "Bandung",
			Number:     "LAB-2024-001",
			ReportDate: time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC),
		},
		Trials: []reportdata.Trial{
			{
				ID:           1,
				Name:         "Trial A",
				DesignInput:  map[string]any{"fc": 30.0, "slump": "100"},
				DesignResult: map[string]any{"fcr": 38.2, "wcRatio": 0.45, "cementContent": 412.348},
				Tests: []reportdata.TestRecord{
					{SpecimenCode: "A-1", AgeDays: 28, Result: map[string]any{"kuatTekan": 36.0}},
					{SpecimenCode: "A-2", AgeDays: 28, Result: map[string]any{"kuatTekan": 38.5}},
				},
			},
			{
				ID:           2,
				Name:         "Trial B",
				DesignInput:  map[string]any{"fc": 25.0},
				DesignResult: map[string]any{"fcr": 33.1, "wcRatio": 0.6},
			},
		},
	}
}

func testContext(report *reportdata.Report) Context {
	return NewContext(report, Options{Now: time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC)})
}

func TestResolve(t *testing.T) {
	ctx := testContext(sampleReport())
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"project name", "Project: {{nama_proyek}}", "Project: Bridge X"},
		{"whitespace in braces", "{{ nama_klien }} / {{lokasi_proyek }}", "PT Beton Jaya / Bandung"},
		{"measured two decimals", "fc={{fc_rencana}} fcr={{fcr}} wc={{wc_ratio}}", "fc=30.00 fcr=38.20 wc=0.45"},
		{"numeric string", "{{slump_rencana}}", "100.00"},
		{"rounding", "{{kadar_semen}}", "412.35"},
		{"average strength", "{{kuat_tekan_rata}}", "37.25"},
		{"trial count", "{{jumlah_trial}} trial, first {{nama_trial}}", "2 trial, first Trial A"},
		{"report date", "{{tanggal_laporan}}", "5 Maret 2024"},
		{"unknown token", "{{unknown_token}}", "{{unknown_token}}"},
		{"missing value", "{{kadar_air}}", "{{kadar_air}}"},
		{"page tokens without page", "{{halaman}}/{{total_halaman}}", "{{halaman}}/{{total_halaman}}"},
		{"no tokens", "plain text", "plain text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.in, ctx))
		})
	}

	paged := ctx.WithPage(2, 3)
	assert.Equal(t, "Halaman 2 dari 3", Resolve("Halaman {{halaman}} dari {{total_halaman}}", paged))
	assert.Equal(t, "Trial B", Resolve("{{nama_trial}}", ctx.WithTrial(&sampleReport().Trials[1])))
}

func TestResolve_UnknownTokenIgnoresContext(t *testing.T) {
	for _, ctx := range []Context{testContext(nil), testContext(sampleReport()), {}} {
		assert.Equal(t, "{{unknown_token}}", Resolve("{{unknown_token}}", ctx))
	}
	ctx := testContext(nil)
	assert.Equal(t, "{{nama_proyek}}", Resolve("{{nama_proyek}}", ctx))
	assert.Equal(t, "1 April 2024", Resolve("{{tanggal_laporan}}", ctx))
}

func TestNewContext_Decimals(t *testing.T) {
	zero, three, negative := 0, 3, -1
	tests := []struct {
		name     string
		decimals *int
		want     string
	}{
		{"unset", nil, "fc=30.00 wc=0.45"},
		{"zero rounds to integer", &zero, "fc=30 wc=0"},
		{"three", &three, "fc=30.000 wc=0.450"},
		{"negative falls back", &negative, "fc=30.00 wc=0.45"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := NewContext(sampleReport(), Options{Decimals: tt.decimals})
			assert.Equal(t, tt.want, Resolve("fc={{fc_rencana}} wc={{wc_ratio}}", ctx))
		})
	}
}

func TestResolve_StrictRecordsWarning(t *testing.T) {
	ctx := NewContext(nil, Options{Strict: true})
	assert.Equal(t, "{{nama_proyek}}", Resolve("{{nama_proyek}}", ctx))
	require.Len(t, ctx.Warnings(), 1)
	assert.Equal(t, WarnMissingData, ctx.Warnings()[0].Kind)
}

func TestCheckConditions(t *testing.T) {
	conds := []Condition{
		{Field: "fcr", Operator: OpGreater, Value: "35"},
		{Field: "wcRatio", Operator: OpLess, Value: "0.5"},
	}
	report := sampleReport()
	assert.True(t, CheckConditions(conds, testContext(report)))

	report.Trials[0].DesignResult["wcRatio"] = 0.6
	assert.False(t, CheckConditions(conds, testContext(report)))

	assert.True(t, CheckConditions(nil, testContext(report)))
	assert.True(t, CheckConditions([]Condition{}, testContext(nil)))
}

func TestCheckConditions_Operators(t *testing.T) {
	ctx := testContext(sampleReport())
	tests := []struct {
		op    Operator
		value any
		want  bool
	}{
		{OpGreater, 38.2, false},
		{OpGreaterEqual, 38.2, true},
		{OpLess, "40", true},
		{OpLessEqual, 38.1, false},
		{OpEqual, "38.2", true},
		{OpNotEqual, 38.2, false},
	}
	for _, tt := range tests {
		got := CheckConditions([]Condition{{Field: "fcr", Operator: tt.op, Value: tt.value}}, ctx)
		assert.Equal(t, tt.want, got, "fcr %s %v", tt.op, tt.value)
	}
}

func TestCheckConditions_MissingDataFailsOpen(t *testing.T) {
	conds := []Condition{
		{Field: "slumpResult", Operator: OpGreater, Value: "1"},
		{Field: "fcr", Operator: OpGreater, Value: "abc"},
		{Field: "fcr", Operator: "~", Value: "1"},
	}
	assert.True(t, CheckConditions(conds, testContext(sampleReport())))
	assert.True(t, CheckConditions(conds, testContext(nil)))

	strict := NewContext(sampleReport(), Options{Strict: true})
	assert.False(t, CheckConditions(conds[:1], strict))
	require.NotEmpty(t, strict.Warnings())
	assert.Equal(t, WarnCondition, strict.Warnings()[0].Kind)
}

func TestConditionsOf(t *testing.T) {
	props := layout.Properties{
		ConditionsProperty: []any{
			map[string]any{"field": "fcr", "operator": " > ", "value": 35.0},
			"garbage",
		},
	}
	conds := ConditionsOf(props)
	require.Len(t, conds, 1)
	assert.Equal(t, Condition{Field: "fcr", Operator: OpGreater, Value: 35.0}, conds[0])
	assert.Nil(t, ConditionsOf(layout.Properties{}))
}

func TestEvaluateFormula(t *testing.T) {
	ctx := testContext(sampleReport())

	v, err := EvaluateFormula("fcr / fc", ctx)
	require.NoError(t, err)
	assert.InDelta(t, 38.2/30.0, v, 1e-9)

	v, err = EvaluateFormula("kuatTekanRata - fc", ctx)
	require.NoError(t, err)
	assert.InDelta(t, 7.25, v, 1e-9)

	_, err = EvaluateFormula("", ctx)
	assert.ErrorIs(t, err, ErrEmptyFormula)
	_, err = EvaluateFormula("fcr / 0", ctx)
	assert.Error(t, err)
	_, err = EvaluateFormula("len(fcr)", ctx)
	assert.Error(t, err)
	_, err = EvaluateFormula("missing * 2", ctx)
	assert.Error(t, err)

	assert.Equal(t, "1.27 x", FormulaText("fcr / fc", 2, "x", ctx))
	assert.Equal(t, "-", FormulaText("fcr +", 2, "", ctx))
	assert.NotEmpty(t, ctx.Warnings())
}

func TestDispatcher_ConditionsAndUnknownKinds(t *testing.T) {
	d := NewDispatcher[int, string]()
	d.Handle(layout.KindCustomText, func(_ *Dispatcher[int, string], n *layout.Node, ctx Context, depth int) string {
		return Resolve(n.Properties.String("content", ""), ctx)
	})
	d.Handle(layout.KindSection, func(d *Dispatcher[int, string], n *layout.Node, ctx Context, depth int) string {
		out := ""
		for _, s := range d.RenderList(n.Children, ctx, depth+1) {
			out += "[" + s + "]"
		}
		return out
	})

	visible := &layout.Node{Kind: layout.KindCustomText, InstanceID: "a", Properties: layout.Properties{"content": "{{nama_proyek}}"}}
	hidden := &layout.Node{Kind: layout.KindCustomText, InstanceID: "b", Properties: layout.Properties{
		"content":          "hidden",
		ConditionsProperty: []any{map[string]any{"field": "wcRatio", "operator": ">", "value": "0.5"}},
	}}
	unknown := &layout.Node{Kind: "mystery", InstanceID: "c", Properties: layout.Properties{}}
	section := &layout.Node{Kind: layout.KindSection, InstanceID: "s", Properties: layout.Properties{},
		Children: []*layout.Node{visible, hidden, unknown}}

	out, ok := d.Render(section, testContext(sampleReport()), 0)
	require.True(t, ok)
	assert.Equal(t, "[Bridge X]", out)
	assert.True(t, d.Handles(layout.KindSection))
	assert.False(t, d.Handles("mystery"))

	_, ok = d.Render(nil, testContext(nil), 0)
	assert.False(t, ok)
}

func TestLoopPasses(t *testing.T) {
	report := sampleReport()
	loop := &layout.Node{Kind: layout.KindTrialLoop, InstanceID: "l", Properties: layout.Properties{}, Children: []*layout.Node{}}

	passes := LoopPasses(loop, testContext(report))
	require.Len(t, passes, 2)
	assert.Equal(t, "Trial A", passes[0].Trial.Name)
	assert.Equal(t, "Trial B", Resolve("{{nama_trial}}", passes[1].Ctx))
	assert.Equal(t, "0.60", Resolve("{{wc_ratio}}", passes[1].Ctx))

	loop.Properties[SelectedTrialsProperty] = []any{2.0, "1", 99.0}
	passes = LoopPasses(loop, testContext(report))
	require.Len(t, passes, 2)
	assert.Equal(t, uint(2), passes[0].Trial.ID)
	assert.Equal(t, uint(1), passes[1].Trial.ID)

	assert.Empty(t, LoopPasses(loop, testContext(nil)))
}

func TestBuildTestTableAndSeries(t *testing.T) {
	ctx := testContext(sampleReport())
	tbl := BuildTestTable(ctx)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, []string{"A-1", "28", "-", "36.00"}, tbl.Rows[0])
	assert.Equal(t, "37.25", tbl.Average)

	bars := StrengthSeries(ctx)
	require.Len(t, bars, 2)
	assert.Equal(t, 38.5, MaxBar(bars))
	assert.Empty(t, StrengthSeries(ctx.WithTrial(&sampleReport().Trials[1])))
	assert.Empty(t, BuildTestTable(testContext(nil)).Rows)
}

func TestQRCodePNG(t *testing.T) {
	png, err := QRCodePNG("LAB-2024-001", 64)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])
	_, err = QRCodePNG("", 64)
	assert.Error(t, err)
}
