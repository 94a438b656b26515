package layout

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_EmptyInputGivesBlankTemplate(t *testing.T) {
	for _, raw := range []string{"", "  ", "null", `{}`, `{"layout":[]}`} {
		tpl, _, err := decode([]byte(raw), DefaultRegistry(), seqIDs())
		require.NoError(t, err, raw)
		require.Len(t, tpl.Pages, 1, raw)
		assert.Empty(t, tpl.Pages[0].Nodes, raw)
		assert.Equal(t, DefaultPageSettings(), tpl.Settings, raw)
	}
}

func TestDecode_LegacyFlatLayout(t *testing.T) {
	raw := `[
		{"id":"custom-text","instanceId":"t1","properties":{"content":"Halo"}},
		{"kind":"section","instanceId":"s1","properties":{},"children":[
			{"kind":"spacer","instanceId":"sp1","properties":{}}
		]}
	]`
	tpl, _, err := decode([]byte(raw), DefaultRegistry(), seqIDs())
	require.NoError(t, err)
	require.Len(t, tpl.Pages, 1)
	require.Len(t, tpl.Pages[0].Nodes, 2)
	assert.Equal(t, KindCustomText, tpl.Pages[0].Nodes[0].Kind)
	assert.Equal(t, 3, tpl.NodeCount())

	wrapped := `{"layout":` + raw + `}`
	tpl, _, err = decode([]byte(wrapped), DefaultRegistry(), seqIDs())
	require.NoError(t, err)
	require.Len(t, tpl.Pages, 1)
	assert.Equal(t, 3, tpl.NodeCount())
}

func TestDecode_RepairsIdentifiersAndColumns(t *testing.T) {
	raw := `{
		"layout":[{"header":null,"footer":null,"nodes":[
			{"kind":"custom-text","instanceId":"dup","properties":{}},
			{"kind":"custom-text","instanceId":"dup","properties":{}},
			{"kind":"spacer","properties":{}},
			{"kind":"columns","instanceId":"c1","properties":{"columnCount":3},"children":[
				[{"kind":"line","instanceId":"l1","properties":{}}]
			]},
			{"kind":"columns","instanceId":"c2","properties":{"columnCount":1},"children":[
				[{"kind":"line","instanceId":"l2","properties":{}}],
				[{"kind":"line","instanceId":"l3","properties":{}}]
			]}
		]}],
		"pageSettings":{"size":"a5","orientation":"landscape"}
	}`
	tpl, _, err := decode([]byte(raw), DefaultRegistry(), seqIDs())
	require.NoError(t, err)

	nodes := tpl.Pages[0].Nodes
	require.Len(t, nodes, 5)
	assert.Equal(t, "dup", nodes[0].InstanceID)
	assert.NotEqual(t, "dup", nodes[1].InstanceID)
	assert.NotEmpty(t, nodes[2].InstanceID)

	require.Len(t, nodes[3].Columns, 3)
	assert.Len(t, nodes[3].Columns[0], 1)
	assert.Empty(t, nodes[3].Columns[2])

	require.Len(t, nodes[4].Columns, 1)
	assert.Len(t, nodes[4].Columns[0], 2)

	assert.Equal(t, PageSettings{Size: PaperA4, Orientation: Landscape}, tpl.Settings)
}

func TestDecode_EmptyContainersGetShape(t *testing.T) {
	raw := `[{"kind":"columns","instanceId":"c1","properties":{}},
		{"kind":"trial-loop","instanceId":"l1","properties":{}}]`
	tpl, _, err := decode([]byte(raw), DefaultRegistry(), seqIDs())
	require.NoError(t, err)

	cols := tpl.Find("c1")
	assert.Equal(t, ShapeMulti, cols.Shape())
	assert.Len(t, cols.Columns, 2)
	assert.Equal(t, ShapeFlat, tpl.Find("l1").Shape())
}

func TestDecode_WrongTypesAreRepaired(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantPath  string
		wantNodes int
		check     func(t *testing.T, tpl *Template)
	}{
		{
			name:     "page settings as string",
			raw:      `{"layout":[],"pageSettings":"a4"}`,
			wantPath: "pageSettings",
			check: func(t *testing.T, tpl *Template) {
				assert.Equal(t, DefaultPageSettings(), tpl.Settings)
			},
		},
		{
			name:     "layout as object",
			raw:      `{"layout":{},"pageSettings":{"size":"letter","orientation":"landscape"}}`,
			wantPath: "layout",
			check: func(t *testing.T, tpl *Template) {
				assert.Equal(t, PageSettings{Size: PaperLetter, Orientation: Landscape}, tpl.Settings)
			},
		},
		{
			name:      "properties as array",
			raw:       `{"layout":[{"nodes":[{"kind":"custom-text","instanceId":"t1","properties":[]}]}]}`,
			wantPath:  "layout[0].nodes[0].properties",
			wantNodes: 1,
			check: func(t *testing.T, tpl *Template) {
				n := tpl.Find("t1")
				require.NotNil(t, n)
				assert.NotNil(t, n.Properties)
				assert.Empty(t, n.Properties)
			},
		},
		{
			name:      "numeric instance id",
			raw:       `{"layout":[{"nodes":[{"kind":"spacer","instanceId":42,"properties":{}}]}]}`,
			wantPath:  "layout[0].nodes[0].instanceId",
			wantNodes: 1,
			check: func(t *testing.T, tpl *Template) {
				n := tpl.Pages[0].Nodes[0]
				assert.Equal(t, KindSpacer, n.Kind)
				assert.Equal(t, "spacer-1", n.InstanceID)
			},
		},
		{
			name:      "section children as object",
			raw:       `{"layout":[{"nodes":[{"kind":"section","instanceId":"s","properties":{},"children":{}}]}]}`,
			wantPath:  "layout[0].nodes[0].children",
			wantNodes: 1,
			check: func(t *testing.T, tpl *Template) {
				s := tpl.Find("s")
				require.NotNil(t, s)
				assert.Equal(t, ShapeFlat, s.Shape())
				assert.Empty(t, s.Children)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl, repairs, err := decode([]byte(tt.raw), DefaultRegistry(), seqIDs())
			require.NoError(t, err)
			require.NotNil(t, tpl)
			require.Len(t, tpl.Pages, 1)
			assert.Equal(t, tt.wantNodes, tpl.NodeCount())
			require.Len(t, repairs, 1)
			assert.Equal(t, tt.wantPath, repairs[0].Path)
			tt.check(t, tpl)
		})
	}
}

func TestDecode_DropsNonObjectNodesAndPages(t *testing.T) {
	raw := `{"layout":[
		{"nodes":[7,{"kind":"line","instanceId":"l1"},"x"]},
		"not a page"
	]}`
	tpl, repairs, err := DecodeWithRepairs([]byte(raw), DefaultRegistry())
	require.NoError(t, err)
	require.Len(t, tpl.Pages, 2)
	assert.Equal(t, 1, tpl.NodeCount())
	assert.Empty(t, tpl.Pages[1].Nodes)
	assert.Len(t, repairs, 3)

	tpl, repairs, err = DecodeWithRepairs([]byte(`"a4"`), DefaultRegistry())
	require.NoError(t, err)
	require.Len(t, tpl.Pages, 1)
	require.Len(t, repairs, 1)
	assert.Equal(t, "$", repairs[0].Path)
}

func TestDecode_SyntaxError(t *testing.T) {
	_, err := Decode([]byte(`{"layout":[`), DefaultRegistry())
	require.Error(t, err)
}

func TestTemplateMarshal_DoesNotTouchPages(t *testing.T) {
	tpl := &Template{Settings: DefaultPageSettings(), Pages: []*Page{{}}}

	data, err := json.Marshal(tpl)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"nodes":[]`)
	assert.Nil(t, tpl.Pages[0].Nodes)

	data, err = json.Marshal(&Template{Settings: DefaultPageSettings()})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"layout":[]`)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	dropFromLibrary(t, s, KindHeader, PageAddress(0), 0)
	cols := dropFromLibrary(t, s, KindColumns, PageAddress(0), 0)
	dropFromLibrary(t, s, KindCustomText, ColumnAddress(cols.InstanceID, 1), 0)
	loop := dropFromLibrary(t, s, KindTrialLoop, PageAddress(0), 1)
	dropFromLibrary(t, s, KindTable, LoopAddress(loop.InstanceID), 0)
	require.True(t, s.AddPage())
	dropFromLibrary(t, s, KindFooter, FooterAddress(1), 0)
	require.True(t, s.UpdatePageSetting("orientation", "landscape"))

	first, err := json.Marshal(s.Template())
	require.NoError(t, err)

	tpl, err := Decode(first, s.Registry())
	require.NoError(t, err)
	second, err := json.Marshal(tpl)
	require.NoError(t, err)

	assert.JSONEq(t, string(first), string(second))
}

func TestNodeMarshal_ChildrenShape(t *testing.T) {
	reg := DefaultRegistry()
	leaf, _ := reg.NewNode(KindSpacer, "sp")
	flat, _ := reg.NewNode(KindSection, "s")
	multi, _ := reg.NewNode(KindColumns, "c")

	var doc map[string]json.RawMessage
	data, err := json.Marshal(leaf)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.NotContains(t, doc, "children")

	data, err = json.Marshal(flat)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"children":[]`)

	data, err = json.Marshal(multi)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"children":[[],[]]`)
}
