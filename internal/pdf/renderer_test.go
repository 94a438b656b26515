package pdf

import (
	"bytes"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labReport/internal/layout"
	"labReport/internal/render"
	"labReport/internal/reportdata"
)

var pageObject = regexp.MustCompile(`/Type /Page\b`)

func sampleReport() *reportdata.Report {
	return &reportdata.Report{
		Project: reportdata.Project{Name: "Jembatan Cisomang", Number: "LAB-9"},
		Trials: []reportdata.Trial{
			{ID: 1, Name: "Trial A", DesignInput: map[string]any{"fc": 30.0},
				DesignResult: map[string]any{"fcr": 38.2, "wcRatio": 0.45},
				Tests: []reportdata.TestRecord{
					{SpecimenCode: "A-1", AgeDays: 7, Result: map[string]any{"kuatTekan": 24.1, "beban": 425.0}},
					{SpecimenCode: "A-2", AgeDays: 28, Result: map[string]any{"kuatTekan": 36.8, "beban": 650.3}},
				}},
			{ID: 2, Name: "Trial B", DesignResult: map[string]any{"fcr": 33.1}},
		},
	}
}

func fixedContext() render.Context {
	return render.NewContext(sampleReport(), render.Options{Now: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)})
}

func fullTemplate(t *testing.T, pages int) *layout.Template {
	t.Helper()
	s := layout.NewStore(layout.DefaultRegistry())
	drop := func(kind layout.Kind, dest string) *layout.Node {
		res, err := s.MoveNode(layout.DragResult{
			DraggableID: string(kind),
			Source:      layout.Location{DroppableID: layout.LibraryDroppable},
			Destination: &layout.Location{DroppableID: dest, Index: 99},
		})
		require.NoError(t, err)
		require.True(t, res.Applied)
		return res.Node
	}
	for i := 0; i < pages; i++ {
		if i > 0 {
			require.True(t, s.AddPage())
		}
		drop(layout.KindHeader, layout.PageAddress(i))
		drop(layout.KindFooter, layout.PageAddress(i))
		cols := drop(layout.KindColumns, layout.PageAddress(i))
		drop(layout.KindPlaceholder, layout.ColumnAddress(cols.InstanceID, 0))
		drop(layout.KindQRCode, layout.ColumnAddress(cols.InstanceID, 1))
		loop := drop(layout.KindTrialLoop, layout.PageAddress(i))
		drop(layout.KindFormula, layout.LoopAddress(loop.InstanceID))
		drop(layout.KindTable, layout.LoopAddress(loop.InstanceID))
		drop(layout.KindChart, layout.LoopAddress(loop.InstanceID))
		text := drop(layout.KindCustomText, layout.PageAddress(i))
		require.True(t, s.UpdateNodeProperty(text.InstanceID, "content", "Catatan: uji tekan sesuai SNI 1974:2011 ±"))
		require.True(t, s.UpdateNodeProperty(text.InstanceID, "appearance.border.width", 0.3))
		require.True(t, s.UpdateNodeProperty(text.InstanceID, "appearance.background", "#f1f5f9"))
		drop(layout.KindSignature, layout.PageAddress(i))
		drop(layout.KindLine, layout.PageAddress(i))
		drop(layout.KindSpacer, layout.PageAddress(i))
	}
	return s.Template()
}

func TestRender_OnePhysicalPagePerLogicalPage(t *testing.T) {
	r := NewRenderer(nil)
	for _, pages := range []int{1, 3} {
		out, err := r.RenderBytes(fullTemplate(t, pages), fixedContext())
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
		assert.Len(t, pageObject.FindAll(out, -1), pages)
	}
}

func TestRender_Deterministic(t *testing.T) {
	tpl := fullTemplate(t, 2)
	r := NewRenderer(nil)

	first, err := r.RenderBytes(tpl, fixedContext())
	require.NoError(t, err)
	second, err := r.RenderBytes(tpl, fixedContext())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRender_LandscapeLetter(t *testing.T) {
	tpl := layout.NewTemplate()
	tpl.Settings = layout.PageSettings{Size: layout.PaperLetter, Orientation: layout.Landscape}
	out, err := NewRenderer(nil).RenderBytes(tpl, fixedContext())
	require.NoError(t, err)
	// Letter 横向：792 x 612 pt。
	assert.Contains(t, string(out), "792.00 612.00")
}

func TestRender_MissingImageIsWarning(t *testing.T) {
	reg := layout.DefaultRegistry()
	tpl := layout.NewTemplate()
	img, _ := reg.NewNode(layout.KindImage, "img-1")
	img.Properties["src"] = "logo.png"
	tpl.Pages[0].Nodes = append(tpl.Pages[0].Nodes, img)

	calls := 0
	r := NewRenderer(func(src string) ([]byte, bool) {
		calls++
		return nil, false
	})
	ctx := fixedContext()
	out, err := r.RenderBytes(tpl, ctx)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
	assert.Equal(t, 1, calls)
	require.Len(t, ctx.Warnings(), 1)
	assert.Equal(t, render.WarnResourceMissing, ctx.Warnings()[0].Kind)
	assert.Equal(t, "img-1", ctx.Warnings()[0].InstanceID)
}

func TestRender_ImageFromLoader(t *testing.T) {
	png, err := render.QRCodePNG("logo", 64)
	require.NoError(t, err)

	reg := layout.DefaultRegistry()
	tpl := layout.NewTemplate()
	img, _ := reg.NewNode(layout.KindImage, "img-1")
	img.Properties["src"] = "assets/logo.png"
	tpl.Pages[0].Nodes = append(tpl.Pages[0].Nodes, img)

	ctx := fixedContext()
	_, err = NewRenderer(func(src string) ([]byte, bool) { return png, src == "assets/logo.png" }).RenderBytes(tpl, ctx)
	require.NoError(t, err)
	assert.Empty(t, ctx.Warnings())
}

func TestParseColor(t *testing.T) {
	r, g, b := parseColor("#2563eb", 0, 0, 0)
	assert.Equal(t, []int{0x25, 0x63, 0xeb}, []int{r, g, b})
	r, g, b = parseColor("#fff", 0, 0, 0)
	assert.Equal(t, []int{255, 255, 255}, []int{r, g, b})
	r, g, b = parseColor("red", 1, 2, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{r, g, b})
}
