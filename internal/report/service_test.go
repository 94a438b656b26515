package report

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labReport/internal/canvas"
	"labReport/internal/config"
	"labReport/internal/database"
	"labReport/internal/notify"
	"labReport/internal/render"
	"labReport/internal/reportdata"
	"labReport/internal/storage"
)

const reportTemplate = `{
	"layout":[{
		"header":{"kind":"header","instanceId":"h1","properties":{"title":"LAPORAN","subtitle":"{{nama_proyek}}"},"children":[]},
		"footer":null,
		"nodes":[
			{"kind":"placeholder","instanceId":"p1","properties":{"label":"Proyek","token":"nama_proyek"}},
			{"kind":"image","instanceId":"img1","properties":{"src":"assets/logo.png","width":20}},
			{"kind":"image","instanceId":"img2","properties":{"src":"assets/missing.png","width":20}}
		]
	}],
	"pageSettings":{"size":"a4","orientation":"portrait"}
}`

type fixture struct {
	svc       *Service
	flag      *notify.MemoryFlag
	assets    *storage.Filesystem
	template  database.ReportTemplate
	projectID uint
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.InitDatabase(config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	templates := database.NewTemplateStore(db)
	tpl, err := templates.Create(ctx, "Standar", []byte(reportTemplate))
	require.NoError(t, err)

	source := database.NewReportSource(db)
	projectID, err := source.ImportReport(ctx, reportdata.Report{
		Project: reportdata.Project{Name: "Bridge X / Tahap 2", Number: "PRJ-7"},
		Trials:  []reportdata.Trial{{Name: "Trial 1", DesignResult: map[string]any{"fcr": 38.2}}},
	})
	require.NoError(t, err)

	assets, err := storage.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	_, err = assets.Put(ctx, "assets/logo.png", bytes.NewReader(tinyPNG(t)), -1, "image/png")
	require.NoError(t, err)

	flag := notify.NewMemoryFlag()
	svc := NewService(templates, source, assets, flag, nil, Options{
		Now: func() time.Time { return time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC) },
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	return fixture{svc: svc, flag: flag, assets: assets, template: tpl, projectID: projectID}
}

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestGenerate_NativePDF(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Generate(ctx, Request{TemplateID: f.template.ID, ProjectID: f.projectID})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(res.PDF, []byte("%PDF")))
	assert.Equal(t, "Bridge X _ Tahap 2.pdf", res.FileName)
	assert.Equal(t, 1, res.Pages)

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, render.WarnResourceMissing, res.Warnings[0].Kind)
	assert.Equal(t, "img2", res.Warnings[0].InstanceID)

	again, err := f.svc.Generate(ctx, Request{TemplateID: f.template.ID, ProjectID: f.projectID})
	require.NoError(t, err)
	assert.Equal(t, res.PDF, again.PDF)

	held, err := f.svc.InFlight(ctx, f.projectID)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestGenerate_RejectsWhileInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	release, err := f.flag.Acquire(ctx, FlagKey(f.projectID))
	require.NoError(t, err)

	_, err = f.svc.Generate(ctx, Request{TemplateID: f.template.ID, ProjectID: f.projectID})
	assert.ErrorIs(t, err, ErrInFlight)

	release()
	_, err = f.svc.Generate(ctx, Request{TemplateID: f.template.ID, ProjectID: f.projectID})
	assert.NoError(t, err)
}

func TestGenerate_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Generate(ctx, Request{TemplateID: 999, ProjectID: f.projectID})
	assert.ErrorIs(t, err, database.ErrTemplateNotFound)

	_, err = f.svc.Generate(ctx, Request{TemplateID: f.template.ID, ProjectID: 999})
	assert.ErrorIs(t, err, database.ErrProjectNotFound)

	_, err = f.svc.Generate(ctx, Request{TemplateID: f.template.ID, Engine: EngineBrowser})
	assert.ErrorIs(t, err, ErrBrowserUnavailable)

	_, err = f.svc.Generate(ctx, Request{TemplateID: f.template.ID, Engine: "latex"})
	assert.ErrorIs(t, err, ErrUnknownEngine)

	_, err = f.svc.Thumbnail(ctx, f.template.ID)
	assert.ErrorIs(t, err, ErrBrowserUnavailable)
}

func TestGenerateAndStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, key, url, err := f.svc.GenerateAndStore(ctx, Request{TemplateID: f.template.ID, ProjectID: f.projectID})
	require.NoError(t, err)
	assert.Contains(t, key, "reports/")
	assert.Contains(t, url, storage.RawURLPrefix)

	stored, meta, err := storage.ReadAll(ctx, f.assets, key)
	require.NoError(t, err)
	assert.Equal(t, res.PDF, stored)
	assert.Equal(t, "application/pdf", meta.ContentType)
}

func TestCanvas_LinksAssetsAndResolvesData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tpl, err := f.svc.LoadTemplate(ctx, f.template.ID)
	require.NoError(t, err)

	html, warnings, err := f.svc.Canvas(ctx, tpl, f.projectID, canvas.Options{Mode: canvas.Editable})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Contains(t, html, "Bridge X / Tahap 2")
	assert.Contains(t, html, "assets%2Flogo.png")
	assert.Contains(t, html, `data-droppable-id="page-0"`)

	blank, _, err := f.svc.Canvas(ctx, tpl, 0, canvas.Options{Mode: canvas.Preview})
	require.NoError(t, err)
	assert.Contains(t, blank, "{{nama_proyek}}")
	assert.NotContains(t, blank, "data-droppable-id")
}

func TestInlineLinker(t *testing.T) {
	f := newFixture(t)
	link := f.svc.inlineLinker(context.Background())

	u, ok := link("assets/logo.png")
	require.True(t, ok)
	assert.Contains(t, u, "data:image/png;base64,")

	_, ok = link("assets/missing.png")
	assert.False(t, ok)

	u, ok = link("https://example.com/a.png")
	assert.True(t, ok)
	assert.Equal(t, "https://example.com/a.png", u)
}

func TestFileName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Bridge X", "Bridge X.pdf"},
		{"  ", "laporan.pdf"},
		{"Proyek: Jalan Tol*Baru?", "Proyek_ Jalan Tol_Baru.pdf"},
		{"Gedung Ñandú", "Gedung Ñandú.pdf"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FileName(reportdata.Project{Name: tt.name}), tt.name)
	}
}

func TestOptionsFrom_KeepsZeroDecimals(t *testing.T) {
	opts := OptionsFrom(config.RenderConfig{DefaultDecimals: 0})
	require.NotNil(t, opts.Decimals)
	assert.Equal(t, 0, *opts.Decimals)

	svc := NewService(nil, nil, nil, nil, nil, opts, nil)
	assert.Equal(t, 0, svc.Context(nil).Decimals)

	svc = NewService(nil, nil, nil, nil, nil, Options{}, nil)
	assert.Equal(t, render.DefaultDecimals, svc.Context(nil).Decimals)
}
