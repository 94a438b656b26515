package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"labReport/internal/config"
	"labReport/internal/reportdata"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := InitDatabase(config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return db
}

func TestTemplateStore_CRUD(t *testing.T) {
	ctx := context.Background()
	store := NewTemplateStore(newTestDB(t))

	created, err := store.Create(ctx, "  Laporan Standar ", []byte(`{"layout":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "Laporan Standar", created.Name)
	assert.Equal(t, 1, created.Version)

	_, err = store.Create(ctx, "Laporan Standar", []byte(`{}`))
	assert.ErrorIs(t, err, ErrDuplicateName)

	updated, err := store.Update(ctx, created.ID, "Laporan Standar", []byte(`{"layout":[{"nodes":[]}]}`))
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.JSONEq(t, `{"layout":[{"nodes":[]}]}`, string(updated.Content))

	other, err := store.Create(ctx, "Lain", []byte(`{}`))
	require.NoError(t, err)
	_, err = store.Update(ctx, other.ID, "Laporan Standar", []byte(`{}`))
	assert.ErrorIs(t, err, ErrDuplicateName)

	byName, err := store.GetByName(ctx, "Laporan Standar")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)

	items, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	require.NoError(t, store.SetPreviewImage(ctx, created.ID, "previews/1.png"))
	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "previews/1.png", got.PreviewImageKey)
	assert.Equal(t, 2, got.Version)

	require.NoError(t, store.Delete(ctx, created.ID))
	_, err = store.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
	assert.ErrorIs(t, store.Delete(ctx, created.ID), ErrTemplateNotFound)

	// 删除后名称可以重新使用。
	_, err = store.Create(ctx, "Laporan Standar", []byte(`{}`))
	assert.NoError(t, err)
}

func TestTemplateStore_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	store := NewTemplateStore(newTestDB(t))

	_, err := store.Create(ctx, " ", []byte(`{}`))
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = store.Create(ctx, "x", []byte(`{"layout":`))
	assert.ErrorIs(t, err, ErrInvalidContent)

	_, err = store.Update(ctx, 999, "x", []byte(`{}`))
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestReportSource_FetchFullReportData(t *testing.T) {
	ctx := context.Background()
	src := NewReportSource(newTestDB(t))

	date := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	id, err := src.ImportReport(ctx, reportdata.Report{
		Project: reportdata.Project{Name: "Bridge X", ClientName: "PT Beton", ReportDate: date},
		Trials: []reportdata.Trial{
			{
				Name:         "Trial 1",
				DesignInput:  map[string]any{"fc": 30.0},
				DesignResult: map[string]any{"fcr": 38.2, "wcRatio": 0.45},
				Tests: []reportdata.TestRecord{
					{SpecimenCode: "B2", AgeDays: 28, Result: map[string]any{"kuatTekan": 36.0}},
					{SpecimenCode: "B1", AgeDays: 7, Result: map[string]any{"kuatTekan": 24.0}},
				},
			},
			{Name: "Trial 2"},
		},
	})
	require.NoError(t, err)

	report, err := src.FetchFullReportData(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Bridge X", report.Project.Name)
	assert.True(t, report.Project.ReportDate.Equal(date))
	require.Len(t, report.Trials, 2)

	first := report.Trials[0]
	assert.Equal(t, "Trial 1", first.Name)
	assert.Equal(t, 38.2, first.DesignResult["fcr"])
	require.Len(t, first.Tests, 2)
	assert.Equal(t, "B1", first.Tests[0].SpecimenCode)
	avg, ok := first.AverageStrength()
	require.True(t, ok)
	assert.InDelta(t, 30.0, avg, 1e-9)

	assert.NotNil(t, report.Trials[1].DesignInput)

	_, err = src.FetchFullReportData(ctx, 404)
	assert.ErrorIs(t, err, ErrProjectNotFound)

	projects, err := src.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, id, projects[0].ID)
}
