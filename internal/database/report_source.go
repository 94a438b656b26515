package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"labReport/internal/reportdata"
)

// ErrProjectNotFound 表示项目不存在。
var ErrProjectNotFound = errors.New("project not found")

// ReportSource 是报告数据协作者：一次性读取项目、trial 与测试记录并解析其中的 JSON。
type ReportSource struct {
	db *gorm.DB
}

// NewReportSource 返回基于 gorm 的报告数据源。
func NewReportSource(db *gorm.DB) *ReportSource {
	return &ReportSource{db: db}
}

// FetchFullReportData 读取项目完整数据。无法解析的 JSON 字段视为空对象。
func (s *ReportSource) FetchFullReportData(ctx context.Context, projectID uint) (*reportdata.Report, error) {
	var project Project
	err := s.db.WithContext(ctx).
		Preload("Trials", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC, id ASC") }).
		Preload("Trials.Tests", func(db *gorm.DB) *gorm.DB { return db.Order("age_days ASC, id ASC") }).
		First(&project, projectID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("fetch report data: %w", err)
	}
	return toReport(project), nil
}

// ListProjects 返回全部项目（不含 trial）。
func (s *ReportSource) ListProjects(ctx context.Context) ([]reportdata.Project, error) {
	var projects []Project
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	out := make([]reportdata.Project, 0, len(projects))
	for _, p := range projects {
		out = append(out, projectOf(p))
	}
	return out, nil
}

// ImportReport 把一份报告数据写入数据库并返回新项目 id，供命令行导入样例数据使用。
func (s *ReportSource) ImportReport(ctx context.Context, r reportdata.Report) (uint, error) {
	project := Project{
		Name:       r.Project.Name,
		ClientName: r.Project.ClientName,
		Location:   r.Project.Location,
		Number:     r.Project.Number,
		ReportDate: r.Project.ReportDate,
	}
	for i, t := range r.Trials {
		trial := Trial{
			Name:         t.Name,
			Position:     i,
			DesignInput:  encodeObject(t.DesignInput),
			DesignResult: encodeObject(t.DesignResult),
		}
		for _, rec := range t.Tests {
			trial.Tests = append(trial.Tests, TestRecord{
				SpecimenCode: rec.SpecimenCode,
				AgeDays:      rec.AgeDays,
				TestedAt:     rec.TestedAt,
				Input:        encodeObject(rec.Input),
				Result:       encodeObject(rec.Result),
			})
		}
		project.Trials = append(project.Trials, trial)
	}

	if err := s.db.WithContext(ctx).Create(&project).Error; err != nil {
		return 0, fmt.Errorf("import report: %w", err)
	}
	return project.ID, nil
}

func toReport(p Project) *reportdata.Report {
	report := &reportdata.Report{
		Project: projectOf(p),
		Trials:  make([]reportdata.Trial, 0, len(p.Trials)),
	}
	for _, t := range p.Trials {
		trial := reportdata.Trial{
			ID:           t.ID,
			Name:         t.Name,
			DesignInput:  decodeObject(t.DesignInput),
			DesignResult: decodeObject(t.DesignResult),
			Tests:        make([]reportdata.TestRecord, 0, len(t.Tests)),
		}
		for _, rec := range t.Tests {
			trial.Tests = append(trial.Tests, reportdata.TestRecord{
				ID:           rec.ID,
				SpecimenCode: rec.SpecimenCode,
				AgeDays:      rec.AgeDays,
				TestedAt:     rec.TestedAt,
				Input:        decodeObject(rec.Input),
				Result:       decodeObject(rec.Result),
			})
		}
		report.Trials = append(report.Trials, trial)
	}
	return report
}

func projectOf(p Project) reportdata.Project {
	return reportdata.Project{
		ID:         p.ID,
		Name:       p.Name,
		ClientName: p.ClientName,
		Location:   p.Location,
		Number:     p.Number,
		ReportDate: p.ReportDate,
	}
}

func decodeObject(raw datatypes.JSON) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

func encodeObject(m map[string]any) datatypes.JSON {
	if m == nil {
		return datatypes.JSON("{}")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(data)
}
