package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ReportTemplate 表示一份持久化的报告模板。
// 模板名称唯一；删除为物理删除，删除后名称可以重新使用。
type ReportTemplate struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Name            string         `gorm:"uniqueIndex;size:255;not null" json:"name"`
	Content         datatypes.JSON `json:"content"` // {layout, pageSettings}
	Version         int            `gorm:"not null;default:1" json:"version"`
	PreviewImageKey string         `gorm:"size:512" json:"previewImageKey,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// Project 是实验室报告所属的项目。
type Project struct {
	gorm.Model
	Name       string    `gorm:"size:255"`
	ClientName string    `gorm:"size:255"`
	Location   string    `gorm:"size:255"`
	Number     string    `gorm:"size:64;index"`
	ReportDate time.Time
	Trials     []Trial `gorm:"constraint:OnDelete:CASCADE"`
}

// Trial 是一次配合比试拌；设计输入与设计结果以 JSON 存储。
type Trial struct {
	gorm.Model
	ProjectID    uint   `gorm:"index"`
	Name         string `gorm:"size:255"`
	Position     int
	DesignInput  datatypes.JSON
	DesignResult datatypes.JSON
	Tests        []TestRecord `gorm:"constraint:OnDelete:CASCADE"`
}

// TestRecord 是单个试件的测试记录。
type TestRecord struct {
	gorm.Model
	TrialID      uint   `gorm:"index"`
	SpecimenCode string `gorm:"size:64"`
	AgeDays      int
	TestedAt     time.Time
	Input        datatypes.JSON
	Result       datatypes.JSON
}

// AllModels 返回需要迁移的全部模型。
func AllModels() []any {
	return []any{&ReportTemplate{}, &Project{}, &Trial{}, &TestRecord{}}
}
