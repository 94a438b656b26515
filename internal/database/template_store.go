package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrTemplateNotFound 表示模板不存在。
	ErrTemplateNotFound = errors.New("template not found")
	// ErrDuplicateName 表示模板名称已被占用。
	ErrDuplicateName = errors.New("template name already exists")
	// ErrInvalidName 表示模板名称为空。
	ErrInvalidName = errors.New("template name is required")
	// ErrInvalidContent 表示模板内容不是合法 JSON。
	ErrInvalidContent = errors.New("template content must be valid json")
)

// TemplateStore 是模板持久化协作者：列表、创建、更新、删除。名称唯一性在这里保证。
type TemplateStore struct {
	db *gorm.DB
}

// NewTemplateStore 返回基于 gorm 的模板存储。
func NewTemplateStore(db *gorm.DB) *TemplateStore {
	return &TemplateStore{db: db}
}

// List 按最近更新排序返回全部模板。
func (s *TemplateStore) List(ctx context.Context) ([]ReportTemplate, error) {
	var items []ReportTemplate
	if err := s.db.WithContext(ctx).Order("updated_at DESC, id DESC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return items, nil
}

// Get 按 id 读取模板。
func (s *TemplateStore) Get(ctx context.Context, id uint) (ReportTemplate, error) {
	var model ReportTemplate
	if err := s.db.WithContext(ctx).First(&model, id).Error; err != nil {
		return ReportTemplate{}, translate(err, "get template")
	}
	return model, nil
}

// GetByName 按名称读取模板。
func (s *TemplateStore) GetByName(ctx context.Context, name string) (ReportTemplate, error) {
	var model ReportTemplate
	if err := s.db.WithContext(ctx).Where("name = ?", strings.TrimSpace(name)).First(&model).Error; err != nil {
		return ReportTemplate{}, translate(err, "get template by name")
	}
	return model, nil
}

// Create 新建模板，名称重复时返回 ErrDuplicateName。
func (s *TemplateStore) Create(ctx context.Context, name string, content []byte) (ReportTemplate, error) {
	name, err := checkInput(name, content)
	if err != nil {
		return ReportTemplate{}, err
	}
	model := ReportTemplate{Name: name, Content: datatypes.JSON(content), Version: 1}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureNameFree(tx, name, 0); err != nil {
			return err
		}
		return tx.Create(&model).Error
	})
	if err != nil {
		return ReportTemplate{}, translate(err, "create template")
	}
	return model, nil
}

// Update 覆盖模板名称与内容并递增版本号。
func (s *TemplateStore) Update(ctx context.Context, id uint, name string, content []byte) (ReportTemplate, error) {
	name, err := checkInput(name, content)
	if err != nil {
		return ReportTemplate{}, err
	}

	var model ReportTemplate
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&model, id).Error; err != nil {
			return err
		}
		if err := ensureNameFree(tx, name, id); err != nil {
			return err
		}
		model.Name = name
		model.Content = datatypes.JSON(content)
		model.Version++
		return tx.Save(&model).Error
	})
	if err != nil {
		return ReportTemplate{}, translate(err, "update template")
	}
	return model, nil
}

// SetPreviewImage 记录模板缩略图的对象键，不改变版本号。
func (s *TemplateStore) SetPreviewImage(ctx context.Context, id uint, key string) error {
	res := s.db.WithContext(ctx).Model(&ReportTemplate{}).Where("id = ?", id).Update("preview_image_key", key)
	if res.Error != nil {
		return fmt.Errorf("set preview image: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// Delete 物理删除模板。
func (s *TemplateStore) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&ReportTemplate{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete template: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

func checkInput(name string, content []byte) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}
	if !json.Valid(content) {
		return "", ErrInvalidContent
	}
	return name, nil
}

func ensureNameFree(tx *gorm.DB, name string, exceptID uint) error {
	var count int64
	q := tx.Model(&ReportTemplate{}).Where("name = ?", name)
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateName
	}
	return nil
}

// translate 把 gorm 错误映射为包内哨兵错误，其余错误加上操作名包装。
func translate(err error, op string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrTemplateNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicateName
	case errors.Is(err, ErrTemplateNotFound),
		errors.Is(err, ErrDuplicateName),
		errors.Is(err, ErrInvalidName),
		errors.Is(err, ErrInvalidContent):
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
