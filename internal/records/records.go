// Package records stores supervision rows and order templates in SQL
// through GORM. It is the storage.backend "sql" counterpart of the sheets
// package.
package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/fieldaudit/internal/models"
	"github.com/zulandar/fieldaudit/internal/supervision"
	"github.com/zulandar/fieldaudit/internal/templates"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Row keys copied into indexed columns.
const (
	fieldOrderCode    = "Código de pedido"
	fieldTemplateUUID = "PlantillaUUID"
)

// Store implements the row, template, and lookup contracts over a GORM
// database. The tables must be migrated.
type Store struct {
	db *gorm.DB
}

// New returns a Store over db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AppendRow inserts a supervision record for table.
func (s *Store) AppendRow(ctx context.Context, table string, fields map[string]string) error {
	m := make(datatypes.JSONMap, len(fields))
	for k, v := range fields {
		m[k] = v
	}
	rec := models.SupervisionRecord{
		Sheet:        table,
		OrderCode:    fields[fieldOrderCode],
		TemplateUUID: fields[fieldTemplateUUID],
		Fields:       m,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("records: append %s: %w", table, err)
	}
	return nil
}

// AppendTemplate inserts a template record.
func (s *Store) AppendTemplate(ctx context.Context, r templates.Record) error {
	rec := models.TemplateRecord{
		UUID:       r.UUID,
		OrderCode:  r.Form.OrderCode,
		Technician: r.Form.Technician,
		Contractor: r.Form.Contractor,
		District:   r.Form.District,
		Manager:    r.Form.Manager,
		ChatID:     r.Chat,
		UserID:     r.User,
		Raw:        r.Raw,
		CreatedAt:  r.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("records: append template %s: %w", r.Form.OrderCode, err)
	}
	return nil
}

// Lookup returns the newest template for code, or nil when there is none.
func (s *Store) Lookup(ctx context.Context, code string) (*supervision.TemplateData, error) {
	var rec models.TemplateRecord
	err := s.db.WithContext(ctx).Where("order_code = ?", code).Order("id DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("records: lookup %s: %w", code, err)
	}
	return &supervision.TemplateData{
		Technician: rec.Technician,
		Contractor: rec.Contractor,
		District:   rec.District,
		Manager:    rec.Manager,
		TemplateID: rec.UUID,
	}, nil
}

// DeleteLastTemplate deletes the newest template of chat and user for code.
func (s *Store) DeleteLastTemplate(ctx context.Context, chat, user, code string) (bool, error) {
	var rec models.TemplateRecord
	err := s.db.WithContext(ctx).
		Where("chat_id = ? AND user_id = ? AND order_code = ?", chat, user, code).
		Order("id DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("records: find template %s: %w", code, err)
	}
	if err := s.db.WithContext(ctx).Delete(&rec).Error; err != nil {
		return false, fmt.Errorf("records: delete template %s: %w", code, err)
	}
	return true, nil
}

// Recent returns up to limit supervision records of table, newest first.
func (s *Store) Recent(ctx context.Context, table string, limit int) ([]models.SupervisionRecord, error) {
	var recs []models.SupervisionRecord
	err := s.db.WithContext(ctx).Where("sheet = ?", table).Order("id DESC").Limit(limit).Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("records: recent %s: %w", table, err)
	}
	return recs, nil
}
