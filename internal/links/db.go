package links

import (
	"context"
	"fmt"

	"github.com/zulandar/fieldaudit/internal/models"
	"gorm.io/gorm"
)

// DBStore keeps the registry in the evidence_groups and audit_links tables.
type DBStore struct {
	db *gorm.DB
}

// NewDBStore returns a DBStore over db. The tables must be migrated.
func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db}
}

// Load reads both tables.
func (s *DBStore) Load(ctx context.Context) (Config, error) {
	var groups []models.EvidenceGroup
	if err := s.db.WithContext(ctx).Find(&groups).Error; err != nil {
		return Config{}, fmt.Errorf("load evidence groups: %w", err)
	}
	var audit []models.AuditLink
	if err := s.db.WithContext(ctx).Find(&audit).Error; err != nil {
		return Config{}, fmt.Errorf("load audit links: %w", err)
	}
	cfg := Config{Evidence: make(map[string]string, len(groups)), Links: make(map[string]string, len(audit))}
	for _, g := range groups {
		cfg.Evidence[g.Key] = g.ChatID
	}
	for _, l := range audit {
		cfg.Links[l.Origin] = l.Dest
	}
	return cfg, nil
}

// Save replaces both tables with cfg in one transaction.
func (s *DBStore) Save(ctx context.Context, cfg Config) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.EvidenceGroup{}).Error; err != nil {
			return fmt.Errorf("clear evidence groups: %w", err)
		}
		if err := tx.Where("1 = 1").Delete(&models.AuditLink{}).Error; err != nil {
			return fmt.Errorf("clear audit links: %w", err)
		}
		for key, chat := range cfg.Evidence {
			if err := tx.Create(&models.EvidenceGroup{Key: key, ChatID: chat}).Error; err != nil {
				return fmt.Errorf("save evidence %q: %w", key, err)
			}
		}
		for origin, dest := range cfg.Links {
			if err := tx.Create(&models.AuditLink{Origin: origin, Dest: dest}).Error; err != nil {
				return fmt.Errorf("save link %q: %w", origin, err)
			}
		}
		return nil
	})
}
