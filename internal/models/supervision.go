package models

import (
	"time"

	"gorm.io/datatypes"
)

// SupervisionRecord is the persisted row of a finalized supervision. Fields
// holds every column of the row keyed by its header.
type SupervisionRecord struct {
	ID           uint              `gorm:"primaryKey;autoIncrement"`
	Sheet        string            `gorm:"size:64;not null;index"`
	OrderCode    string            `gorm:"size:64;index"`
	TemplateUUID string            `gorm:"size:36"`
	Fields       datatypes.JSONMap `gorm:"not null"`
	CreatedAt    time.Time
}
