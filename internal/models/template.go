package models

import "time"

// TemplateRecord is a pre-filled order form pasted into an audit group.
// The latest record for an order code prefills the matching supervision.
type TemplateRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	UUID       string    `gorm:"size:36;uniqueIndex;not null"`
	OrderCode  string    `gorm:"size:64;not null;index"`
	Technician string    `gorm:"size:128"`
	Contractor string    `gorm:"size:128"`
	District   string    `gorm:"size:128"`
	Manager    string    `gorm:"size:128"`
	ChatID     string    `gorm:"size:64;index"`
	UserID     string    `gorm:"size:64;index"`
	Raw        string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index"`
}
