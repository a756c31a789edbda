package models

import "time"

// EvidenceGroup registers the destination chat of an evidence key.
type EvidenceGroup struct {
	Key       string `gorm:"primaryKey;size:64"`
	ChatID    string `gorm:"size:64;not null"`
	UpdatedAt time.Time
}

// AuditLink maps an audit (origin) chat to its evidence (destination) chat.
type AuditLink struct {
	Origin    string `gorm:"primaryKey;size:64"`
	Dest      string `gorm:"size:64;not null"`
	UpdatedAt time.Time
}
