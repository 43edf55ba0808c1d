package models

import (
	"time"

	"gorm.io/gorm"
)

// DeviceRecord mirrors a registered device into the optional audit database.
// The in-memory registry stays authoritative; these rows are write-only.
type DeviceRecord struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	DeviceID      string `gorm:"uniqueIndex;size:64;not null" json:"device_id"`
	Name          string `gorm:"size:255" json:"name"`
	Kind          string `gorm:"size:64"  json:"kind"`
	SourceAddress string `gorm:"size:64"  json:"source_address"`
	State         string `gorm:"size:64"  json:"state"`
	Approved      bool   `json:"approved"`
}

// DeviceEvent is one audit-trail entry (registered, approved, rejected,
// went offline, came back online).
type DeviceEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	DeviceID string `gorm:"index;size:64;not null" json:"device_id"`
	Event    string `gorm:"size:64;not null" json:"event"`
	Detail   string `gorm:"size:255" json:"detail"`
}
