package notifier

import (
	"time"

	"gorm.io/datatypes"
)

// Notification is the delivery ledger for processed background tasks. One row
// per handled task, kept for support lookups.
type Notification struct {
	ID           string         `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt    time.Time      `gorm:"column:created_at" json:"created_at"`
	TaskType     string         `gorm:"column:task_type;index;not null" json:"task_type"`
	LicenseID    string         `gorm:"column:license_id;index;not null" json:"license_id"`
	ActivationID *string        `gorm:"column:activation_id" json:"activation_id,omitempty"`
	Status       string         `gorm:"column:status;not null" json:"status"`
	Payload      datatypes.JSON `gorm:"column:payload" json:"payload,omitempty"`
}

func (Notification) TableName() string { return "notifications" }
