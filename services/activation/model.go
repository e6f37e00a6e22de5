package activation

import (
	"time"

	"github.com/georgeminyillahmensah/license-service/services/license"
)

// Activation records one instance occupying one seat of a license. The partial
// unique index keeps at most one active row per (license, instance) pair while
// preserving the history of deactivated rows.
type Activation struct {
	ID                 string     `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt          time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at" json:"updated_at"`
	LicenseID          string     `gorm:"column:license_id;index;not null;uniqueIndex:idx_activations_active_pair,where:is_active" json:"license_id"`
	InstanceIdentifier string     `gorm:"column:instance_identifier;not null;uniqueIndex:idx_activations_active_pair,where:is_active" json:"instance_identifier"`
	InstanceType       string     `gorm:"column:instance_type" json:"instance_type"`
	IsActive           bool       `gorm:"column:is_active;default:true" json:"is_active"`
	DeactivatedAt      *time.Time `gorm:"column:deactivated_at" json:"deactivated_at,omitempty"`
	DeactivationReason string     `gorm:"column:deactivation_reason" json:"deactivation_reason,omitempty"`

	// Relations
	License *license.License `gorm:"foreignKey:LicenseID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Activation) TableName() string { return "activations" }
