package license

import (
	"time"

	"gorm.io/datatypes"

	"github.com/georgeminyillahmensah/license-service/services/catalog"
)

// Status is the stored license status. "expired" is deliberately absent: it is
// a projection over the expiration timestamp, never a write target.
type Status string

const (
	StatusPending   Status = "pending"
	StatusValid     Status = "valid"
	StatusRenewed   Status = "renewed"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

func (s Status) String() string {
	switch s {
	case StatusPending, StatusValid, StatusRenewed, StatusSuspended, StatusCancelled:
		return string(s)
	default:
		return ""
	}
}

// DerivedExpired is the effective status reported when the expiration
// timestamp has passed; cancelled always wins over it.
const DerivedExpired = "expired"

// LicenseKey is the customer-facing credential. The key value is generated
// once and never changes; keys are deactivated, not deleted.
type LicenseKey struct {
	ID            string    `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt     time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at" json:"updated_at"`
	Key           string    `gorm:"column:key;uniqueIndex;not null" json:"key"`
	BrandID       string    `gorm:"column:brand_id;index;not null" json:"brand_id"`
	CustomerEmail string    `gorm:"column:customer_email;index;not null" json:"customer_email"`
	IsActive      bool      `gorm:"column:is_active;default:true" json:"is_active"`

	// Relations
	Brand    *catalog.Brand `gorm:"foreignKey:BrandID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
	Licenses []License      `gorm:"foreignKey:LicenseKeyID;constraint:OnDelete:CASCADE" json:"-"`
}

func (LicenseKey) TableName() string { return "license_keys" }

// License grants access to one product under one license key.
type License struct {
	ID           string    `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"updated_at"`
	LicenseKeyID string    `gorm:"column:license_key_id;index;not null" json:"license_key_id"`
	ProductID    string    `gorm:"column:product_id;index;not null" json:"product_id"`
	Status       Status    `gorm:"column:status;index;not null;default:'valid'" json:"status"`

	// Seats is the activation ceiling, always >= 1. Seat consumption is never
	// stored here; it is counted from active activations at read time.
	Seats int `gorm:"column:seats;not null;default:1" json:"seats"`

	ExpirationDate time.Time `gorm:"column:expiration_date;index;not null" json:"expiration_date"`

	// OriginalExpiration is snapshotted on the first renewal only.
	OriginalExpiration *time.Time `gorm:"column:original_expiration" json:"original_expiration,omitempty"`
	RenewalCount       int        `gorm:"column:renewal_count;not null;default:0" json:"renewal_count"`

	SuspensionReason   string     `gorm:"column:suspension_reason" json:"suspension_reason,omitempty"`
	SuspendedAt        *time.Time `gorm:"column:suspended_at" json:"suspended_at,omitempty"`
	CancellationReason string     `gorm:"column:cancellation_reason" json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`

	// Relations
	LicenseKey *LicenseKey      `gorm:"foreignKey:LicenseKeyID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
	Product    *catalog.Product `gorm:"foreignKey:ProductID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

func (License) TableName() string { return "licenses" }

func (l *License) IsExpired(now time.Time) bool {
	return now.After(l.ExpirationDate)
}

// EffectiveStatus combines the stored status with the derived expiry view.
func (l *License) EffectiveStatus(now time.Time) string {
	if l.Status == StatusCancelled {
		return string(StatusCancelled)
	}
	if l.IsExpired(now) {
		return DerivedExpired
	}
	return string(l.Status)
}

// Entitled reports whether the stored status and expiration still qualify the
// license for activation and entitlement checks.
func (l *License) Entitled(now time.Time) bool {
	if l.Status != StatusValid && l.Status != StatusRenewed {
		return false
	}
	return !l.IsExpired(now)
}

// Audit trail operations.
const (
	OpProvision  = "provision"
	OpRenew      = "renew"
	OpSuspend    = "suspend"
	OpResume     = "resume"
	OpCancel     = "cancel"
	OpActivate   = "activate"
	OpDeactivate = "deactivate"
)

// Event is the append-only audit record written in the same transaction as
// every lifecycle or activation state change.
type Event struct {
	ID           string         `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt    time.Time      `gorm:"column:created_at" json:"created_at"`
	LicenseID    string         `gorm:"column:license_id;index;not null" json:"license_id"`
	ActivationID *string        `gorm:"column:activation_id" json:"activation_id,omitempty"`
	Operation    string         `gorm:"column:operation;not null" json:"operation"`
	Reason       string         `gorm:"column:reason" json:"reason"`
	Actor        string         `gorm:"column:actor" json:"actor"`
	Payload      datatypes.JSON `gorm:"column:payload" json:"payload,omitempty"`
}

func (Event) TableName() string { return "license_events" }
