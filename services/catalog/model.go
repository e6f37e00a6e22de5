package catalog

import (
	"time"
)

// Brand is a licensing tenant. It owns products and license keys; deleting a
// brand cascades through everything it issued.
type Brand struct {
	ID          string    `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at" json:"updated_at"`
	Name        string    `gorm:"column:name;uniqueIndex;not null" json:"name"`
	Slug        string    `gorm:"column:slug;uniqueIndex;not null" json:"slug"`
	Description string    `gorm:"column:description" json:"description"`
	IsActive    bool      `gorm:"column:is_active;default:true" json:"is_active"`

	// Relations
	Products []Product `gorm:"foreignKey:BrandID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Brand) TableName() string { return "brands" }

// Product is a licensable unit within a brand. Slug is unique per brand, not
// globally.
type Product struct {
	ID          string    `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at" json:"updated_at"`
	BrandID     string    `gorm:"column:brand_id;index;not null;uniqueIndex:idx_products_brand_slug" json:"brand_id"`
	Name        string    `gorm:"column:name;not null" json:"name"`
	Slug        string    `gorm:"column:slug;not null;uniqueIndex:idx_products_brand_slug" json:"slug"`
	Description string    `gorm:"column:description" json:"description"`
	IsActive    bool      `gorm:"column:is_active;default:true" json:"is_active"`

	// Relations
	Brand *Brand `gorm:"foreignKey:BrandID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Product) TableName() string { return "products" }
