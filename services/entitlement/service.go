package entitlement

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/georgeminyillahmensah/license-service/pkg/errutil"
	"github.com/georgeminyillahmensah/license-service/pkg/repository"
	"github.com/georgeminyillahmensah/license-service/services/activation"
	"github.com/georgeminyillahmensah/license-service/services/catalog"
	"github.com/georgeminyillahmensah/license-service/services/license"
)

// Service answers entitlement questions. Strictly read-only: no row is
// written, no status is stored, expiry is derived at query time.
type Service struct {
	db *gorm.DB

	keys        repository.Repository[license.LicenseKey]
	licenses    repository.Repository[license.License]
	products    repository.Repository[catalog.Product]
	activations repository.Repository[activation.Activation]
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db: p.DB,

		keys:        repository.ProvideStore[license.LicenseKey](p.DB),
		licenses:    repository.ProvideStore[license.License](p.DB),
		products:    repository.ProvideStore[catalog.Product](p.DB),
		activations: repository.ProvideStore[activation.Activation](p.DB),
	}
}

type CheckStatusRequest struct {
	LicenseKey         string `json:"license_key" binding:"required"`
	ProductSlug        string `json:"product_slug"`
	InstanceIdentifier string `json:"instance_identifier"`
}

type LicenseStatus struct {
	LicenseID      string    `json:"license_id"`
	ProductID      string    `json:"product_id"`
	ProductSlug    string    `json:"product_slug"`
	Status         string    `json:"status"`
	Seats          int       `json:"seats"`
	AvailableSeats int       `json:"available_seats"`
	ExpirationDate time.Time `json:"expiration_date"`
	InstanceActive *bool     `json:"instance_active,omitempty"`
}

type CheckStatusResponse struct {
	Valid    bool            `json:"valid"`
	Message  string          `json:"message,omitempty"`
	Licenses []LicenseStatus `json:"licenses,omitempty"`
}

// CheckStatus reports the entitlement view of a license key. Only
// currently-valid licenses (status valid/renewed, unexpired) are listed; an
// unknown or inactive key, or a key with none left, is a negative outcome in
// the response body, not an error.
func (s *Service) CheckStatus(ctx context.Context, req *CheckStatusRequest) (*CheckStatusResponse, error) {
	now := time.Now()

	key, err := s.keys.FindOne(ctx, &license.LicenseKey{Key: req.LicenseKey, IsActive: true})
	if err != nil {
		zap.L().Error("failed query get license key", zap.Error(err))
		return nil, errutil.Internal("failed to resolve license key", err)
	}
	if key == nil {
		return &CheckStatusResponse{Valid: false, Message: "license key not found"}, nil
	}

	licenses, err := s.licenses.Find(ctx, &license.License{LicenseKeyID: key.ID})
	if err != nil {
		zap.L().Error("failed query list licenses", zap.Error(err))
		return nil, errutil.Internal("failed to list licenses", err)
	}

	resp := &CheckStatusResponse{}
	matched := 0
	for _, lic := range licenses {
		product, err := s.products.FindOne(ctx, &catalog.Product{ID: lic.ProductID})
		if err != nil {
			return nil, errutil.Internal("failed to resolve product", err)
		}
		if product == nil {
			continue
		}
		if req.ProductSlug != "" && product.Slug != req.ProductSlug {
			continue
		}
		matched++

		if !lic.Entitled(now) {
			continue
		}

		activeCount, err := s.activations.Count(ctx, &activation.Activation{LicenseID: lic.ID, IsActive: true})
		if err != nil {
			return nil, errutil.Internal("failed to count activations", err)
		}

		available := lic.Seats - int(activeCount)
		if available < 0 {
			available = 0
		}

		status := LicenseStatus{
			LicenseID:      lic.ID,
			ProductID:      product.ID,
			ProductSlug:    product.Slug,
			Status:         lic.EffectiveStatus(now),
			Seats:          lic.Seats,
			AvailableSeats: available,
			ExpirationDate: lic.ExpirationDate,
		}

		if req.InstanceIdentifier != "" {
			existing, err := s.activations.FindOne(ctx, &activation.Activation{
				LicenseID:          lic.ID,
				InstanceIdentifier: req.InstanceIdentifier,
				IsActive:           true,
			})
			if err != nil {
				return nil, errutil.Internal("failed to check instance activation", err)
			}
			instanceActive := existing != nil
			status.InstanceActive = &instanceActive
		}

		resp.Licenses = append(resp.Licenses, status)
		resp.Valid = true
	}

	if !resp.Valid {
		if matched == 0 {
			resp.Message = "no licenses for this key"
		} else {
			resp.Message = "no currently valid license"
		}
	}

	return resp, nil
}
