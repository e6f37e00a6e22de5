package activation

import (
	"context"

	"gorm.io/gorm"

	"github.com/georgeminyillahmensah/license-service/pkg/errutil"
	"github.com/georgeminyillahmensah/license-service/services/license"
)

// AvailableSeats reports how many activations the license can still accept.
// Always counted from storage at call time, never cached.
func (s *Service) AvailableSeats(ctx context.Context, licenseID string) (int, error) {
	lic, err := s.licenses.FindOne(ctx, &license.License{ID: licenseID})
	if err != nil {
		return 0, errutil.Internal("failed to get license", err)
	}
	if lic == nil {
		return 0, errutil.NotFound("license not found", nil)
	}

	return s.availableSeats(ctx, nil, lic)
}

// availableSeats computes max(0, seats - active activations), optionally
// inside the caller's transaction.
func (s *Service) availableSeats(ctx context.Context, tx *gorm.DB, lic *license.License) (int, error) {
	active, err := s.activations.WithTrx(tx).Count(ctx, &Activation{LicenseID: lic.ID, IsActive: true})
	if err != nil {
		return 0, errutil.Internal("failed to count active activations", err)
	}

	available := lic.Seats - int(active)
	if available < 0 {
		available = 0
	}
	return available, nil
}
