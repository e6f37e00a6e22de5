package activation

import (
	"fmt"

	"github.com/georgeminyillahmensah/license-service/pkg/errutil"
)

// NotEntitledError reports an activation attempt against a license whose
// status or expiration no longer grants access.
type NotEntitledError struct {
	LicenseID string
	Current   string
}

func (e *NotEntitledError) Error() string {
	return fmt.Sprintf("license %s is not entitled to activate (status %q)", e.LicenseID, e.Current)
}

func (e *NotEntitledError) Status() errutil.CoreStatus {
	return errutil.StatusUnprocessableEntity
}

// SeatsExhaustedError reports that every seat of the license is occupied by an
// active activation.
type SeatsExhaustedError struct {
	LicenseID string
	Seats     int
}

func (e *SeatsExhaustedError) Error() string {
	return fmt.Sprintf("license %s has no available seats (limit %d)", e.LicenseID, e.Seats)
}

func (e *SeatsExhaustedError) Status() errutil.CoreStatus {
	return errutil.StatusConflict
}

// AlreadyInactiveError reports a deactivation of an activation that is not
// active. Repeat deactivations fail deterministically instead of succeeding
// silently.
type AlreadyInactiveError struct {
	ActivationID string
}

func (e *AlreadyInactiveError) Error() string {
	return fmt.Sprintf("activation %s is already inactive", e.ActivationID)
}

func (e *AlreadyInactiveError) Status() errutil.CoreStatus {
	return errutil.StatusConflict
}
