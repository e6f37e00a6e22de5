package license

import (
	"fmt"

	"github.com/georgeminyillahmensah/license-service/pkg/errutil"
)

// TransitionError reports a lifecycle operation attempted from a status that
// does not allow it. It carries the effective status at decision time so
// callers can distinguish a stored status from a derived expiry.
type TransitionError struct {
	Current   string
	Attempted string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s license in status %q", e.Attempted, e.Current)
}

func (e *TransitionError) Status() errutil.CoreStatus {
	return errutil.StatusUnprocessableEntity
}
