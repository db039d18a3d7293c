package activation

import (
	"errors"

	"github.com/jhonslife/giro-license-server/internal/statemachine"
)

// statusMessage renders the localized status message a terminal displays to
// the operator. Suspended/Expired/Revoked are reported inline on the
// validate response body rather than as an HTTP error, matching the fleet's
// existing terminal UI copy.
func statusMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, statemachine.ErrSuspended):
		return "Licença suspensa", true
	case errors.Is(err, statemachine.ErrExpired):
		return "Licença expirada", true
	case errors.Is(err, statemachine.ErrRevoked):
		return "Licença revogada", true
	case errors.Is(err, statemachine.ErrHardwareMismatch):
		return "Hardware não autorizado para esta licença", true
	default:
		return "", false
	}
}
