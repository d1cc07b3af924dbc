package attendance

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrNotFound is returned for unknown employee or record ids.
	ErrNotFound = errors.New("not found")
	// ErrCooldown marks a scan rejected inside the cooldown window; see CooldownError.
	ErrCooldown = errors.New("scan cooldown active")
	// ErrConflict is returned when a concurrent write for the same employee won.
	ErrConflict = errors.New("conflict")
	// ErrStoreUnavailable wraps persistence failures. Callers may retry.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrForbidden is returned when a caller acts on a record it does not own.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials is returned for an unknown email or wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrNotVerified is returned when an unverified employee logs in.
	ErrNotVerified = errors.New("account awaiting admin verification")
	// ErrValidation marks malformed input.
	ErrValidation = errors.New("validation error")
	// ErrInvalidQR is a validation error for unknown QR content.
	ErrInvalidQR = fmt.Errorf("%w: invalid qr code", ErrValidation)
)

// CooldownError carries the time left before the employee may scan again.
type CooldownError struct {
	Remaining time.Duration
	// Window, when set, bounds Seconds.
	Window time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("scan cooldown active, %ds remaining", e.Seconds())
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldown
}

// Seconds returns the remaining time rounded up to whole seconds, never more
// than the whole seconds in Window and never less than one.
func (e *CooldownError) Seconds() int {
	secs := int(math.Ceil(e.Remaining.Seconds()))
	if e.Window > 0 {
		if limit := int(e.Window / time.Second); secs > limit {
			secs = limit
		}
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}
