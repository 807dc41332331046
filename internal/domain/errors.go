package domain

import "errors"

// Domain errors. Player and admin rejections are user-visible and non-fatal.
var (
	ErrValidation       = errors.New("invalid data")
	ErrImplausibleValue = errors.New("implausible values")
	ErrWordMismatch     = errors.New("word does not match the word of the day")
	ErrRateLimited      = errors.New("too many submissions today")
	ErrUnauthorized     = errors.New("invalid admin password")
	ErrInvalidFormat    = errors.New("invalid word format")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrUnknownAction    = errors.New("unknown action")
	ErrInternalError    = errors.New("internal server error")
)

// IsRejection reports whether err is an expected rejection of player or admin
// input rather than a failure of the system itself.
func IsRejection(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrImplausibleValue) ||
		errors.Is(err, ErrWordMismatch) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrInvalidFormat)
}
