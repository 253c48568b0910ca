package service

import (
	"errors"
	"fmt"

	"github.com/capitalize-ai/support-chat/internal/store"
)

// Error taxonomy surfaced to transports. Anything not wrapping one of these is
// an internal error.
var (
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("forbidden")
	ErrNotFound   = errors.New("not found")
)

// notFound converts a store miss into ErrNotFound and wraps anything else.
func notFound(err error, what, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
	}
	return fmt.Errorf("get %s %s: %w", what, id, err)
}
