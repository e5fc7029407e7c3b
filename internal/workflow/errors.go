package workflow

import (
	"errors"
	"fmt"

	"github.com/antigravity-dev/tracker/internal/policy"
	"github.com/antigravity-dev/tracker/internal/store"
)

// Error kinds returned by Engine. Match with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = policy.ErrForbidden
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrStore      = errors.New("store error")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}

// storeErr maps a store failure onto the engine's error kinds.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%s: %w", op, ErrConflict)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
	}
}
