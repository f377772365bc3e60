package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ehr/ipd/pkg/apperr"
)

type getter interface {
	Get(ctx context.Context, id uuid.UUID) (*Entry, error)
}

// RequireActive fails with NotFound when id is unknown and InvalidArgument
// when the record exists but is inactive.
func RequireActive(ctx context.Context, dir getter, noun string, id uuid.UUID) error {
	if id == uuid.Nil {
		return apperr.InvalidArgument("%s_id is required", noun)
	}
	e, err := dir.Get(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.NotFound("%s %s not found", noun, id)
	}
	if err != nil {
		return err
	}
	if !e.Active {
		return apperr.InvalidArgument("%s %s is inactive", noun, id)
	}
	return nil
}
