package securityflag

import (
	"context"
	"time"

	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/domain"
)

// Resolve marks a flag resolved exactly once. Resolving an already resolved
// flag is an idempotent no-op that returns the stored record with its
// original resolution fields; a missing flag returns domain.ErrFlagNotFound.
func Resolve(ctx context.Context, repo domain.SecurityFlagRepository, id, resolvedBy, notes string) (*domain.SecurityFlag, error) {
	if _, err := repo.MarkResolved(ctx, id, resolvedBy, notes, time.Now().UTC()); err != nil {
		return nil, err
	}
	// A zero match means either already resolved or missing; GetByID
	// distinguishes by returning the stored record or ErrFlagNotFound.
	return repo.GetByID(ctx, id)
}
