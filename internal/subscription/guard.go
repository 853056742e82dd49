package subscription

import (
	"context"

	"pass-provisioning/internal/models"
)

// Guard answers whether a purchase has already been provisioned. It reads
// the primary store on every call, never a cache.
type Guard struct {
	repo Repository
}

func NewGuard(repo Repository) *Guard {
	return &Guard{repo: repo}
}

// Check returns the existing subscription for the correlation, or nil.
func (g *Guard) Check(ctx context.Context, c models.Correlation) (*models.Subscription, error) {
	return g.repo.FindByCorrelation(ctx, c)
}
