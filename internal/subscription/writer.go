package subscription

import (
	"context"
	stderrors "errors"

	"pass-provisioning/internal/common/clock"
	apperrors "pass-provisioning/internal/common/errors"
	"pass-provisioning/internal/models"
	"pass-provisioning/internal/validity"

	"github.com/google/uuid"
)

// Writer creates subscriptions. Two concurrent deliveries of the same
// purchase may both pass the guard; the store's unique indexes let exactly
// one insert win and the loser returns the winner's record.
type Writer struct {
	repo  Repository
	clock clock.Clock
	newID func() string
}

func NewWriter(repo Repository, clk clock.Clock) *Writer {
	return &Writer{
		repo:  repo,
		clock: clk,
		newID: func() string { return uuid.NewString() },
	}
}

// Request carries everything needed to build one subscription record.
type Request struct {
	Event  *models.PaymentEvent
	Policy *models.PassPolicy
	Window validity.Window
}

// Result reports the stored subscription and whether this call created it.
type Result struct {
	Subscription *models.Subscription
	Created      bool
}

func (w *Writer) Provision(ctx context.Context, req Request) (*Result, error) {
	md := req.Event.Data.Metadata
	sub := &models.Subscription{
		ID:            w.newID(),
		BeneficiaryID: md.BeneficiaryID,
		TenantID:      md.TenantID,
		PolicyID:      req.Policy.ID,
		PolicyName:    req.Policy.Name,
		PolicyKind:    req.Policy.Kind,
		ActivatedAt:   req.Window.Start,
		ExpiresAt:     req.Window.End,
		UsageCount:    0,
		UsageLimit:    req.Window.UsageLimit,
		Active:        true,
		SessionID:     req.Event.Data.SessionID,
		PaymentID:     req.Event.Data.PaymentID,
		EventID:       req.Event.ID,
		AmountMinor:   req.Event.Data.AmountMinor,
		Currency:      req.Event.Data.Currency,
		CreatedAt:     w.clock.Now(),
	}

	err := w.repo.Insert(ctx, sub)
	if err == nil {
		return &Result{Subscription: sub, Created: true}, nil
	}
	if !stderrors.Is(err, ErrDuplicate) {
		return nil, err
	}

	existing, findErr := w.repo.FindByCorrelation(ctx, sub.Correlation())
	if findErr != nil {
		return nil, findErr
	}
	if existing == nil {
		// The conflicting row vanished between insert and read.
		return nil, apperrors.NewTransientStoreError("subscription.reread_after_conflict", err)
	}
	return &Result{Subscription: existing, Created: false}, nil
}
