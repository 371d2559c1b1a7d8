package data

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// Transactor runs fn inside a multi-document transaction when the
// deployment supports it. *db.Client satisfies it.
type Transactor interface {
	TransactionsEnabled() bool
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type premiumRequests interface {
	Outstanding(ctx context.Context, email string) (*PremiumRequest, error)
	LatestApproved(ctx context.Context, email string) (*PremiumRequest, error)
	MarkApproving(ctx context.Context, email string) error
	Finish(ctx context.Context, email string, at time.Time) (*PremiumRequest, error)
}

type premiumUsers interface {
	SetPremiumMember(ctx context.Context, email string) error
}

type premiumBiodatas interface {
	SetPremium(ctx context.Context, email string) error
}

// PremiumApprover flips a premium request, its user and its biodata together.
type PremiumApprover struct {
	tx       Transactor
	requests premiumRequests
	users    premiumUsers
	biodatas premiumBiodatas
	now      func() time.Time
}

// NewPremiumApprover wires an approver over the given stores.
func NewPremiumApprover(tx Transactor, requests premiumRequests, users premiumUsers, biodatas premiumBiodatas) *PremiumApprover {
	return &PremiumApprover{
		tx:       tx,
		requests: requests,
		users:    users,
		biodatas: biodatas,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Approve grants premium to email. With transactions enabled the three
// writes commit atomically. Otherwise the request first moves to approving,
// each write is idempotent and the request is closed last, so re-issuing
// Approve after a failure completes the remaining steps.
//
// Approving an email whose request is already closed returns that request.
func (a *PremiumApprover) Approve(ctx context.Context, email string) (*PremiumRequest, error) {
	if a.tx != nil && a.tx.TransactionsEnabled() {
		var out *PremiumRequest
		err := a.tx.WithTransaction(ctx, func(ctx context.Context) error {
			var err error
			out, err = a.run(ctx, email)
			return err
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return a.run(ctx, email)
}

func (a *PremiumApprover) run(ctx context.Context, email string) (*PremiumRequest, error) {
	req, err := a.requests.Outstanding(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return a.requests.LatestApproved(ctx, email)
	}
	if err != nil {
		return nil, err
	}

	if req.Status == StatusApproving {
		log.Info().Str("email", req.Email).Msg("resuming premium approval")
	}
	if err := a.requests.MarkApproving(ctx, email); err != nil {
		return nil, err
	}
	if err := a.users.SetPremiumMember(ctx, email); err != nil {
		return nil, err
	}
	if err := a.biodatas.SetPremium(ctx, email); err != nil {
		return nil, err
	}
	return a.requests.Finish(ctx, email, a.now())
}
