/**
 * @description
 * Referral graph resolution. A chain is at most two hops: the referrer and,
 * for affiliates, the affiliate's manager.
 */
package referral

import (
	"context"
	"errors"
	"strings"

	"github.com/affiliatehub/commission-service/internal/domain"
)

// UserFinder loads users. Missing users are reported as domain.ErrUserNotFound.
type UserFinder interface {
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByInviteCode(ctx context.Context, code string) (*domain.User, error)
}

// Resolver walks the referral graph.
type Resolver struct {
	users UserFinder
}

// NewResolver creates a Resolver.
func NewResolver(users UserFinder) *Resolver {
	return &Resolver{users: users}
}

// ResolveForUser resolves the chain for user's own referrer.
func (r *Resolver) ResolveForUser(ctx context.Context, user domain.User) (domain.ReferralChain, error) {
	if user.ReferredByID == nil || strings.TrimSpace(*user.ReferredByID) == "" {
		return domain.ReferralChain{}, nil
	}
	return r.ResolveByReferrerID(ctx, *user.ReferredByID)
}

// ResolveByReferrerID resolves the chain rooted at a known referrer id.
func (r *Resolver) ResolveByReferrerID(ctx context.Context, referrerID string) (domain.ReferralChain, error) {
	referrer, err := r.users.GetUserByID(ctx, referrerID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.ReferralChain{}, nil
		}
		return domain.ReferralChain{}, err
	}
	return r.chainFrom(ctx, referrer)
}

// ResolveByInviteCode resolves the chain rooted at the owner of code. An
// unknown code yields an empty chain.
func (r *Resolver) ResolveByInviteCode(ctx context.Context, code string) (domain.ReferralChain, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.ReferralChain{}, nil
	}
	referrer, err := r.users.GetUserByInviteCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.ReferralChain{}, nil
		}
		return domain.ReferralChain{}, err
	}
	return r.chainFrom(ctx, referrer)
}

func (r *Resolver) chainFrom(ctx context.Context, referrer *domain.User) (domain.ReferralChain, error) {
	if referrer == nil {
		return domain.ReferralChain{}, nil
	}
	chain := domain.ReferralChain{Referrer: referrer}
	if referrer.Role != domain.RoleAffiliate || referrer.ManagerID == nil {
		return chain, nil
	}

	manager, err := r.users.GetUserByID(ctx, *referrer.ManagerID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return chain, nil
		}
		return domain.ReferralChain{}, err
	}
	if manager.Role == domain.RoleManager {
		chain.ManagerOfReferrer = manager
	}
	return chain, nil
}
