package app

import (
	"context"
	"errors"
	"strings"

	"github.com/affiliatehub/commission-service/internal/domain"
	"github.com/affiliatehub/commission-service/internal/store"
)

// RegistrationResult reports what onboarding did for a new user.
type RegistrationResult struct {
	UserID           string                   `json:"user_id"`
	ReferrerID       *string                  `json:"referrer_id,omitempty"`
	ManagerAssigned  bool                     `json:"manager_assigned"`
	FreePlanEnrolled bool                     `json:"free_plan_enrolled"`
	Commission       *domain.CommissionResult `json:"commission,omitempty"`
}

// OnUserRegistered attributes a new user to the owner of referralCode, puts
// customers on the free plan and awards the signup bonus. Replaying the same
// registration changes nothing.
func (s *Service) OnUserRegistered(ctx context.Context, userID, referralCode string) (*RegistrationResult, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	result := &RegistrationResult{UserID: user.ID, ReferrerID: user.ReferredByID}

	referralCode = strings.TrimSpace(referralCode)
	chain, err := s.resolver.ResolveByInviteCode(ctx, referralCode)
	if err != nil {
		return nil, err
	}

	if chain.Referrer != nil && chain.Referrer.ID != user.ID && user.ReferredByID == nil {
		if err := s.attachReferrer(ctx, user, chain.Referrer, result); err != nil {
			return nil, err
		}
	}

	if user.Role == domain.RoleCustomer {
		if _, err := s.repo.GetActiveSubscription(ctx, user.ID); errors.Is(err, domain.ErrNoActiveSubscription) {
			if _, err := s.EnrollFreePlan(ctx, user.ID); err != nil {
				return nil, err
			}
			result.FreePlanEnrolled = true
		} else if err != nil {
			return nil, err
		}
	}

	if chain.Referrer != nil && result.ReferrerID != nil && *result.ReferrerID == chain.Referrer.ID {
		commission, err := s.ProcessSignupCommission(ctx, user.ID, referralCode)
		if err != nil {
			return nil, err
		}
		result.Commission = commission
	}
	return result, nil
}

func (s *Service) attachReferrer(ctx context.Context, user *domain.User, referrer *domain.User, result *RegistrationResult) error {
	return s.repo.WithinTx(ctx, func(tx store.Tx) error {
		locked, err := tx.GetUserForUpdate(ctx, user.ID)
		if err != nil {
			return err
		}
		if locked.ReferredByID != nil {
			result.ReferrerID = locked.ReferredByID
			user.ReferredByID = locked.ReferredByID
			return nil
		}

		var managerID *string
		if locked.Role == domain.RoleAffiliate && referrer.Role == domain.RoleManager && locked.ManagerID == nil {
			managerID = &referrer.ID
		}
		if err := tx.SetReferrer(ctx, locked.ID, referrer.ID, managerID); err != nil {
			return err
		}

		referrerID := referrer.ID
		user.ReferredByID = &referrerID
		result.ReferrerID = &referrerID
		if managerID != nil {
			user.ManagerID = managerID
			result.ManagerAssigned = true
		}
		return nil
	})
}

// AssignManager links an affiliate to a manager. An empty managerID removes
// the link.
func (s *Service) AssignManager(ctx context.Context, affiliateID, managerID, adminID string) (*domain.User, error) {
	var updated *domain.User
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		affiliate, err := tx.GetUserForUpdate(ctx, affiliateID)
		if err != nil {
			return err
		}
		if affiliate.Role != domain.RoleAffiliate {
			return domain.ErrInvalidManager
		}

		var target *string
		if managerID != "" {
			manager, err := tx.GetUserForUpdate(ctx, managerID)
			if err != nil {
				return err
			}
			if manager.Role != domain.RoleManager || manager.ID == affiliate.ID {
				return domain.ErrInvalidManager
			}
			target = &manager.ID
		}

		if err := tx.SetManager(ctx, affiliate.ID, target); err != nil {
			return err
		}
		affiliate.ManagerID = target

		details := map[string]interface{}{"affiliateId": affiliate.ID, "managerId": managerID, "assignedBy": adminID}
		if err := tx.InsertActivity(ctx, domain.ActivityLog{UserID: affiliate.ID, Action: domain.ActionManagerAssigned, Details: details}); err != nil {
			return err
		}
		if adminID != "" {
			if err := tx.InsertActivity(ctx, domain.ActivityLog{UserID: adminID, Action: domain.ActionManagerAssigned, Details: details}); err != nil {
				return err
			}
		}
		updated = affiliate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ChangeRole sets a user's role. A user who is no longer an affiliate loses
// their manager link.
func (s *Service) ChangeRole(ctx context.Context, userID string, role domain.Role, adminID string) (*domain.User, error) {
	if !role.Valid() {
		return nil, domain.ErrInvalidRole
	}

	var updated *domain.User
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		user, err := tx.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		previous := user.Role
		if err := tx.SetRole(ctx, user.ID, role); err != nil {
			return err
		}
		user.Role = role
		if role != domain.RoleAffiliate {
			user.ManagerID = nil
		}

		details := map[string]interface{}{"userId": user.ID, "from": previous, "to": role, "changedBy": adminID}
		if err := tx.InsertActivity(ctx, domain.ActivityLog{UserID: user.ID, Action: domain.ActionRoleChanged, Details: details}); err != nil {
			return err
		}
		updated = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteUser removes a user and everything they own in one transaction,
// detaching references from other users and orders first.
func (s *Service) DeleteUser(ctx context.Context, userID, adminID string) error {
	if userID == adminID {
		return domain.ErrCannotDeleteSelf
	}

	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		user, err := tx.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if err := tx.DeleteUserCascade(ctx, user.ID); err != nil {
			return err
		}
		if adminID == "" {
			return nil
		}
		return tx.InsertActivity(ctx, domain.ActivityLog{
			UserID: adminID,
			Action: domain.ActionUserDeleted,
			Details: map[string]interface{}{
				"userId": user.ID,
				"email":  user.Email,
				"role":   user.Role,
			},
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("user deleted", "user_id", userID, "admin_id", adminID)
	return nil
}

// InviteLink returns the user's shareable registration link.
func (s *Service) InviteLink(ctx context.Context, userID string) (string, error) {
	code, err := s.inviteCode(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.invites.Link(code), nil
}

// InviteQRCode renders the user's registration link as a PNG.
func (s *Service) InviteQRCode(ctx context.Context, userID string) ([]byte, error) {
	code, err := s.inviteCode(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.invites.QRCode(code)
}

func (s *Service) inviteCode(ctx context.Context, userID string) (string, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.InviteCode == nil || strings.TrimSpace(*user.InviteCode) == "" {
		return "", domain.ErrInviteCodeMissing
	}
	return *user.InviteCode, nil
}
