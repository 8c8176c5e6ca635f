package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/affiliatehub/commission-service/internal/domain"
)

func TestOnUserRegistered_CustomerViaAffiliate(t *testing.T) {
	repo := newMemoryStore()
	fx := seedReferrals(repo)
	repo.addUser(domain.User{ID: "cus-1", Role: domain.RoleCustomer})
	svc := newTestService(repo)

	result, err := svc.OnUserRegistered(context.Background(), "cus-1", " AFF2 ")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.ReferrerID == nil || *result.ReferrerID != fx.solo.ID {
		t.Fatalf("expected referrer %s, got %v", fx.solo.ID, result.ReferrerID)
	}
	if !result.FreePlanEnrolled {
		t.Fatal("expected free plan enrollment")
	}
	if result.Commission == nil || len(result.Commission.Created) != 1 {
		t.Fatalf("expected a signup bonus, got %+v", result.Commission)
	}

	replay, err := svc.OnUserRegistered(context.Background(), "cus-1", "AFF2")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if replay.FreePlanEnrolled || len(replay.Commission.Created) != 0 {
		t.Fatalf("expected replay to change nothing, got %+v", replay)
	}
	if n := len(repo.subscriptionsFor("cus-1")); n != 1 {
		t.Fatalf("expected one subscription row, got %d", n)
	}
	if n := len(repo.commissionsFor(fx.solo.ID)); n != 1 {
		t.Fatalf("expected one bonus, got %d", n)
	}
}

func TestOnUserRegistered_CustomerViaManagerGetsNoBonus(t *testing.T) {
	repo := newMemoryStore()
	fx := seedReferrals(repo)
	repo.addUser(domain.User{ID: "cus-1", Role: domain.RoleCustomer})
	svc := newTestService(repo)

	result, err := svc.OnUserRegistered(context.Background(), "cus-1", "MGR1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.ReferrerID == nil || *result.ReferrerID != fx.manager.ID {
		t.Fatalf("expected manager attribution, got %v", result.ReferrerID)
	}
	if n := len(repo.commissionsFor("")); n != 0 {
		t.Fatalf("expected no commissions, got %d", n)
	}
}

func TestOnUserRegistered_AffiliateViaManagerIsAssigned(t *testing.T) {
	repo := newMemoryStore()
	fx := seedReferrals(repo)
	repo.addUser(domain.User{ID: "aff-new", Role: domain.RoleAffiliate})
	svc := newTestService(repo)

	result, err := svc.OnUserRegistered(context.Background(), "aff-new", "MGR1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !result.ManagerAssigned || result.FreePlanEnrolled {
		t.Fatalf("unexpected result %+v", result)
	}
	stored := repo.user("aff-new")
	if stored.ManagerID == nil || *stored.ManagerID != fx.manager.ID {
		t.Fatalf("expected manager link, got %+v", stored)
	}
}

func TestOnUserRegistered_UnknownCodeStillEnrolls(t *testing.T) {
	repo := newMemoryStore()
	repo.addUser(domain.User{ID: "cus-1", Role: domain.RoleCustomer})
	svc := newTestService(repo)

	result, err := svc.OnUserRegistered(context.Background(), "cus-1", "MISSING")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.ReferrerID != nil || !result.FreePlanEnrolled {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestAssignManager(t *testing.T) {
	repo := newMemoryStore()
	fx := seedReferrals(repo)
	svc := newTestService(repo)

	updated, err := svc.AssignManager(context.Background(), fx.solo.ID, fx.manager.ID, "admin-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if updated.ManagerID == nil || *updated.ManagerID != fx.manager.ID {
		t.Fatalf("expected manager set, got %+v", updated)
	}

	tests := []struct {
		name        string
		affiliateID string
		managerID   string
		want        error
	}{
		{"manager is not a manager", fx.solo.ID, fx.affiliate.ID, domain.ErrInvalidManager},
		{"target is not an affiliate", fx.manager.ID, fx.manager.ID, domain.ErrInvalidManager},
		{"unknown affiliate", "ghost", fx.manager.ID, domain.ErrUserNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.AssignManager(context.Background(), tc.affiliateID, tc.managerID, "admin-1"); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if _, err := svc.AssignManager(context.Background(), fx.solo.ID, "", "admin-1"); err != nil {
		t.Fatalf("expected unassign to succeed, got %v", err)
	}
	if repo.user(fx.solo.ID).ManagerID != nil {
		t.Fatal("expected manager link removed")
	}
}

func TestChangeRole_DetachesManagerLinks(t *testing.T) {
	repo := newMemoryStore()
	fx := seedReferrals(repo)
	svc := newTestService(repo)

	if _, err := svc.ChangeRole(context.Background(), fx.manager.ID, domain.RoleAffiliate, "admin-1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if repo.user(fx.affiliate.ID).ManagerID != nil {
		t.Fatal("expected affiliates of a demoted manager to be detached")
	}

	if _, err := svc.ChangeRole(context.Background(), fx.solo.ID, domain.Role("OWNER"), "admin-1"); !errors.Is(err, domain.ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestDeleteUser(t *testing.T) {
	repo := newMemoryStore()
	fx := seedReferrals(repo)
	repo.addUser(domain.User{ID: "cus-1", Role: domain.RoleCustomer, ReferredByID: strPtr(fx.solo.ID)})
	seedApproved(repo, fx.solo.ID, "10.00")
	svc := newTestService(repo)

	if err := svc.DeleteUser(context.Background(), "admin-1", "admin-1"); !errors.Is(err, domain.ErrCannotDeleteSelf) {
		t.Fatalf("expected ErrCannotDeleteSelf, got %v", err)
	}

	if err := svc.DeleteUser(context.Background(), fx.solo.ID, "admin-1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := repo.GetUserByID(context.Background(), fx.solo.ID); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected user to be gone, got %v", err)
	}
	if n := len(repo.commissionsFor(fx.solo.ID)); n != 0 {
		t.Fatalf("expected commissions removed, got %d", n)
	}
	if repo.user("cus-1").ReferredByID != nil {
		t.Fatal("expected referral link cleared")
	}
	if actions := repo.activityActions("admin-1"); len(actions) != 1 || actions[0] != domain.ActionUserDeleted {
		t.Fatalf("expected USER_DELETED activity, got %v", actions)
	}

	if err := svc.DeleteUser(context.Background(), "ghost", "admin-1"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestInviteLinkAndQRCode(t *testing.T) {
	repo := newMemoryStore()
	fx := seedReferrals(repo)
	repo.addUser(domain.User{ID: "cus-1", Role: domain.RoleCustomer})
	svc := NewService(repo, nil, nil, discardLogger(), Options{InviteBaseURL: "https://app.example.com/"})

	link, err := svc.InviteLink(context.Background(), fx.solo.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if link != "https://app.example.com/register?ref=AFF2" {
		t.Fatalf("unexpected link %q", link)
	}

	png, err := svc.InviteQRCode(context.Background(), fx.solo.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.HasPrefix(string(png), "\x89PNG") {
		t.Fatal("expected PNG bytes")
	}

	if _, err := svc.InviteLink(context.Background(), "cus-1"); !errors.Is(err, domain.ErrInviteCodeMissing) {
		t.Fatalf("expected ErrInviteCodeMissing, got %v", err)
	}
}
