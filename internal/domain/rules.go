/**
 * @description
 * Commission rules. These planners are pure: they turn an earning event and
 * its referral chain into drafts, and persistence decides what is new.
 */
package domain

import "github.com/shopspring/decimal"

// PlanSignupCommission pays the signup bonus to an affiliate that referred a
// new customer. Managers never earn signup bonuses and there is no manager
// fan-out.
func PlanSignupCommission(newUser User, chain ReferralChain, bonus decimal.Decimal) []CommissionDraft {
	referrer := chain.Referrer
	if referrer == nil || referrer.ID == newUser.ID {
		return nil
	}
	if referrer.Role != RoleAffiliate || newUser.Role != RoleCustomer {
		return nil
	}
	return keepPositive([]CommissionDraft{{
		UserID:      referrer.ID,
		SourceType:  SourceSignup,
		SourceID:    newUser.ID,
		Amount:      RoundMoney(bonus),
		Beneficiary: BeneficiaryAffiliate,
	}})
}

// PlanOrderCommissions fans a paid order out to its referrer. An affiliate
// earns the flat per-unit amounts of the items and their manager earns a
// share of the order total. A manager referring directly earns the share
// alone.
func PlanOrderCommissions(order Order, chain ReferralChain, managerPct decimal.Decimal) []CommissionDraft {
	referrer := chain.Referrer
	if referrer == nil || order.PaymentStatus != PaymentPaid || referrer.ID == order.CustomerID {
		return nil
	}

	var drafts []CommissionDraft
	switch referrer.Role {
	case RoleAffiliate:
		drafts = append(drafts, CommissionDraft{
			UserID:      referrer.ID,
			SourceType:  SourceProduct,
			SourceID:    order.ID,
			Amount:      order.AffiliateCommissionTotal(),
			Beneficiary: BeneficiaryAffiliate,
		})
		if manager := chain.ManagerOfReferrer; manager != nil && manager.Role == RoleManager {
			drafts = append(drafts, CommissionDraft{
				UserID:      manager.ID,
				SourceType:  SourceProduct,
				SourceID:    order.ID,
				Amount:      FractionOf(order.TotalAmount, managerPct),
				Beneficiary: BeneficiaryManager,
			})
		}
	case RoleManager:
		drafts = append(drafts, CommissionDraft{
			UserID:      referrer.ID,
			SourceType:  SourceProduct,
			SourceID:    order.ID,
			Amount:      FractionOf(order.TotalAmount, managerPct),
			Beneficiary: BeneficiaryManager,
		})
	}
	return keepPositive(drafts)
}

// PlanSubscriptionCommissions fans a paid subscription out to the customer's
// referrer. The plan's own percentage wins over the flat affiliate setting.
// Free plans never pay.
func PlanSubscriptionCommissions(
	subscriptionID string,
	customerID string,
	plan SubscriptionPlan,
	planPrice decimal.Decimal,
	chain ReferralChain,
	affiliateFlat decimal.Decimal,
	managerPct decimal.Decimal,
) []CommissionDraft {
	referrer := chain.Referrer
	if referrer == nil || !planPrice.IsPositive() || referrer.ID == customerID {
		return nil
	}

	var drafts []CommissionDraft
	switch referrer.Role {
	case RoleAffiliate:
		affiliateAmount := RoundMoney(affiliateFlat)
		if plan.AffiliateCommissionPercentage.Valid {
			affiliateAmount = PercentOf(planPrice, plan.AffiliateCommissionPercentage.Decimal)
		}
		drafts = append(drafts, CommissionDraft{
			UserID:      referrer.ID,
			SourceType:  SourceSubscription,
			SourceID:    subscriptionID,
			Amount:      affiliateAmount,
			Beneficiary: BeneficiaryAffiliate,
		})
		if manager := chain.ManagerOfReferrer; manager != nil && manager.Role == RoleManager {
			drafts = append(drafts, CommissionDraft{
				UserID:      manager.ID,
				SourceType:  SourceSubscription,
				SourceID:    subscriptionID,
				Amount:      FractionOf(planPrice, managerPct),
				Beneficiary: BeneficiaryManager,
			})
		}
	case RoleManager:
		drafts = append(drafts, CommissionDraft{
			UserID:      referrer.ID,
			SourceType:  SourceSubscription,
			SourceID:    subscriptionID,
			Amount:      FractionOf(planPrice, managerPct),
			Beneficiary: BeneficiaryManager,
		})
	}
	return keepPositive(drafts)
}

func keepPositive(drafts []CommissionDraft) []CommissionDraft {
	out := drafts[:0]
	for _, d := range drafts {
		if d.Amount.IsPositive() {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
