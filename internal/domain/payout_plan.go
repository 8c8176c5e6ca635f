package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// PayoutPlan is the set of commissions a payout would consume.
type PayoutPlan struct {
	Selected  []Commission
	Consumed  decimal.Decimal
	Remaining decimal.Decimal
}

// ExactlyCovered reports whether the selected rows sum to the requested amount.
func (p PayoutPlan) ExactlyCovered() bool {
	return p.Remaining.IsZero() && len(p.Selected) > 0
}

// SelectedIDs returns the ids of the consumed commissions in walk order.
func (p PayoutPlan) SelectedIDs() []string {
	ids := make([]string, 0, len(p.Selected))
	for _, c := range p.Selected {
		ids = append(ids, c.ID)
	}
	return ids
}

// PlanPayout walks APPROVED commissions oldest first and takes every row that
// still fits in the remaining amount. Rows are never split; a row that does
// not fit is skipped and the walk continues.
func PlanPayout(commissions []Commission, amount decimal.Decimal) PayoutPlan {
	candidates := make([]Commission, 0, len(commissions))
	for _, c := range commissions {
		if c.Status == CommissionApproved && c.Amount.IsPositive() {
			candidates = append(candidates, c)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	plan := PayoutPlan{Consumed: decimal.Zero, Remaining: amount}
	for _, c := range candidates {
		if !plan.Remaining.IsPositive() {
			break
		}
		if c.Amount.LessThanOrEqual(plan.Remaining) {
			plan.Selected = append(plan.Selected, c)
			plan.Consumed = plan.Consumed.Add(c.Amount)
			plan.Remaining = plan.Remaining.Sub(c.Amount)
		}
	}
	return plan
}

// RequestedBefore orders payout requests by request time, then id.
func (p PayoutRequest) RequestedBefore(other PayoutRequest) bool {
	if !p.RequestedAt.Equal(other.RequestedAt) {
		return p.RequestedAt.Before(other.RequestedAt)
	}
	return p.ID < other.ID
}

// UnreservedCommissions replays the FIFO walk for each pending request,
// oldest first, and returns the approved rows none of them would consume.
// A pending request the walk cannot cover exactly reserves nothing.
func UnreservedCommissions(commissions []Commission, pending []PayoutRequest) []Commission {
	queue := append([]PayoutRequest(nil), pending...)
	sort.SliceStable(queue, func(i, j int) bool { return queue[i].RequestedBefore(queue[j]) })

	free := append([]Commission(nil), commissions...)
	for _, req := range queue {
		plan := PlanPayout(free, req.Amount)
		if !plan.ExactlyCovered() {
			continue
		}
		taken := make(map[string]struct{}, len(plan.Selected))
		for _, c := range plan.Selected {
			taken[c.ID] = struct{}{}
		}
		kept := free[:0:0]
		for _, c := range free {
			if _, ok := taken[c.ID]; !ok {
				kept = append(kept, c)
			}
		}
		free = kept
	}
	return free
}
