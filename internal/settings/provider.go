/**
 * @description
 * Settings provider for tunable commission parameters. Every getter returns
 * a usable number: store errors and bad values fall back to defaults.
 */
package settings

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	KeyManagerCommissionPercentage = "manager_commission_percentage"
	KeySignupBonus                 = "signup_bonus_amount"
	KeyAffiliateSubscriptionFlat   = "affiliate_subscription_commission"
	KeyMinimumPayoutAmount         = "minimum_payout_amount"
)

var (
	DefaultManagerCommissionPercentage = decimal.RequireFromString("0.20")
	DefaultSignupBonus                 = decimal.RequireFromString("5.00")
	DefaultAffiliateSubscriptionFlat   = decimal.RequireFromString("10.00")
	DefaultMinimumPayoutAmount         = decimal.RequireFromString("50.00")
)

// Store reads raw JSON-encoded setting values. A nil value means the key is unset.
type Store interface {
	GetSetting(ctx context.Context, key string) (*string, error)
}

// Provider resolves commission parameters.
type Provider interface {
	ManagerCommissionPercentage(ctx context.Context) decimal.Decimal
	SignupBonus(ctx context.Context) decimal.Decimal
	AffiliateSubscriptionFlat(ctx context.Context) decimal.Decimal
	MinimumPayoutAmount(ctx context.Context) decimal.Decimal
}

type provider struct {
	store  Store
	logger *slog.Logger
}

// NewProvider creates a Provider backed by store.
func NewProvider(store Store, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &provider{store: store, logger: logger}
}

// ManagerCommissionPercentage returns a fraction in [0,1]. A stored whole
// percent such as 20 is read as 0.20.
func (p *provider) ManagerCommissionPercentage(ctx context.Context) decimal.Decimal {
	value, ok := p.read(ctx, KeyManagerCommissionPercentage)
	if !ok {
		return DefaultManagerCommissionPercentage
	}
	one := decimal.NewFromInt(1)
	if value.GreaterThan(one) && value.LessThanOrEqual(decimal.NewFromInt(100)) {
		value = value.Div(decimal.NewFromInt(100))
	}
	if value.GreaterThan(one) {
		p.logger.Warn("setting out of range, using default", "key", KeyManagerCommissionPercentage, "value", value.String())
		return DefaultManagerCommissionPercentage
	}
	return value
}

func (p *provider) SignupBonus(ctx context.Context) decimal.Decimal {
	return p.amount(ctx, KeySignupBonus, DefaultSignupBonus)
}

func (p *provider) AffiliateSubscriptionFlat(ctx context.Context) decimal.Decimal {
	return p.amount(ctx, KeyAffiliateSubscriptionFlat, DefaultAffiliateSubscriptionFlat)
}

func (p *provider) MinimumPayoutAmount(ctx context.Context) decimal.Decimal {
	return p.amount(ctx, KeyMinimumPayoutAmount, DefaultMinimumPayoutAmount)
}

func (p *provider) amount(ctx context.Context, key string, fallback decimal.Decimal) decimal.Decimal {
	value, ok := p.read(ctx, key)
	if !ok {
		return fallback
	}
	return value.Round(2)
}

// read loads and parses key. It returns false when the default should be used.
func (p *provider) read(ctx context.Context, key string) (decimal.Decimal, bool) {
	raw, err := p.store.GetSetting(ctx, key)
	if err != nil {
		p.logger.Warn("failed to read setting, using default", "key", key, "error", err)
		return decimal.Zero, false
	}
	if raw == nil {
		return decimal.Zero, false
	}
	value, err := parseValue(*raw)
	if err != nil {
		p.logger.Warn("failed to parse setting, using default", "key", key, "value", *raw, "error", err)
		return decimal.Zero, false
	}
	if value.IsNegative() {
		p.logger.Warn("negative setting, using default", "key", key, "value", *raw)
		return decimal.Zero, false
	}
	return value, true
}

// parseValue accepts a JSON number, a JSON string holding a number, or a bare
// numeric string.
func parseValue(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	var decoded interface{}
	if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
		switch v := decoded.(type) {
		case string:
			return decimal.NewFromString(strings.TrimSpace(v))
		case float64:
			return decimal.NewFromString(trimmed)
		}
	}
	return decimal.NewFromString(trimmed)
}
