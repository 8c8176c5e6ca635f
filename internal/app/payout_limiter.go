package app

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const payoutRateWindow = time.Hour

// PayoutRateDecision is the limiter's verdict on one payout request.
type PayoutRateDecision struct {
	Allowed    bool
	Attempts   int
	RetryAfter time.Duration
}

// RedisPayoutLimiter caps payout requests per user over a sliding hour. Each
// accepted request is a member of a per-user sorted set scored by its
// timestamp, so the count is shared by every instance of the service.
type RedisPayoutLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisPayoutLimiter(client redis.UniversalClient, prefix string) *RedisPayoutLimiter {
	trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmed == "" {
		trimmed = "commission:rate_limit"
	}
	return &RedisPayoutLimiter{client: client, prefix: trimmed, now: time.Now}
}

func (l *RedisPayoutLimiter) key(userID string) string {
	return l.prefix + ":payout_request:" + userID
}

// AllowPayoutRequest records a request for userID and reports whether it fits
// within perHour. Rejected requests are removed again and do not extend the
// wait.
func (l *RedisPayoutLimiter) AllowPayoutRequest(ctx context.Context, userID string, perHour int) (PayoutRateDecision, error) {
	userID = strings.TrimSpace(userID)
	if l == nil || l.client == nil || perHour <= 0 || userID == "" {
		return PayoutRateDecision{Allowed: true}, nil
	}

	now := l.now()
	key := l.key(userID)
	member := uuid.NewString()
	cutoff := strconv.FormatInt(now.Add(-payoutRateWindow).UnixMilli(), 10)

	var (
		count  *redis.IntCmd
		oldest *redis.ZSliceCmd
	)
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
		count = pipe.ZCard(ctx, key)
		oldest = pipe.ZRangeWithScores(ctx, key, 0, 0)
		pipe.PExpire(ctx, key, payoutRateWindow)
		return nil
	})
	if err != nil {
		return PayoutRateDecision{}, fmt.Errorf("payout limiter: %w", err)
	}

	decision := PayoutRateDecision{Attempts: int(count.Val())}
	if decision.Attempts <= perHour {
		decision.Allowed = true
		return decision, nil
	}

	if err := l.client.ZRem(ctx, key, member).Err(); err != nil {
		return decision, fmt.Errorf("payout limiter: failed to drop rejected attempt: %w", err)
	}
	decision.Attempts--
	if entries := oldest.Val(); len(entries) > 0 {
		decision.RetryAfter = payoutRetryAfter(time.UnixMilli(int64(entries[0].Score)), now)
	}
	return decision, nil
}

// payoutRetryAfter is the whole seconds until the oldest request in the
// window ages out, never less than one.
func payoutRetryAfter(oldest, now time.Time) time.Duration {
	wait := oldest.Add(payoutRateWindow).Sub(now)
	seconds := math.Ceil(wait.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}
