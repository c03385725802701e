package service

import (
	"context"
	"fmt"
	"time"

	"github.com/notifyhub/delivery-engine/internal/classify"
	"github.com/notifyhub/delivery-engine/internal/observability"
	"github.com/notifyhub/delivery-engine/internal/provider"
	"github.com/notifyhub/delivery-engine/internal/repository"
	"go.uber.org/zap"
)

// CleanupResult reports one user's token cleanup. Failures are collected, not
// propagated, so delivery control flow is never interrupted by cleanup.
type CleanupResult struct {
	UserID            string
	DeactivatedCount  int
	SubscriberRemoved bool
	Failures          []string
}

// BulkCleanupResult aggregates cleanup across users.
type BulkCleanupResult struct {
	SucceededUsers int
	FailedUsers    int
	Results        []CleanupResult
}

// TokenCleanup is the port the retry orchestrator uses when a failure is
// classified TOKEN_INVALID.
type TokenCleanup interface {
	CleanupInvalidToken(ctx context.Context, userID string, errType classify.Type, cause string) CleanupResult
}

// TokenCleaner deactivates a user's device tokens and detaches the user from
// the provider's subscriber registry after an invalid-token failure.
type TokenCleaner struct {
	tokens     repository.DeviceTokenRepository
	subscriber provider.SubscriberRegistry
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

func NewTokenCleaner(
	tokens repository.DeviceTokenRepository,
	subscriber provider.SubscriberRegistry,
	logger *zap.Logger,
) (*TokenCleaner, error) {
	if tokens == nil {
		return nil, fmt.Errorf("device token repository is required")
	}
	if subscriber == nil {
		return nil, fmt.Errorf("subscriber registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TokenCleaner{
		tokens:     tokens,
		subscriber: subscriber,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (c *TokenCleaner) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

// CleanupInvalidToken deactivates every active token the user owns, recording
// a reason derived from the failure type, then removes the user from the
// provider's subscriber list. Each step is independently fault-tolerant.
func (c *TokenCleaner) CleanupInvalidToken(ctx context.Context, userID string, errType classify.Type, cause string) CleanupResult {
	result := CleanupResult{UserID: userID}
	if ctx == nil {
		ctx = context.Background()
	}

	reason := deactivationReason(errType, cause)

	tokens, err := c.tokens.FindActiveByUser(ctx, userID)
	if err != nil {
		result.Failures = append(result.Failures, fmt.Sprintf("list active tokens: %v", err))
		c.logger.Error("token cleanup could not list active tokens",
			zap.String("userId", userID),
			zap.Error(err),
		)
		return result
	}

	deactivatedAt := c.now().UTC()
	for _, token := range tokens {
		if err := c.tokens.Deactivate(ctx, token.ID, reason, deactivatedAt); err != nil {
			result.Failures = append(result.Failures, fmt.Sprintf("deactivate token %s: %v", token.ID, err))
			c.logger.Warn("failed to deactivate device token",
				zap.String("userId", userID),
				zap.String("tokenId", token.ID),
				zap.Error(err),
			)
			continue
		}
		result.DeactivatedCount++
	}

	if err := c.subscriber.DeleteSubscriber(ctx, userID); err != nil {
		result.Failures = append(result.Failures, fmt.Sprintf("delete subscriber: %v", err))
		c.logger.Warn("failed to remove subscriber from provider",
			zap.String("userId", userID),
			zap.Error(err),
		)
	} else {
		result.SubscriberRemoved = true
	}

	c.metrics.IncTokenCleanup()
	c.logger.Info("invalid token cleanup finished",
		zap.String("userId", userID),
		zap.Int("deactivated", result.DeactivatedCount),
		zap.Int("failures", len(result.Failures)),
	)

	return result
}

// BulkCleanupInvalidTokens applies cleanup per user, collecting counts.
// A user counts as failed when any of their cleanup steps failed.
func (c *TokenCleaner) BulkCleanupInvalidTokens(ctx context.Context, userIDs []string, errType classify.Type, cause string) BulkCleanupResult {
	bulk := BulkCleanupResult{Results: make([]CleanupResult, 0, len(userIDs))}

	for _, userID := range userIDs {
		result := c.CleanupInvalidToken(ctx, userID, errType, cause)
		bulk.Results = append(bulk.Results, result)
		if len(result.Failures) == 0 {
			bulk.SucceededUsers++
		} else {
			bulk.FailedUsers++
		}
	}

	return bulk
}

// CleanupTokensByErrorPattern removes inactive tokens whose recorded
// deactivation reason matches the regex and that have been inactive for at
// least daysOld days. Intended for operator-driven sweeps.
func (c *TokenCleaner) CleanupTokensByErrorPattern(ctx context.Context, pattern string, daysOld int) (int64, error) {
	if pattern == "" {
		return 0, fmt.Errorf("pattern is required")
	}
	if daysOld < 0 {
		daysOld = 0
	}

	cutoff := c.now().UTC().AddDate(0, 0, -daysOld)
	deleted, err := c.tokens.DeleteInactiveByReasonPattern(ctx, pattern, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep tokens by pattern: %w", err)
	}

	c.logger.Info("token pattern sweep finished",
		zap.String("pattern", pattern),
		zap.Int("daysOld", daysOld),
		zap.Int64("deleted", deleted),
	)

	return deleted, nil
}

func deactivationReason(errType classify.Type, cause string) string {
	if cause == "" {
		cause = "provider rejected token"
	}
	return fmt.Sprintf("%s: %s", errType, cause)
}
