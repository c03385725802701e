// Package classify maps heterogeneous delivery failures onto an actionable
// retry policy. Classification is total: any input, including a zero
// descriptor, yields a usable Classification and never panics.
package classify

import (
	"regexp"
	"strconv"
	"strings"
)

// Type is the failure taxonomy driving the retry orchestrator.
type Type string

const (
	TypeRetryable    Type = "RETRYABLE"
	TypeNonRetryable Type = "NON_RETRYABLE"
	TypeTokenInvalid Type = "TOKEN_INVALID"
	TypeRateLimited  Type = "RATE_LIMITED"
)

const (
	defaultRateLimitRetryAfter = 60
	genericRetryAfter          = 30
)

// FailureDescriptor is the typed failure contract assembled once at the
// provider-call boundary, so classification never inspects arbitrary error
// shapes. Zero values mean "unknown".
type FailureDescriptor struct {
	StatusCode int
	Code       string
	Message    string
	Headers    map[string]string
	Fields     map[string]any
}

// Classification is the computed retry policy for a single failure. It is
// derived on every failure and never persisted.
type Classification struct {
	Type               Type
	ShouldRetry        bool
	RetryAfterSeconds  int
	ShouldCleanupToken bool
	ShouldMoveToDLQ    bool
	UserMessage        string
}

const (
	msgTokenInvalid = "Your device registration is no longer valid. Notifications will resume after you re-enable them."
	msgRateLimited  = "Delivery is temporarily slowed down. The notification will be retried shortly."
	msgRetryable    = "Delivery failed due to a temporary issue. The notification will be retried automatically."
	msgNonRetryable = "The notification could not be delivered."
)

var (
	tokenInvalidPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)invalid\s+(device\s+)?token`),
		regexp.MustCompile(`(?i)token\s+(is\s+)?(expired|invalid)`),
		regexp.MustCompile(`(?i)(device\s+)?token\s+not\s+found`),
		regexp.MustCompile(`(?i)expired\s+(device\s+)?token`),
	}
	rateLimitPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)rate\s*limit`),
		regexp.MustCompile(`(?i)too\s+many\s+requests`),
		regexp.MustCompile(`(?i)quota\s+exceeded`),
		regexp.MustCompile(`(?i)throttled?`),
	}
	retryablePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)time\s*out|timeout`),
		regexp.MustCompile(`(?i)network`),
		regexp.MustCompile(`(?i)connection`),
		regexp.MustCompile(`(?i)temporar(y|ily)`),
		regexp.MustCompile(`(?i)unavailable`),
		regexp.MustCompile(`(?i)internal\s+server\s+error`),
		regexp.MustCompile(`(?i)bad\s+gateway`),
		regexp.MustCompile(`(?i)gateway\s+timeout`),
	}
	nonRetryablePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)unauthorized`),
		regexp.MustCompile(`(?i)forbidden`),
		regexp.MustCompile(`(?i)not\s+found`),
		regexp.MustCompile(`(?i)bad\s+request`),
		regexp.MustCompile(`(?i)validation\s+error`),
		regexp.MustCompile(`(?i)malformed`),
		regexp.MustCompile(`(?i)invalid\s+payload`),
	}
)

// Classify derives the retry policy for a failure. Same input always yields
// the same result; internal failures degrade to the non-retryable DLQ default
// so a malformed error can never halt a batch.
func Classify(desc FailureDescriptor) (c Classification) {
	defer func() {
		if recover() != nil {
			c = safeDefault()
		}
	}()

	hasProviderShape := len(desc.Headers) > 0 || len(desc.Fields) > 0

	if desc.StatusCode > 0 && hasProviderShape {
		return classifyProvider(desc)
	}
	if desc.StatusCode > 0 {
		return classifyStatus(desc)
	}
	return classifyMessage(desc)
}

func safeDefault() Classification {
	return Classification{
		Type:            TypeNonRetryable,
		ShouldMoveToDLQ: true,
		UserMessage:     msgNonRetryable,
	}
}

func classifyProvider(desc FailureDescriptor) Classification {
	text := desc.Message + " " + desc.Code
	if matchAny(tokenInvalidPatterns, text) {
		return Classification{
			Type:               TypeTokenInvalid,
			ShouldCleanupToken: true,
			UserMessage:        msgTokenInvalid,
		}
	}
	if desc.StatusCode == 429 || matchAny(rateLimitPatterns, text) {
		return Classification{
			Type:              TypeRateLimited,
			ShouldRetry:       true,
			RetryAfterSeconds: retryAfterSeconds(desc, defaultRateLimitRetryAfter),
			UserMessage:       msgRateLimited,
		}
	}
	return classifyStatus(desc)
}

func classifyStatus(desc FailureDescriptor) Classification {
	switch {
	case desc.StatusCode == 429:
		return Classification{
			Type:              TypeRateLimited,
			ShouldRetry:       true,
			RetryAfterSeconds: retryAfterSeconds(desc, defaultRateLimitRetryAfter),
			UserMessage:       msgRateLimited,
		}
	case desc.StatusCode >= 500:
		return Classification{
			Type:        TypeRetryable,
			ShouldRetry: true,
			UserMessage: msgRetryable,
		}
	case desc.StatusCode >= 400:
		return Classification{
			Type:            TypeNonRetryable,
			ShouldMoveToDLQ: true,
			UserMessage:     msgNonRetryable,
		}
	}
	return Classification{
		Type:        TypeRetryable,
		ShouldRetry: true,
		UserMessage: msgRetryable,
	}
}

func classifyMessage(desc FailureDescriptor) Classification {
	text := desc.Message + " " + desc.Code

	switch {
	case matchAny(tokenInvalidPatterns, text):
		return Classification{
			Type:               TypeTokenInvalid,
			ShouldCleanupToken: true,
			UserMessage:        msgTokenInvalid,
		}
	case matchAny(rateLimitPatterns, text):
		return Classification{
			Type:              TypeRateLimited,
			ShouldRetry:       true,
			RetryAfterSeconds: retryAfterSeconds(desc, defaultRateLimitRetryAfter),
			UserMessage:       msgRateLimited,
		}
	case matchAny(retryablePatterns, text):
		return Classification{
			Type:        TypeRetryable,
			ShouldRetry: true,
			UserMessage: msgRetryable,
		}
	case matchAny(nonRetryablePatterns, text):
		return Classification{
			Type:            TypeNonRetryable,
			ShouldMoveToDLQ: true,
			UserMessage:     msgNonRetryable,
		}
	}

	// Unmatched failures are retried rather than silently lost.
	return Classification{
		Type:        TypeRetryable,
		ShouldRetry: true,
		UserMessage: msgRetryable,
	}
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// retryAfterSeconds resolves the provider cooldown with precedence:
// retry-after header, response-data field, type default, generic fallback.
func retryAfterSeconds(desc FailureDescriptor, typeDefault int) int {
	for key, value := range desc.Headers {
		if strings.EqualFold(strings.TrimSpace(key), "retry-after") {
			if seconds, ok := parseSeconds(value); ok {
				return seconds
			}
		}
	}
	if raw, ok := desc.Fields["retryAfter"]; ok {
		if seconds, ok := parseSeconds(raw); ok {
			return seconds
		}
	}
	if typeDefault > 0 {
		return typeDefault
	}
	return genericRetryAfter
}

func parseSeconds(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		if v > 0 {
			return v, true
		}
	case int64:
		if v > 0 {
			return int(v), true
		}
	case float64:
		if v > 0 {
			return int(v), true
		}
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}
