package provider

import "context"

// CircuitName is the breaker target guarding delivery provider calls.
const CircuitName = "delivery-provider"

// SendRequest carries one notification to the downstream provider.
type SendRequest struct {
	WorkflowID string
	Recipients []string
	Title      string
	Body       string
	Payload    map[string]any
}

// SendResult stores provider call metadata for audit and persistence.
type SendResult struct {
	DeliveryID string
	StatusCode int
}

// DeliveryProvider is the outbound delivery port. Send may fail with a
// *DeliveryError carrying the provider's response shape.
type DeliveryProvider interface {
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
}

// SubscriberRegistry is the provider's subscriber-management port, used by
// token cleanup to detach users whose device tokens went invalid.
type SubscriberRegistry interface {
	DeleteSubscriber(ctx context.Context, userID string) error
}
