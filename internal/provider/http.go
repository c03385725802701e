package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultRequestTimeout = 10 * time.Second

type triggerRequest struct {
	Name    string         `json:"name"`
	To      []string       `json:"to"`
	Title   string         `json:"title,omitempty"`
	Body    string         `json:"body,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

type triggerResponse struct {
	Data struct {
		TransactionID string `json:"transactionId"`
	} `json:"data"`
}

// HTTPDeliveryClient talks to the downstream delivery provider's REST API.
// It implements both DeliveryProvider and SubscriberRegistry.
type HTTPDeliveryClient struct {
	client  *resty.Client
	baseURL string
}

func NewHTTPDeliveryClient(baseURL, apiKey string) (*HTTPDeliveryClient, error) {
	client := resty.New()
	client.SetTimeout(defaultRequestTimeout)
	client.SetRetryCount(0)
	if apiKey != "" {
		client.SetHeader("Authorization", "ApiKey "+apiKey)
	}

	return NewHTTPDeliveryClientWithClient(baseURL, client)
}

func NewHTTPDeliveryClientWithClient(baseURL string, client *resty.Client) (*HTTPDeliveryClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("provider base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid provider base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultRequestTimeout)
	}
	// The breaker and orchestrator own retry policy; the client never retries.
	client.SetRetryCount(0)

	return &HTTPDeliveryClient{
		client:  client,
		baseURL: trimmed,
	}, nil
}

func (c *HTTPDeliveryClient) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("delivery client is not initialized")
	}
	if req.WorkflowID == "" {
		return nil, &DeliveryError{Code: "INVALID_REQUEST", Message: "workflow id is required"}
	}
	if len(req.Recipients) == 0 {
		return nil, &DeliveryError{Code: "INVALID_REQUEST", Message: "at least one recipient is required"}
	}

	body := triggerRequest{
		Name:    req.WorkflowID,
		To:      req.Recipients,
		Title:   req.Title,
		Body:    req.Body,
		Payload: req.Payload,
	}

	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(c.baseURL + "/v1/events/trigger")
	if err != nil {
		return nil, &DeliveryError{
			Message: "provider request failed",
			Cause:   err,
		}
	}
	if response == nil {
		return nil, &DeliveryError{Message: "provider returned empty response"}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		var parsed triggerResponse
		_ = json.Unmarshal(response.Body(), &parsed)
		return &SendResult{
			DeliveryID: parsed.Data.TransactionID,
			StatusCode: statusCode,
		}, nil
	}

	return nil, deliveryErrorFromResponse(response)
}

func (c *HTTPDeliveryClient) DeleteSubscriber(ctx context.Context, userID string) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("delivery client is not initialized")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	response, err := c.client.R().
		SetContext(ctx).
		Delete(c.baseURL + "/v1/subscribers/" + url.PathEscape(userID))
	if err != nil {
		return &DeliveryError{
			Message: "subscriber delete request failed",
			Cause:   err,
		}
	}

	statusCode := response.StatusCode()
	// A subscriber that is already gone is a success for cleanup purposes.
	if (statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices) || statusCode == http.StatusNotFound {
		return nil
	}

	return deliveryErrorFromResponse(response)
}

// deliveryErrorFromResponse freezes the provider response into the typed
// failure shape the classifier consumes. Headers are lowercased; the body is
// kept as parsed JSON fields when possible.
func deliveryErrorFromResponse(response *resty.Response) *DeliveryError {
	statusCode := response.StatusCode()

	headers := make(map[string]string, len(response.Header()))
	for key, values := range response.Header() {
		if len(values) > 0 {
			headers[strings.ToLower(key)] = values[0]
		}
	}

	fields := map[string]any{}
	rawBody := strings.TrimSpace(string(response.Body()))
	if rawBody != "" {
		if err := json.Unmarshal([]byte(rawBody), &fields); err != nil {
			fields = map[string]any{"body": rawBody}
		}
	}

	message := fmt.Sprintf("provider returned status %d", statusCode)
	if m, ok := fields["message"].(string); ok && strings.TrimSpace(m) != "" {
		message = m
	}

	code := ""
	if c, ok := fields["error"].(string); ok {
		code = c
	} else if c, ok := fields["code"].(string); ok {
		code = c
	}

	return &DeliveryError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Headers:    headers,
		Fields:     fields,
	}
}

var _ DeliveryProvider = (*HTTPDeliveryClient)(nil)
var _ SubscriberRegistry = (*HTTPDeliveryClient)(nil)
