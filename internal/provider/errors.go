package provider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/notifyhub/delivery-engine/internal/classify"
)

// DeliveryError is a provider-shaped failure. It captures the response status,
// headers, and body fields once at the call boundary so classification
// operates on a typed contract instead of inspecting arbitrary errors.
type DeliveryError struct {
	StatusCode int
	Code       string
	Message    string
	Headers    map[string]string
	Fields     map[string]any
	Cause      error
}

func (e *DeliveryError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "delivery error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if code := strings.TrimSpace(e.Code); code != "" {
		parts = append(parts, code)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *DeliveryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Descriptor converts the error into the classifier's input contract.
func (e *DeliveryError) Descriptor() classify.FailureDescriptor {
	if e == nil {
		return classify.FailureDescriptor{}
	}
	return classify.FailureDescriptor{
		StatusCode: e.StatusCode,
		Code:       e.Code,
		Message:    e.Message,
		Headers:    e.Headers,
		Fields:     e.Fields,
	}
}

// DescribeFailure assembles a failure descriptor from any error. Provider
// errors keep their full response shape; everything else degrades to a
// message-only descriptor.
func DescribeFailure(err error) classify.FailureDescriptor {
	if err == nil {
		return classify.FailureDescriptor{}
	}

	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) {
		return deliveryErr.Descriptor()
	}

	return classify.FailureDescriptor{Message: err.Error()}
}

// ErrorCode extracts the persisted error code for a failure: the provider
// code, else HTTP_<status>, else UNKNOWN_ERROR.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) {
		if code := strings.TrimSpace(deliveryErr.Code); code != "" {
			return code
		}
		if deliveryErr.StatusCode > 0 {
			return fmt.Sprintf("HTTP_%d", deliveryErr.StatusCode)
		}
	}

	return "UNKNOWN_ERROR"
}
