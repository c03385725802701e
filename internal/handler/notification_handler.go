package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/notifyhub/delivery-engine/internal/breaker"
	"github.com/notifyhub/delivery-engine/internal/domain"
	"github.com/notifyhub/delivery-engine/internal/service"
)

type DispatchService interface {
	Dispatch(ctx context.Context, n *domain.Notification) (*domain.Notification, error)
	Get(ctx context.Context, id string) (*domain.Notification, error)
}

type RetryService interface {
	RunOnce(ctx context.Context) error
	ManualRetry(ctx context.Context, id string) (*domain.Notification, error)
	Statistics(ctx context.Context) (*service.Statistics, error)
}

type AlertService interface {
	Check(ctx context.Context) ([]service.Alert, error)
}

type NotificationHandler struct {
	dispatch DispatchService
	retry    RetryService
	alerts   AlertService
	circuits *breaker.Registry
}

func NewNotificationHandler(dispatch DispatchService, retry RetryService, alerts AlertService, circuits *breaker.Registry) (*NotificationHandler, error) {
	if dispatch == nil {
		return nil, fmt.Errorf("dispatch service is required")
	}
	if retry == nil {
		return nil, fmt.Errorf("retry service is required")
	}
	if alerts == nil {
		return nil, fmt.Errorf("alert service is required")
	}
	if circuits == nil {
		return nil, fmt.Errorf("circuit registry is required")
	}

	return &NotificationHandler{
		dispatch: dispatch,
		retry:    retry,
		alerts:   alerts,
		circuits: circuits,
	}, nil
}

func RegisterNotificationRoutes(router fiber.Router, dispatch DispatchService, retry RetryService, alerts AlertService, circuits *breaker.Registry) error {
	h, err := NewNotificationHandler(dispatch, retry, alerts, circuits)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.CreateNotification)
	v1.Get("/notifications/stats", h.GetStatistics)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Post("/notifications/:id/retry", h.ManualRetry)
	v1.Post("/retries/run", h.TriggerRetryRun)
	v1.Get("/alerts", h.GetAlerts)
	v1.Get("/circuits", h.ListCircuits)
	v1.Post("/circuits/:name/reset", h.ResetCircuit)
	v1.Post("/circuits/:name/half-open", h.HalfOpenCircuit)

	return nil
}

type createNotificationRequest struct {
	UserID   string         `json:"userId"`
	Channel  string         `json:"channel"`
	Priority string         `json:"priority"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Payload  map[string]any `json:"payload,omitempty"`
}

type notificationResponse struct {
	ID            string         `json:"id"`
	UserID        string         `json:"userId"`
	Channel       string         `json:"channel"`
	Priority      string         `json:"priority"`
	Title         string         `json:"title"`
	Body          string         `json:"body"`
	Payload       map[string]any `json:"payload,omitempty"`
	Status        string         `json:"status"`
	RetryCount    int            `json:"retryCount"`
	ErrorMessage  *string        `json:"errorMessage,omitempty"`
	ErrorCode     *string        `json:"errorCode,omitempty"`
	DLQMovedAt    *time.Time     `json:"dlqMovedAt,omitempty"`
	DLQReason     *string        `json:"dlqReason,omitempty"`
	DLQRetryCount int            `json:"dlqRetryCount,omitempty"`
	SentAt        *time.Time     `json:"sentAt,omitempty"`
	CreatedAt     time.Time      `json:"createdAt,omitempty"`
	UpdatedAt     time.Time      `json:"updatedAt,omitempty"`
}

type statisticsResponse struct {
	TotalFailed      int64   `json:"totalFailed"`
	PendingRetry     int64   `json:"pendingRetry"`
	DLQCount         int64   `json:"dlqCount"`
	RetrySuccessRate float64 `json:"retrySuccessRate"`
}

type circuitResponse struct {
	Name         string     `json:"name"`
	State        string     `json:"state"`
	FailureCount int        `json:"failureCount"`
	LastFailure  *time.Time `json:"lastFailure,omitempty"`
	NextAttempt  *time.Time `json:"nextAttempt,omitempty"`
	IsOpen       bool       `json:"isOpen"`
}

func (h *NotificationHandler) CreateNotification(c *fiber.Ctx) error {
	var req createNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	notification, err := requestToDomainNotification(req)
	if err != nil {
		return toHTTPError(err)
	}

	created, err := h.dispatch.Dispatch(c.Context(), &notification)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toNotificationResponse(created))
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	notification, err := h.dispatch.Get(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) ManualRetry(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return toHTTPError(fmt.Errorf("%w: id is required", domain.ErrValidation))
	}

	notification, err := h.retry.ManualRetry(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) TriggerRetryRun(c *fiber.Ctx) error {
	if err := h.retry.RunOnce(c.Context()); err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "triggered",
	})
}

func (h *NotificationHandler) GetStatistics(c *fiber.Ctx) error {
	stats, err := h.retry.Statistics(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(statisticsResponse{
		TotalFailed:      stats.TotalFailed,
		PendingRetry:     stats.PendingRetry,
		DLQCount:         stats.DLQCount,
		RetrySuccessRate: stats.RetrySuccessRate,
	})
}

func (h *NotificationHandler) GetAlerts(c *fiber.Ctx) error {
	alerts, err := h.alerts.Check(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (h *NotificationHandler) ListCircuits(c *fiber.Ctx) error {
	snapshots := h.circuits.Snapshots()
	circuits := make([]circuitResponse, 0, len(snapshots))
	for _, snapshot := range snapshots {
		circuits = append(circuits, toCircuitResponse(snapshot))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"circuits": circuits,
	})
}

func (h *NotificationHandler) ResetCircuit(c *fiber.Ctx) error {
	name := strings.TrimSpace(c.Params("name"))
	if name == "" {
		return toHTTPError(fmt.Errorf("%w: circuit name is required", domain.ErrValidation))
	}

	h.circuits.Reset(name)
	snapshot, _ := h.circuits.Snapshot(name)
	return c.Status(fiber.StatusOK).JSON(toCircuitResponse(snapshot))
}

func (h *NotificationHandler) HalfOpenCircuit(c *fiber.Ctx) error {
	name := strings.TrimSpace(c.Params("name"))
	if name == "" {
		return toHTTPError(fmt.Errorf("%w: circuit name is required", domain.ErrValidation))
	}

	h.circuits.ForceHalfOpen(name)
	snapshot, _ := h.circuits.Snapshot(name)
	return c.Status(fiber.StatusOK).JSON(toCircuitResponse(snapshot))
}

func requestToDomainNotification(req createNotificationRequest) (domain.Notification, error) {
	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return domain.Notification{}, err
	}

	priority := domain.PriorityNormal
	if strings.TrimSpace(req.Priority) != "" {
		priority, err = domain.ParsePriorityFromString(req.Priority)
		if err != nil {
			return domain.Notification{}, err
		}
	}

	return domain.Notification{
		UserID:   strings.TrimSpace(req.UserID),
		Channel:  channel,
		Priority: priority,
		Title:    strings.TrimSpace(req.Title),
		Body:     strings.TrimSpace(req.Body),
		Payload:  req.Payload,
	}, nil
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:            n.ID,
		UserID:        n.UserID,
		Channel:       n.Channel.String(),
		Priority:      n.Priority.String(),
		Title:         n.Title,
		Body:          n.Body,
		Payload:       n.Payload,
		Status:        n.Status.String(),
		RetryCount:    n.RetryCount,
		ErrorMessage:  n.ErrorMessage,
		ErrorCode:     n.ErrorCode,
		DLQMovedAt:    n.DLQMovedAt,
		DLQReason:     n.DLQReason,
		DLQRetryCount: n.DLQRetryCount,
		SentAt:        n.SentAt,
		CreatedAt:     n.CreatedAt,
		UpdatedAt:     n.UpdatedAt,
	}
}

func toCircuitResponse(snapshot breaker.Snapshot) circuitResponse {
	resp := circuitResponse{
		Name:         snapshot.Name,
		State:        string(snapshot.State),
		FailureCount: snapshot.FailureCount,
		IsOpen:       snapshot.IsOpen,
	}
	if !snapshot.LastFailureTime.IsZero() {
		t := snapshot.LastFailureTime
		resp.LastFailure = &t
	}
	if !snapshot.NextAttempt.IsZero() {
		t := snapshot.NextAttempt
		resp.NextAttempt = &t
	}
	return resp
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
