package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/notifyhub/delivery-engine/internal/domain"
	"github.com/notifyhub/delivery-engine/internal/repository"
	"github.com/notifyhub/delivery-engine/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type DLQAdminService interface {
	List(ctx context.Context, params repository.DLQListParams) ([]domain.Notification, int64, error)
	Statistics(ctx context.Context) (*repository.DLQStatistics, error)
	Retry(ctx context.Context, id string) (*domain.Notification, error)
	Delete(ctx context.Context, id string) error
	BulkRetry(ctx context.Context, ids []string) []service.BulkItemResult
	BulkDelete(ctx context.Context, ids []string) []service.BulkItemResult
	Cleanup(ctx context.Context, maxAgeDays int) (int64, error)
}

type DLQHandler struct {
	dlq DLQAdminService
}

func NewDLQHandler(dlq DLQAdminService) (*DLQHandler, error) {
	if dlq == nil {
		return nil, fmt.Errorf("dlq service is required")
	}
	return &DLQHandler{dlq: dlq}, nil
}

func RegisterDLQRoutes(router fiber.Router, dlq DLQAdminService) error {
	h, err := NewDLQHandler(dlq)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1/dlq")
	v1.Get("/", h.List)
	v1.Get("/stats", h.Statistics)
	v1.Post("/bulk-retry", h.BulkRetry)
	v1.Post("/bulk-delete", h.BulkDelete)
	v1.Post("/cleanup", h.Cleanup)
	v1.Post("/:id/retry", h.Retry)
	v1.Delete("/:id", h.Delete)

	return nil
}

type dlqListResponse struct {
	Data []notificationResponse `json:"data"`
	Meta dlqListMeta            `json:"meta"`
}

type dlqListMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type bulkIDsRequest struct {
	IDs []string `json:"ids"`
}

type cleanupRequest struct {
	MaxAgeDays int `json:"maxAgeDays"`
}

func (h *DLQHandler) List(c *fiber.Ctx) error {
	params, err := parseDLQListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	entries, total, err := h.dlq.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]notificationResponse, 0, len(entries))
	for i := range entries {
		responses = append(responses, toNotificationResponse(&entries[i]))
	}

	return c.Status(fiber.StatusOK).JSON(dlqListResponse{
		Data: responses,
		Meta: dlqListMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *DLQHandler) Statistics(c *fiber.Ctx) error {
	stats, err := h.dlq.Statistics(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(stats)
}

func (h *DLQHandler) Retry(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	notification, err := h.dlq.Retry(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

func (h *DLQHandler) Delete(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.dlq.Delete(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"deleted":        true,
	})
}

func (h *DLQHandler) BulkRetry(c *fiber.Ctx) error {
	ids, err := parseBulkIDs(c)
	if err != nil {
		return toHTTPError(err)
	}

	results := h.dlq.BulkRetry(c.Context(), ids)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"results": results,
	})
}

func (h *DLQHandler) BulkDelete(c *fiber.Ctx) error {
	ids, err := parseBulkIDs(c)
	if err != nil {
		return toHTTPError(err)
	}

	results := h.dlq.BulkDelete(c.Context(), ids)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"results": results,
	})
}

func (h *DLQHandler) Cleanup(c *fiber.Ctx) error {
	var req cleanupRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	deleted, err := h.dlq.Cleanup(c.Context(), req.MaxAgeDays)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"deleted": deleted,
	})
}

func parseBulkIDs(c *fiber.Ctx) ([]string, error) {
	var req bulkIDsRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, fmt.Errorf("%w: invalid request body", domain.ErrValidation)
	}
	if len(req.IDs) == 0 {
		return nil, fmt.Errorf("%w: ids is required", domain.ErrValidation)
	}
	return req.IDs, nil
}

func parseDLQListParams(c *fiber.Ctx) (repository.DLQListParams, error) {
	params := repository.DLQListParams{
		UserID:    strings.TrimSpace(c.Query("userId")),
		ErrorCode: strings.TrimSpace(c.Query("errorCode")),
		Page:      c.QueryInt("page", defaultPage),
		PageSize:  c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.DLQListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.DLQListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.DLQListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.DLQListParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}
