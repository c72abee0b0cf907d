package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/batch-engine/internal/domain"
	"github.com/kursadbilgin/batch-engine/internal/observability"
	"github.com/kursadbilgin/batch-engine/internal/service"
)

type BatchService interface {
	CreateBatch(ctx context.Context, req service.CreateBatchRequest) (string, error)
	Start(ctx context.Context, batchID string) bool
	GetStatus(ctx context.Context, batchID string) (*domain.BatchSnapshot, error)
	GetResults(ctx context.Context, batchID string) (*service.BatchResults, error)
	Cancel(ctx context.Context, batchID string) bool
	ListAttempts(ctx context.Context, batchID string, operationID string) ([]service.AttemptView, error)
	Statistics() service.Statistics
}

type BatchHandler struct {
	service BatchService
}

func NewBatchHandler(service BatchService) (*BatchHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("batch service is required")
	}
	return &BatchHandler{service: service}, nil
}

func RegisterBatchRoutes(router fiber.Router, service BatchService) error {
	h, err := NewBatchHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/batches", h.CreateBatch)
	v1.Get("/batches/:batchId", h.GetStatus)
	v1.Get("/batches/:batchId/results", h.GetResults)
	v1.Get("/batches/:batchId/attempts", h.ListAttempts)
	v1.Post("/batches/:batchId/start", h.StartBatch)
	v1.Post("/batches/:batchId/cancel", h.CancelBatch)
	v1.Get("/statistics", h.Statistics)

	return nil
}

type createBatchRequest struct {
	service.CreateBatchRequest
	AutoStart bool `json:"autoStart"`
}

type createBatchResponse struct {
	BatchID         string `json:"batchId"`
	Status          string `json:"status"`
	TotalOperations int    `json:"totalOperations"`
}

type batchStateResponse struct {
	BatchID string `json:"batchId"`
	Status  string `json:"status"`
}

func (h *BatchHandler) CreateBatch(c *fiber.Ctx) error {
	var req createBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	ctx := requestContext(c)
	batchID, err := h.service.CreateBatch(ctx, req.CreateBatchRequest)
	if err != nil {
		return toHTTPError(err)
	}

	status := domain.StatusPending
	if req.AutoStart && h.service.Start(ctx, batchID) {
		status = domain.StatusRunning
	}

	return c.Status(fiber.StatusAccepted).JSON(createBatchResponse{
		BatchID:         batchID,
		Status:          status.String(),
		TotalOperations: len(req.Operations),
	})
}

func (h *BatchHandler) GetStatus(c *fiber.Ctx) error {
	snapshot, err := h.service.GetStatus(requestContext(c), batchIDParam(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(snapshot)
}

func (h *BatchHandler) GetResults(c *fiber.Ctx) error {
	results, err := h.service.GetResults(requestContext(c), batchIDParam(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(results)
}

func (h *BatchHandler) ListAttempts(c *fiber.Ctx) error {
	attempts, err := h.service.ListAttempts(requestContext(c), batchIDParam(c), c.Query("operationId"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"batchId":  batchIDParam(c),
		"attempts": attempts,
	})
}

func (h *BatchHandler) StartBatch(c *fiber.Ctx) error {
	ctx := requestContext(c)
	batchID := batchIDParam(c)

	if !h.service.Start(ctx, batchID) {
		return h.rejectTransition(ctx, batchID, "started")
	}
	return c.Status(fiber.StatusOK).JSON(batchStateResponse{
		BatchID: batchID,
		Status:  domain.StatusRunning.String(),
	})
}

func (h *BatchHandler) CancelBatch(c *fiber.Ctx) error {
	ctx := requestContext(c)
	batchID := batchIDParam(c)

	if !h.service.Cancel(ctx, batchID) {
		return h.rejectTransition(ctx, batchID, "cancelled")
	}
	return c.Status(fiber.StatusOK).JSON(batchStateResponse{
		BatchID: batchID,
		Status:  domain.StatusCancelled.String(),
	})
}

func (h *BatchHandler) Statistics(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.service.Statistics())
}

// rejectTransition tells an unknown batch apart from one in the wrong state.
func (h *BatchHandler) rejectTransition(ctx context.Context, batchID string, action string) error {
	snapshot, err := h.service.GetStatus(ctx, batchID)
	if err != nil {
		return toHTTPError(err)
	}
	return toHTTPError(fmt.Errorf("%w: batch %s is %s and cannot be %s",
		domain.ErrConflict, batchID, snapshot.Status, action))
}

func batchIDParam(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Params("batchId"))
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if id := requestCorrelationID(c); id != "" {
		ctx = observability.WithCorrelationID(ctx, id)
	}
	return ctx
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNotReady):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
