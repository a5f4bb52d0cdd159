// Package web provides the HTTP surface for gateways: message submission,
// delivery status updates and pull-style message collection.
package web

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/dukex/smsbridge/pkg/ingest"
	"github.com/dukex/smsbridge/pkg/messaging"
	"github.com/dukex/smsbridge/pkg/models"
	"github.com/dukex/smsbridge/pkg/persistence"
)

const defaultPendingLimit = 25

type APIHandlers struct {
	ingestService *ingest.Service
	reconciler    *messaging.Reconciler
	dispatcher    *messaging.Dispatcher
	store         persistence.Store
	validator     *validator.Validate
	logger        *slog.Logger
}

func NewAPIHandlers(
	ingestService *ingest.Service,
	reconciler *messaging.Reconciler,
	dispatcher *messaging.Dispatcher,
	store persistence.Store,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		ingestService: ingestService,
		reconciler:    reconciler,
		dispatcher:    dispatcher,
		store:         store,
		validator:     validator,
		logger:        logger.With("module", "web"),
	}
}

// SubmitMessages accepts an inbound batch from a gateway. Invalid and
// duplicate messages are reported, not rejected, so a gateway can always
// re-submit a whole batch safely.
func (h *APIHandlers) SubmitMessages(c fiber.Ctx) error {
	var req SubmitMessagesRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	report, err := h.ingestService.Ingest(c.Context(), req.Messages)
	if err != nil {
		return internalError(c, err)
	}

	created := make([]string, 0, len(report.Results))

	for _, result := range report.Results {
		if result.Ok {
			created = append(created, result.ID)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"created":    created,
		"duplicates": report.Duplicates,
		"invalid":    report.Invalid,
	})
}

// UpdateStates applies delivery status updates reported by the gateway.
func (h *APIHandlers) UpdateStates(c fiber.Ctx) error {
	var req UpdateStatesRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	changes := make([]models.StateChange, 0, len(req.Updates))

	for _, update := range req.Updates {
		state := models.TaskState(update.State)
		if !state.Valid() {
			return badRequest(c, "Unknown state: "+update.State)
		}

		changes = append(changes, models.StateChange{
			MessageID:  update.MessageID,
			State:      state,
			Details:    update.Details,
			GatewayRef: update.GatewayRef,
		})
	}

	err := h.reconciler.UpdateTaskStates(c.Context(), changes)
	if err != nil {
		var updateErr *messaging.UpdateError
		if errors.As(err, &updateErr) {
			return conflict(c, updateErr.Error())
		}

		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"updated": len(changes)})
}

// PendingMessages hands queued messages to a pull-style gateway. It is only
// served when the configured outgoing service is pull-style; with a push
// gateway the same messages would go out twice.
func (h *APIHandlers) PendingMessages(c fiber.Ctx) error {
	if !h.dispatcher.PullGatewayEnabled() {
		return notFound(c, "No pull gateway configured")
	}

	limit := defaultPendingLimit

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return badRequest(c, "Invalid limit")
		}

		limit = parsed
	}

	messages, err := h.store.PendingMessages(c.Context(), limit)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(PendingMessagesResponse{Messages: messages})
}

// GetRecord returns a record with its tasks and state history.
func (h *APIHandlers) GetRecord(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Record ID is required")
	}

	record, err := h.store.RecordByID(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	if record == nil {
		return notFound(c, "Record not found")
	}

	return c.JSON(record)
}

// SendRecord triggers a targeted send of a record's sendable messages.
func (h *APIHandlers) SendRecord(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Record ID is required")
	}

	err := h.dispatcher.SendRecord(c.Context(), id)
	if err != nil {
		if persistence.IsRecordNotFound(err) {
			return notFound(c, "Record not found")
		}

		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"status": "dispatched"})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK
	storeCheck := "ok"

	err := h.store.HealthCheck(c.Context())
	if err != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
		storeCheck = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"store": storeCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
