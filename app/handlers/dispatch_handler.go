package handlers

import (
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/amirphl/creator-console/app/dto"
	businessflow "github.com/amirphl/creator-console/business_flow"
)

// DispatchHandlerInterface defines the contract for dispatch handlers
type DispatchHandlerInterface interface {
	Start(c fiber.Ctx) error
	Status(c fiber.Ctx) error
	Cancel(c fiber.Ctx) error
	UpdateTemplate(c fiber.Ctx) error
	Retry(c fiber.Ctx) error
	Export(c fiber.Ctx) error
}

// DispatchHandler handles bulk dispatch runs
type DispatchHandler struct {
	flow      businessflow.DispatchFlow
	validator *validator.Validate
}

func (h *DispatchHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *DispatchHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// NewDispatchHandler creates a new dispatch handler
func NewDispatchHandler(flow businessflow.DispatchFlow) *DispatchHandler {
	return &DispatchHandler{
		flow:      flow,
		validator: validator.New(),
	}
}

func (h *DispatchHandler) flowFailure(c fiber.Ctx, err error, message, code string) error {
	if status, msg, errCode, ok := flowError(err); ok {
		return h.ErrorResponse(c, status, msg, errCode, nil)
	}
	log.Println(message, err)
	return h.ErrorResponse(c, fiber.StatusInternalServerError, message, code, nil)
}

// Start creates a dispatch run over the given recipients
// @Summary Start Dispatch
// @Description Send one templated message to each recipient in order. With schedule_at in the future the run waits for the scheduler.
// @Tags Dispatch
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param account path string true "Account ID"
// @Param request body dto.StartDispatchRequest true "Dispatch parameters"
// @Success 202 {object} dto.APIResponse{data=dto.DispatchStatusResponse} "Dispatch created"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 409 {object} dto.APIResponse "Dispatch already running"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/accounts/{account}/dispatches [post]
func (h *DispatchHandler) Start(c fiber.Ctx) error {
	var req dto.StartDispatchRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := createRequestContextWithTimeout(c, "/api/v1/accounts/:account/dispatches", defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.StartDispatch(ctx, c.Params("account"), &req, clientMetadata(c))
	if err != nil {
		return h.flowFailure(c, err, "Start dispatch failed", "START_DISPATCH_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusAccepted, "Dispatch created", result)
}

// Status reports counters and per-recipient results of a run
// @Summary Dispatch Status
// @Tags Dispatch
// @Produce json
// @Security BearerAuth
// @Param id path string true "Run ID"
// @Success 200 {object} dto.APIResponse{data=dto.DispatchStatusResponse} "Dispatch status"
// @Failure 404 {object} dto.APIResponse "Run not found"
// @Router /api/v1/dispatches/{id} [get]
func (h *DispatchHandler) Status(c fiber.Ctx) error {
	ctx, cancel := createRequestContextWithTimeout(c, "/api/v1/dispatches/:id", defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.DispatchStatus(ctx, c.Params("id"), clientMetadata(c))
	if err != nil {
		return h.flowFailure(c, err, "Dispatch status failed", "DISPATCH_STATUS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Dispatch status retrieved successfully", result)
}

// Cancel stops a running dispatch before its next recipient or drops a scheduled one
// @Summary Cancel Dispatch
// @Tags Dispatch
// @Produce json
// @Security BearerAuth
// @Param id path string true "Run ID"
// @Success 200 {object} dto.APIResponse{data=dto.DispatchStatusResponse} "Cancel requested"
// @Failure 404 {object} dto.APIResponse "Run not found"
// @Failure 409 {object} dto.APIResponse "Run not active"
// @Router /api/v1/dispatches/{id}/cancel [post]
func (h *DispatchHandler) Cancel(c fiber.Ctx) error {
	ctx, cancel := createRequestContextWithTimeout(c, "/api/v1/dispatches/:id/cancel", defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.CancelDispatch(ctx, c.Params("id"), clientMetadata(c))
	if err != nil {
		return h.flowFailure(c, err, "Cancel dispatch failed", "CANCEL_DISPATCH_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Dispatch cancel requested", result)
}

// UpdateTemplate replaces the template for recipients not yet rendered
// @Summary Update Dispatch Template
// @Tags Dispatch
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Run ID"
// @Param request body dto.UpdateTemplateRequest true "New template"
// @Success 200 {object} dto.APIResponse{data=dto.DispatchStatusResponse} "Template updated"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 409 {object} dto.APIResponse "Run not active"
// @Router /api/v1/dispatches/{id}/template [put]
func (h *DispatchHandler) UpdateTemplate(c fiber.Ctx) error {
	var req dto.UpdateTemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := createRequestContextWithTimeout(c, "/api/v1/dispatches/:id/template", defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.UpdateTemplate(ctx, c.Params("id"), &req, clientMetadata(c))
	if err != nil {
		return h.flowFailure(c, err, "Update template failed", "UPDATE_TEMPLATE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Template updated", result)
}

// Retry starts a new run over the failed recipients of a finished run
// @Summary Retry Failed Recipients
// @Tags Dispatch
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Run ID"
// @Param request body dto.RetryDispatchRequest false "Overrides for the new run"
// @Success 202 {object} dto.APIResponse{data=dto.DispatchStatusResponse} "Retry created"
// @Failure 400 {object} dto.APIResponse "No failed recipients"
// @Failure 409 {object} dto.APIResponse "Run not finished or dispatch already running"
// @Router /api/v1/dispatches/{id}/retry [post]
func (h *DispatchHandler) Retry(c fiber.Ctx) error {
	var req dto.RetryDispatchRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := createRequestContextWithTimeout(c, "/api/v1/dispatches/:id/retry", defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.RetryFailed(ctx, c.Params("id"), &req, clientMetadata(c))
	if err != nil {
		return h.flowFailure(c, err, "Retry dispatch failed", "RETRY_DISPATCH_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusAccepted, "Retry created", result)
}

// Export downloads the run summary and per-recipient results as an xlsx workbook
// @Summary Export Dispatch
// @Tags Dispatch
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Param id path string true "Run ID"
// @Success 200 {file} file "Dispatch workbook"
// @Failure 404 {object} dto.APIResponse "Run not found"
// @Router /api/v1/dispatches/{id}/export [get]
func (h *DispatchHandler) Export(c fiber.Ctx) error {
	ctx, cancel := createRequestContextWithTimeout(c, "/api/v1/dispatches/:id/export", exportRequestTimeout)
	defer cancel()

	filename, data, err := h.flow.ExportDispatch(ctx, c.Params("id"), clientMetadata(c))
	if err != nil {
		return h.flowFailure(c, err, "Export dispatch failed", "EXPORT_DISPATCH_FAILED")
	}
	return sendWorkbook(c, filename, data)
}
