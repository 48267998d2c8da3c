package handlers

import (
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/amirphl/creator-console/app/dto"
	businessflow "github.com/amirphl/creator-console/business_flow"
)

// AcquisitionHandlerInterface defines the contract for acquisition handlers
type AcquisitionHandlerInterface interface {
	Start(c fiber.Ctx) error
	Status(c fiber.Ctx) error
	Cancel(c fiber.Ctx) error
}

// AcquisitionHandler handles audience acquisition runs
type AcquisitionHandler struct {
	flow      businessflow.AcquisitionFlow
	validator *validator.Validate
}

func (h *AcquisitionHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *AcquisitionHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// NewAcquisitionHandler creates a new acquisition handler
func NewAcquisitionHandler(flow businessflow.AcquisitionFlow) *AcquisitionHandler {
	return &AcquisitionHandler{
		flow:      flow,
		validator: validator.New(),
	}
}

// Start launches a chunked acquisition for the account
// @Summary Start Acquisition
// @Description Pull the account's followers page by page into the audience. A missing goal caps the run at the last known total, a goal of 0 is uncapped.
// @Tags Acquisition
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param account path string true "Account ID"
// @Param request body dto.StartAcquisitionRequest false "Acquisition options"
// @Success 202 {object} dto.APIResponse{data=dto.AcquisitionStatusResponse} "Acquisition started"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 409 {object} dto.APIResponse "Acquisition already running"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/accounts/{account}/acquisitions [post]
func (h *AcquisitionHandler) Start(c fiber.Ctx) error {
	var req dto.StartAcquisitionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := createRequestContextWithTimeout(c, "/api/v1/accounts/:account/acquisitions", defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.StartAcquisition(ctx, c.Params("account"), &req, clientMetadata(c))
	if err != nil {
		if status, msg, code, ok := flowError(err); ok {
			return h.ErrorResponse(c, status, msg, code, nil)
		}
		log.Println("Start acquisition failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Start acquisition failed", "START_ACQUISITION_FAILED", nil)
	}
	return h.SuccessResponse(c, fiber.StatusAccepted, "Acquisition started", result)
}

// Status reports the latest progress of an acquisition
// @Summary Acquisition Status
// @Tags Acquisition
// @Produce json
// @Security BearerAuth
// @Param id path string true "Run ID"
// @Success 200 {object} dto.APIResponse{data=dto.AcquisitionStatusResponse} "Acquisition progress"
// @Failure 404 {object} dto.APIResponse "Run not found"
// @Router /api/v1/acquisitions/{id} [get]
func (h *AcquisitionHandler) Status(c fiber.Ctx) error {
	ctx, cancel := createRequestContextWithTimeout(c, "/api/v1/acquisitions/:id", defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.AcquisitionStatus(ctx, c.Params("id"), clientMetadata(c))
	if err != nil {
		if status, msg, code, ok := flowError(err); ok {
			return h.ErrorResponse(c, status, msg, code, nil)
		}
		log.Println("Acquisition status failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Acquisition status failed", "ACQUISITION_STATUS_FAILED", nil)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Acquisition status retrieved successfully", result)
}

// Cancel stops an acquisition at the next checkpoint
// @Summary Cancel Acquisition
// @Tags Acquisition
// @Produce json
// @Security BearerAuth
// @Param id path string true "Run ID"
// @Success 200 {object} dto.APIResponse{data=dto.AcquisitionStatusResponse} "Cancel requested"
// @Failure 404 {object} dto.APIResponse "Run not found"
// @Failure 409 {object} dto.APIResponse "Run already finished"
// @Router /api/v1/acquisitions/{id}/cancel [post]
func (h *AcquisitionHandler) Cancel(c fiber.Ctx) error {
	ctx, cancel := createRequestContextWithTimeout(c, "/api/v1/acquisitions/:id/cancel", defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.CancelAcquisition(ctx, c.Params("id"), clientMetadata(c))
	if err != nil {
		if status, msg, code, ok := flowError(err); ok {
			return h.ErrorResponse(c, status, msg, code, nil)
		}
		log.Println("Cancel acquisition failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Cancel acquisition failed", "CANCEL_ACQUISITION_FAILED", nil)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Acquisition cancel requested", result)
}
