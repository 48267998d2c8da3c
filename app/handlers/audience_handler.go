package handlers

import (
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/amirphl/creator-console/app/dto"
	businessflow "github.com/amirphl/creator-console/business_flow"
)

// AudienceHandlerInterface defines the contract for audience handlers
type AudienceHandlerInterface interface {
	Load(c fiber.Ctx) error
	List(c fiber.Ctx) error
	Add(c fiber.Ctx) error
	Remove(c fiber.Ctx) error
	Enrich(c fiber.Ctx) error
	Export(c fiber.Ctx) error
}

// AudienceHandler handles audience related HTTP requests
type AudienceHandler struct {
	flow      businessflow.AudienceFlow
	validator *validator.Validate
}

func (h *AudienceHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *AudienceHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// NewAudienceHandler creates a new audience handler
func NewAudienceHandler(flow businessflow.AudienceFlow) *AudienceHandler {
	return &AudienceHandler{
		flow:      flow,
		validator: validator.New(),
	}
}

func (h *AudienceHandler) flowFailure(c fiber.Ctx, err error, message, code string) error {
	if status, msg, errCode, ok := flowError(err); ok {
		return h.ErrorResponse(c, status, msg, errCode, nil)
	}
	log.Println(message, err)
	return h.ErrorResponse(c, fiber.StatusInternalServerError, message, code, nil)
}

// Load merges the persisted audience of an account into memory
// @Summary Load Audience
// @Description Load the persisted audience of the account into the in-memory store. Records already in memory are kept.
// @Tags Audience
// @Produce json
// @Security BearerAuth
// @Param account path string true "Account ID"
// @Success 200 {object} dto.APIResponse{data=dto.LoadAudienceResponse} "Audience loaded"
// @Failure 403 {object} dto.APIResponse "Account not allowed"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/accounts/{account}/audience/load [post]
func (h *AudienceHandler) Load(c fiber.Ctx) error {
	ctx, cancel := createRequestContextWithTimeout(c, "/api/v1/accounts/:account/audience/load", defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.LoadAudience(ctx, c.Params("account"), clientMetadata(c))
	if err != nil {
		return h.flowFailure(c, err, "Load audience failed", "LOAD_AUDIENCE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// List returns the account audience in insertion order
// @Summary List Audience
// @Tags Audience
// @Produce json
// @Security BearerAuth
// @Param account path string true "Account ID"
// @Param source query string false "Filter by source (conversation, engaged, follower, fetched, discovered)"
// @Success 200 {object} dto.APIResponse{data=dto.ListAudienceResponse} "Audience retrieved"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 403 {object} dto.APIResponse "Account not allowed"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/accounts/{account}/audience [get]
func (h *AudienceHandler) List(c fiber.Ctx) error {
	req := dto.ListAudienceRequest{Source: c.Query("source")}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := createRequestContextWithTimeout(c, "/api/v1/accounts/:account/audience", defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.ListAudience(ctx, c.Params("account"), &req, clientMetadata(c))
	if err != nil {
		return h.flowFailure(c, err, "List audience failed", "LIST_AUDIENCE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// Add merges operator supplied identities into the audience. First seen wins.
// @Summary Add Audience Records
// @Description Quick add one identity or add a whole discovery result. Ids already in the audience are skipped.
// @Tags Audience
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param account path string true "Account ID"
// @Param request body dto.AddAudienceRequest true "Records to add"
// @Success 200 {object} dto.APIResponse{data=dto.AddAudienceResponse} "Records merged"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 403 {object} dto.APIResponse "Account not allowed"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/accounts/{account}/audience [post]
func (h *AudienceHandler) Add(c fiber.Ctx) error {
	var req dto.AddAudienceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := createRequestContextWithTimeout(c, "/api/v1/accounts/:account/audience", defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.AddAudience(ctx, c.Params("account"), &req, clientMetadata(c))
	if err != nil {
		return h.flowFailure(c, err, "Add audience failed", "ADD_AUDIENCE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// Remove deletes identities from the audience
// @Summary Remove Audience Records
// @Tags Audience
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param account path string true "Account ID"
// @Param request body dto.RemoveAudienceRequest true "Ids to remove"
// @Success 200 {object} dto.APIResponse{data=dto.RemoveAudienceResponse} "Records removed"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 409 {object} dto.APIResponse "Acquisition in progress"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/accounts/{account}/audience [delete]
func (h *AudienceHandler) Remove(c fiber.Ctx) error {
	var req dto.RemoveAudienceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := createRequestContextWithTimeout(c, "/api/v1/accounts/:account/audience", defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.RemoveAudience(ctx, c.Params("account"), &req, clientMetadata(c))
	if err != nil {
		return h.flowFailure(c, err, "Remove audience failed", "REMOVE_AUDIENCE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// Enrich sets one attribute on an audience record
// @Summary Enrich Audience Record
// @Tags Audience
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param account path string true "Account ID"
// @Param id path string true "Record ID"
// @Param request body dto.EnrichAudienceRequest true "Attribute to set"
// @Success 200 {object} dto.APIResponse{data=dto.EnrichAudienceResponse} "Record enriched"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 404 {object} dto.APIResponse "Record not found"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/accounts/{account}/audience/{id}/attributes [post]
func (h *AudienceHandler) Enrich(c fiber.Ctx) error {
	var req dto.EnrichAudienceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := createRequestContextWithTimeout(c, "/api/v1/accounts/:account/audience/:id/attributes", defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.EnrichAudience(ctx, c.Params("account"), c.Params("id"), &req, clientMetadata(c))
	if err != nil {
		return h.flowFailure(c, err, "Enrich audience failed", "ENRICH_AUDIENCE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// Export downloads the account audience as an xlsx workbook
// @Summary Export Audience
// @Tags Audience
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Param account path string true "Account ID"
// @Success 200 {file} file "Audience workbook"
// @Failure 403 {object} dto.APIResponse "Account not allowed"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/accounts/{account}/audience/export [get]
func (h *AudienceHandler) Export(c fiber.Ctx) error {
	ctx, cancel := createRequestContextWithTimeout(c, "/api/v1/accounts/:account/audience/export", exportRequestTimeout)
	defer cancel()

	filename, data, err := h.flow.ExportAudience(ctx, c.Params("account"), clientMetadata(c))
	if err != nil {
		return h.flowFailure(c, err, "Export audience failed", "EXPORT_AUDIENCE_FAILED")
	}
	return sendWorkbook(c, filename, data)
}
