package handlers

import (
	"log"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/amirphl/creator-console/app/dto"
	businessflow "github.com/amirphl/creator-console/business_flow"
)

// AuditHandlerInterface defines the contract for audit trail handlers
type AuditHandlerInterface interface {
	List(c fiber.Ctx) error
}

// AuditHandler serves the operator audit trail of an account
type AuditHandler struct {
	flow      businessflow.AuditFlow
	validator *validator.Validate
}

func (h *AuditHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *AuditHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(flow businessflow.AuditFlow) *AuditHandler {
	return &AuditHandler{
		flow:      flow,
		validator: validator.New(),
	}
}

// List returns one page of the account's audit trail
// @Summary List Audit Trail
// @Description Operator actions on the account (audience edits, acquisitions, dispatches), newest first.
// @Tags Audit
// @Produce json
// @Security BearerAuth
// @Param account path string true "Account ID"
// @Param page query int false "Page number (default: 1)"
// @Param page_size query int false "Items per page (default: 20, max: 100)"
// @Success 200 {object} dto.APIResponse{data=dto.ListAuditResponse} "Audit trail retrieved"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 403 {object} dto.APIResponse "Account not allowed"
// @Failure 500 {object} dto.APIResponse "Internal server error"
// @Router /api/v1/accounts/{account}/audit [get]
func (h *AuditHandler) List(c fiber.Ctx) error {
	req := dto.ListAuditRequest{Page: 1, PageSize: 20}
	if pageStr := c.Query("page"); pageStr != "" {
		if parsed, err := strconv.Atoi(pageStr); err == nil {
			req.Page = parsed
		}
	}
	if pageSizeStr := c.Query("page_size"); pageSizeStr != "" {
		if parsed, err := strconv.Atoi(pageSizeStr); err == nil {
			req.PageSize = parsed
		}
	}
	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}

	ctx, cancel := createRequestContextWithTimeout(c, "/api/v1/accounts/:account/audit", defaultRequestTimeout)
	defer cancel()

	result, err := h.flow.ListAudit(ctx, c.Params("account"), &req, clientMetadata(c))
	if err != nil {
		if status, msg, code, ok := flowError(err); ok {
			return h.ErrorResponse(c, status, msg, code, nil)
		}
		log.Println("List audit trail failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "List audit trail failed", "LIST_AUDIT_FAILED", nil)
	}
	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}
