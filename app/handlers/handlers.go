// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/amirphl/creator-console/app/middleware"
	businessflow "github.com/amirphl/creator-console/business_flow"
	"github.com/amirphl/creator-console/utils"
)

const (
	defaultRequestTimeout = 30 * time.Second
	exportRequestTimeout  = 2 * time.Minute
	xlsxContentType       = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "min":
		return err.Field() + " must have at least " + err.Param() + " items"
	case "max":
		return err.Field() + " must be at most " + err.Param()
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", err.Field(), err.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", err.Field(), err.Param())
	default:
		return err.Field() + " is invalid"
	}
}

func validationMessages(err error) []string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return []string{err.Error()}
	}
	messages := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		messages = append(messages, getValidationErrorMessage(fe))
	}
	return messages
}

// clientMetadata collects the caller details the business flows need,
// including the accounts granted by the operator token
func clientMetadata(c fiber.Ctx) *businessflow.ClientMetadata {
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	metadata.SetRequestID(c.Get(businessflow.RequestIDKey))
	if claims, ok := middleware.GetTokenClaimsFromContext(c); ok {
		metadata.SetOperator(claims.OperatorID, claims.Accounts)
	} else if operatorID, ok := middleware.GetOperatorIDFromContext(c); ok {
		metadata.SetOperator(operatorID, nil)
	}
	return metadata
}

// createRequestContextWithTimeout creates a context with custom timeout and request-scoped values
func createRequestContextWithTimeout(c fiber.Ctx, endpoint string, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get(businessflow.RequestIDKey))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	if operatorID, ok := middleware.GetOperatorIDFromContext(c); ok {
		ctx = context.WithValue(ctx, utils.OperatorKey, operatorID)
	}

	return ctx, cancel
}

// flowError maps the sentinel errors shared by the pipeline flows to an HTTP status and error code
func flowError(err error) (status int, message, code string, ok bool) {
	switch {
	case businessflow.IsAccountRequired(err):
		return fiber.StatusBadRequest, "Account is required", "ACCOUNT_REQUIRED", true
	case businessflow.IsInvalidRunID(err):
		return fiber.StatusBadRequest, "Invalid run id", "INVALID_RUN_ID", true
	case businessflow.IsDelayTooShort(err):
		return fiber.StatusBadRequest, "Delay is shorter than the allowed minimum", "DELAY_TOO_SHORT", true
	case businessflow.IsNoKnownRecipients(err):
		return fiber.StatusBadRequest, "None of the recipients are in the audience", "NO_KNOWN_RECIPIENTS", true
	case businessflow.IsNoFailedRecipients(err):
		return fiber.StatusBadRequest, "Run has no failed recipients", "NO_FAILED_RECIPIENTS", true
	case businessflow.IsTemplateRequired(err):
		return fiber.StatusBadRequest, "Template is required", "TEMPLATE_REQUIRED", true
	case businessflow.IsAccountAccessDenied(err):
		return fiber.StatusForbidden, "Operator is not allowed to manage this account", "ACCOUNT_FORBIDDEN", true
	case businessflow.IsRunNotFound(err):
		return fiber.StatusNotFound, "Run not found", "RUN_NOT_FOUND", true
	case businessflow.IsRecordNotFound(err):
		return fiber.StatusNotFound, "Audience record not found", "RECORD_NOT_FOUND", true
	case businessflow.IsAcquisitionInProgress(err):
		return fiber.StatusConflict, "An acquisition is already running for this account", "ACQUISITION_IN_PROGRESS", true
	case businessflow.IsDispatchInProgress(err):
		return fiber.StatusConflict, "A dispatch is already running for this account", "DISPATCH_IN_PROGRESS", true
	case businessflow.IsRunNotActive(err):
		return fiber.StatusConflict, "Run is not active", "RUN_NOT_ACTIVE", true
	case businessflow.IsRunNotFinished(err):
		return fiber.StatusConflict, "Run has not finished", "RUN_NOT_FINISHED", true
	}
	return fiber.StatusInternalServerError, "", "", false
}

func sendWorkbook(c fiber.Ctx, filename string, data []byte) error {
	c.Set(fiber.HeaderContentType, xlsxContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Status(fiber.StatusOK).Send(data)
}
