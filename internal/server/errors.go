package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/edgecount/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/edgecount/internal/audit/domain"
	"github.com/smallbiznis/edgecount/internal/authorization"
	cameradomain "github.com/smallbiznis/edgecount/internal/camera/domain"
	handshakedomain "github.com/smallbiznis/edgecount/internal/handshake/domain"
	ingestiondomain "github.com/smallbiznis/edgecount/internal/ingestion/domain"
	"github.com/smallbiznis/edgecount/internal/liveevents"
	sitetokendomain "github.com/smallbiznis/edgecount/internal/sitetoken/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// deviceErrorResponse is the flat body device firmware parses.
type deviceErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrRateLimited        = errors.New("rate_limited")
	ErrPayloadTooLarge    = errors.New("payload_too_large")
)

const (
	msgInternal             = "Internal server error"
	msgRegistrationInternal = "Internal server error during registration"
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

// AbortWithDeviceError renders err in the device wire format. internalMessage is
// what the device sees when err has no specific mapping.
func AbortWithDeviceError(c *gin.Context, err error, internalMessage string) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	status, body := mapDeviceError(err, internalMessage)
	c.AbortWithStatusJSON(status, body)
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapDeviceError(err error, internalMessage string) (int, deviceErrorResponse) {
	if strings.TrimSpace(internalMessage) == "" {
		internalMessage = msgInternal
	}
	body := deviceErrorResponse{Success: false}

	var tokenErr *sitetokendomain.InvalidTokenError
	switch {
	case errors.As(err, &tokenErr):
		body.Error = tokenErr.Message()
		body.Reason = string(tokenErr.Reason)
		return http.StatusForbidden, body
	case errors.Is(err, handshakedomain.ErrMissingFields):
		body.Error = "Missing required fields: serial and token"
		return http.StatusBadRequest, body
	case errors.Is(err, handshakedomain.ErrOrgConflict):
		body.Error = "Device already registered to another organization"
		return http.StatusConflict, body
	case errors.Is(err, handshakedomain.ErrRegistrationInProgress):
		body.Error = "Registration already in progress"
		return http.StatusTooManyRequests, body
	case errors.Is(err, handshakedomain.ErrMissingSerial):
		body.Error = "Missing serial"
		return http.StatusBadRequest, body
	case errors.Is(err, handshakedomain.ErrCameraNotRegistered),
		errors.Is(err, ingestiondomain.ErrCameraNotRegistered):
		body.Error = "Camera not registered"
		return http.StatusNotFound, body
	case errors.Is(err, ingestiondomain.ErrCameraUnassigned):
		body.Error = "Camera unassigned"
		return http.StatusForbidden, body
	case errors.Is(err, ingestiondomain.ErrUnrecognizedSchema):
		body.Error = "Unsupported or malformed payload schema"
		return http.StatusBadRequest, body
	case errors.Is(err, ingestiondomain.ErrMissingSerial):
		body.Error = "Missing device serial"
		return http.StatusBadRequest, body
	case errors.Is(err, ingestiondomain.ErrMissingCounts):
		body.Error = "Missing counts"
		return http.StatusBadRequest, body
	case errors.Is(err, ErrRateLimited):
		body.Error = "Too many requests"
		return http.StatusTooManyRequests, body
	case errors.Is(err, ErrPayloadTooLarge):
		body.Error = "Payload too large"
		return http.StatusRequestEntityTooLarge, body
	default:
		body.Error = internalMessage
		return http.StatusInternalServerError, body
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, apikeydomain.ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, cameradomain.ErrOrgConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, liveevents.ErrHubUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog yields the error_type and error_code fields of the request log.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if reason := sitetokendomain.RejectionReason(err); reason != "" {
		return "forbidden", string(reason)
	}
	if status, _ := mapDeviceError(err, ""); status != http.StatusInternalServerError {
		return errorTypeForStatus(status), err.Error()
	}

	_, payload := mapError(err)
	switch payload.Type {
	case "internal_error":
		return payload.Type, "internal_error"
	case "validation_error":
		if len(payload.Errors) > 0 {
			return payload.Type, payload.Errors[0].Code
		}
	}
	return payload.Type, err.Error()
}

func errorTypeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation_error"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	default:
		return "internal_error"
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isSiteTokenValidationError(err),
		isCameraValidationError(err),
		isAPIKeyValidationError(err),
		isAuditValidationError(err),
		isAuthorizationValidationError(err),
		errors.Is(err, liveevents.ErrInvalidOrgID):
		return true
	default:
		return false
	}
}

func isSiteTokenValidationError(err error) bool {
	switch {
	case errors.Is(err, sitetokendomain.ErrInvalidSiteID),
		errors.Is(err, sitetokendomain.ErrInvalidOrgID),
		errors.Is(err, sitetokendomain.ErrInvalidValidHours),
		errors.Is(err, sitetokendomain.ErrInvalidMaxUses),
		errors.Is(err, sitetokendomain.ErrInvalidSerial):
		return true
	default:
		return false
	}
}

func isCameraValidationError(err error) bool {
	switch {
	case errors.Is(err, cameradomain.ErrInvalidSerial),
		errors.Is(err, cameradomain.ErrInvalidOrgID),
		errors.Is(err, cameradomain.ErrInvalidSiteID):
		return true
	default:
		return false
	}
}

func isAPIKeyValidationError(err error) bool {
	switch {
	case errors.Is(err, apikeydomain.ErrInvalidOrganization),
		errors.Is(err, apikeydomain.ErrInvalidName),
		errors.Is(err, apikeydomain.ErrInvalidRole),
		errors.Is(err, apikeydomain.ErrInvalidKeyID):
		return true
	default:
		return false
	}
}

func isAuditValidationError(err error) bool {
	switch {
	case errors.Is(err, auditdomain.ErrInvalidOrganization),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, auditdomain.ErrInvalidAction):
		return true
	default:
		return false
	}
}

func isAuthorizationValidationError(err error) bool {
	switch {
	case errors.Is(err, authorization.ErrInvalidOrganization),
		errors.Is(err, authorization.ErrInvalidObject),
		errors.Is(err, authorization.ErrInvalidAction):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, cameradomain.ErrNotFound),
		errors.Is(err, apikeydomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
