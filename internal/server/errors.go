package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/creditkit/internal/account/domain"
	auditdomain "github.com/smallbiznis/creditkit/internal/audit/domain"
	authdomain "github.com/smallbiznis/creditkit/internal/auth/domain"
	"github.com/smallbiznis/creditkit/internal/authorization"
	creditdomain "github.com/smallbiznis/creditkit/internal/credit/domain"
	featureflagdomain "github.com/smallbiznis/creditkit/internal/featureflag/domain"
	"github.com/smallbiznis/creditkit/internal/ratelimit"
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

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = ratelimit.ErrRateLimited
	ErrServiceUnavailable = errors.New("service_unavailable")
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

// errorClass maps a set of sentinel errors to one HTTP status and error type.
type errorClass struct {
	status  int
	typ     string
	message string
	errs    []error
}

// Checked in order; the first class with a matching sentinel wins.
var errorClasses = []errorClass{
	{http.StatusPaymentRequired, "insufficient_credits", "insufficient credits",
		[]error{creditdomain.ErrInsufficientCredits}},
	{http.StatusUnauthorized, "unauthorized", "unauthorized",
		[]error{ErrUnauthorized, authdomain.ErrInvalidSession, authdomain.ErrSessionNotFound, authdomain.ErrSessionExpired, authdomain.ErrSessionRevoked}},
	{http.StatusUnauthorized, "invalid_token", "sign-in link is invalid or has expired",
		[]error{authdomain.ErrInvalidToken, authdomain.ErrTokenExpired, authdomain.ErrTokenUsed}},
	{http.StatusForbidden, "forbidden", "forbidden",
		[]error{ErrForbidden, authorization.ErrForbidden, authorization.ErrInvalidActor}},
	{http.StatusConflict, "conflict", "email already registered",
		[]error{accountdomain.ErrEmailTaken}},
	{http.StatusConflict, "conflict", "feature flag already exists",
		[]error{featureflagdomain.ErrFlagExists}},
	{http.StatusConflict, "conflict", "conflict",
		[]error{ErrConflict}},
	{http.StatusTooManyRequests, "rate_limited", "too many requests",
		[]error{ErrRateLimited}},
	{http.StatusNotFound, "not_found", "not found",
		[]error{ErrNotFound, accountdomain.ErrAccountNotFound, featureflagdomain.ErrFlagNotFound, gorm.ErrRecordNotFound}},
	{http.StatusServiceUnavailable, "service_unavailable", "service unavailable",
		[]error{ErrServiceUnavailable}},
}

// Sentinels answered as a single-field validation error. The field is derived
// from the error code.
var validationSentinels = []error{
	ErrInvalidRequest,
	creditdomain.ErrInvalidAmount,
	creditdomain.ErrInvalidKind,
	accountdomain.ErrInvalidEmail,
	accountdomain.ErrInvalidRole,
	accountdomain.ErrInvalidPlan,
	accountdomain.ErrInvalidID,
	authdomain.ErrInvalidEmail,
	featureflagdomain.ErrInvalidName,
	featureflagdomain.ErrInvalidID,
	auditdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidTimeRange,
	auditdomain.ErrInvalidAction,
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}

	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Message: "validation error", Errors: vErr.Errors}
	}
	if matchesAny(err, validationSentinels) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{{
				Field:   validationErrorField(code),
				Code:    code,
				Message: validationErrorMessage(code),
			}},
		}
	}

	for _, class := range errorClasses {
		if matchesAny(err, class.errs) {
			return class.status, errorPayload{Type: class.typ, Message: class.message}
		}
	}
	return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
}

// classifyErrorForLog feeds the request logger a type and a stable code.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, featureflagdomain.ErrInvalidID), errors.Is(err, accountdomain.ErrInvalidID):
		return "invalid_id"
	case errors.Is(err, featureflagdomain.ErrInvalidName):
		return "invalid_name"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	}
	var target error = err
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			target = sentinel
			break
		}
	}
	return target.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	return strings.TrimPrefix(code, "invalid_")
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_amount":
		return "amount must be a non-zero integer, and positive for spends"
	default:
		return "invalid value"
	}
}
