package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Error codes shared by REST responses and realtime acks.
const (
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeForbidden       = "FORBIDDEN"
	CodeValidation      = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeRateLimited     = "RATE_LIMITED"
	CodeInternal        = "INTERNAL_ERROR"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	ChatID  uint   `json:"chatId,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error

	// ChatID is set on conflicts so the client can open the existing thread.
	ChatID uint
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Predefined error constructors
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

func NewUnauthenticatedError(message string) *AppError {
	return &AppError{
		Code:    CodeUnauthenticated,
		Message: message,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
	}
}

func NewConflictError(message string, chatID uint) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
		ChatID:  chatID,
	}
}

func NewRateLimitedError(message string) *AppError {
	return &AppError{
		Code:    CodeRateLimited,
		Message: message,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// StatusCode maps an error to its HTTP status.
func StatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case CodeUnauthenticated:
			return fiber.StatusUnauthorized
		case CodeForbidden:
			return fiber.StatusForbidden
		case CodeValidation:
			return fiber.StatusBadRequest
		case CodeNotFound:
			return fiber.StatusNotFound
		case CodeConflict:
			return fiber.StatusConflict
		case CodeRateLimited:
			return fiber.StatusTooManyRequests
		}
		return fiber.StatusInternalServerError
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fiber.StatusNotFound
	}
	return fiber.StatusInternalServerError
}

// RespondWithError writes the standardized error payload for err.
// Wrapped internals are only included when exposeDetails is set.
func RespondWithError(c *fiber.Ctx, err error, exposeDetails bool) error {
	var response ErrorResponse

	var appErr *AppError
	if errors.As(err, &appErr) {
		response = ErrorResponse{
			Error:  appErr.Message,
			Code:   appErr.Code,
			ChatID: appErr.ChatID,
		}
		if exposeDetails && appErr.Err != nil {
			response.Details = appErr.Err.Error()
		}
	} else {
		status := StatusCode(err)
		response = ErrorResponse{
			Error: "Internal server error",
			Code:  CodeInternal,
		}
		if status == fiber.StatusNotFound {
			response = ErrorResponse{Error: "Resource not found", Code: CodeNotFound}
		}
		if exposeDetails {
			response.Details = err.Error()
		}
	}

	return c.Status(StatusCode(err)).JSON(response)
}
