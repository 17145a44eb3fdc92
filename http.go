package auth

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// GenericErrorMessage is shown for unexpected failures outside diagnostic mode
const GenericErrorMessage = "Something went wrong!"

// Response is the envelope every JSON response uses
type Response struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Errors  any    `json:"errors,omitempty"`
}

// Success writes a successful envelope
func Success(c *fiber.Ctx, code int, message string, data any) error {
	return c.Status(code).JSON(Response{
		Success: true,
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// Fail writes an error envelope
func Fail(c *fiber.Ctx, code int, message string, errs any) error {
	return c.Status(code).JSON(Response{
		Success: false,
		Code:    code,
		Message: message,
		Errors:  errs,
	})
}

// NormalizedError is the client facing view of a failure
type NormalizedError struct {
	Status      int
	Message     string
	Errors      any
	Operational bool
	TextCode    string
}

// DiagnosticDetail is attached to unexpected failures in diagnostic mode
type DiagnosticDetail struct {
	Detail   string         `json:"detail"`
	Category string         `json:"category,omitempty"`
	TextCode string         `json:"textCode,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Stack    []string       `json:"stack,omitempty"`
}

// NormalizeError maps an error to its status code and disclosed message.
// Operational errors always disclose their message; anything else is
// reported as a generic 500 unless diagnostic is set.
func NormalizeError(err error, diagnostic bool) NormalizedError {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		if fiberErr.Code < fiber.StatusInternalServerError {
			return NormalizedError{
				Status:      fiberErr.Code,
				Message:     fiberErr.Message,
				Operational: true,
			}
		}
		return internalError(err, nil, diagnostic)
	}

	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return internalError(err, nil, diagnostic)
	}

	out := NormalizedError{
		Message:     richErr.Message,
		Operational: true,
		TextCode:    richErr.TextCode,
	}

	switch richErr.Category {
	case errors.CategoryConflict:
		out.Status = fiber.StatusConflict
	case errors.CategoryNotFound:
		out.Status = fiber.StatusNotFound
	case errors.CategoryAuth:
		out.Status = fiber.StatusUnauthorized
	case errors.CategoryAuthz:
		out.Status = fiber.StatusForbidden
	case errors.CategoryValidation, errors.CategoryBadInput:
		out.Status = fiber.StatusBadRequest
		if fields := ValidationFields(richErr); len(fields) > 0 {
			out.Errors = fields
		}
	case errors.CategoryRateLimit:
		out.Status = fiber.StatusTooManyRequests
	default:
		return internalError(err, richErr, diagnostic)
	}

	return out
}

func internalError(err error, richErr *errors.Error, diagnostic bool) NormalizedError {
	out := NormalizedError{
		Status:   fiber.StatusInternalServerError,
		Message:  GenericErrorMessage,
		TextCode: TextCodeInternal,
	}

	if !diagnostic {
		return out
	}

	detail := DiagnosticDetail{Detail: err.Error()}
	stack := errors.StackTrace(nil)
	if richErr != nil {
		out.Message = richErr.Message
		detail.Category = fmt.Sprint(richErr.Category)
		detail.TextCode = richErr.TextCode
		detail.Metadata = richErr.Metadata
		stack = richErr.StackTrace
	}
	// errors without a captured stack report where they were normalized
	if len(stack) == 0 {
		stack = errors.CaptureStackTrace(1)
	}
	detail.Stack = formatStack(stack)
	out.Errors = detail

	return out
}

func formatStack(stack errors.StackTrace) []string {
	out := make([]string, 0, len(stack))
	for _, frame := range stack {
		out = append(out, fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line))
	}
	return out
}

// ErrorHandlerConfig configures the fiber error handler
type ErrorHandlerConfig struct {
	// Diagnostic discloses internal error details, use it only in development
	Diagnostic bool
	Logger     Logger
}

// ErrorHandler returns the fiber error handler that turns every failure
// into the error envelope.
func ErrorHandler(cfg ErrorHandlerConfig) fiber.ErrorHandler {
	logger := normalizeLogger(cfg.Logger)

	return func(c *fiber.Ctx, err error) error {
		out := NormalizeError(err, cfg.Diagnostic)

		if out.Operational {
			logger.Debug("request failed",
				"method", c.Method(),
				"path", c.Path(),
				"status", out.Status,
				"text_code", out.TextCode,
			)
		} else {
			args := []any{
				"method", c.Method(),
				"path", c.Path(),
				"status", out.Status,
				"error", err,
			}
			var richErr *errors.Error
			if errors.As(err, &richErr) && len(richErr.Metadata) > 0 {
				args = append(args, "metadata", print.MaybePrettyJSON(richErr.Metadata))
			}
			logger.Error("unexpected error", args...)
		}

		return Fail(c, out.Status, out.Message, out.Errors)
	}
}
