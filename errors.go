package auth

import (
	"fmt"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
)

const (
	TextCodeEmailInUse          = "EMAIL_IN_USE"
	TextCodeRecordNotFound      = "RECORD_NOT_FOUND"
	TextCodeUserNotFound        = "USER_NOT_FOUND"
	TextCodeRouteNotFound       = "ROUTE_NOT_FOUND"
	TextCodeTokenMissing        = "TOKEN_MISSING"
	TextCodeTokenInvalid        = "TOKEN_INVALID"
	TextCodeTokenExpired        = "TOKEN_EXPIRED"
	TextCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	TextCodeUserNoLongerExists  = "USER_NO_LONGER_EXISTS"
	TextCodeAccountInactive     = "ACCOUNT_INACTIVE"
	TextCodeInsufficientRole    = "INSUFFICIENT_ROLE"
	TextCodeValidationFailed    = "VALIDATION_FAILED"
	TextCodeInvalidPayload      = "INVALID_PAYLOAD"
	TextCodeEmptyPassword       = "EMPTY_PASSWORD"
	TextCodeMissingIdentity     = "MISSING_IDENTITY"
	TextCodeInternal            = "INTERNAL_ERROR"
	TextCodeStatusNotSupported  = "STATUS_UPDATE_NOT_SUPPORTED"
	TextCodeTokenSubjectMissing = "TOKEN_SUBJECT_MISSING"
)

// ErrEmailInUse is returned when registering an email that already exists
var ErrEmailInUse = errors.New("Email already in use", errors.CategoryConflict).
	WithCode(errors.CodeConflict).
	WithTextCode(TextCodeEmailInUse)

// ErrRecordNotFound is returned by the store when a lookup has no match
var ErrRecordNotFound = errors.New("Resource not found", errors.CategoryNotFound).
	WithCode(errors.CodeNotFound).
	WithTextCode(TextCodeRecordNotFound)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = errors.New("User not found", errors.CategoryNotFound).
	WithCode(errors.CodeNotFound).
	WithTextCode(TextCodeUserNotFound)

// ErrTokenMissing is returned when a protected route gets no bearer token
var ErrTokenMissing = errors.New("You are not logged in. Please login to access this resource", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized).
	WithTextCode(TextCodeTokenMissing)

// ErrTokenMalformed covers bad signatures and unparsable tokens
var ErrTokenMalformed = errors.New("Invalid token. Please login again", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized).
	WithTextCode(TextCodeTokenInvalid)

// ErrTokenExpired is returned for well formed tokens past their expiry
var ErrTokenExpired = errors.New("Your token has expired. Please login again", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized).
	WithTextCode(TextCodeTokenExpired)

// ErrMismatchedHashAndPassword is the single login failure for both unknown
// emails and wrong passwords.
var ErrMismatchedHashAndPassword = errors.New("Invalid email or password", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized).
	WithTextCode(TextCodeInvalidCredentials)

// ErrIdentityGone is returned when a valid token points to a deleted user
var ErrIdentityGone = errors.New("The user belonging to this token no longer exists", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized).
	WithTextCode(TextCodeUserNoLongerExists)

// ErrAccountInactive is returned for deactivated users
var ErrAccountInactive = errors.New("Your account has been deactivated. Please contact support", errors.CategoryAuthz).
	WithCode(errors.CodeForbidden).
	WithTextCode(TextCodeAccountInactive)

// ErrInsufficientRole is returned by the role gate
var ErrInsufficientRole = errors.New("You do not have permission to perform this action", errors.CategoryAuthz).
	WithCode(errors.CodeForbidden).
	WithTextCode(TextCodeInsufficientRole)

// ErrInvalidPayload is returned when a request body can not be decoded
var ErrInvalidPayload = errors.New("Invalid request body", errors.CategoryBadInput).
	WithCode(errors.CodeBadRequest).
	WithTextCode(TextCodeInvalidPayload)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = errors.New("password must not be empty", errors.CategoryValidation).
	WithCode(errors.CodeBadRequest).
	WithTextCode(TextCodeEmptyPassword)

// FieldError is a single field level validation message
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewValidationError converts ozzo validation errors into a validation
// error carrying the sorted field list in its metadata.
func NewValidationError(err error) *errors.Error {
	fields := FormatValidationErrors(err)
	return errors.New("Validation failed", errors.CategoryValidation).
		WithCode(errors.CodeBadRequest).
		WithTextCode(TextCodeValidationFailed).
		WithMetadata(map[string]any{
			"fields": fields,
		})
}

// FormatValidationErrors flattens ozzo errors into field errors
func FormatValidationErrors(err error) []FieldError {
	if err == nil {
		return nil
	}

	verrs, ok := err.(validation.Errors)
	if !ok {
		return []FieldError{{Field: "", Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(verrs))
	for field, ferr := range verrs {
		if ferr == nil {
			continue
		}
		out = append(out, FieldError{Field: field, Message: ferr.Error()})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Field < out[j].Field
	})

	return out
}

// ValidationFields extracts the field list from a validation error
func ValidationFields(err *errors.Error) []FieldError {
	if err == nil || err.Metadata == nil {
		return nil
	}
	fields, _ := err.Metadata["fields"].([]FieldError)
	return fields
}

// NewRouteNotFound builds the error returned for unknown routes
func NewRouteNotFound(path string) *errors.Error {
	return errors.New(fmt.Sprintf("Cannot find %s on this server", path), errors.CategoryNotFound).
		WithCode(fiber.StatusNotFound).
		WithTextCode(TextCodeRouteNotFound)
}

// HasTextCode reports whether err is a rich error with the given text code
func HasTextCode(err error, code string) bool {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// IsNotFound reports whether err is a not found error
func IsNotFound(err error) bool {
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr.Category == errors.CategoryNotFound
	}
	return false
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	return HasTextCode(err, TextCodeTokenExpired)
}

// IsMalformedError will check for invalid tokens
func IsMalformedError(err error) bool {
	return HasTextCode(err, TextCodeTokenInvalid)
}
