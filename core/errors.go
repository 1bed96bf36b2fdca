package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ServiceErrorBadInput        = "GUARD_BAD_INPUT"
	ServiceErrorMissingFields   = "GUARD_MISSING_FIELDS"
	ServiceErrorBadSignature    = "GUARD_BAD_SIGNATURE"
	ServiceErrorConfigMissing   = "GUARD_CONFIG_MISSING"
	ServiceErrorRateLimited     = "GUARD_RATE_LIMITED"
	ServiceErrorNotFound        = "GUARD_NOT_FOUND"
	ServiceErrorForbidden       = "GUARD_FORBIDDEN"
	ServiceErrorPayloadInvalid  = "GUARD_PAYLOAD_INVALID"
	ServiceErrorPayloadTooLarge = "GUARD_PAYLOAD_TOO_LARGE"
	ServiceErrorStoreFailed     = "GUARD_STORE_FAILED"
	ServiceErrorInternal        = "GUARD_INTERNAL_ERROR"
)

// Wire codes are the short error identifiers written in JSON response bodies.
const (
	WireCodeBadInput        = "bad_input"
	WireCodeMissingFields   = "missing_fields"
	WireCodeBadSignature    = "bad_signature"
	WireCodeRateLimited     = "rate_limited"
	WireCodeNotFound        = "not_found"
	WireCodeRepoNotAllowed  = "repo_not_allowed"
	WireCodePayloadInvalid  = "payload_invalid"
	WireCodePayloadTooLarge = "payload_too_large"
	WireCodeInternal        = "internal"
)

func NewServiceError(
	message string,
	category goerrors.Category,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(serviceHTTPStatus(category)).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func WrapServiceError(
	source error,
	category goerrors.Category,
	message string,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	if source == nil {
		return NewServiceError(message, category, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(serviceHTTPStatus(category)).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// MapError converts any error into a guard error envelope.
// InvalidFields is the 400 envelope for a bus message that failed its own
// validation. It returns nil when no field is reported.
func InvalidFields(message string, fields ...goerrors.FieldError) error {
	if len(fields) == 0 {
		return nil
	}
	return goerrors.NewValidation(message, fields...).
		WithCode(http.StatusBadRequest).
		WithTextCode(ServiceErrorBadInput).
		WithSeverity(goerrors.SeverityError)
}

// MissingDependency reports a handler built without its backing service.
func MissingDependency(name string) *goerrors.Error {
	return NewServiceError(strings.TrimSpace(name)+" is not configured", goerrors.CategoryInternal, ServiceErrorInternal, nil)
}

func MapError(err error) *goerrors.Error {
	return serviceErrorMapper(err)
}

// WireCode returns the response body code for a mapped error envelope.
func WireCode(err *goerrors.Error) string {
	if err == nil {
		return WireCodeInternal
	}
	switch strings.TrimSpace(err.TextCode) {
	case ServiceErrorBadSignature:
		return WireCodeBadSignature
	case ServiceErrorRateLimited:
		return WireCodeRateLimited
	case ServiceErrorForbidden:
		return WireCodeRepoNotAllowed
	case ServiceErrorPayloadInvalid:
		return WireCodePayloadInvalid
	case ServiceErrorPayloadTooLarge:
		return WireCodePayloadTooLarge
	case ServiceErrorNotFound:
		return WireCodeNotFound
	case ServiceErrorBadInput:
		return WireCodeBadInput
	case ServiceErrorMissingFields:
		return WireCodeMissingFields
	default:
		return WireCodeInternal
	}
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signature"):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ServiceErrorBadSignature)
	case strings.Contains(msg, "secret") && strings.Contains(msg, "not configured"):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ServiceErrorConfigMissing)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newServiceError(err.Error(), goerrors.CategoryRateLimit, ServiceErrorRateLimited)
	case strings.Contains(msg, "not allowed"):
		return newServiceError(err.Error(), goerrors.CategoryAuthz, ServiceErrorForbidden)
	case strings.Contains(msg, "not found"):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ServiceErrorNotFound)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "must be"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ServiceErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ServiceErrorBadInput
	case goerrors.CategoryNotFound:
		return ServiceErrorNotFound
	case goerrors.CategoryAuth:
		return ServiceErrorBadSignature
	case goerrors.CategoryAuthz:
		return ServiceErrorForbidden
	case goerrors.CategoryRateLimit:
		return ServiceErrorRateLimited
	case goerrors.CategoryOperation:
		return ServiceErrorStoreFailed
	default:
		return ServiceErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
