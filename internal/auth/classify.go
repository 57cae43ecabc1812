package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/page-restyle/internal/metrics"
)

// ErrorType categorizes failures of the image generation service.
type ErrorType int

const (
	// ErrTypeNoKey indicates no API key was available.
	ErrTypeNoKey ErrorType = iota
	// ErrTypeInvalidKey indicates the API key is invalid or revoked.
	ErrTypeInvalidKey
	// ErrTypeNetworkError indicates a network or upstream server problem.
	ErrTypeNetworkError
	// ErrTypeQuotaExceeded indicates the API quota or rate limit was hit.
	ErrTypeQuotaExceeded
	// ErrTypeBadRequest indicates the service rejected the request content.
	ErrTypeBadRequest
	// ErrTypeUnknown indicates an unclassified error.
	ErrTypeUnknown
)

// ServiceError is a classified image generation failure.
type ServiceError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Reason is the short, metric-friendly name of the error type.
func (e *ServiceError) Reason() string {
	switch e.Type {
	case ErrTypeNoKey:
		return "no_api_key"
	case ErrTypeInvalidKey:
		return "invalid_key"
	case ErrTypeNetworkError:
		return "network_error"
	case ErrTypeQuotaExceeded:
		return "quota_exceeded"
	case ErrTypeBadRequest:
		return "bad_request"
	default:
		return "remote_error"
	}
}

// SkipReason classifies err and returns its Reason.
func SkipReason(err error) string {
	if err == nil {
		return ""
	}
	return ClassifyError(err).Reason()
}

// ClassifyError analyzes an error and returns a ServiceError with the
// appropriate type. Already classified errors are returned as they are.
func ClassifyError(err error) *ServiceError {
	if err == nil {
		return nil
	}

	var classified *ServiceError
	if errors.As(err, &classified) {
		return classified
	}

	// The SDK returns APIError by value.
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return classifyAPIError(*apiErrPtr)
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "api key not valid") ||
		strings.Contains(errLower, "invalid api key") ||
		strings.Contains(errLower, "api_key_invalid") ||
		strings.Contains(errLower, "permission denied"):
		return &ServiceError{Type: ErrTypeInvalidKey, Message: "API key is invalid or has been revoked", Err: err}

	case strings.Contains(errLower, "quota") ||
		strings.Contains(errLower, "resource exhausted") ||
		strings.Contains(errLower, "rate limit"):
		return &ServiceError{Type: ErrTypeQuotaExceeded, Message: "API quota exceeded or rate limited", Err: err}

	case strings.Contains(errLower, "connection") ||
		strings.Contains(errLower, "network") ||
		strings.Contains(errLower, "dial") ||
		strings.Contains(errLower, "no such host") ||
		strings.Contains(errLower, "unreachable"):
		return &ServiceError{Type: ErrTypeNetworkError, Message: "network error reaching the image service", Err: err}

	default:
		return &ServiceError{Type: ErrTypeUnknown, Message: "image service call failed", Err: err}
	}
}

// classifyAPIError categorizes a Google API error by status code.
func classifyAPIError(err genai.APIError) *ServiceError {
	switch err.Code {
	case 400:
		if strings.Contains(strings.ToLower(err.Message), "api key") {
			return &ServiceError{Type: ErrTypeInvalidKey, Message: "API key may be malformed", Err: err}
		}
		return &ServiceError{Type: ErrTypeBadRequest, Message: "image service rejected the request", Err: err}
	case 401, 403:
		return &ServiceError{Type: ErrTypeInvalidKey, Message: "API key is invalid, expired, or lacks permissions", Err: err}
	case 429:
		return &ServiceError{Type: ErrTypeQuotaExceeded, Message: "API rate limit exceeded", Err: err}
	case 500, 502, 503, 504:
		return &ServiceError{Type: ErrTypeNetworkError, Message: "image service server error", Err: err}
	default:
		return &ServiceError{Type: ErrTypeUnknown, Message: err.Message, Err: err}
	}
}

// ValidateAPIKey verifies that the key behind client works by making a
// minimal text request to model.
func ValidateAPIKey(ctx context.Context, client *genai.Client, model string) error {
	log.Debug().Str("model", model).Msg("Validating API key with Gemini API")

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, model, genai.Text("hi"), nil)
	elapsed := time.Since(start)

	result := "success"
	var svcErr *ServiceError
	switch {
	case err != nil:
		svcErr = ClassifyError(err)
		result = svcErr.Reason()
	case resp == nil || len(resp.Candidates) == 0:
		svcErr = &ServiceError{Type: ErrTypeUnknown, Message: "API returned empty response"}
		result = "empty_response"
	}

	metrics.New(metrics.Namespace).
		Dimension("Result", result).
		Metric("ApiKeyValidationMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("ApiKeyValidationResult").
		Flush()

	if svcErr != nil {
		log.Error().Err(svcErr).Str("result", result).Msg("API key validation failed")
		return svcErr
	}

	log.Info().Dur("duration", elapsed).Msg("API key validated successfully")
	return nil
}
