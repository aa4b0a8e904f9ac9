package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// StatusOverloaded is the non-standard status Anthropic uses when its servers are overloaded.
const StatusOverloaded = 529

// ErrUnexpectedResponse means the model returned neither text nor tool calls.
var ErrUnexpectedResponse = errors.New("unexpected model response")

// APIError is a provider error normalized to the HTTP status it carried.
type APIError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %v", e.Provider, e.StatusCode, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ErrorClass groups model-call failures by how the caller should react.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	ClassTransient
	ClassRateLimited
	ClassPermanent
	ClassUnexpected
	ClassCanceled
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient"
	case ClassRateLimited:
		return "rate_limited"
	case ClassPermanent:
		return "permanent"
	case ClassUnexpected:
		return "unexpected"
	case ClassCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Classify maps an error from ChatWithTools onto an ErrorClass.
// Errors without an API status (network failures) are transient.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassCanceled
	}

	if errors.Is(err, ErrUnexpectedResponse) {
		return ClassUnexpected
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return ClassRateLimited
		case apiErr.StatusCode == StatusOverloaded, apiErr.StatusCode >= 500:
			return ClassTransient
		default:
			return ClassPermanent
		}
	}

	return ClassTransient
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(ctx context.Context, err error) bool {
	class := Classify(err)
	switch class {
	case ClassTransient:
		slog.WarnContext(ctx, "llm transient error, will retry", "error", err)
		return true
	case ClassNone:
		return false
	default:
		slog.DebugContext(ctx, "llm error not retryable", "class", class.String(), "error", err)
		return false
	}
}

// wrapProviderError converts SDK errors into *APIError, leaving others untouched.
func wrapProviderError(err error) error {
	if err == nil {
		return nil
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return &APIError{Provider: ProviderAnthropic, StatusCode: anthropicErr.StatusCode, Err: err}
	}

	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return &APIError{Provider: ProviderOpenAI, StatusCode: openaiErr.StatusCode, Err: err}
	}

	return err
}
