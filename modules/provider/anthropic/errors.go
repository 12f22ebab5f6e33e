package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/magi-ai/magi/internal/provider"
)

// mapError converts an Anthropic SDK error into the provider error taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", provider.ErrCancelled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", provider.ErrTimeout, err)
	}

	var apiErr *sdkanthropic.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %w", provider.ErrTransport, err)
	}

	switch apiErr.StatusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", provider.ErrRateLimited, apiErr.Error())
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: anthropic auth rejected (HTTP %d)", provider.ErrNoAPIKey, apiErr.StatusCode)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", provider.ErrProtocol, apiErr.Error())
	case 529, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return fmt.Errorf("%w: anthropic unavailable (HTTP %d)", provider.ErrTransport, apiErr.StatusCode)
	default:
		return fmt.Errorf("%w: anthropic error (HTTP %d): %s", provider.ErrProtocol, apiErr.StatusCode, apiErr.Error())
	}
}
