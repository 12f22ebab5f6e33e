package openai

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/magi-ai/magi/internal/provider"
)

// apiError is the error envelope of a non-200 response.
type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// mapHTTPError converts a non-200 connection-phase response into the
// provider error taxonomy.
func mapHTTPError(status int, body []byte) error {
	msg := http.StatusText(status)
	var parsed apiError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}

	switch status {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %d %s", provider.ErrRateLimited, status, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: openai auth rejected (HTTP %d)", provider.ErrNoAPIKey, status)
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %d %s", provider.ErrProtocol, status, msg)
	default:
		return fmt.Errorf("%w: %d %s", provider.ErrTransport, status, msg)
	}
}
