package api

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure classes the client can surface.
// Downstream code switches on Kind instead of probing response fields.
type ErrorKind int

const (
	// KindHTTP is any error status without more specific classification.
	KindHTTP ErrorKind = iota
	// KindNetwork means no response was received at all.
	KindNetwork
	// KindAuthExpired is a 401 outside the auth endpoints.
	KindAuthExpired
	// KindAuthInvalid is a 401 from login or register; it never triggers
	// a refresh and carries field errors for inline rendering.
	KindAuthInvalid
	// KindRefreshFailed means the refresh call itself failed; the session
	// is gone.
	KindRefreshFailed
	// KindForbidden is a 403.
	KindForbidden
)

func (k ErrorKind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindNetwork:
		return "network"
	case KindAuthExpired:
		return "auth_expired"
	case KindAuthInvalid:
		return "auth_invalid"
	case KindRefreshFailed:
		return "refresh_failed"
	case KindForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Error is the normalized failure shape produced once at the HTTP boundary.
type Error struct {
	Kind        ErrorKind
	Status      int
	Message     string
	FieldErrors map[string]string
	cause       error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("api error (%s, status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("api error (%s): %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// AsError extracts the normalized *Error from err or its chain.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// fieldError matches backends that report validation failures as an array
// of {field, message} entries under the message key.
type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// normalizeBody turns an error response body into a message plus optional
// field errors. Message sources are probed in priority order: message,
// description, error.
func normalizeBody(body []byte, fallback string) (string, map[string]string) {
	if len(body) == 0 {
		return fallback, nil
	}

	var probe struct {
		Message     json.RawMessage `json:"message"`
		Description string          `json:"description"`
		Error       string          `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return fallback, nil
	}

	if len(probe.Message) > 0 {
		var msg string
		if err := json.Unmarshal(probe.Message, &msg); err == nil && msg != "" {
			return msg, nil
		}

		var fields []fieldError
		if err := json.Unmarshal(probe.Message, &fields); err == nil && len(fields) > 0 {
			fieldErrors := make(map[string]string, len(fields))
			for _, f := range fields {
				fieldErrors[f.Field] = f.Message
			}
			return fields[0].Message, fieldErrors
		}
	}

	if probe.Description != "" {
		return probe.Description, nil
	}
	if probe.Error != "" {
		return probe.Error, nil
	}

	return fallback, nil
}
