package rcp

import (
	"fmt"
	"net/http"
	"strings"

	"rcp-ptz/internal/ptz"
)

// Classify maps the camera's HTTP answer to a domain error.
// It returns nil for 200.
func Classify(status int, body string) *ptz.Error {
	if status == http.StatusOK {
		return nil
	}

	var kind ptz.Kind
	var reason string
	switch status {
	case http.StatusUnauthorized:
		kind, reason = ptz.KindUnauthorized, "Unauthorized"
	case http.StatusForbidden:
		kind, reason = ptz.KindForbidden, "Forbidden"
	case http.StatusNotFound:
		kind, reason = ptz.KindNotFound, "Not Found"
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		kind, reason = ptz.KindServerError, http.StatusText(status)
	default:
		kind, reason = ptz.KindUnknown, "Unhandled exception"
	}

	msg := fmt.Sprintf("%d %s", status, reason)
	if body = strings.TrimSpace(body); body != "" {
		msg += ": " + body
	}
	return &ptz.Error{Kind: kind, Status: status, Message: msg}
}
