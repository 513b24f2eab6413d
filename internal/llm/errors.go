package llm

import (
	"errors"
	"fmt"
	"strings"
)

// APIError is a non-2xx response from a provider API. Clients return
// it for HTTP-level failures so callers can classify them.
type APIError struct {
	Provider string // provider id
	Status   int    // HTTP status code
	Body     string // response body, possibly truncated
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.Status, e.Body)
}

// transientStatuses are HTTP codes that indicate the provider is
// rate-limiting or overloaded rather than rejecting the request.
var transientStatuses = map[int]bool{
	429: true, // too many requests
	529: true, // anthropic overloaded
}

// transientSignatures are matched case-insensitively against error
// text when no status code is available. Providers are inconsistent
// about how they spell quota exhaustion.
var transientSignatures = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"quota",
	"usage limit",
	"limit_exceeded",
	"overloaded",
}

// IsTransient reports whether err looks like a rate-limit or quota
// exhaustion that another provider in the chain might not share.
// Auth failures, bad requests, and network errors are not transient:
// retrying those elsewhere hides real misconfiguration.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if transientStatuses[apiErr.Status] {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
