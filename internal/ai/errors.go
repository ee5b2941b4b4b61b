package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

type ProviderErrorKind string

const (
	KindTimeout   ProviderErrorKind = "timeout"
	KindRateLimit ProviderErrorKind = "rate_limit"
	KindNetwork   ProviderErrorKind = "network"
	KindStatus    ProviderErrorKind = "status"
	KindDecode    ProviderErrorKind = "decode"
	KindRefusal   ProviderErrorKind = "refusal"
)

// ProviderError is every failure of a provider call. Message may contain raw
// provider text and must stay in server logs.
type ProviderError struct {
	Kind       ProviderErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("llm %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("llm %s: %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request may succeed later.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindRateLimit, KindNetwork:
		return true
	case KindStatus:
		return e.StatusCode >= 500
	}
	return false
}

func classifyTransportError(err error) *ProviderError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ProviderError{Kind: KindTimeout, Err: err}
	}
	return &ProviderError{Kind: KindNetwork, Err: err}
}

func classifyStatus(status int, body string) *ProviderError {
	kind := KindStatus
	switch status {
	case http.StatusTooManyRequests:
		kind = KindRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		kind = KindTimeout
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return &ProviderError{Kind: kind, StatusCode: status, Message: body}
}
