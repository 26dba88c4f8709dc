package providers

import (
	"context"
	"errors"
	"net"
	"strings"
)

type ErrorType string

const (
	ErrorRate      ErrorType = "rate"
	ErrorTransient ErrorType = "transient"
	ErrorPermanent ErrorType = "permanent"
	ErrorContext   ErrorType = "context"
	ErrorDecode    ErrorType = "decode"
)

// ClassifyError buckets encoder failures for logging.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTransient
	}
	e := strings.ToLower(err.Error())
	switch {
	case strings.Contains(e, "rate"), strings.Contains(e, "429"):
		return ErrorRate
	case strings.Contains(e, "too long"), strings.Contains(e, "413"):
		return ErrorContext
	case strings.Contains(e, "decode"), strings.Contains(e, "rows for"), strings.Contains(e, "empty row"):
		return ErrorDecode
	case strings.Contains(e, "timeout"), strings.Contains(e, "temporarily"), strings.Contains(e, "unavailable"),
		strings.Contains(e, "connection refused"), strings.Contains(e, " 50"):
		return ErrorTransient
	default:
		return ErrorPermanent
	}
}
