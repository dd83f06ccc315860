package fixtures

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tvguide/models"
)

//go:generate mockgen -source=source.go -destination=mock_source.go -package=fixtures

const (
	defaultHTTPTimeout = 30 * time.Second
	maxErrorBodyBytes  = 512
)

// ErrAllSourcesFailed is returned when every league or page request of a
// fetch failed. A partially successful fetch returns no error.
var ErrAllSourcesFailed = errors.New("all fixture sources failed")

// Source produces the raw fixture records for one refresh cycle.
type Source interface {
	Fetch(ctx context.Context) ([]models.RawFixture, error)
}

// NewHTTPClient returns a client with an explicit timeout whose requests are
// traced.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// statusError is a non-200 upstream response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// retryable reports whether a failed request is worth repeating.
func retryable(err error) bool {
	if !retry.IsRecoverable(err) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
