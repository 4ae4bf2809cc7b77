package exchange

import (
	"context"
	"errors"
	"net/http"

	"github.com/perpscan/fundingmon/internal/models"
)

// Key addresses one normalized record within a collection batch. Direct
// clients key by symbol only; aggregator clients key by (exchange, symbol)
// since one payload carries several venues.
type Key struct {
	Exchange string
	Symbol   string
}

// Client fetches one upstream's raw payload and converts it into normalized
// records. Implementations are stateless beyond their configuration and
// return a fresh map on every call; all records of one call share a single
// collection timestamp.
type Client interface {
	Name() string
	FetchAndNormalize(ctx context.Context, sess *http.Client) (map[Key]models.MarketRecord, error)
}

// NewSession returns a fresh HTTP session for one collection tick. Sessions
// are not reused across ticks; per-attempt deadlines come from the request
// context, not the client.
func NewSession() *http.Client {
	return &http.Client{}
}

// ValidationError marks a payload whose shape violates the upstream
// contract. It indicates a contract change that retrying cannot fix, so the
// fetch driver surfaces it immediately instead of retrying.
type ValidationError struct {
	Upstream string
	Reason   string
}

func (e *ValidationError) Error() string {
	return e.Upstream + ": invalid payload: " + e.Reason
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
