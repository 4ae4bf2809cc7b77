package services

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/perpscan/fundingmon/internal/exchange"
	"github.com/perpscan/fundingmon/internal/models"
)

// FetchDriver wraps one exchange client call with a per-attempt timeout and
// bounded retries with linearly increasing delay. Exactly one outcome per
// invocation: a normalized mapping, nil (nothing to persist this tick), or
// a propagated validation error.
type FetchDriver struct {
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

func NewFetchDriver(maxRetries int, retryDelay, timeout time.Duration) *FetchDriver {
	return &FetchDriver{
		MaxRetries: maxRetries,
		RetryDelay: retryDelay,
		Timeout:    timeout,
	}
}

// Fetch invokes the client, retrying transient failures up to MaxRetries
// times after the initial attempt. The delay before retry n is
// RetryDelay * n. Validation errors surface immediately; exhausted retries
// degrade to (nil, nil) so the scheduler skips the tick instead of
// crashing.
func (d *FetchDriver) Fetch(ctx context.Context, client exchange.Client, sess *http.Client) (map[exchange.Key]models.MarketRecord, error) {
	log := logrus.WithField("upstream", client.Name())

	for attempt := 0; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, d.Timeout)
		records, err := client.FetchAndNormalize(attemptCtx, sess)
		cancel()

		if err == nil {
			return records, nil
		}
		if exchange.IsValidationError(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt >= d.MaxRetries {
			log.WithError(err).WithField("attempts", attempt+1).
				Warn("max retries exceeded, skipping tick")
			return nil, nil
		}

		delay := d.RetryDelay * time.Duration(attempt+1)
		log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"delay":   delay.String(),
		}).Warn("fetch failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
