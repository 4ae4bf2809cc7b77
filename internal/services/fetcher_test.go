package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpscan/fundingmon/internal/exchange"
	"github.com/perpscan/fundingmon/internal/models"
)

// scriptedClient fails a fixed number of times before succeeding, or always
// returns a fixed error.
type scriptedClient struct {
	failures int
	err      error
	records  map[exchange.Key]models.MarketRecord
	attempts int
}

func (c *scriptedClient) Name() string { return "scripted" }

func (c *scriptedClient) FetchAndNormalize(ctx context.Context, sess *http.Client) (map[exchange.Key]models.MarketRecord, error) {
	c.attempts++
	if c.err != nil {
		return nil, c.err
	}
	if c.attempts <= c.failures {
		return nil, errors.New("connection reset")
	}
	return c.records, nil
}

func testRecords() map[exchange.Key]models.MarketRecord {
	return map[exchange.Key]models.MarketRecord{
		{Exchange: "hyperliquid", Symbol: "BTC"}: {Exchange: "hyperliquid", Symbol: "BTC"},
	}
}

func newTestDriver(maxRetries int) *FetchDriver {
	return NewFetchDriver(maxRetries, time.Millisecond, time.Second)
}

func TestFetchSucceedsFirstAttempt(t *testing.T) {
	client := &scriptedClient{records: testRecords()}
	driver := newTestDriver(3)

	records, err := driver.Fetch(context.Background(), client, exchange.NewSession())
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 1, client.attempts)
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	client := &scriptedClient{failures: 2, records: testRecords()}
	driver := newTestDriver(3)

	records, err := driver.Fetch(context.Background(), client, exchange.NewSession())
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 3, client.attempts)
}

func TestFetchExhaustsRetriesAndDegradesToNoData(t *testing.T) {
	client := &scriptedClient{err: errors.New("timeout")}
	driver := newTestDriver(3)

	records, err := driver.Fetch(context.Background(), client, exchange.NewSession())
	// Exhaustion is "no data", never an error out of the scheduler loop.
	require.NoError(t, err)
	assert.Nil(t, records)
	// One initial attempt plus exactly MaxRetries retries.
	assert.Equal(t, 4, client.attempts)
}

func TestFetchDoesNotRetryValidationErrors(t *testing.T) {
	client := &scriptedClient{err: &exchange.ValidationError{Upstream: "lighter", Reason: "missing 'code' field"}}
	driver := newTestDriver(3)

	records, err := driver.Fetch(context.Background(), client, exchange.NewSession())
	require.Error(t, err)
	assert.True(t, exchange.IsValidationError(err))
	assert.Nil(t, records)
	assert.Equal(t, 1, client.attempts)
}

func TestFetchObservesCancellationDuringBackoff(t *testing.T) {
	client := &scriptedClient{err: errors.New("timeout")}
	driver := NewFetchDriver(3, time.Hour, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var fetchErr error
	go func() {
		defer close(done)
		_, fetchErr = driver.Fetch(ctx, client, exchange.NewSession())
	}()

	// Let the first attempt fail and the backoff sleep start, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not unwind promptly after cancellation")
	}
	assert.ErrorIs(t, fetchErr, context.Canceled)
	assert.Equal(t, 1, client.attempts)
}

// blockingClient simulates an upstream that never answers within the
// per-attempt budget.
type blockingClient struct {
	attempts int
}

func (c *blockingClient) Name() string { return "blocking" }

func (c *blockingClient) FetchAndNormalize(ctx context.Context, sess *http.Client) (map[exchange.Key]models.MarketRecord, error) {
	c.attempts++
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestFetchTimesOutEachAttempt(t *testing.T) {
	client := &blockingClient{}
	driver := NewFetchDriver(2, time.Millisecond, 10*time.Millisecond)

	records, err := driver.Fetch(context.Background(), client, exchange.NewSession())
	require.NoError(t, err)
	assert.Nil(t, records)
	assert.Equal(t, 3, client.attempts)
}
