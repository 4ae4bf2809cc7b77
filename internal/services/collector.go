package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/perpscan/fundingmon/internal/exchange"
	"github.com/perpscan/fundingmon/internal/models"
)

// BatchStore is what the scheduler needs from the persistence layer.
// *database.Store implements it.
type BatchStore interface {
	EnsureConnection(ctx context.Context) error
	InsertBatch(ctx context.Context, records []models.MarketRecord) error
	Close(ctx context.Context)
}

// Worker drives the fixed-interval collection loop for one upstream. Each
// worker owns its store (and therefore its database connection) exclusively;
// workers never share mutable state, so a stall in one upstream's backoff
// never delays another's schedule.
type Worker struct {
	Client   exchange.Client
	Store    BatchStore
	Fetcher  *FetchDriver
	Interval time.Duration

	LastUpdate time.Time
	IsRunning  bool
}

// CollectorService runs one worker goroutine per upstream source until
// stopped. Failures inside a tick are logged and contained at the tick
// boundary; the loop itself only exits on cancellation.
type CollectorService struct {
	workers []*Worker
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewCollectorService() *CollectorService {
	ctx, cancel := context.WithCancel(context.Background())
	return &CollectorService{
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddWorker registers an upstream collection loop. Must be called before
// Start.
func (c *CollectorService) AddWorker(client exchange.Client, store BatchStore, fetcher *FetchDriver, interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workers = append(c.workers, &Worker{
		Client:   client,
		Store:    store,
		Fetcher:  fetcher,
		Interval: interval,
	})
}

// Start launches all registered workers.
func (c *CollectorService) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, worker := range c.workers {
		worker.IsRunning = true
		c.wg.Add(1)
		go c.runWorker(worker)
	}
	logrus.WithField("workers", len(c.workers)).Info("collector service started")
}

// Stop cancels all workers, waits for in-flight ticks to unwind and
// releases every database connection.
func (c *CollectorService) Stop() {
	c.cancel()
	c.wg.Wait()
	logrus.Info("collector service stopped")
}

// WorkerCount reports the number of registered workers.
func (c *CollectorService) WorkerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.workers)
}

func (c *CollectorService) runWorker(worker *Worker) {
	defer c.wg.Done()
	defer worker.Store.Close(context.Background())

	log := logrus.WithField("upstream", worker.Client.Name())
	log.WithField("interval", worker.Interval.String()).Info("worker started")

	// First tick runs immediately; subsequent ticks follow the interval.
	c.collectOnce(worker)

	ticker := time.NewTicker(worker.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			log.Info("worker stopping")
			c.mu.Lock()
			worker.IsRunning = false
			c.mu.Unlock()
			return
		case <-ticker.C:
			c.collectOnce(worker)
		}
	}
}

// collectOnce performs one tick: ensure connection, fetch over a fresh
// session, persist the batch. Every failure abandons the tick, never the
// loop.
func (c *CollectorService) collectOnce(worker *Worker) {
	runID := uuid.NewString()[:8]
	log := logrus.WithFields(logrus.Fields{
		"upstream": worker.Client.Name(),
		"run":      runID,
	})

	if err := worker.Store.EnsureConnection(c.ctx); err != nil {
		log.WithError(err).Error("database unavailable, abandoning tick")
		return
	}

	sess := exchange.NewSession()
	records, err := worker.Fetcher.Fetch(c.ctx, worker.Client, sess)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.WithError(err).Error("fetch failed, abandoning tick")
		return
	}
	if len(records) == 0 {
		log.Info("no records this tick")
		return
	}

	batch := make([]models.MarketRecord, 0, len(records))
	byExchange := make(map[string]int)
	for key, rec := range records {
		batch = append(batch, rec)
		byExchange[key.Exchange]++
	}

	if err := worker.Store.InsertBatch(c.ctx, batch); err != nil {
		log.WithError(err).Error("batch insert failed, abandoning tick")
		return
	}

	c.mu.Lock()
	worker.LastUpdate = time.Now().UTC()
	c.mu.Unlock()

	log.WithFields(logrus.Fields{
		"records":     len(batch),
		"by_exchange": byExchange,
	}).Info("batch inserted")
}
