package processor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	appconfig "cryptorouter/config"
	"cryptorouter/internal/book"
	"cryptorouter/internal/channel"
	"cryptorouter/internal/normalizer"
	"cryptorouter/logger"
	"cryptorouter/models"
)

// Consolidator drains the raw feed channels, normalises each message and
// applies the resulting operations to the consolidated book. One worker runs
// per exchange so messages from a single feed are always applied in arrival
// order while different exchanges progress independently.
type Consolidator struct {
	config   *appconfig.Config
	channels *channel.Channels
	book     *book.Book
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	normalizers map[string]normalizer.Normalizer

	// Metrics
	messagesProcessed int64
	opsApplied        int64
	errorsCount       int64
}

func NewConsolidator(cfg *appconfig.Config, channels *channel.Channels, b *book.Book) (*Consolidator, error) {
	normalizers := make(map[string]normalizer.Normalizer)
	for _, ex := range channels.Exchanges() {
		n, err := normalizer.New(ex)
		if err != nil {
			return nil, fmt.Errorf("create normalizer: %w", err)
		}
		normalizers[ex] = n
	}

	return &Consolidator{
		config:      cfg,
		channels:    channels,
		book:        b,
		wg:          &sync.WaitGroup{},
		log:         logger.GetLogger(),
		normalizers: normalizers,
	}, nil
}

func (c *Consolidator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consolidator already running")
	}
	c.running = true
	c.ctx = ctx
	c.mu.Unlock()

	log := c.log.WithComponent("consolidator").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting consolidator")

	for ex := range c.normalizers {
		c.wg.Add(1)
		go c.worker(ex)
	}

	go c.metricsReporter(ctx)

	log.WithFields(logger.Fields{"workers": len(c.normalizers)}).Info("consolidator started successfully")
	return nil
}

func (c *Consolidator) Stop() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	c.log.WithComponent("consolidator").Info("stopping consolidator")
	c.wg.Wait()
	c.log.WithComponent("consolidator").Info("consolidator stopped")
}

func (c *Consolidator) worker(exchange string) {
	defer c.wg.Done()

	log := c.log.WithComponent("consolidator").WithFields(logger.Fields{
		"exchange": exchange,
		"worker":   "consolidator",
	})
	log.Info("starting consolidator worker")

	norm := c.normalizers[exchange]
	rawChan := c.channels.Raw(exchange)

	for {
		select {
		case <-c.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case rawMsg, ok := <-rawChan:
			if !ok {
				log.Info("raw channel closed, worker stopping")
				return
			}

			start := time.Now()
			applied := c.processMessage(norm, rawMsg)
			duration := time.Since(start)

			atomic.AddInt64(&c.messagesProcessed, 1)
			atomic.AddInt64(&c.opsApplied, int64(applied))

			logger.LogPerformanceEntry(log, "consolidator", "process_message", duration, logger.Fields{
				"exchange":    rawMsg.Exchange,
				"pair":        rawMsg.Pair,
				"ops_applied": applied,
			})
		}
	}
}

func (c *Consolidator) processMessage(norm normalizer.Normalizer, rawMsg models.RawFeedMessage) int {
	log := c.log.WithComponent("consolidator").WithFields(logger.Fields{
		"exchange": rawMsg.Exchange,
		"pair":     rawMsg.Pair,
	})

	ops, err := norm.Normalize(rawMsg)
	if err != nil {
		atomic.AddInt64(&c.errorsCount, 1)
		log.WithError(err).Warn("failed to normalize raw message")
		return 0
	}

	applied := 0
	for _, op := range ops {
		if err := c.book.Apply(op); err != nil {
			atomic.AddInt64(&c.errorsCount, 1)
			log.WithError(err).WithFields(logger.Fields{
				"kind": op.Kind,
				"side": op.Side,
			}).Warn("rejected book operation")
			continue
		}
		applied++
		logger.IncrementOpApplied()
	}
	return applied
}

func (c *Consolidator) metricsReporter(ctx context.Context) {
	interval := c.config.Processor.MetricsInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reportMetrics()
		}
	}
}

func (c *Consolidator) reportMetrics() {
	messagesProcessed := atomic.LoadInt64(&c.messagesProcessed)
	opsApplied := atomic.LoadInt64(&c.opsApplied)
	errorsCount := atomic.LoadInt64(&c.errorsCount)

	errorRate := float64(0)
	if messagesProcessed+errorsCount > 0 {
		errorRate = float64(errorsCount) / float64(messagesProcessed+errorsCount)
	}

	c.log.LogMetric("consolidator", "messages_processed", messagesProcessed, "counter", logger.Fields{})
	c.log.LogMetric("consolidator", "ops_applied", opsApplied, "counter", logger.Fields{})
	c.log.LogMetric("consolidator", "errors_count", errorsCount, "counter", logger.Fields{})
	c.log.LogMetric("consolidator", "error_rate", errorRate, "gauge", logger.Fields{})

	for _, ex := range c.channels.Exchanges() {
		ch := c.channels.Raw(ex)
		c.log.LogMetric("consolidator", "raw_channel_size", len(ch), "gauge", logger.Fields{"exchange": ex})
	}
}

// Stats reports processing counters for the dashboard endpoints.
func (c *Consolidator) Stats() map[string]int64 {
	return map[string]int64{
		"messages_processed": atomic.LoadInt64(&c.messagesProcessed),
		"ops_applied":        atomic.LoadInt64(&c.opsApplied),
		"errors_count":       atomic.LoadInt64(&c.errorsCount),
	}
}
