package channel

import (
	"context"
	"sync"
	"time"

	"cryptorouter/logger"
	"cryptorouter/models"
)

// ChannelStats counts traffic through one exchange feed channel.
type ChannelStats struct {
	RawSent    int64
	RawDropped int64
}

// Channels holds one buffered raw feed channel per exchange. Keeping the
// exchanges on separate channels preserves per-feed ordering while letting
// the processor drain them concurrently.
type Channels struct {
	raw map[string]chan models.RawFeedMessage

	stats      map[string]*ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(exchanges []string, rawBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		raw:   make(map[string]chan models.RawFeedMessage, len(exchanges)),
		stats: make(map[string]*ChannelStats, len(exchanges)),
		log:   log,
	}
	for _, ex := range exchanges {
		c.raw[ex] = make(chan models.RawFeedMessage, rawBufferSize)
		c.stats[ex] = &ChannelStats{}
	}

	log.WithComponent("feed_channels").WithFields(logger.Fields{
		"exchanges":       exchanges,
		"raw_buffer_size": rawBufferSize,
	}).Info("feed channels initialized")

	return c
}

// Raw returns the raw feed channel for an exchange, or nil when the exchange
// was not registered at construction time.
func (c *Channels) Raw(exchange string) chan models.RawFeedMessage {
	return c.raw[exchange]
}

// Exchanges lists the registered exchange names.
func (c *Channels) Exchanges() []string {
	out := make([]string, 0, len(c.raw))
	for ex := range c.raw {
		out = append(out, ex)
	}
	return out
}

func (c *Channels) Close() {
	for _, ch := range c.raw {
		close(ch)
	}
	c.log.WithComponent("feed_channels").Info("feed channels closed")
}

func (c *Channels) incrementSent(exchange string) {
	c.statsMutex.Lock()
	if s, ok := c.stats[exchange]; ok {
		s.RawSent++
	}
	c.statsMutex.Unlock()
}

func (c *Channels) incrementDropped(exchange string) {
	c.statsMutex.Lock()
	if s, ok := c.stats[exchange]; ok {
		s.RawDropped++
	}
	c.statsMutex.Unlock()
}

// SendRaw enqueues a raw message without blocking. It reports false when the
// channel is full or the context is done; callers treat a full channel as a
// signal to resynchronise the feed.
func (c *Channels) SendRaw(ctx context.Context, msg models.RawFeedMessage) bool {
	ch, ok := c.raw[msg.Exchange]
	if !ok {
		c.log.WithComponent("feed_channels").WithFields(logger.Fields{
			"exchange": msg.Exchange,
		}).Warn("dropping message for unregistered exchange")
		return false
	}
	select {
	case ch <- msg:
		c.incrementSent(msg.Exchange)
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementDropped(msg.Exchange)
		return false
	}
}

// GetStats returns a copy of the per-exchange channel statistics.
func (c *Channels) GetStats() map[string]ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	out := make(map[string]ChannelStats, len(c.stats))
	for ex, s := range c.stats {
		out[ex] = *s
	}
	return out
}

// StartMetricsReporting periodically emits channel depth and throughput
// metrics until the context is cancelled.
func (c *Channels) StartMetricsReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := c.GetStats()
				for ex, ch := range c.raw {
					fields := logger.Fields{"exchange": ex}
					c.log.LogMetric("feed_channels", "raw_channel_size", len(ch), "gauge", fields)
					c.log.LogMetric("feed_channels", "raw_sent", stats[ex].RawSent, "counter", fields)
					c.log.LogMetric("feed_channels", "raw_dropped", stats[ex].RawDropped, "counter", fields)
				}
			}
		}
	}()
}
