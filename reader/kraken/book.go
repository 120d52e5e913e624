package kraken

import (
	"context"
	"fmt"
	"sync"
	"time"

	appconfig "cryptorouter/config"
	"cryptorouter/internal/channel"
	"cryptorouter/logger"
	"cryptorouter/models"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Kraken_Book_Reader streams book channel messages from the Kraken v1
// websocket into the raw channel.
type Kraken_Book_Reader struct {
	config   *appconfig.Config
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	limiter  *rate.Limiter
}

// Kraken_Book_NewReader creates a new book reader.
func Kraken_Book_NewReader(cfg *appconfig.Config, channels *channel.Channels) *Kraken_Book_Reader {
	rl := cfg.Source.Kraken.RateLimit
	rps := rl.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := rl.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &Kraken_Book_Reader{
		config:   cfg,
		channels: channels,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Kraken_Book_Start subscribes to the book channel for configured pairs.
func (r *Kraken_Book_Reader) Kraken_Book_Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("kraken book reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	cfg := r.config.Source.Kraken
	log := r.log.WithComponent("kraken_book_reader").WithFields(logger.Fields{"operation": "Kraken_Book_Start"})

	if !cfg.Enabled {
		log.Warn("kraken book feed is disabled")
		return fmt.Errorf("kraken book feed is disabled")
	}

	log.WithFields(logger.Fields{"pairs": cfg.Pairs, "url": cfg.URL, "depth": cfg.Depth}).Info("starting kraken book reader")

	r.wg.Add(1)
	go r.stream(cfg.Pairs, cfg.URL, cfg.Depth)

	log.Info("kraken book reader started successfully")
	return nil
}

// Kraken_Book_Stop terminates the websocket subscription.
func (r *Kraken_Book_Reader) Kraken_Book_Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("kraken_book_reader").Info("stopping kraken book reader")
	r.wg.Wait()
	r.log.WithComponent("kraken_book_reader").Info("kraken book reader stopped")
}

func (r *Kraken_Book_Reader) stream(pairs []string, wsURL string, depth int) {
	defer r.wg.Done()

	log := r.log.WithComponent("kraken_book_reader").WithFields(logger.Fields{
		"worker": "book_stream",
	})

	reconnectDelay := r.config.Source.Kraken.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}

	for {
		if r.ctx.Err() != nil {
			return
		}

		if err := r.limiter.Wait(r.ctx); err != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(r.ctx, wsURL, nil)
		if err != nil {
			log.WithError(err).Warn("failed to dial kraken websocket")
			time.Sleep(reconnectDelay)
			continue
		}

		sub := models.KrakenSubscribeReq{Event: "subscribe", Pair: pairs}
		sub.Subscription.Name = "book"
		sub.Subscription.Depth = depth
		if err := conn.WriteJSON(sub); err != nil {
			log.WithError(err).Warn("failed to subscribe")
			conn.Close()
			time.Sleep(reconnectDelay)
			continue
		}

		log.WithFields(logger.Fields{"pairs": pairs, "depth": depth}).Info("subscribed to book channel")

		r.readLoop(conn, log)

		conn.Close()
		if r.ctx.Err() != nil {
			return
		}
		log.Warn("kraken websocket disconnected, reconnecting")
		time.Sleep(reconnectDelay)
	}
}

// readLoop forwards frames until the connection fails or the raw channel
// overflows. An overflow forces a reconnect: Kraken sends a fresh book
// snapshot on resubscribe, so dropped deltas are healed.
func (r *Kraken_Book_Reader) readLoop(conn *websocket.Conn, log *logger.Entry) {
	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if r.ctx.Err() == nil {
				log.WithError(err).Warn("websocket read error")
			}
			return
		}

		msg := models.RawFeedMessage{
			Exchange:  "kraken",
			Data:      data,
			Timestamp: time.Now(),
		}
		if !r.channels.SendRaw(r.ctx, msg) {
			if r.ctx.Err() != nil {
				return
			}
			log.Warn("raw channel full, reconnecting for a fresh snapshot")
			return
		}
		logger.IncrementFeedRead("kraken", len(data))
	}
}
