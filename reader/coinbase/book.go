package coinbase

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

// Coinbase_Book_Reader streams level2 order book messages from the Coinbase
// websocket feed into the raw channel.
type Coinbase_Book_Reader struct {
	config   *appconfig.Config
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	limiter  *rate.Limiter
}

// Coinbase_Book_NewReader creates a new level2 reader. Dial attempts are rate
// limited so reconnect storms never hammer the exchange.
func Coinbase_Book_NewReader(cfg *appconfig.Config, channels *channel.Channels) *Coinbase_Book_Reader {
	rl := cfg.Source.Coinbase.RateLimit
	rps := rl.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := rl.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &Coinbase_Book_Reader{
		config:   cfg,
		channels: channels,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Coinbase_Book_Start subscribes to the level2 channel for configured pairs.
func (r *Coinbase_Book_Reader) Coinbase_Book_Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("coinbase book reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	cfg := r.config.Source.Coinbase
	log := r.log.WithComponent("coinbase_book_reader").WithFields(logger.Fields{"operation": "Coinbase_Book_Start"})

	if !cfg.Enabled {
		log.Warn("coinbase book feed is disabled")
		return fmt.Errorf("coinbase book feed is disabled")
	}

	log.WithFields(logger.Fields{"pairs": cfg.Pairs, "url": cfg.URL}).Info("starting coinbase book reader")

	r.wg.Add(1)
	go r.stream(cfg.Pairs, cfg.URL)

	log.Info("coinbase book reader started successfully")
	return nil
}

// Coinbase_Book_Stop terminates the websocket subscription.
func (r *Coinbase_Book_Reader) Coinbase_Book_Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("coinbase_book_reader").Info("stopping coinbase book reader")
	r.wg.Wait()
	r.log.WithComponent("coinbase_book_reader").Info("coinbase book reader stopped")
}

func (r *Coinbase_Book_Reader) stream(pairs []string, wsURL string) {
	defer r.wg.Done()

	log := r.log.WithComponent("coinbase_book_reader").WithFields(logger.Fields{
		"worker": "book_stream",
	})

	reconnectDelay := r.config.Source.Coinbase.ReconnectDelay
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
			log.WithError(err).Warn("failed to dial coinbase websocket")
			time.Sleep(reconnectDelay)
			continue
		}

		sub := models.CoinbaseSubscribeReq{
			Type:       "subscribe",
			ProductIDs: pairs,
			Channels:   []string{r.config.Source.Coinbase.Channel},
		}
		if err := conn.WriteJSON(sub); err != nil {
			log.WithError(err).Warn("failed to subscribe")
			conn.Close()
			time.Sleep(reconnectDelay)
			continue
		}

		log.WithFields(logger.Fields{"pairs": pairs}).Info("subscribed to level2 channel")

		r.readLoop(conn, log)

		conn.Close()
		if r.ctx.Err() != nil {
			return
		}
		log.Warn("coinbase websocket disconnected, reconnecting")
		time.Sleep(reconnectDelay)
	}
}

// readLoop forwards frames until the connection fails or the raw channel
// overflows. An overflow forces a reconnect: resubscribing yields a fresh
// snapshot, so any dropped deltas are healed.
func (r *Coinbase_Book_Reader) readLoop(conn *websocket.Conn, log *logger.Entry) {
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
			Exchange:  "coinbase",
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
		logger.IncrementFeedRead("coinbase", len(data))
	}
}
