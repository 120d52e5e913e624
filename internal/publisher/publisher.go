package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	appconfig "cryptorouter/config"
	"cryptorouter/internal/book"
	"cryptorouter/logger"
)

// Frame is one published consolidated book snapshot.
type Frame struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Pair      string    `json:"pair"`
	Book      book.View `json:"book"`
}

// Publisher periodically snapshots every tracked pair and fans the frames out
// to all subscribers. Slow subscribers miss frames rather than stalling the
// tick; each frame is a complete snapshot so the next one heals the gap.
type Publisher struct {
	config  *appconfig.Config
	book    *book.Book
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	subsMu sync.RWMutex
	subs   map[string]chan Frame
}

func NewPublisher(cfg *appconfig.Config, b *book.Book) *Publisher {
	return &Publisher{
		config: cfg,
		book:   b,
		wg:     &sync.WaitGroup{},
		log:    logger.GetLogger(),
		subs:   make(map[string]chan Frame),
	}
}

func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("publisher already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	interval := p.config.Publisher.Interval
	if interval <= 0 {
		interval = time.Second
	}

	log := p.log.WithComponent("publisher")
	log.WithFields(logger.Fields{"interval": interval.String()}).Info("starting publisher")

	p.wg.Add(1)
	go p.loop(interval)

	log.Info("publisher started successfully")
	return nil
}

func (p *Publisher) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.log.WithComponent("publisher").Info("stopping publisher")
	p.wg.Wait()

	p.subsMu.Lock()
	for id, ch := range p.subs {
		close(ch)
		delete(p.subs, id)
	}
	p.subsMu.Unlock()

	p.log.WithComponent("publisher").Info("publisher stopped")
}

// Subscribe registers a new frame consumer and returns its id together with
// the receive channel. The id is passed to Unsubscribe when done.
func (p *Publisher) Subscribe(buffer int) (string, <-chan Frame) {
	if buffer <= 0 {
		buffer = 8
	}
	id := uuid.NewString()
	ch := make(chan Frame, buffer)

	p.subsMu.Lock()
	p.subs[id] = ch
	p.subsMu.Unlock()

	p.log.WithComponent("publisher").WithFields(logger.Fields{"subscriber": id}).Debug("subscriber added")
	return id, ch
}

func (p *Publisher) Unsubscribe(id string) {
	p.subsMu.Lock()
	if ch, ok := p.subs[id]; ok {
		close(ch)
		delete(p.subs, id)
	}
	p.subsMu.Unlock()
}

func (p *Publisher) loop(interval time.Duration) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.publish()
		}
	}
}

func (p *Publisher) publish() {
	for _, pair := range p.book.Pairs() {
		view, ok := p.book.Snapshot(pair)
		if !ok {
			continue
		}
		frame := Frame{
			ID:        uuid.NewString(),
			Timestamp: time.Now().UTC(),
			Pair:      pair,
			Book:      view,
		}
		p.distribute(frame)

		if payload, err := json.Marshal(frame); err == nil {
			logger.IncrementBookPublished(len(payload))
		}
	}
}

func (p *Publisher) distribute(frame Frame) {
	p.subsMu.RLock()
	defer p.subsMu.RUnlock()
	for id, ch := range p.subs {
		select {
		case ch <- frame:
		default:
			p.log.WithComponent("publisher").WithFields(logger.Fields{
				"subscriber": id,
				"pair":       frame.Pair,
			}).Debug("subscriber buffer full, dropping frame")
		}
	}
}
