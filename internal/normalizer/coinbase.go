package normalizer

import (
	"encoding/json"
	"fmt"

	"cryptorouter/internal/book"
	"cryptorouter/internal/symbols"
	"cryptorouter/logger"
	"cryptorouter/models"
)

// Coinbase normalises level2 messages from the Coinbase websocket feed.
// A pair only goes live once its snapshot has been seen; l2update frames
// for pairs that are not live yet are dropped.
type Coinbase struct {
	log  *logger.Entry
	live map[string]bool
}

func NewCoinbase() *Coinbase {
	return &Coinbase{
		log:  logger.GetLogger().WithComponent("coinbase_normalizer"),
		live: make(map[string]bool),
	}
}

func (c *Coinbase) Normalize(msg models.RawFeedMessage) ([]book.Operation, error) {
	var probe models.CoinbaseTypeProbe
	if err := json.Unmarshal(msg.Data, &probe); err != nil {
		return nil, fmt.Errorf("coinbase: malformed message: %w", err)
	}

	switch probe.Type {
	case "snapshot":
		return c.normalizeSnapshot(msg.Data)
	case "l2update":
		return c.normalizeUpdate(msg.Data)
	case "subscriptions", "heartbeat":
		return nil, nil
	case "error":
		c.log.WithFields(logger.Fields{"payload": string(msg.Data)}).Warn("coinbase feed error message")
		return nil, nil
	default:
		c.log.WithFields(logger.Fields{"type": probe.Type}).Debug("ignoring unknown coinbase message type")
		return nil, nil
	}
}

func (c *Coinbase) normalizeSnapshot(data []byte) ([]book.Operation, error) {
	var snap models.CoinbaseSnapshotResp
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("coinbase: malformed snapshot: %w", err)
	}
	pair := symbols.ToCanonical("coinbase", snap.ProductID)
	if pair == "" {
		return nil, fmt.Errorf("coinbase: snapshot without product_id")
	}

	bidLevels, err := snapshotLevels(snap.Bids)
	if err != nil {
		return nil, fmt.Errorf("coinbase: snapshot bids for %s: %w", pair, err)
	}
	askLevels, err := snapshotLevels(snap.Asks)
	if err != nil {
		return nil, fmt.Errorf("coinbase: snapshot asks for %s: %w", pair, err)
	}

	c.live[pair] = true
	c.log.WithFields(logger.Fields{
		"pair": pair,
		"bids": len(bidLevels),
		"asks": len(askLevels),
	}).Info("coinbase pair live")

	return []book.Operation{
		{Kind: book.OpReplaceAll, Exchange: "coinbase", Pair: pair, Side: book.SideBid, Levels: bidLevels},
		{Kind: book.OpReplaceAll, Exchange: "coinbase", Pair: pair, Side: book.SideAsk, Levels: askLevels},
	}, nil
}

func (c *Coinbase) normalizeUpdate(data []byte) ([]book.Operation, error) {
	var upd models.CoinbaseL2UpdateResp
	if err := json.Unmarshal(data, &upd); err != nil {
		return nil, fmt.Errorf("coinbase: malformed l2update: %w", err)
	}
	pair := symbols.ToCanonical("coinbase", upd.ProductID)

	if !c.live[pair] {
		c.log.WithFields(logger.Fields{"pair": pair}).Warn("dropping l2update before snapshot")
		return nil, nil
	}

	ops := make([]book.Operation, 0, len(upd.Changes))
	for _, change := range upd.Changes {
		if len(change) != 3 {
			return nil, fmt.Errorf("coinbase: l2update change for %s has %d fields", pair, len(change))
		}
		side, err := book.ParseSide(change[0])
		if err != nil {
			return nil, fmt.Errorf("coinbase: l2update for %s: %w", pair, err)
		}
		price, err := parseDecimal(change[1])
		if err != nil {
			return nil, fmt.Errorf("coinbase: l2update for %s: %w", pair, err)
		}
		quantity, err := parseDecimal(change[2])
		if err != nil {
			return nil, fmt.Errorf("coinbase: l2update for %s: %w", pair, err)
		}

		op := book.Operation{Exchange: "coinbase", Pair: pair, Side: side, Price: price}
		if quantity.Sign() == 0 {
			op.Kind = book.OpRemove
		} else {
			op.Kind = book.OpUpsert
			op.Quantity = quantity
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// snapshotLevels parses [price, size] pairs, skipping zero-size entries.
func snapshotLevels(entries [][]string) ([]book.Level, error) {
	levels := make([]book.Level, 0, len(entries))
	for _, e := range entries {
		if len(e) < 2 {
			return nil, fmt.Errorf("level has %d fields", len(e))
		}
		price, err := parseDecimal(e[0])
		if err != nil {
			return nil, err
		}
		quantity, err := parseDecimal(e[1])
		if err != nil {
			return nil, err
		}
		if quantity.Sign() == 0 {
			continue
		}
		levels = append(levels, book.Level{Price: price, Quantity: quantity})
	}
	return levels, nil
}
