package normalizer

import (
	"bytes"
	"encoding/json"
	"fmt"

	"cryptorouter/internal/book"
	"cryptorouter/internal/symbols"
	"cryptorouter/logger"
	"cryptorouter/models"
)

// Kraken normalises book channel messages from the Kraken v1 websocket.
// Event objects (heartbeat, systemStatus, subscriptionStatus) carry no book
// data. Data frames are JSON arrays of the form
// [channelID, payload..., channelName, pair] with one or two payload objects.
type Kraken struct {
	log  *logger.Entry
	live map[string]bool
}

func NewKraken() *Kraken {
	return &Kraken{
		log:  logger.GetLogger().WithComponent("kraken_normalizer"),
		live: make(map[string]bool),
	}
}

func (k *Kraken) Normalize(msg models.RawFeedMessage) ([]book.Operation, error) {
	data := bytes.TrimSpace(msg.Data)
	if len(data) == 0 {
		return nil, fmt.Errorf("kraken: empty message")
	}

	if data[0] == '{' {
		return nil, k.handleEvent(data)
	}
	if data[0] == '[' {
		return k.normalizeData(data)
	}
	return nil, fmt.Errorf("kraken: unrecognized message: %s", data)
}

func (k *Kraken) handleEvent(data []byte) error {
	var ev models.KrakenEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("kraken: malformed event: %w", err)
	}
	switch ev.Event {
	case "heartbeat":
	case "systemStatus":
		k.log.WithFields(logger.Fields{"status": ev.Status}).Info("kraken system status")
	case "subscriptionStatus":
		if ev.Status == "error" {
			k.log.WithFields(logger.Fields{
				"pair":  ev.Pair,
				"error": ev.ErrorMessage,
			}).Error("kraken subscription failed")
			return nil
		}
		k.log.WithFields(logger.Fields{
			"pair":    ev.Pair,
			"status":  ev.Status,
			"channel": ev.ChannelName,
			"depth":   ev.Subscription.Depth,
		}).Info("kraken subscription status")
	default:
		k.log.WithFields(logger.Fields{"event": ev.Event}).Debug("ignoring unknown kraken event")
	}
	return nil
}

func (k *Kraken) normalizeData(data []byte) ([]book.Operation, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, fmt.Errorf("kraken: malformed data array: %w", err)
	}
	// channelID, at least one payload, channelName, pair
	if len(parts) < 4 {
		return nil, fmt.Errorf("kraken: data array has %d elements", len(parts))
	}

	var rawPair string
	if err := json.Unmarshal(parts[len(parts)-1], &rawPair); err != nil {
		return nil, fmt.Errorf("kraken: data array pair: %w", err)
	}
	pair := symbols.ToCanonical("kraken", rawPair)

	var ops []book.Operation
	for _, part := range parts[1 : len(parts)-2] {
		var payload models.KrakenBookPayload
		if err := json.Unmarshal(part, &payload); err != nil {
			return nil, fmt.Errorf("kraken: malformed payload for %s: %w", pair, err)
		}
		payloadOps, err := k.payloadOps(pair, payload)
		if err != nil {
			return nil, err
		}
		ops = append(ops, payloadOps...)
	}
	return ops, nil
}

func (k *Kraken) payloadOps(pair string, payload models.KrakenBookPayload) ([]book.Operation, error) {
	var ops []book.Operation

	if payload.BidsSnapshot != nil || payload.AsksSnapshot != nil {
		bidLevels, err := krakenSnapshotLevels(payload.BidsSnapshot)
		if err != nil {
			return nil, fmt.Errorf("kraken: snapshot bids for %s: %w", pair, err)
		}
		askLevels, err := krakenSnapshotLevels(payload.AsksSnapshot)
		if err != nil {
			return nil, fmt.Errorf("kraken: snapshot asks for %s: %w", pair, err)
		}
		k.live[pair] = true
		k.log.WithFields(logger.Fields{
			"pair": pair,
			"bids": len(bidLevels),
			"asks": len(askLevels),
		}).Info("kraken pair live")
		ops = append(ops,
			book.Operation{Kind: book.OpReplaceAll, Exchange: "kraken", Pair: pair, Side: book.SideBid, Levels: bidLevels},
			book.Operation{Kind: book.OpReplaceAll, Exchange: "kraken", Pair: pair, Side: book.SideAsk, Levels: askLevels},
		)
		return ops, nil
	}

	if !k.live[pair] {
		k.log.WithFields(logger.Fields{"pair": pair}).Warn("dropping book update before snapshot")
		return nil, nil
	}

	bidOps, err := k.updateOps(pair, book.SideBid, payload.Bids)
	if err != nil {
		return nil, err
	}
	askOps, err := k.updateOps(pair, book.SideAsk, payload.Asks)
	if err != nil {
		return nil, err
	}
	return append(append(ops, bidOps...), askOps...), nil
}

func (k *Kraken) updateOps(pair string, side book.Side, entries [][]string) ([]book.Operation, error) {
	ops := make([]book.Operation, 0, len(entries))
	for _, e := range entries {
		// [price, volume, timestamp] with an optional trailing "r" flag
		if len(e) < 3 {
			return nil, fmt.Errorf("kraken: update entry for %s has %d fields", pair, len(e))
		}
		price, err := parseDecimal(e[0])
		if err != nil {
			return nil, fmt.Errorf("kraken: update for %s: %w", pair, err)
		}
		volume, err := parseDecimal(e[1])
		if err != nil {
			return nil, fmt.Errorf("kraken: update for %s: %w", pair, err)
		}

		op := book.Operation{Exchange: "kraken", Pair: pair, Side: side, Price: price}
		if volume.Sign() == 0 {
			op.Kind = book.OpRemove
		} else {
			op.Kind = book.OpUpsert
			op.Quantity = volume
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func krakenSnapshotLevels(entries [][]string) ([]book.Level, error) {
	levels := make([]book.Level, 0, len(entries))
	for _, e := range entries {
		if len(e) < 2 {
			return nil, fmt.Errorf("level has %d fields", len(e))
		}
		price, err := parseDecimal(e[0])
		if err != nil {
			return nil, err
		}
		volume, err := parseDecimal(e[1])
		if err != nil {
			return nil, err
		}
		if volume.Sign() == 0 {
			continue
		}
		levels = append(levels, book.Level{Price: price, Quantity: volume})
	}
	return levels, nil
}
