package book

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Side identifies one half of an order book.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// ParseSide normalises a side string. It accepts the canonical bid/ask names
// as well as the buy/sell aliases used by some exchange feeds.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bid", "buy":
		return SideBid, nil
	case "ask", "sell":
		return SideAsk, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}

// OpKind identifies a canonical book operation.
type OpKind string

const (
	OpReplaceAll OpKind = "replace_all"
	OpUpsert     OpKind = "upsert"
	OpRemove     OpKind = "remove"
)

// Level is a single contribution of one exchange at one price.
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Operation is the canonical mutation applied to the consolidated book.
// ReplaceAll carries Levels; Upsert carries Price and Quantity; Remove
// carries only Price.
type Operation struct {
	Kind     OpKind          `json:"kind"`
	Exchange string          `json:"exchange"`
	Pair     string          `json:"pair"`
	Side     Side            `json:"side"`
	Price    decimal.Decimal `json:"price,omitempty"`
	Quantity decimal.Decimal `json:"quantity,omitempty"`
	Levels   []Level         `json:"levels,omitempty"`
}

// ExchangeQuantity attributes quantity at a price level to one exchange.
type ExchangeQuantity struct {
	Exchange string          `json:"exchange"`
	Quantity decimal.Decimal `json:"quantity"`
}

// LevelView is one price level of a book snapshot with per-exchange
// attribution. Quantities are sorted by exchange name.
type LevelView struct {
	Price      decimal.Decimal    `json:"price"`
	Quantities []ExchangeQuantity `json:"quantities"`
}

// Total returns the summed quantity across all exchanges at this level.
func (lv LevelView) Total() decimal.Decimal {
	total := decimal.Zero
	for _, eq := range lv.Quantities {
		total = total.Add(eq.Quantity)
	}
	return total
}

// View is an immutable snapshot of the consolidated book for one pair.
// Bids are ordered by descending price, asks by ascending price.
type View struct {
	Pair string      `json:"pair"`
	Bids []LevelView `json:"bids"`
	Asks []LevelView `json:"asks"`
}

var (
	ErrInvalidSide     = errors.New("invalid side")
	ErrInvalidKind     = errors.New("invalid operation kind")
	ErrInvalidPrice    = errors.New("price must be positive")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrMissingExchange = errors.New("exchange is required")
	ErrMissingPair     = errors.New("pair is required")
)
