package normalizer

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"cryptorouter/internal/book"
	"cryptorouter/models"
)

// Normalizer translates raw exchange websocket frames into canonical book
// operations. Implementations are stateful: they track which (exchange, pair)
// feeds have received their initial snapshot and drop incremental updates
// that arrive before it.
type Normalizer interface {
	Normalize(msg models.RawFeedMessage) ([]book.Operation, error)
}

// New returns the normalizer for the given exchange.
func New(exchange string) (Normalizer, error) {
	switch strings.ToLower(exchange) {
	case "coinbase":
		return NewCoinbase(), nil
	case "kraken":
		return NewKraken(), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", exchange)
	}
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return d, nil
}
