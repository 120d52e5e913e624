package routing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"cryptorouter/internal/book"
)

// OrderSide is the taker side of a routed order. A BUY consumes asks, a SELL
// consumes bids.
type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

var (
	ErrInvalidOrderSide = errors.New("order side must be BUY or SELL")
	ErrInvalidQuantity  = errors.New("order quantity must be positive")
)

// ParseOrderSide normalises an order side string.
func ParseOrderSide(s string) (OrderSide, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return OrderBuy, nil
	case "SELL":
		return OrderSell, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOrderSide, s)
	}
}

// Fill is one slice of the plan: a quantity taken from one exchange at one
// price level.
type Fill struct {
	Exchange string          `json:"exchange"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// ExecutionPlan is the result of routing an order against a book snapshot.
// It describes where the order would execute; nothing is sent to any
// exchange.
type ExecutionPlan struct {
	Pair      string          `json:"pair"`
	Side      OrderSide       `json:"side"`
	Requested decimal.Decimal `json:"requested"`
	Filled    decimal.Decimal `json:"filled"`
	Remaining decimal.Decimal `json:"remaining"`
	TotalCost decimal.Decimal `json:"total_cost"`
	VWAP      decimal.Decimal `json:"vwap"`
	Fills     []Fill          `json:"fills"`
	Notes     []string        `json:"notes,omitempty"`
}

// ComputePlan walks the consolidated book greedily from the best price and
// splits the order across exchanges. The walk is deterministic: levels are
// visited in price order and exchanges within a level in name order, so the
// same snapshot and order always produce an identical plan. Insufficient
// liquidity is not an error; the shortfall is reported in Remaining and
// Notes.
func ComputePlan(view book.View, side OrderSide, quantity decimal.Decimal) (ExecutionPlan, error) {
	if side != OrderBuy && side != OrderSell {
		return ExecutionPlan{}, fmt.Errorf("%w: %q", ErrInvalidOrderSide, side)
	}
	if quantity.Sign() <= 0 {
		return ExecutionPlan{}, fmt.Errorf("%w: %s", ErrInvalidQuantity, quantity)
	}

	levels := view.Asks
	if side == OrderSell {
		levels = view.Bids
	}

	plan := ExecutionPlan{
		Pair:      view.Pair,
		Side:      side,
		Requested: quantity,
		Filled:    decimal.Zero,
		TotalCost: decimal.Zero,
		VWAP:      decimal.Zero,
		Fills:     []Fill{},
	}

	remaining := quantity
	for _, lvl := range levels {
		if remaining.Sign() == 0 {
			break
		}
		for _, eq := range lvl.Quantities {
			if remaining.Sign() == 0 {
				break
			}
			take := eq.Quantity
			if take.Cmp(remaining) > 0 {
				take = remaining
			}
			plan.Fills = append(plan.Fills, Fill{
				Exchange: eq.Exchange,
				Price:    lvl.Price,
				Quantity: take,
			})
			plan.Filled = plan.Filled.Add(take)
			plan.TotalCost = plan.TotalCost.Add(lvl.Price.Mul(take))
			remaining = remaining.Sub(take)
		}
	}
	plan.Remaining = remaining

	if plan.Filled.Sign() > 0 {
		plan.VWAP = plan.TotalCost.Div(plan.Filled)
	} else {
		plan.Notes = append(plan.Notes, "no liquidity available")
	}
	if plan.Remaining.Sign() > 0 && plan.Filled.Sign() > 0 {
		plan.Notes = append(plan.Notes, fmt.Sprintf("partial fill: requested %s, filled %s", plan.Requested, plan.Filled))
	}

	return plan, nil
}
