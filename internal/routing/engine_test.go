package routing

import (
	"errors"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"cryptorouter/internal/book"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func buildView(t *testing.T, b *book.Book, ops []book.Operation) book.View {
	t.Helper()
	for _, op := range ops {
		if err := b.Apply(op); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	v, ok := b.Snapshot("BTC-USD")
	if !ok {
		t.Fatalf("missing snapshot")
	}
	return v
}

func askView(t *testing.T, levels [][3]string) book.View {
	t.Helper()
	b := book.New()
	var ops []book.Operation
	for _, l := range levels {
		ops = append(ops, book.Operation{
			Kind: book.OpUpsert, Exchange: l[0], Pair: "BTC-USD", Side: book.SideAsk,
			Price: dec(t, l[1]), Quantity: dec(t, l[2]),
		})
	}
	return buildView(t, b, ops)
}

func TestBuyFullFillVWAP(t *testing.T) {
	view := askView(t, [][3]string{
		{"coinbase", "100.00", "2"},
		{"kraken", "101.00", "3"},
	})

	plan, err := ComputePlan(view, OrderBuy, dec(t, "4"))
	if err != nil {
		t.Fatalf("compute plan: %v", err)
	}

	if plan.Filled.Cmp(dec(t, "4")) != 0 || plan.Remaining.Sign() != 0 {
		t.Fatalf("expected full fill: %+v", plan)
	}
	// 2 @ 100 + 2 @ 101 = 402, VWAP 100.5
	if plan.TotalCost.Cmp(dec(t, "402")) != 0 {
		t.Errorf("total cost = %s, want 402", plan.TotalCost)
	}
	if plan.VWAP.Cmp(dec(t, "100.5")) != 0 {
		t.Errorf("vwap = %s, want 100.5", plan.VWAP)
	}
	if len(plan.Fills) != 2 {
		t.Fatalf("expected 2 fills, got %+v", plan.Fills)
	}
	if plan.Fills[0].Exchange != "coinbase" || plan.Fills[0].Quantity.Cmp(dec(t, "2")) != 0 {
		t.Errorf("unexpected first fill: %+v", plan.Fills[0])
	}
	if plan.Fills[1].Exchange != "kraken" || plan.Fills[1].Quantity.Cmp(dec(t, "2")) != 0 {
		t.Errorf("unexpected second fill: %+v", plan.Fills[1])
	}
	if len(plan.Notes) != 0 {
		t.Errorf("full fill should carry no notes: %v", plan.Notes)
	}
}

func TestBuyPartialFill(t *testing.T) {
	view := askView(t, [][3]string{{"coinbase", "100.00", "1"}})

	plan, err := ComputePlan(view, OrderBuy, dec(t, "5"))
	if err != nil {
		t.Fatalf("compute plan: %v", err)
	}
	if plan.Filled.Cmp(dec(t, "1")) != 0 {
		t.Errorf("filled = %s, want 1", plan.Filled)
	}
	if plan.Remaining.Cmp(dec(t, "4")) != 0 {
		t.Errorf("remaining = %s, want 4", plan.Remaining)
	}
	if len(plan.Notes) != 1 {
		t.Fatalf("partial fill must be noted: %v", plan.Notes)
	}
	if plan.VWAP.Cmp(dec(t, "100")) != 0 {
		t.Errorf("vwap = %s, want 100", plan.VWAP)
	}
}

func TestSellWalksBidsDescending(t *testing.T) {
	b := book.New()
	view := buildView(t, b, []book.Operation{
		{Kind: book.OpUpsert, Exchange: "coinbase", Pair: "BTC-USD", Side: book.SideBid, Price: dec(t, "99"), Quantity: dec(t, "1")},
		{Kind: book.OpUpsert, Exchange: "kraken", Pair: "BTC-USD", Side: book.SideBid, Price: dec(t, "100"), Quantity: dec(t, "1")},
	})

	plan, err := ComputePlan(view, OrderSell, dec(t, "2"))
	if err != nil {
		t.Fatalf("compute plan: %v", err)
	}
	if len(plan.Fills) != 2 {
		t.Fatalf("expected 2 fills, got %+v", plan.Fills)
	}
	if plan.Fills[0].Price.Cmp(dec(t, "100")) != 0 || plan.Fills[1].Price.Cmp(dec(t, "99")) != 0 {
		t.Errorf("sell must walk best bid first: %+v", plan.Fills)
	}
	if plan.VWAP.Cmp(dec(t, "99.5")) != 0 {
		t.Errorf("vwap = %s, want 99.5", plan.VWAP)
	}
}

// Within one price level exchanges are consumed in name order.
func TestSharedLevelTieOrder(t *testing.T) {
	view := askView(t, [][3]string{
		{"kraken", "100.00", "2"},
		{"coinbase", "100.00", "2"},
	})

	plan, err := ComputePlan(view, OrderBuy, dec(t, "3"))
	if err != nil {
		t.Fatalf("compute plan: %v", err)
	}
	if len(plan.Fills) != 2 {
		t.Fatalf("expected 2 fills, got %+v", plan.Fills)
	}
	if plan.Fills[0].Exchange != "coinbase" || plan.Fills[0].Quantity.Cmp(dec(t, "2")) != 0 {
		t.Errorf("coinbase should fill first: %+v", plan.Fills[0])
	}
	if plan.Fills[1].Exchange != "kraken" || plan.Fills[1].Quantity.Cmp(dec(t, "1")) != 0 {
		t.Errorf("kraken should top up: %+v", plan.Fills[1])
	}
}

func TestPlanDeterminism(t *testing.T) {
	view := askView(t, [][3]string{
		{"kraken", "100.00", "2"},
		{"coinbase", "100.00", "2"},
		{"coinbase", "101.00", "5"},
	})

	first, err := ComputePlan(view, OrderBuy, dec(t, "6"))
	if err != nil {
		t.Fatalf("compute plan: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := ComputePlan(view, OrderBuy, dec(t, "6"))
		if err != nil {
			t.Fatalf("compute plan: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("plan not deterministic:\n%+v\n%+v", first, again)
		}
	}
}

func TestFillConservation(t *testing.T) {
	view := askView(t, [][3]string{
		{"coinbase", "100.00", "1.5"},
		{"kraken", "100.50", "2.25"},
		{"coinbase", "101.00", "0.75"},
	})

	plan, err := ComputePlan(view, OrderBuy, dec(t, "4"))
	if err != nil {
		t.Fatalf("compute plan: %v", err)
	}
	sum := decimal.Zero
	for _, f := range plan.Fills {
		sum = sum.Add(f.Quantity)
	}
	if sum.Cmp(plan.Filled) != 0 {
		t.Errorf("fills sum %s != filled %s", sum, plan.Filled)
	}
	if plan.Filled.Add(plan.Remaining).Cmp(plan.Requested) != 0 {
		t.Errorf("filled %s + remaining %s != requested %s", plan.Filled, plan.Remaining, plan.Requested)
	}
}

func TestEmptyBookZeroVWAP(t *testing.T) {
	plan, err := ComputePlan(book.View{Pair: "BTC-USD"}, OrderBuy, dec(t, "1"))
	if err != nil {
		t.Fatalf("compute plan: %v", err)
	}
	if plan.Filled.Sign() != 0 || len(plan.Fills) != 0 {
		t.Errorf("expected no fills: %+v", plan)
	}
	if plan.VWAP.Sign() != 0 {
		t.Errorf("vwap must be zero when nothing fills: %s", plan.VWAP)
	}
	if len(plan.Notes) != 1 {
		t.Errorf("expected a no-liquidity note: %v", plan.Notes)
	}
}

func TestComputePlanValidation(t *testing.T) {
	view := book.View{Pair: "BTC-USD"}
	if _, err := ComputePlan(view, "HOLD", dec(t, "1")); !errors.Is(err, ErrInvalidOrderSide) {
		t.Errorf("expected side error, got %v", err)
	}
	if _, err := ComputePlan(view, OrderBuy, decimal.Zero); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("expected quantity error, got %v", err)
	}
	if _, err := ComputePlan(view, OrderBuy, dec(t, "-2")); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("expected quantity error, got %v", err)
	}
}

func TestParseOrderSide(t *testing.T) {
	if side, err := ParseOrderSide("buy"); err != nil || side != OrderBuy {
		t.Errorf("ParseOrderSide(buy) = %v, %v", side, err)
	}
	if side, err := ParseOrderSide(" SELL "); err != nil || side != OrderSell {
		t.Errorf("ParseOrderSide(SELL) = %v, %v", side, err)
	}
	if _, err := ParseOrderSide("short"); err == nil {
		t.Errorf("expected error for unknown side")
	}
}
