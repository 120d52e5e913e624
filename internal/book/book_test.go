package book

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func mustApply(t *testing.T, b *Book, op Operation) {
	t.Helper()
	if err := b.Apply(op); err != nil {
		t.Fatalf("apply %s: %v", op.Kind, err)
	}
}

func replaceAll(t *testing.T, b *Book, exchange, pair string, side Side, levels [][2]string) {
	t.Helper()
	op := Operation{Kind: OpReplaceAll, Exchange: exchange, Pair: pair, Side: side}
	for _, l := range levels {
		op.Levels = append(op.Levels, Level{Price: dec(t, l[0]), Quantity: dec(t, l[1])})
	}
	mustApply(t, b, op)
}

func TestSideOrdering(t *testing.T) {
	b := New()
	replaceAll(t, b, "coinbase", "BTC-USD", SideAsk, [][2]string{{"101", "1"}, {"100", "2"}, {"102", "3"}})
	replaceAll(t, b, "coinbase", "BTC-USD", SideBid, [][2]string{{"98", "1"}, {"99", "2"}, {"97", "3"}})

	v, ok := b.Snapshot("BTC-USD")
	if !ok {
		t.Fatalf("expected snapshot for BTC-USD")
	}
	for i := 1; i < len(v.Asks); i++ {
		if v.Asks[i-1].Price.Cmp(v.Asks[i].Price) >= 0 {
			t.Fatalf("asks not ascending: %s >= %s", v.Asks[i-1].Price, v.Asks[i].Price)
		}
	}
	for i := 1; i < len(v.Bids); i++ {
		if v.Bids[i-1].Price.Cmp(v.Bids[i].Price) <= 0 {
			t.Fatalf("bids not descending: %s <= %s", v.Bids[i-1].Price, v.Bids[i].Price)
		}
	}
	if v.Bids[0].Price.Cmp(dec(t, "99")) != 0 {
		t.Errorf("best bid = %s, want 99", v.Bids[0].Price)
	}
	if v.Asks[0].Price.Cmp(dec(t, "100")) != 0 {
		t.Errorf("best ask = %s, want 100", v.Asks[0].Price)
	}
}

func TestUpsertOverwritesQuantity(t *testing.T) {
	b := New()
	mustApply(t, b, Operation{Kind: OpUpsert, Exchange: "kraken", Pair: "BTC-USD", Side: SideAsk, Price: dec(t, "100"), Quantity: dec(t, "1")})
	mustApply(t, b, Operation{Kind: OpUpsert, Exchange: "kraken", Pair: "BTC-USD", Side: SideAsk, Price: dec(t, "100"), Quantity: dec(t, "3")})

	v, _ := b.Snapshot("BTC-USD")
	if len(v.Asks) != 1 {
		t.Fatalf("expected 1 ask level, got %d", len(v.Asks))
	}
	if got := v.Asks[0].Total(); got.Cmp(dec(t, "3")) != 0 {
		t.Errorf("quantity = %s, want 3", got)
	}
}

func TestSharedLevelAttribution(t *testing.T) {
	b := New()
	mustApply(t, b, Operation{Kind: OpUpsert, Exchange: "coinbase", Pair: "BTC-USD", Side: SideAsk, Price: dec(t, "100"), Quantity: dec(t, "1")})
	mustApply(t, b, Operation{Kind: OpUpsert, Exchange: "kraken", Pair: "BTC-USD", Side: SideAsk, Price: dec(t, "100"), Quantity: dec(t, "2")})

	v, _ := b.Snapshot("BTC-USD")
	if len(v.Asks) != 1 {
		t.Fatalf("expected a single shared level, got %d", len(v.Asks))
	}
	lvl := v.Asks[0]
	if len(lvl.Quantities) != 2 {
		t.Fatalf("expected 2 exchange contributions, got %d", len(lvl.Quantities))
	}
	// Attribution is sorted by exchange name
	if lvl.Quantities[0].Exchange != "coinbase" || lvl.Quantities[1].Exchange != "kraken" {
		t.Errorf("unexpected exchange order: %v", lvl.Quantities)
	}
	if got := lvl.Total(); got.Cmp(dec(t, "3")) != 0 {
		t.Errorf("total = %s, want 3", got)
	}

	// Removing one contribution keeps the level alive for the other
	mustApply(t, b, Operation{Kind: OpRemove, Exchange: "coinbase", Pair: "BTC-USD", Side: SideAsk, Price: dec(t, "100")})
	v, _ = b.Snapshot("BTC-USD")
	if len(v.Asks) != 1 || len(v.Asks[0].Quantities) != 1 {
		t.Fatalf("expected level to survive with one contribution: %+v", v.Asks)
	}
	if v.Asks[0].Quantities[0].Exchange != "kraken" {
		t.Errorf("surviving exchange = %s, want kraken", v.Asks[0].Quantities[0].Exchange)
	}
}

func TestRemoveDeletesEmptyLevel(t *testing.T) {
	b := New()
	mustApply(t, b, Operation{Kind: OpUpsert, Exchange: "coinbase", Pair: "BTC-USD", Side: SideBid, Price: dec(t, "99"), Quantity: dec(t, "1")})
	mustApply(t, b, Operation{Kind: OpRemove, Exchange: "coinbase", Pair: "BTC-USD", Side: SideBid, Price: dec(t, "99")})

	v, _ := b.Snapshot("BTC-USD")
	if len(v.Bids) != 0 {
		t.Fatalf("expected empty bid side, got %+v", v.Bids)
	}
}

func TestRemoveUnknownPriceIsNoop(t *testing.T) {
	b := New()
	mustApply(t, b, Operation{Kind: OpUpsert, Exchange: "coinbase", Pair: "BTC-USD", Side: SideBid, Price: dec(t, "99"), Quantity: dec(t, "1")})
	mustApply(t, b, Operation{Kind: OpRemove, Exchange: "coinbase", Pair: "BTC-USD", Side: SideBid, Price: dec(t, "42")})
	mustApply(t, b, Operation{Kind: OpRemove, Exchange: "kraken", Pair: "BTC-USD", Side: SideBid, Price: dec(t, "99")})

	v, _ := b.Snapshot("BTC-USD")
	if len(v.Bids) != 1 {
		t.Fatalf("expected untouched bid level, got %+v", v.Bids)
	}
}

func TestReplaceAllDropsStaleLevels(t *testing.T) {
	b := New()
	replaceAll(t, b, "coinbase", "BTC-USD", SideAsk, [][2]string{{"100", "1"}, {"101", "2"}})
	// Kraken shares one price with coinbase
	mustApply(t, b, Operation{Kind: OpUpsert, Exchange: "kraken", Pair: "BTC-USD", Side: SideAsk, Price: dec(t, "101"), Quantity: dec(t, "5")})

	// New snapshot from coinbase no longer includes 100 or 101
	replaceAll(t, b, "coinbase", "BTC-USD", SideAsk, [][2]string{{"102", "4"}})

	v, _ := b.Snapshot("BTC-USD")
	if len(v.Asks) != 2 {
		t.Fatalf("expected 2 ask levels, got %+v", v.Asks)
	}
	if v.Asks[0].Price.Cmp(dec(t, "101")) != 0 || v.Asks[0].Quantities[0].Exchange != "kraken" {
		t.Errorf("level 101 should only carry kraken: %+v", v.Asks[0])
	}
	if v.Asks[1].Price.Cmp(dec(t, "102")) != 0 || v.Asks[1].Quantities[0].Exchange != "coinbase" {
		t.Errorf("level 102 should carry coinbase: %+v", v.Asks[1])
	}
}

func TestReplaceAllOnlyTouchesOneSide(t *testing.T) {
	b := New()
	replaceAll(t, b, "coinbase", "BTC-USD", SideBid, [][2]string{{"99", "1"}})
	replaceAll(t, b, "coinbase", "BTC-USD", SideAsk, [][2]string{{"100", "1"}})
	replaceAll(t, b, "coinbase", "BTC-USD", SideAsk, [][2]string{{"101", "2"}})

	v, _ := b.Snapshot("BTC-USD")
	if len(v.Bids) != 1 || v.Bids[0].Price.Cmp(dec(t, "99")) != 0 {
		t.Errorf("bid side should be untouched: %+v", v.Bids)
	}
	if len(v.Asks) != 1 || v.Asks[0].Price.Cmp(dec(t, "101")) != 0 {
		t.Errorf("ask side should hold only the new snapshot: %+v", v.Asks)
	}
}

func TestApplyValidation(t *testing.T) {
	b := New()
	cases := []struct {
		name string
		op   Operation
		want error
	}{
		{"missing exchange", Operation{Kind: OpUpsert, Pair: "BTC-USD", Side: SideBid, Price: dec(t, "1"), Quantity: dec(t, "1")}, ErrMissingExchange},
		{"missing pair", Operation{Kind: OpUpsert, Exchange: "coinbase", Side: SideBid, Price: dec(t, "1"), Quantity: dec(t, "1")}, ErrMissingPair},
		{"bad side", Operation{Kind: OpUpsert, Exchange: "coinbase", Pair: "BTC-USD", Side: "middle", Price: dec(t, "1"), Quantity: dec(t, "1")}, ErrInvalidSide},
		{"bad kind", Operation{Kind: "merge", Exchange: "coinbase", Pair: "BTC-USD", Side: SideBid, Price: dec(t, "1")}, ErrInvalidKind},
		{"zero price", Operation{Kind: OpUpsert, Exchange: "coinbase", Pair: "BTC-USD", Side: SideBid, Quantity: dec(t, "1")}, ErrInvalidPrice},
		{"zero quantity", Operation{Kind: OpUpsert, Exchange: "coinbase", Pair: "BTC-USD", Side: SideBid, Price: dec(t, "1")}, ErrInvalidQuantity},
		{"negative level", Operation{Kind: OpReplaceAll, Exchange: "coinbase", Pair: "BTC-USD", Side: SideBid, Levels: []Level{{Price: dec(t, "1"), Quantity: dec(t, "-1")}}}, ErrInvalidQuantity},
	}
	for _, c := range cases {
		if err := b.Apply(c.op); !errors.Is(err, c.want) {
			t.Errorf("%s: got %v, want %v", c.name, err, c.want)
		}
	}

	// Rejected operations must not create state
	if _, ok := b.Snapshot("BTC-USD"); ok {
		t.Errorf("rejected operations should leave no trace")
	}
}

func TestSnapshotUnknownPair(t *testing.T) {
	b := New()
	if _, ok := b.Snapshot("DOGE-USD"); ok {
		t.Fatalf("expected no snapshot for unknown pair")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	b := New()
	mustApply(t, b, Operation{Kind: OpUpsert, Exchange: "coinbase", Pair: "BTC-USD", Side: SideAsk, Price: dec(t, "100"), Quantity: dec(t, "1")})

	v1, _ := b.Snapshot("BTC-USD")
	mustApply(t, b, Operation{Kind: OpUpsert, Exchange: "coinbase", Pair: "BTC-USD", Side: SideAsk, Price: dec(t, "100"), Quantity: dec(t, "9")})

	if got := v1.Asks[0].Total(); got.Cmp(dec(t, "1")) != 0 {
		t.Errorf("snapshot mutated after later update: %s", got)
	}
}

func TestParseSide(t *testing.T) {
	cases := []struct {
		in   string
		want Side
		ok   bool
	}{
		{"bid", SideBid, true},
		{"buy", SideBid, true},
		{"ASK", SideAsk, true},
		{"sell", SideAsk, true},
		{"hold", "", false},
	}
	for _, c := range cases {
		got, err := ParseSide(c.in)
		if c.ok && (err != nil || got != c.want) {
			t.Errorf("ParseSide(%q) = %v, %v; want %v", c.in, got, err, c.want)
		}
		if !c.ok && err == nil {
			t.Errorf("ParseSide(%q) expected error", c.in)
		}
	}
}

func TestPairs(t *testing.T) {
	b := New()
	mustApply(t, b, Operation{Kind: OpUpsert, Exchange: "coinbase", Pair: "ETH-USD", Side: SideBid, Price: dec(t, "1"), Quantity: dec(t, "1")})
	mustApply(t, b, Operation{Kind: OpUpsert, Exchange: "coinbase", Pair: "BTC-USD", Side: SideBid, Price: dec(t, "1"), Quantity: dec(t, "1")})

	pairs := b.Pairs()
	if len(pairs) != 2 || pairs[0] != "BTC-USD" || pairs[1] != "ETH-USD" {
		t.Fatalf("unexpected pairs: %v", pairs)
	}
}
