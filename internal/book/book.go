package book

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// level stores per-exchange quantities at a single price. A level never
// exists without at least one exchange contribution.
type level struct {
	price      decimal.Decimal
	quantities map[string]decimal.Decimal
}

// sideBook keeps one ordered side of a pair book. Bids are ordered by
// descending price, asks ascending. byExchange tracks which levels each
// exchange currently contributes to so ReplaceAll never scans the full book.
type sideBook struct {
	desc       bool
	levels     []*level
	byExchange map[string]map[*level]struct{}
}

func newSideBook(desc bool) *sideBook {
	return &sideBook{desc: desc, byExchange: make(map[string]map[*level]struct{})}
}

// search returns the index where price belongs in the ordered level slice and
// whether a level with that exact price already exists.
func (s *sideBook) search(price decimal.Decimal) (int, bool) {
	idx := sort.Search(len(s.levels), func(i int) bool {
		cmp := s.levels[i].price.Cmp(price)
		if s.desc {
			return cmp <= 0
		}
		return cmp >= 0
	})
	if idx < len(s.levels) && s.levels[idx].price.Cmp(price) == 0 {
		return idx, true
	}
	return idx, false
}

func (s *sideBook) attribute(exchange string, lvl *level) {
	set, ok := s.byExchange[exchange]
	if !ok {
		set = make(map[*level]struct{})
		s.byExchange[exchange] = set
	}
	set[lvl] = struct{}{}
}

func (s *sideBook) upsert(exchange string, price, quantity decimal.Decimal) {
	idx, found := s.search(price)
	if found {
		lvl := s.levels[idx]
		lvl.quantities[exchange] = quantity
		s.attribute(exchange, lvl)
		return
	}
	lvl := &level{price: price, quantities: map[string]decimal.Decimal{exchange: quantity}}
	s.levels = append(s.levels, nil)
	copy(s.levels[idx+1:], s.levels[idx:])
	s.levels[idx] = lvl
	s.attribute(exchange, lvl)
}

func (s *sideBook) remove(exchange string, price decimal.Decimal) {
	idx, found := s.search(price)
	if !found {
		return
	}
	lvl := s.levels[idx]
	if _, ok := lvl.quantities[exchange]; !ok {
		return
	}
	delete(lvl.quantities, exchange)
	if set, ok := s.byExchange[exchange]; ok {
		delete(set, lvl)
		if len(set) == 0 {
			delete(s.byExchange, exchange)
		}
	}
	if len(lvl.quantities) == 0 {
		s.levels = append(s.levels[:idx], s.levels[idx+1:]...)
	}
}

// replaceAll drops every contribution of the exchange on this side and
// installs the provided levels as its new complete state.
func (s *sideBook) replaceAll(exchange string, levels []Level) {
	if set, ok := s.byExchange[exchange]; ok {
		emptied := false
		for lvl := range set {
			delete(lvl.quantities, exchange)
			if len(lvl.quantities) == 0 {
				emptied = true
			}
		}
		delete(s.byExchange, exchange)
		if emptied {
			kept := s.levels[:0]
			for _, lvl := range s.levels {
				if len(lvl.quantities) > 0 {
					kept = append(kept, lvl)
				}
			}
			s.levels = kept
		}
	}
	for _, l := range levels {
		s.upsert(exchange, l.Price, l.Quantity)
	}
}

func (s *sideBook) view() []LevelView {
	out := make([]LevelView, 0, len(s.levels))
	for _, lvl := range s.levels {
		exchanges := make([]string, 0, len(lvl.quantities))
		for ex := range lvl.quantities {
			exchanges = append(exchanges, ex)
		}
		sort.Strings(exchanges)
		quantities := make([]ExchangeQuantity, 0, len(exchanges))
		for _, ex := range exchanges {
			quantities = append(quantities, ExchangeQuantity{Exchange: ex, Quantity: lvl.quantities[ex]})
		}
		out = append(out, LevelView{Price: lvl.price, Quantities: quantities})
	}
	return out
}

// pairBook holds both sides of one trading pair behind its own lock so
// updates for different pairs never contend.
type pairBook struct {
	mu   sync.RWMutex
	bids *sideBook
	asks *sideBook
}

func newPairBook() *pairBook {
	return &pairBook{bids: newSideBook(true), asks: newSideBook(false)}
}

func (p *pairBook) side(s Side) *sideBook {
	if s == SideBid {
		return p.bids
	}
	return p.asks
}

// Book is the consolidated order book across all exchanges, keyed by pair.
type Book struct {
	mu    sync.RWMutex
	pairs map[string]*pairBook
}

func New() *Book {
	return &Book{pairs: make(map[string]*pairBook)}
}

func (b *Book) pair(pair string, create bool) *pairBook {
	b.mu.RLock()
	pb, ok := b.pairs[pair]
	b.mu.RUnlock()
	if ok || !create {
		return pb
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if pb, ok = b.pairs[pair]; ok {
		return pb
	}
	pb = newPairBook()
	b.pairs[pair] = pb
	return pb
}

// Apply validates the operation fully before touching the book, then applies
// it. A rejected operation leaves the book unchanged.
func (b *Book) Apply(op Operation) error {
	if err := validate(op); err != nil {
		return err
	}

	pb := b.pair(op.Pair, true)
	pb.mu.Lock()
	defer pb.mu.Unlock()

	sb := pb.side(op.Side)
	switch op.Kind {
	case OpReplaceAll:
		sb.replaceAll(op.Exchange, op.Levels)
	case OpUpsert:
		sb.upsert(op.Exchange, op.Price, op.Quantity)
	case OpRemove:
		sb.remove(op.Exchange, op.Price)
	}
	return nil
}

func validate(op Operation) error {
	if op.Exchange == "" {
		return ErrMissingExchange
	}
	if op.Pair == "" {
		return ErrMissingPair
	}
	if op.Side != SideBid && op.Side != SideAsk {
		return fmt.Errorf("%w: %q", ErrInvalidSide, op.Side)
	}
	switch op.Kind {
	case OpReplaceAll:
		for _, l := range op.Levels {
			if l.Price.Sign() <= 0 {
				return fmt.Errorf("%w: %s", ErrInvalidPrice, l.Price)
			}
			if l.Quantity.Sign() <= 0 {
				return fmt.Errorf("%w: %s at price %s", ErrInvalidQuantity, l.Quantity, l.Price)
			}
		}
	case OpUpsert:
		if op.Price.Sign() <= 0 {
			return fmt.Errorf("%w: %s", ErrInvalidPrice, op.Price)
		}
		if op.Quantity.Sign() <= 0 {
			return fmt.Errorf("%w: %s at price %s", ErrInvalidQuantity, op.Quantity, op.Price)
		}
	case OpRemove:
		if op.Price.Sign() <= 0 {
			return fmt.Errorf("%w: %s", ErrInvalidPrice, op.Price)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, op.Kind)
	}
	return nil
}

// Snapshot returns a deep copy of the consolidated book for one pair. The
// second return value reports whether the pair has ever been seen.
func (b *Book) Snapshot(pair string) (View, bool) {
	pb := b.pair(pair, false)
	if pb == nil {
		return View{Pair: pair}, false
	}
	pb.mu.RLock()
	defer pb.mu.RUnlock()
	return View{
		Pair: pair,
		Bids: pb.bids.view(),
		Asks: pb.asks.view(),
	}, true
}

// Pairs lists all pairs currently tracked, sorted by name.
func (b *Book) Pairs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.pairs))
	for pair := range b.pairs {
		out = append(out, pair)
	}
	sort.Strings(out)
	return out
}
