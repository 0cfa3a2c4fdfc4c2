package ledger

import (
	"github.com/shopspring/decimal"
)

// Both ledgers record time-keyed holdings valued through rate rows observed at
// the same key: balances × market prices per stamp, and asset history ×
// exchange rates per date. The types below are shared by the two; A is the
// reference type the rows join against.

// Holding is an amount of asset A.
type Holding[A comparable] struct {
	Asset     A
	Available decimal.Decimal
	Pending   decimal.Decimal
}

// Rate says one Base is worth Value Quote.
type Rate[A comparable] struct {
	Base  A
	Quote A
	Value decimal.Decimal
}

// Valued pairs a holding with its unit value in the valuation target, if any
// path of rates reaches it.
type Valued[A comparable] struct {
	Holding[A]
	Rate *decimal.Decimal
}

// RateGraph answers conversion queries over a set of pairwise rates. Each rate
// is usable in both directions; conversions through intermediate assets
// multiply along the first path found.
type RateGraph[A comparable] struct {
	rates     map[[2]A]decimal.Decimal
	neighbors map[A][]A
}

// NewRateGraph builds a graph from rates. Zero rates are ignored since they
// have no inverse.
func NewRateGraph[A comparable](rates []Rate[A]) *RateGraph[A] {
	g := &RateGraph[A]{
		rates:     make(map[[2]A]decimal.Decimal, len(rates)*2),
		neighbors: make(map[A][]A),
	}
	for _, r := range rates {
		if r.Value.IsZero() {
			continue
		}
		g.rates[[2]A{r.Base, r.Quote}] = r.Value
		g.rates[[2]A{r.Quote, r.Base}] = decimal.NewFromInt(1).Div(r.Value)
		g.neighbors[r.Base] = append(g.neighbors[r.Base], r.Quote)
		g.neighbors[r.Quote] = append(g.neighbors[r.Quote], r.Base)
	}
	return g
}

// Between returns the value of one base in quote units.
func (g *RateGraph[A]) Between(base, quote A) (decimal.Decimal, bool) {
	return g.between(base, quote, map[A]bool{base: true})
}

func (g *RateGraph[A]) between(base, quote A, seen map[A]bool) (decimal.Decimal, bool) {
	if base == quote {
		return decimal.NewFromInt(1), true
	}
	if r, ok := g.rates[[2]A{base, quote}]; ok {
		return r, true
	}
	for _, mid := range g.neighbors[base] {
		if seen[mid] {
			continue
		}
		seen[mid] = true
		rest, ok := g.between(mid, quote, seen)
		if ok {
			return g.rates[[2]A{base, mid}].Mul(rest), true
		}
	}
	return decimal.Decimal{}, false
}

// Valuate attaches to every holding the value of one unit in target.
func Valuate[A comparable](holdings []Holding[A], rates []Rate[A], target A) []Valued[A] {
	g := NewRateGraph(rates)
	out := make([]Valued[A], 0, len(holdings))
	for _, h := range holdings {
		v := Valued[A]{Holding: h}
		if r, ok := g.Between(h.Asset, target); ok {
			v.Rate = &r
		}
		out = append(out, v)
	}
	return out
}
