package oracle

import (
	"context"
	"fmt"

	"sidechannel-node/clock"
)

// staticProvider returns fixed prices from a configured {pair -> price}
// map, used for tests and bootstrap deployments with no live data feed
// (spec §4.11, "static providers").
type staticProvider struct {
	id     string
	prices map[Pair]float64
	clock  clock.Clock
}

func (s *staticProvider) ID() string { return s.id }

func (s *staticProvider) Supports(p Pair) bool {
	_, ok := s.prices[p]
	return ok
}

func (s *staticProvider) Fetch(ctx context.Context, p Pair, timeoutMs int) FetchResult {
	price, ok := s.prices[p]
	if !ok {
		return FetchResult{ID: s.id, Ok: false, Ts: s.clock.NowMs(), Error: "unsupported pair"}
	}
	return FetchResult{ID: s.id, Ok: true, Price: price, Ts: s.clock.NowMs(), Source: "static"}
}

// NewStaticProviders generates staticCount synthetic providers, each
// returning the fixed prices in the given pair -> price map, per spec
// §4.11 ("when provider id `static` is requested").
func NewStaticProviders(staticCount int, prices map[Pair]float64, clk clock.Clock) []Provider {
	if clk == nil {
		clk = clock.System{}
	}
	out := make([]Provider, staticCount)
	for i := 0; i < staticCount; i++ {
		out[i] = &staticProvider{id: fmt.Sprintf("static-%d", i), prices: prices, clock: clk}
	}
	return out
}
