package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"sidechannel-node/clock"
	"sidechannel-node/pkg/metrics"
)

// Engine runs price oracle ticks over a fixed provider set (spec §4.11).
type Engine struct {
	cfg       Config
	providers []Provider
	clock     clock.Clock
	log       *logrus.Logger
	metrics   *metrics.Collectors
}

// NewEngine constructs an Engine. logger and clk may be nil.
func NewEngine(cfg Config, providers []Provider, logger *logrus.Logger, clk clock.Clock) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Engine{cfg: cfg, providers: providers, clock: clk, log: logger}
}

// SetMetrics attaches a prometheus collector bundle; optional, and every
// metrics call is nil-safe without it.
func (e *Engine) SetMetrics(m *metrics.Collectors) { e.metrics = m }

// Tick fans out provider.fetch to every provider supporting each
// configured pair, awaits all results, and evaluates consensus per pair,
// per spec §4.11.
func (e *Engine) Tick(ctx context.Context) *Snapshot {
	start := e.clock.NowMs()
	snap := e.tick(ctx)
	if e.metrics != nil {
		e.metrics.OracleTickDurationSeconds.Observe(float64(e.clock.NowMs()-start) / 1000)
		if snap.Ok {
			e.metrics.OracleTickOk.Set(1)
		} else {
			e.metrics.OracleTickOk.Set(0)
		}
	}
	return snap
}

func (e *Engine) tick(ctx context.Context) *Snapshot {
	ids := make([]string, len(e.providers))
	for i, p := range e.providers {
		ids[i] = p.ID()
	}

	snap := &Snapshot{
		Type:      "price_snapshot",
		Ts:        e.clock.NowMs(),
		Providers: ids,
		Pairs:     make(map[Pair]PairResult, len(e.cfg.Pairs)),
	}

	misconfigured := len(e.providers) < e.cfg.RequiredProviders

	allOk := true
	for _, pair := range e.cfg.Pairs {
		var result PairResult
		if misconfigured {
			result = PairResult{
				Ok:                  false,
				Error:               strPtr("misconfigured: fewer providers configured than required"),
				MaxDeviationBps:     e.cfg.MaxDeviationBps,
				MinOk:               e.cfg.MinOk,
				MinAgree:            e.cfg.MinAgree,
				RequiredProviders:   e.cfg.RequiredProviders,
				ProvidersConfigured: len(e.providers),
			}
		} else {
			result = e.tickPair(ctx, pair)
		}
		if !result.Ok {
			allOk = false
		}
		snap.Pairs[pair] = result
	}
	snap.Ok = allOk
	return snap
}

func (e *Engine) tickPair(ctx context.Context, pair Pair) PairResult {
	var supporting []Provider
	for _, p := range e.providers {
		if p.Supports(pair) {
			supporting = append(supporting, p)
		}
	}

	results := make([]FetchResult, len(supporting))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range supporting {
		i, p := i, p
		g.Go(func() error {
			fr := e.fetchOne(gctx, p, pair)
			mu.Lock()
			results[i] = fr
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var okPoints []Point
	for _, r := range results {
		if r.Ok && r.Price > 0 {
			okPoints = append(okPoints, Point{ID: r.ID, Price: r.Price})
		}
	}

	consensus := EvaluateConsensus(okPoints, e.cfg.MaxDeviationBps, e.cfg.MinAgree)
	ok := len(okPoints) >= e.cfg.MinOk && consensus.Ok

	pr := PairResult{
		Ok:                  ok,
		Median:              consensus.Median,
		Agreeing:            orEmpty(consensus.Agreeing),
		Outliers:            orEmpty(consensus.Outliers),
		SpreadBps:           consensus.SpreadBps,
		OkSources:           len(okPoints),
		Sources:             results,
		MaxDeviationBps:     e.cfg.MaxDeviationBps,
		MinOk:               e.cfg.MinOk,
		MinAgree:            e.cfg.MinAgree,
		RequiredProviders:   e.cfg.RequiredProviders,
		ProvidersConfigured: len(e.providers),
	}
	if !ok {
		if len(okPoints) < e.cfg.MinOk {
			pr.Error = strPtr("insufficient ok sources")
		} else {
			pr.Error = strPtr(consensus.Error)
		}
	}
	return pr
}

// fetchOne wraps a single provider fetch with its own timeout; a timed-out
// or failing fetch is recorded as not-ok and never fails the tick, per
// spec §5 and §7.
func (e *Engine) fetchOne(ctx context.Context, p Provider, pair Pair) FetchResult {
	timeoutMs := e.cfg.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = 2000
	}
	fetchCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	type res struct{ fr FetchResult }
	done := make(chan res, 1)
	go func() {
		done <- res{fr: p.Fetch(fetchCtx, pair, timeoutMs)}
	}()

	select {
	case r := <-done:
		return r.fr
	case <-fetchCtx.Done():
		return FetchResult{ID: p.ID(), Ok: false, Ts: e.clock.NowMs(), Error: "timeout"}
	}
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
