package oracle

import (
	"context"
	"strings"
	"testing"

	"sidechannel-node/clock"
)

func TestTickHealthyFiveStaticProviders(t *testing.T) {
	clk := clock.NewManual(1000)
	providers := NewStaticProviders(5, map[Pair]float64{"BTC_USDT": 200000, "USDT_USD": 1}, clk)
	cfg := Config{
		Pairs:             []Pair{"BTC_USDT", "USDT_USD"},
		RequiredProviders: 5,
		MinOk:             2,
		MinAgree:          2,
		MaxDeviationBps:   10,
		TimeoutMs:         1000,
	}
	e := NewEngine(cfg, providers, nil, clk)
	snap := e.Tick(context.Background())

	if !snap.Ok {
		t.Fatalf("expected a healthy snapshot, got %+v", snap)
	}
	if len(snap.Providers) != 5 {
		t.Fatalf("expected 5 providers listed, got %d", len(snap.Providers))
	}
	btc := snap.Pairs["BTC_USDT"]
	if btc.Median == nil || *btc.Median != 200000 {
		t.Fatalf("expected BTC_USDT median 200000, got %v", btc.Median)
	}
	usdt := snap.Pairs["USDT_USD"]
	if usdt.Median == nil || *usdt.Median != 1 {
		t.Fatalf("expected USDT_USD median 1, got %v", usdt.Median)
	}
}

func TestTickMisconfigured(t *testing.T) {
	clk := clock.NewManual(1000)
	providers := NewStaticProviders(2, map[Pair]float64{"BTC_USDT": 200000}, clk)
	cfg := Config{
		Pairs:             []Pair{"BTC_USDT"},
		RequiredProviders: 5,
		MinOk:             2,
		MinAgree:          2,
		MaxDeviationBps:   10,
	}
	e := NewEngine(cfg, providers, nil, clk)
	snap := e.Tick(context.Background())

	pr := snap.Pairs["BTC_USDT"]
	if pr.Ok {
		t.Fatal("expected a misconfigured pair to be not-ok")
	}
	if pr.Error == nil || !strings.Contains(*pr.Error, "misconfigured") {
		t.Fatalf("expected error to mention misconfigured, got %v", pr.Error)
	}
}

func TestTickNoConsensus(t *testing.T) {
	clk := clock.NewManual(1000)
	providers := []Provider{
		&staticProvider{id: "p1", prices: map[Pair]float64{"BTC_USDT": 100}, clock: clk},
		&staticProvider{id: "p2", prices: map[Pair]float64{"BTC_USDT": 100}, clock: clk},
		&staticProvider{id: "p3", prices: map[Pair]float64{"BTC_USDT": 120}, clock: clk},
	}
	cfg := Config{
		Pairs:             []Pair{"BTC_USDT"},
		RequiredProviders: 3,
		MinOk:             3,
		MinAgree:          3,
		MaxDeviationBps:   50,
	}
	e := NewEngine(cfg, providers, nil, clk)
	snap := e.Tick(context.Background())

	pr := snap.Pairs["BTC_USDT"]
	if pr.Ok {
		t.Fatal("expected insufficient consensus (3rd provider deviates) to fail")
	}
	if pr.Error == nil || !strings.Contains(*pr.Error, "insufficient consensus") {
		t.Fatalf("expected error to mention insufficient consensus, got %v", pr.Error)
	}
}
