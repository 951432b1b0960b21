package autopost

import (
	"context"
	"fmt"
	"testing"
	"time"

	"sidechannel-node/clock"
)

type fakeTools struct {
	runToolErr    error
	runToolSigner string
	runCalls      int
	lastRunArgs   map[string]interface{}

	trades     []Trade
	trade      *Trade
	getTradeErr error
}

func (f *fakeTools) RunTool(ctx context.Context, tool Tool, args map[string]interface{}) (*RunResult, error) {
	f.runCalls++
	f.lastRunArgs = args
	if f.runToolErr != nil {
		return nil, f.runToolErr
	}
	res := &RunResult{}
	res.Envelope.Signer = f.runToolSigner
	return res, nil
}

func (f *fakeTools) GetTrade(ctx context.Context, tradeID string) (*Trade, error) {
	return f.trade, f.getTradeErr
}

func (f *fakeTools) ListTrades(ctx context.Context, limit int) ([]Trade, error) {
	return f.trades, nil
}

func TestSanitizeJobNameIdempotent(t *testing.T) {
	inputs := []string{"Maker Job #1", "already_ok-1", "", "a very long name that definitely exceeds sixty four characters in total length by a lot"}
	for _, in := range inputs {
		once := sanitizeJobName(in)
		twice := sanitizeJobName(once)
		if once != twice {
			t.Fatalf("sanitizeJobName not idempotent for %q: %q vs %q", in, once, twice)
		}
		if len(once) > 64 {
			t.Fatalf("sanitized name exceeds 64 chars: %q", once)
		}
	}
}

func TestStartRejectsBadTool(t *testing.T) {
	m := NewManager(&fakeTools{}, clock.NewManual(0), nil)
	_, err := m.Start(JobSpec{Name: "x", Tool: "NOT_A_TOOL", IntervalSec: 1, TTLSec: 10})
	if err == nil {
		t.Fatal("expected an unsupported tool to be rejected")
	}
}

func TestStartRejectsIntervalAndTTLOutOfRange(t *testing.T) {
	m := NewManager(&fakeTools{}, clock.NewManual(0), nil)
	if _, err := m.Start(JobSpec{Name: "a", Tool: ToolOfferPost, IntervalSec: 0, TTLSec: 10}); err == nil {
		t.Fatal("expected interval_sec=0 to be rejected")
	}
	if _, err := m.Start(JobSpec{Name: "b", Tool: ToolOfferPost, IntervalSec: 1, TTLSec: 5}); err == nil {
		t.Fatal("expected ttl_sec=5 (below minimum 10) to be rejected")
	}
	if _, err := m.Start(JobSpec{Name: "c", Tool: ToolOfferPost, IntervalSec: 1, TTLSec: 1_000_000}); err == nil {
		t.Fatal("expected ttl_sec above maximum to be rejected")
	}
}

func TestStartRenamesOnCollision(t *testing.T) {
	m := NewManager(&fakeTools{}, clock.NewManual(1_000_000), nil)
	j1, err := m.Start(JobSpec{Name: "maker", Tool: ToolOfferPost, IntervalSec: 60, TTLSec: 3600, Args: map[string]interface{}{"offers": []interface{}{}}})
	if err != nil {
		t.Fatal(err)
	}
	defer j1.Stop()

	j2, err := m.Start(JobSpec{Name: "maker", Tool: ToolOfferPost, IntervalSec: 60, TTLSec: 3600, Args: map[string]interface{}{"offers": []interface{}{}}})
	if err != nil {
		t.Fatal(err)
	}
	defer j2.Stop()

	if j2.Name() == j1.Name() {
		t.Fatal("expected a colliding job name to be renamed")
	}
	if j2.Name()[:len("maker")] != "maker" {
		t.Fatalf("expected renamed job to retain the sanitized prefix, got %q", j2.Name())
	}
}

func TestImmediateRunOnStart(t *testing.T) {
	ft := &fakeTools{runToolSigner: "signer-hex"}
	m := NewManager(ft, clock.NewManual(1_000_000), nil)
	job, err := m.Start(JobSpec{
		Name: "rfq1", Tool: ToolRFQPost, IntervalSec: 3600, TTLSec: 3600,
		Args: map[string]interface{}{"trade_id": "t1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer job.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && job.State().Runs == 0 {
		time.Sleep(time.Millisecond)
	}
	st := job.State()
	if st.Runs != 1 || !st.LastOk {
		t.Fatalf("expected one successful immediate run, got %+v", st)
	}
	if st.PeerSignerHex != "signer-hex" {
		t.Fatalf("expected peerSignerHex to be captured from the run result, got %q", st.PeerSignerHex)
	}
}

func TestRunOnceExpires(t *testing.T) {
	clk := clock.NewManual(0)
	ft := &fakeTools{}
	m := NewManager(ft, clk, nil)
	job, err := m.Start(JobSpec{Name: "exp", Tool: ToolRFQPost, IntervalSec: 3600, TTLSec: 10, Args: map[string]interface{}{}})
	if err != nil {
		t.Fatal(err)
	}

	clk.Set(11_000) // now >= validUntilUnix (10s)
	job.runOnce(context.Background())

	st := job.State()
	if !st.Stopped || st.StopReason != StopExpired {
		t.Fatalf("expected job to terminate as expired, got %+v", st)
	}
	if _, ok := m.Job("exp"); ok {
		t.Fatal("expected expired job to be removed from the manager")
	}
}

func TestOfferFillPrune(t *testing.T) {
	clk := clock.NewManual(0)
	ft := &fakeTools{runToolSigner: "maker-key"}
	m := NewManager(ft, clk, nil)
	offers := []interface{}{
		map[string]interface{}{"btc_sats": float64(1), "usdt_amount": "1"},
	}
	job, err := m.Start(JobSpec{
		Name: "maker", Tool: ToolOfferPost, IntervalSec: 3600, TTLSec: 3600,
		Args: map[string]interface{}{"offers": offers},
	})
	if err != nil {
		t.Fatal(err)
	}

	// First tick: learns peerSignerHex, no trades yet.
	job.runOnce(context.Background())
	if job.State().PeerSignerHex != "maker-key" {
		t.Fatalf("expected peerSignerHex to be captured, got %+v", job.State())
	}

	// Second tick: a matching claimed trade has since appeared.
	ft.trades = []Trade{{State: "claimed", Maker: "maker-key", BTCSats: 1, USDTAmount: "1", UpdatedAt: 0}}
	job.runOnce(context.Background())

	st := job.State()
	if !st.Stopped || st.StopReason != StopFilled {
		t.Fatalf("expected job to terminate as filled, got %+v", st)
	}
}

func TestRFQTerminatesWhenTradeNoLongerOpen(t *testing.T) {
	clk := clock.NewManual(0)
	ft := &fakeTools{trade: &Trade{State: "escrow"}}
	m := NewManager(ft, clk, nil)
	job, err := m.Start(JobSpec{
		Name: "rfq", Tool: ToolRFQPost, IntervalSec: 3600, TTLSec: 3600,
		Args: map[string]interface{}{"trade_id": "t1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	job.runOnce(context.Background())

	st := job.State()
	if !st.Stopped || st.StopReason != StopReason("filled:escrow") {
		t.Fatalf("expected job to terminate as filled:escrow, got %+v", st)
	}
}

func TestInsufficientFundsTerminatesJob(t *testing.T) {
	clk := clock.NewManual(0)
	ft := &fakeTools{runToolErr: fmt.Errorf("payment failed: insufficient funds in channel")}
	m := NewManager(ft, clk, nil)
	job, err := m.Start(JobSpec{
		Name: "rfq", Tool: ToolRFQPost, IntervalSec: 3600, TTLSec: 3600,
		Args: map[string]interface{}{"trade_id": "t1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	job.runOnce(context.Background())

	st := job.State()
	if !st.Stopped || st.StopReason != StopInsufficientFunds {
		t.Fatalf("expected job to terminate as insufficient_funds, got %+v", st)
	}
}

func TestStopPreventsFurtherRuns(t *testing.T) {
	clk := clock.NewManual(0)
	ft := &fakeTools{}
	m := NewManager(ft, clk, nil)
	job, err := m.Start(JobSpec{Name: "stoppable", Tool: ToolRFQPost, IntervalSec: 1, TTLSec: 3600, Args: map[string]interface{}{}})
	if err != nil {
		t.Fatal(err)
	}
	job.Stop()
	runsAtStop := job.State().Runs
	job.runOnce(context.Background())
	if job.State().Runs != runsAtStop {
		t.Fatal("expected no further runs after Stop")
	}
}
