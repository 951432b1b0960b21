// Package autopost implements the supervised periodic job scheduler from
// spec §4.10: a job re-publishes an offer or RFQ on a fixed interval until
// it expires, fills, or hits a fatal runtime error.
package autopost

import "context"

// Tool is one of the two republishable actions a job drives.
type Tool string

const (
	ToolOfferPost Tool = "OFFER_POST"
	ToolRFQPost   Tool = "RFQ_POST"
)

// StopReason is the terminal reason a job stopped itself. "filled:<state>"
// is constructed dynamically for RFQ jobs, so this is a plain string type
// rather than a closed enum.
type StopReason string

const (
	StopNone               StopReason = ""
	StopExpired            StopReason = "expired"
	StopFilled             StopReason = "filled"
	StopInsufficientFunds  StopReason = "insufficient_funds"
)

// Trade is the subset of trade-ledger fields autopost's fill checks use.
type Trade struct {
	TradeID    string `json:"trade_id"`
	State      string `json:"state"`
	Maker      string `json:"maker"`
	BTCSats    int64  `json:"btc_sats"`
	USDTAmount string `json:"usdt_amount"`
	UpdatedAt  int64  `json:"updated_at"`
}

// RunResult is the result of one runTool invocation; only the signer is
// consumed (to learn peerSignerHex on first success), per spec §4.10.
type RunResult struct {
	Envelope struct {
		Signer string `json:"signer"`
	} `json:"envelope"`
}

// Tools is the set of external collaborators autopost drives (spec §6).
type Tools interface {
	RunTool(ctx context.Context, tool Tool, args map[string]interface{}) (*RunResult, error)
	GetTrade(ctx context.Context, tradeID string) (*Trade, error)
	ListTrades(ctx context.Context, limit int) ([]Trade, error)
}

// JobSpec is the input to Manager.Start, mirroring the source's
// start({name, tool, interval_sec, ttl_sec, valid_until_unix?, args}).
type JobSpec struct {
	Name           string
	Tool           Tool
	IntervalSec    int
	TTLSec         int
	ValidUntilUnix int64 // 0 means "compute as now + ttl_sec"
	Args           map[string]interface{}
}
