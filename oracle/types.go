// Package oracle implements the multi-provider price consensus engine from
// spec §4.11-§4.12: a tick fans price requests out to providers, tolerates
// partial failure, and evaluates the results into a median-based consensus
// per currency pair.
package oracle

import "context"

// Pair is a currency pair identifier, e.g. "BTC_USDT".
type Pair string

// FetchResult is one provider's answer for one pair.
type FetchResult struct {
	ID     string  `json:"id"`
	Ok     bool    `json:"ok"`
	Price  float64 `json:"price"`
	Ts     int64   `json:"ts"`
	Source string  `json:"source"`
	Error  string  `json:"error,omitempty"`
}

// Provider is the external collaborator spec §6 calls "price provider".
type Provider interface {
	ID() string
	Supports(p Pair) bool
	Fetch(ctx context.Context, p Pair, timeoutMs int) FetchResult
}

// Config holds a tick's tunables (spec §6).
type Config struct {
	Pairs            []Pair
	RequiredProviders int
	MinOk            int
	MinAgree         int
	MaxDeviationBps  float64
	TimeoutMs        int
}

// PairResult is one pair's entry in a snapshot (spec §6, Snapshot JSON).
type PairResult struct {
	Ok                bool          `json:"ok"`
	Error             *string       `json:"error"`
	Median            *float64      `json:"median"`
	Agreeing          []string      `json:"agreeing"`
	Outliers          []string      `json:"outliers"`
	SpreadBps         *float64      `json:"spread_bps"`
	OkSources         int           `json:"ok_sources"`
	Sources           []FetchResult `json:"sources"`
	MaxDeviationBps   float64       `json:"max_deviation_bps"`
	MinOk             int           `json:"min_ok"`
	MinAgree          int           `json:"min_agree"`
	RequiredProviders int           `json:"required_providers"`
	ProvidersConfigured int         `json:"providers_configured"`
}

// Snapshot is the full tick result (spec §6, §4.11).
type Snapshot struct {
	Type      string                `json:"type"`
	Ts        int64                 `json:"ts"`
	Ok        bool                  `json:"ok"`
	Providers []string              `json:"providers"`
	Pairs     map[Pair]PairResult   `json:"pairs"`
}

func strPtr(s string) *string { return &s }
