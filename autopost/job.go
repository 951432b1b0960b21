package autopost

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sidechannel-node/clock"
	"sidechannel-node/pkg/metrics"
)

// Job is one running autopost job (spec §4.10). Ticks are serialized
// through a single-slot channel so a slow runOnce can never overlap the
// next scheduled tick.
type Job struct {
	name           string
	tool           Tool
	intervalSec    int
	ttlSec         int
	validUntilUnix int64
	tradeID        string
	startedAt      int64

	clock   clock.Clock
	tools   Tools
	manager *Manager
	log     *logrus.Logger
	metrics *metrics.Collectors

	mu            sync.Mutex
	args          map[string]interface{}
	peerSignerHex string
	runs          int
	lastOk        bool
	lastError     string
	stopped       bool
	stopReason    StopReason
	timer         *time.Timer

	tick chan struct{}
	done chan struct{}
}

// Name returns the job's (possibly collision-renamed) name.
func (j *Job) Name() string { return j.name }

// Snapshot is a read-only view of a job's mutable state.
type Snapshot struct {
	Runs          int
	LastOk        bool
	LastError     string
	Stopped       bool
	StopReason    StopReason
	PeerSignerHex string
}

// State returns a consistent snapshot of the job's current counters.
func (j *Job) State() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Snapshot{
		Runs:          j.runs,
		LastOk:        j.lastOk,
		LastError:     j.lastError,
		Stopped:       j.stopped,
		StopReason:    j.stopReason,
		PeerSignerHex: j.peerSignerHex,
	}
}

// Stop cancels the job's timer and removes it from its manager. Idempotent.
func (j *Job) Stop() {
	j.terminate(StopNone)
}

func (j *Job) terminate(reason StopReason) {
	j.mu.Lock()
	if j.stopped {
		j.mu.Unlock()
		return
	}
	j.stopped = true
	j.stopReason = reason
	if j.timer != nil {
		j.timer.Stop()
	}
	j.mu.Unlock()
	close(j.done)
	j.manager.remove(j.name)
	if j.metrics != nil && reason != StopNone {
		j.metrics.AutopostStopsTotal.WithLabelValues(string(reason)).Inc()
	}
}

func (j *Job) scheduleTick() {
	j.mu.Lock()
	stopped := j.stopped
	j.mu.Unlock()
	if stopped {
		return
	}
	select {
	case j.tick <- struct{}{}:
	default:
	}
}

func (j *Job) loop() {
	for {
		select {
		case <-j.tick:
			j.runOnce(context.Background())
		case <-j.done:
			return
		}
	}
}

func (j *Job) startTimer(interval time.Duration) {
	j.mu.Lock()
	if j.stopped {
		j.mu.Unlock()
		return
	}
	j.timer = time.AfterFunc(interval, func() {
		j.scheduleTick()
		j.startTimer(interval)
	})
	j.mu.Unlock()
}

// runOnce implements spec §4.10 runOnce steps 1-6.
func (j *Job) runOnce(ctx context.Context) {
	now := j.clock.NowMs() / 1000

	j.mu.Lock()
	if j.stopped {
		j.mu.Unlock()
		return
	}
	if now >= j.validUntilUnix {
		j.mu.Unlock()
		j.terminate(StopExpired)
		return
	}
	args := deepCloneMap(j.args)
	tool := j.tool
	peerSignerHex := j.peerSignerHex
	tradeID := j.tradeID
	startedAt := j.startedAt
	j.mu.Unlock()

	if tool == ToolOfferPost {
		offers := offersOf(args)
		normalizeOfferLineIndexes(offers)

		if peerSignerHex != "" && j.tools != nil {
			trades, err := j.tools.ListTrades(ctx, 250)
			if err == nil {
				offers = pruneFilledOffers(offers, trades, peerSignerHex, startedAt)
			}
		}
		setOffers(args, offers)

		if len(offers) == 0 {
			j.recordArgs(args)
			j.terminate(StopFilled)
			return
		}
		j.recordArgs(args)
	}

	if tool == ToolRFQPost && tradeID != "" && j.tools != nil {
		trade, err := j.tools.GetTrade(ctx, tradeID)
		if err == nil && trade != nil && trade.State != "rfq" && trade.State != "rfq_posted" {
			j.terminate(StopReason("filled:" + trade.State))
			return
		}
	}

	j.mu.Lock()
	runArgs := deepCloneMap(j.args)
	runArgs["valid_until_unix"] = j.validUntilUnix
	if tool == ToolOfferPost {
		delete(runArgs, "ttl_sec")
	}
	j.mu.Unlock()

	res, err := j.tools.RunTool(ctx, tool, runArgs)

	j.mu.Lock()
	j.runs++
	if err != nil {
		j.lastOk = false
		j.lastError = err.Error()
		insufficient := isInsufficientFunds(err.Error())
		j.mu.Unlock()
		if insufficient {
			j.terminate(StopInsufficientFunds)
		}
		return
	}
	j.lastOk = true
	j.lastError = ""
	if j.peerSignerHex == "" && res != nil && res.Envelope.Signer != "" {
		j.peerSignerHex = res.Envelope.Signer
	}
	j.mu.Unlock()
	if j.metrics != nil {
		j.metrics.AutopostRunsTotal.Inc()
	}
}

func (j *Job) recordArgs(args map[string]interface{}) {
	j.mu.Lock()
	j.args = args
	j.mu.Unlock()
}
