package autopost

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sidechannel-node/clock"
	"sidechannel-node/pkg/metrics"
)

// Manager runs and supervises autopost jobs (spec §4.10).
type Manager struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	clock   clock.Clock
	tools   Tools
	log     *logrus.Logger
	metrics *metrics.Collectors
}

// NewManager returns an empty Manager. logger may be nil (defaults to
// logrus.StandardLogger()); clk may be nil (defaults to clock.System{}).
func NewManager(tools Tools, clk clock.Clock, logger *logrus.Logger) *Manager {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		jobs:  make(map[string]*Job),
		clock: clk,
		tools: tools,
		log:   logger,
	}
}

// SetMetrics attaches a prometheus collector bundle shared with the other
// engines; optional, and every metrics call is nil-safe without it.
func (m *Manager) SetMetrics(c *metrics.Collectors) { m.metrics = c }

// Start validates spec, reserves a collision-free name, and launches the
// job: an immediate run followed by a periodic timer at
// max(1000ms, interval_sec*1000ms), per spec §4.10.
func (m *Manager) Start(spec JobSpec) (*Job, error) {
	if spec.Tool != ToolOfferPost && spec.Tool != ToolRFQPost {
		return nil, fmt.Errorf("autopost: unsupported tool %q", spec.Tool)
	}
	if spec.IntervalSec < 1 || spec.IntervalSec > 86400 {
		return nil, fmt.Errorf("autopost: interval_sec %d out of range [1, 86400]", spec.IntervalSec)
	}
	if spec.TTLSec < 10 || spec.TTLSec > 604800 {
		return nil, fmt.Errorf("autopost: ttl_sec %d out of range [10, 604800]", spec.TTLSec)
	}

	nowSec := m.clock.NowMs() / 1000
	validUntil := spec.ValidUntilUnix
	if validUntil < 1 {
		validUntil = nowSec + int64(spec.TTLSec)
	}
	if validUntil <= nowSec {
		return nil, fmt.Errorf("autopost: valid_until_unix %d must be in the future (now %d)", validUntil, nowSec)
	}
	horizon := validUntil - nowSec
	if horizon < 10 || horizon > 604800 {
		return nil, fmt.Errorf("autopost: valid_until_unix horizon %ds out of range [10, 604800]", horizon)
	}

	name, err := m.reserveName(spec.Name)
	if err != nil {
		return nil, err
	}

	args := deepCloneMap(spec.Args)
	var tradeID string
	if spec.Tool == ToolRFQPost {
		tradeID = asString(args["trade_id"])
	}

	job := &Job{
		name:           name,
		tool:           spec.Tool,
		intervalSec:    spec.IntervalSec,
		ttlSec:         spec.TTLSec,
		validUntilUnix: validUntil,
		tradeID:        tradeID,
		startedAt:      nowSec,
		clock:          m.clock,
		tools:          m.tools,
		manager:        m,
		log:            m.log,
		metrics:        m.metrics,
		args:           args,
		tick:           make(chan struct{}, 1),
		done:           make(chan struct{}),
	}

	m.mu.Lock()
	m.jobs[name] = job
	m.mu.Unlock()

	go job.loop()
	job.scheduleTick()

	intervalMs := spec.IntervalSec * 1000
	if intervalMs < 1000 {
		intervalMs = 1000
	}
	job.startTimer(time.Duration(intervalMs) * time.Millisecond)

	return job, nil
}

func (m *Manager) reserveName(name string) (string, error) {
	sanitized := sanitizeJobName(name)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[sanitized]; !exists {
		return sanitized, nil
	}
	for i := 0; i < 20; i++ {
		candidate := fmt.Sprintf("%s_%d_%s", sanitized, m.clock.NowMs(), randomHex8())
		if _, exists := m.jobs[candidate]; !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("autopost: could not allocate a collision-free name for %q after 20 attempts", name)
}

func (m *Manager) remove(name string) {
	m.mu.Lock()
	delete(m.jobs, name)
	m.mu.Unlock()
}

// Stop stops and removes a job by name. Reports whether a job was found.
func (m *Manager) Stop(name string) bool {
	m.mu.Lock()
	job, ok := m.jobs[name]
	m.mu.Unlock()
	if !ok {
		return false
	}
	job.Stop()
	return true
}

// Job returns the named job, if it is currently running.
func (m *Manager) Job(name string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[name]
	return j, ok
}
