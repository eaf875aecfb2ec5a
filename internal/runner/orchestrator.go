package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"hedge_bot/internal/hedge"
	"hedge_bot/internal/metrics"
	"hedge_bot/internal/models"
	"hedge_bot/internal/retry"
)

type Phase int32

const (
	PhaseCreated Phase = iota
	PhaseInitializing
	PhaseOpeningPositions
	PhaseMonitoring
	PhaseStopping
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseInitializing:
		return "initializing"
	case PhaseOpeningPositions:
		return "opening_positions"
	case PhaseMonitoring:
		return "monitoring"
	case PhaseStopping:
		return "stopping"
	case PhaseStopped:
		return "stopped"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// GatewayFactory builds one exchange gateway per account. Gateways are never shared.
type GatewayFactory interface {
	NewGateway(cred models.AccountCredential) (hedge.Gateway, error)
}

// Journal receives orchestrator events. It must not block.
type Journal interface {
	Record(e models.Event)
}

type NopJournal struct{}

func (NopJournal) Record(models.Event) {}

// Status is the health view of the orchestrator.
type Status interface {
	SetPhase(phase string)
	SetReady(ready bool)
	TouchTick(t time.Time)
}

type nopStatus struct{}

func (nopStatus) SetPhase(string)     {}
func (nopStatus) SetReady(bool)       {}
func (nopStatus) TouchTick(time.Time) {}

type Settings struct {
	Symbol            string
	Leverage          int
	NotionalUSD       float64
	StopLossThreshold float64

	Interval     time.Duration
	ErrorBackoff time.Duration
	CloseTimeout time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.Interval <= 0 {
		s.Interval = 30 * time.Second
	}
	if s.ErrorBackoff <= 0 {
		s.ErrorBackoff = 60 * time.Second
	}
	if s.CloseTimeout <= 0 {
		s.CloseTimeout = 2 * time.Minute
	}
	return s
}

// Orchestrator owns every hedge pair: it opens them, watches their stop-loss and closes
// them on shutdown. A failure inside one pair never stops the others.
type Orchestrator struct {
	settings Settings
	pairCfgs []models.HedgePairConfig
	creds    map[string]models.AccountCredential
	factory  GatewayFactory
	safety   *hedge.SafetyChecker
	notifier hedge.Notifier
	journal  Journal
	metrics  *metrics.Collector
	status   Status
	sleep    retry.Sleeper
	log      *zap.Logger

	phase atomic.Int32
	pairs []*hedge.Pair

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Orchestrator)

func WithJournal(j Journal) Option { return func(o *Orchestrator) { o.journal = j } }

func WithMetrics(m *metrics.Collector) Option { return func(o *Orchestrator) { o.metrics = m } }

func WithStatus(s Status) Option { return func(o *Orchestrator) { o.status = s } }

// WithSleeper replaces the wait between monitor ticks.
func WithSleeper(s retry.Sleeper) Option { return func(o *Orchestrator) { o.sleep = s } }

func NewOrchestrator(
	settings Settings,
	pairs []models.HedgePairConfig,
	creds []models.AccountCredential,
	factory GatewayFactory,
	notifier hedge.Notifier,
	log *zap.Logger,
	opts ...Option,
) *Orchestrator {
	byName := make(map[string]models.AccountCredential, len(creds))
	for _, c := range creds {
		byName[c.AccountName] = c
	}
	o := &Orchestrator{
		settings: settings.withDefaults(),
		pairCfgs: pairs,
		creds:    byName,
		factory:  factory,
		safety:   hedge.NewSafetyChecker(notifier, log.Named("safety")),
		notifier: notifier,
		journal:  NopJournal{},
		status:   nopStatus{},
		sleep:    sleepCtx,
		log:      log,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (o *Orchestrator) Phase() Phase { return Phase(o.phase.Load()) }

func (o *Orchestrator) Pairs() []*hedge.Pair { return o.pairs }

func (o *Orchestrator) setPhase(p Phase) {
	o.phase.Store(int32(p))
	o.status.SetPhase(p.String())
	o.log.Info("orchestrator phase", zap.Stringer("phase", p))
}

func (o *Orchestrator) record(kind models.EventKind, p *hedge.Pair, msg string, data map[string]any) {
	e := models.Event{Kind: kind, Message: msg, Data: data, At: time.Now()}
	if p != nil {
		e.PairID = p.ID()
	}
	o.journal.Record(e)
}

// BuildPairs creates a pair per config entry. Entries that reference unknown accounts,
// repeat a pair id or fail to get a gateway are skipped.
func (o *Orchestrator) BuildPairs() []*hedge.Pair {
	seen := make(map[string]struct{}, len(o.pairCfgs))
	params := hedge.Params{
		Symbol:            o.settings.Symbol,
		Leverage:          o.settings.Leverage,
		NotionalUSD:       o.settings.NotionalUSD,
		StopLossThreshold: o.settings.StopLossThreshold,
	}

	for _, pc := range o.pairCfgs {
		log := o.log.With(zap.String("pair_name", pc.PairName))
		longCred, ok := o.creds[pc.LongAccount]
		if !ok {
			log.Error("long account not found, pair skipped", zap.String("account", pc.LongAccount))
			continue
		}
		shortCred, ok := o.creds[pc.ShortAccount]
		if !ok {
			log.Error("short account not found, pair skipped", zap.String("account", pc.ShortAccount))
			continue
		}
		id := pc.PairID()
		if _, dup := seen[id]; dup {
			log.Error("duplicate pair id, pair skipped", zap.String("pair", id))
			continue
		}

		longGw, err := o.factory.NewGateway(longCred)
		if err != nil {
			log.Error("long gateway unavailable, pair skipped", zap.Error(err))
			continue
		}
		shortGw, err := o.factory.NewGateway(shortCred)
		if err != nil {
			_ = longGw.Close()
			log.Error("short gateway unavailable, pair skipped", zap.Error(err))
			continue
		}

		seen[id] = struct{}{}
		pp := params
		pp.Name = pc.PairName
		o.pairs = append(o.pairs, hedge.NewPair(id, pp, longGw, shortGw, o.log.Named("pair")))
		log.Info("hedge pair created", zap.String("pair", id), zap.String("long", longCred.String()), zap.String("short", shortCred.String()))
	}
	o.log.Info("hedge pairs built", zap.Int("configured", len(o.pairCfgs)), zap.Int("created", len(o.pairs)))
	return o.pairs
}

// guard runs fn and turns a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
