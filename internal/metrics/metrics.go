// Package metrics holds the Prometheus collectors the bot updates during operation:
//
//	hedge_remote_attempts_total{op,outcome} – remote call attempts (ok|transient|permanent)
//	hedge_opens_total{result}                – pair open attempts (ok|failed|skipped)
//	hedge_closes_total{reason,result}        – pair closes (stop_loss|shutdown)
//	hedge_stop_loss_triggers_total{pair}     – stop-loss hits
//	hedge_floating_pnl_usd{pair}             – last floating PnL read
//	hedge_monitor_tick_seconds               – duration of one monitor pass
//
// All methods are safe on a nil *Collector.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Collector struct {
	attempts  *prometheus.CounterVec
	opens     *prometheus.CounterVec
	closes    *prometheus.CounterVec
	stopLoss  *prometheus.CounterVec
	pnl       *prometheus.GaugeVec
	tickTimer prometheus.Histogram
}

func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hedge_remote_attempts_total",
			Help: "Remote call attempts by operation and outcome",
		}, []string{"op", "outcome"}),
		opens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hedge_opens_total",
			Help: "Hedge pair open attempts by result",
		}, []string{"result"}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hedge_closes_total",
			Help: "Hedge pair closes by reason and result",
		}, []string{"reason", "result"}),
		stopLoss: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hedge_stop_loss_triggers_total",
			Help: "Stop-loss triggers per pair",
		}, []string{"pair"}),
		pnl: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hedge_floating_pnl_usd",
			Help: "Last floating PnL observed per pair",
		}, []string{"pair"}),
		tickTimer: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hedge_monitor_tick_seconds",
			Help:    "Duration of one monitor pass over all pairs",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
	for _, col := range []prometheus.Collector{c.attempts, c.opens, c.closes, c.stopLoss, c.pnl, c.tickTimer} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) Attempt(op, outcome string) {
	if c == nil {
		return
	}
	c.attempts.WithLabelValues(op, outcome).Inc()
}

func (c *Collector) Open(result string) {
	if c == nil {
		return
	}
	c.opens.WithLabelValues(result).Inc()
}

func (c *Collector) Close(reason, result string) {
	if c == nil {
		return
	}
	c.closes.WithLabelValues(reason, result).Inc()
}

func (c *Collector) StopLoss(pair string) {
	if c == nil {
		return
	}
	c.stopLoss.WithLabelValues(pair).Inc()
}

func (c *Collector) FloatingPnL(pair string, v float64) {
	if c == nil {
		return
	}
	c.pnl.WithLabelValues(pair).Set(v)
}

func (c *Collector) ObserveTick(seconds float64) {
	if c == nil {
		return
	}
	c.tickTimer.Observe(seconds)
}
