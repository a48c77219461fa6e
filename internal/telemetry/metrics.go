// Package telemetry exports settlement metrics to Prometheus.
package telemetry

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/caesar-terminal/settle/internal/events"
)

const namespace = "settle"

// Metrics holds the settlement collectors.
type Metrics struct {
	reg     prometheus.Gatherer
	factory promauto.Factory

	// Operations
	Ops       *prometheus.CounterVec
	OpLatency *prometheus.HistogramVec

	// Feed
	LastPrice   *prometheus.GaugeVec
	PriceTime   *prometheus.GaugeVec
	PricePushes *prometheus.CounterVec

	// Rounds
	RoundTransitions *prometheus.CounterVec
	KeeperHalted     prometheus.Gauge
}

// New creates the collectors on a private registry. Pass the returned
// Metrics to host.WithRecorder and feed it events with Run.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg:     reg,
		factory: f,
		Ops: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "host",
				Name:      "operations_total",
				Help:      "Operations by name and result (ok or codespace:code)",
			},
			[]string{"op", "result"},
		),
		OpLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "host",
				Name:      "operation_duration_seconds",
				Help:      "Time spent executing operations",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
			},
			[]string{"op"},
		),
		LastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "last_price",
				Help:      "Most recently appended price per feed asset",
			},
			[]string{"feed", "asset"},
		),
		PriceTime: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "last_price_timestamp_seconds",
				Help:      "Observation time of the most recently appended price",
			},
			[]string{"feed", "asset"},
		),
		PricePushes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "prices_total",
				Help:      "Appended prices by feed, asset and origin",
			},
			[]string{"feed", "asset", "origin"},
		),
		RoundTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rounds",
				Name:      "transitions_total",
				Help:      "Round transitions by kind",
			},
			[]string{"transition"},
		),
		KeeperHalted: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "halted",
			Help:      "1 while an operator halt is active",
		}),
	}
}

// WatchDropped exports dropped, typically Broadcaster.Dropped, as the count
// of event deliveries lost to slow subscribers. Call it once.
func (m *Metrics) WatchDropped(dropped func() uint64) prometheus.CounterFunc {
	return m.factory.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Event deliveries skipped because a subscriber was full",
		},
		func() float64 { return float64(dropped()) },
	)
}

// ObserveOp implements host.Recorder.
func (m *Metrics) ObserveOp(op string, err error, elapsed time.Duration) {
	m.Ops.WithLabelValues(op, result(err)).Inc()
	m.OpLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	codespace, code, _ := errorsmod.ABCIInfo(err, false)
	return codespace + ":" + strconv.FormatUint(uint64(code), 10)
}

// Observe updates the collectors from one committed event.
func (m *Metrics) Observe(ev events.Event) {
	switch {
	case ev.Type == events.TypeFeedPrice:
		feed, asset := ev.Attr(events.AttrFeed), ev.Attr(events.AttrAsset)
		origin := ev.Attr(events.AttrSource)
		if i := strings.IndexByte(origin, ':'); i >= 0 {
			origin = origin[:i]
		}
		m.PricePushes.WithLabelValues(feed, asset, origin).Inc()
		if v, ok := priceValue(ev); ok {
			m.LastPrice.WithLabelValues(feed, asset).Set(v)
		}
		if ts, err := strconv.ParseUint(ev.Attr(events.AttrTimestamp), 10, 64); err == nil {
			m.PriceTime.WithLabelValues(feed, asset).Set(float64(ts))
		}
	case ev.Type == events.TypeKeeperHalt:
		m.KeeperHalted.Set(1)
	case ev.Type == events.TypeKeeperResume:
		m.KeeperHalted.Set(0)
	case ev.Module() == "rounds" && ev.Attr(events.AttrRoundID) != "":
		m.RoundTransitions.WithLabelValues(strings.TrimPrefix(ev.Type, "rounds.")).Inc()
	}
}

func priceValue(ev events.Event) (float64, bool) {
	d, err := decimal.NewFromString(ev.Attr(events.AttrPrice))
	if err != nil {
		return 0, false
	}
	prec, err := strconv.ParseUint(ev.Attr(events.AttrPrecision), 10, 32)
	if err != nil {
		return 0, false
	}
	return d.Shift(-int32(prec)).InexactFloat64(), true
}

// Run feeds events into the collectors until ctx is cancelled or the channel
// closes.
func (m *Metrics) Run(ctx context.Context, feed <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-feed:
			if !ok {
				return
			}
			m.Observe(ev)
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
