package keeper

import (
	"context"
	"sync"
	"time"

	"github.com/caesar-terminal/settle/internal/events"
)

// GateConfig holds tunable parameters for the Gate.
type GateConfig struct {
	// StaleThreshold is the longest an asset may go without a new price
	// before rounds on it stop being locked or settled. Default: 5m.
	StaleThreshold time.Duration

	// CoolOff is how long prices must flow again after a stale period
	// before the asset is released. Default: 30s.
	CoolOff time.Duration
}

// DefaultGateConfig returns production defaults.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		StaleThreshold: 5 * time.Minute,
		CoolOff:        30 * time.Second,
	}
}

type assetKey struct {
	feed  string
	asset string
}

type assetState struct {
	lastPrice   time.Time
	recoveredAt time.Time
	healthy     bool
}

// Gate tracks price flow per feed and asset from feed.price events and tells
// the keeper which assets it may lock or settle. The keeper names the feed
// on every call, so an oracle switch takes effect on the next tick. Prices the keeper would use are
// still validated by the feed; the gate only keeps the keeper from hammering
// a feed that stopped updating, and gives operators a manual halt.
type Gate struct {
	cfg  GateConfig
	feed <-chan events.Event

	mu     sync.RWMutex
	assets map[assetKey]*assetState

	haltMu sync.RWMutex
	halted bool

	nowFunc func() time.Time
}

// NewGate creates a Gate consuming feed.price events from feed.
func NewGate(cfg GateConfig, feed <-chan events.Event) *Gate {
	return &Gate{
		cfg:     cfg,
		feed:    feed,
		assets:  make(map[assetKey]*assetState),
		nowFunc: time.Now,
	}
}

// ManualHalt blocks every asset until Resume.
func (g *Gate) ManualHalt() {
	g.haltMu.Lock()
	g.halted = true
	g.haltMu.Unlock()
}

// Resume clears a manual halt. Assets still need fresh prices.
func (g *Gate) Resume() {
	g.haltMu.Lock()
	g.halted = false
	g.haltMu.Unlock()
}

// Halted reports whether a manual halt is active.
func (g *Gate) Halted() bool {
	g.haltMu.RLock()
	defer g.haltMu.RUnlock()
	return g.halted
}

// Allow reports whether rounds priced by feed on asset may transition now.
// It holds only if
//  1. no manual halt is active,
//  2. feed published a price for asset within StaleThreshold, and
//  3. the cool-off since the last recovery has elapsed.
func (g *Gate) Allow(feed, asset string) bool {
	if g.Halted() {
		return false
	}
	now := g.nowFunc()

	g.mu.RLock()
	st, ok := g.assets[assetKey{feed, asset}]
	var last, recovered time.Time
	if ok {
		last, recovered = st.lastPrice, st.recoveredAt
	}
	g.mu.RUnlock()

	if !ok || now.Sub(last) > g.cfg.StaleThreshold {
		return false
	}
	if !recovered.IsZero() && now.Sub(recovered) < g.cfg.CoolOff {
		return false
	}
	return true
}

// Run consumes the event feed until ctx is cancelled or the feed closes.
func (g *Gate) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-g.feed:
			if !ok {
				return
			}
			g.record(ev)
		}
	}
}

func (g *Gate) record(ev events.Event) {
	if ev.Type != events.TypeFeedPrice {
		return
	}
	key := assetKey{ev.Attr(events.AttrFeed), ev.Attr(events.AttrAsset)}
	now := g.nowFunc()

	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.assets[key]
	if !ok {
		g.assets[key] = &assetState{lastPrice: now, healthy: true}
		return
	}
	// A price after a gap longer than the threshold starts a cool-off.
	if !st.healthy || now.Sub(st.lastPrice) > g.cfg.StaleThreshold {
		st.recoveredAt = now
	}
	st.healthy = true
	st.lastPrice = now
}

// MarkStale forces asset of feed unhealthy; the next price starts a
// cool-off.
func (g *Gate) MarkStale(feed, asset string) {
	g.mu.Lock()
	if st, ok := g.assets[assetKey{feed, asset}]; ok {
		st.healthy = false
		st.lastPrice = time.Time{}
	}
	g.mu.Unlock()
}
