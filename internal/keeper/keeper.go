// Package keeper drives rounds through their timed transitions: it locks
// rounds whose join window has closed and settles rounds whose settlement
// time has come. Failed attempts are logged and retried on the next tick.
package keeper

import (
	"context"
	"errors"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/caesar-terminal/settle/internal/auth"
	"github.com/caesar-terminal/settle/internal/feed"
	"github.com/caesar-terminal/settle/internal/host"
	"github.com/caesar-terminal/settle/internal/rounds"
)

// Guard decides whether rounds priced by a feed on an asset may transition.
// *Gate implements it.
type Guard interface {
	Allow(feed, asset string) bool
}

// staleMarker is implemented by guards that want to hear about transitions
// the feed refused because its price was stale.
type staleMarker interface {
	MarkStale(feed, asset string)
}

// Report summarizes one tick.
type Report struct {
	Locked  int
	Settled int
	Skipped int
	Failed  int
}

// Keeper locks and settles due rounds.
type Keeper struct {
	host   *host.Host
	engine *rounds.Engine
	guard  Guard
	self   auth.Identity
	log    *zap.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// Option configures a Keeper.
type Option func(*Keeper)

// WithGuard gates transitions per asset.
func WithGuard(g Guard) Option { return func(k *Keeper) { k.guard = g } }

// WithIdentity sets the caller recorded for keeper operations.
func WithIdentity(id auth.Identity) Option { return func(k *Keeper) { k.self = id } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(k *Keeper) { k.log = l } }

// New creates a Keeper.
func New(h *host.Host, engine *rounds.Engine, opts ...Option) *Keeper {
	k := &Keeper{host: h, engine: engine}
	for _, o := range opts {
		o(k)
	}
	if k.log == nil {
		k.log = zap.NewNop()
	}
	return k
}

type due struct {
	id     uint64
	asset  string
	lock   bool
	settle bool
}

// Tick performs one pass over the pending rounds.
func (k *Keeper) Tick(ctx context.Context) (Report, error) {
	var (
		work   []due
		oracle string
	)
	err := k.host.Query(ctx, "keeper.scan", func(c *host.Ctx) error {
		oracle = k.engine.OracleRef(c)
		ids, err := k.engine.Pending(c)
		if err != nil {
			return err
		}
		now := c.Now()
		for _, id := range ids {
			r, err := k.engine.GetRound(c, id)
			if err != nil {
				return err
			}
			d := due{id: id, asset: r.Asset}
			switch r.Status {
			case rounds.StatusCreated:
				d.lock = now >= r.LockTime
				d.settle = now >= r.SettleTime
			case rounds.StatusLocked:
				d.settle = now >= r.SettleTime
			}
			if d.lock || d.settle {
				work = append(work, d)
			}
		}
		return nil
	})
	if err != nil {
		return Report{}, err
	}

	var rep Report
	for _, d := range work {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		if k.guard != nil && !k.guard.Allow(oracle, d.asset) {
			rep.Skipped++
			k.log.Debug("round transition gated",
				zap.Uint64("round_id", d.id),
				zap.String("oracle", oracle),
				zap.String("asset", d.asset))
			continue
		}
		if d.lock {
			if err := k.transition(ctx, "rounds.lock", d.id, k.engine.Lock); err != nil {
				k.observeFailure(oracle, d.asset, err)
				rep.Failed++
				continue
			}
			rep.Locked++
		}
		if d.settle {
			if err := k.transition(ctx, "rounds.settle", d.id, k.engine.Settle); err != nil {
				k.observeFailure(oracle, d.asset, err)
				rep.Failed++
				continue
			}
			rep.Settled++
		}
	}
	if len(work) > 0 {
		k.log.Info("keeper tick",
			zap.Int("locked", rep.Locked),
			zap.Int("settled", rep.Settled),
			zap.Int("skipped", rep.Skipped),
			zap.Int("failed", rep.Failed))
	}
	return rep, nil
}

func (k *Keeper) transition(ctx context.Context, op string, id uint64, fn func(*host.Ctx, uint64) (rounds.Round, error)) error {
	err := k.host.Execute(ctx, op, k.self, func(c *host.Ctx) error {
		_, err := fn(c, id)
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		k.log.Warn("round transition failed",
			zap.String("op", op),
			zap.Uint64("round_id", id),
			zap.Error(err))
	}
	return err
}

func (k *Keeper) observeFailure(oracle, asset string, err error) {
	if !errors.Is(err, feed.ErrStalePrice) {
		return
	}
	if m, ok := k.guard.(staleMarker); ok {
		m.MarkStale(oracle, asset)
	}
}

// Start schedules Tick with a six-field cron expression (seconds first).
// Ticks that would overlap a running one are skipped.
func (k *Keeper) Start(ctx context.Context, schedule string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cron != nil {
		return errors.New("keeper already started")
	}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(schedule, func() {
		if _, err := k.Tick(ctx); err != nil && ctx.Err() == nil {
			k.log.Error("keeper tick failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	k.cron = c
	c.Start()
	k.log.Info("keeper started", zap.String("schedule", schedule))
	return nil
}

// Stop halts scheduling and waits for a running tick to finish.
func (k *Keeper) Stop() {
	k.mu.Lock()
	c := k.cron
	k.cron = nil
	k.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	k.log.Info("keeper stopped")
}
