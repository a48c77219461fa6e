// Package app assembles the settlement daemon: the host and its components,
// the gRPC service, the event and metrics endpoint, the Redis projection and
// the round keeper.
package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/caesar-terminal/settle/internal/auth"
	"github.com/caesar-terminal/settle/internal/config"
	"github.com/caesar-terminal/settle/internal/events"
	"github.com/caesar-terminal/settle/internal/feed"
	"github.com/caesar-terminal/settle/internal/host"
	"github.com/caesar-terminal/settle/internal/keeper"
	"github.com/caesar-terminal/settle/internal/rounds"
	"github.com/caesar-terminal/settle/internal/service"
	"github.com/caesar-terminal/settle/internal/telemetry"
)

// App owns every long-running component of the daemon.
type App struct {
	cfg *config.Config
	log *zap.Logger

	Host    *host.Host
	Hub     *events.Broadcaster
	Metrics *telemetry.Metrics
	Feeds   []*feed.Feed
	Engine  *rounds.Engine
	Gate    *keeper.Gate
	Keeper  *keeper.Keeper

	server *service.Server
	http   *http.Server
}

// lazySource lets feeds reference each other as pull sources regardless of
// construction order.
type lazySource struct {
	name  string
	feeds map[string]*feed.Feed
}

func (s lazySource) LastPrice(ctx *host.Ctx, asset string) (feed.Observation, error) {
	return s.feeds[s.name].LastPrice(ctx, asset)
}

// New opens the store and builds the components. The operator identity is
// recorded as the caller of keeper transitions; it may be zero.
func New(cfg *config.Config, operator auth.Identity, log *zap.Logger, opts ...host.Option) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{
		cfg:     cfg,
		log:     log,
		Hub:     events.NewBroadcaster(log),
		Metrics: telemetry.New(),
	}
	a.Metrics.WatchDropped(a.Hub.Dropped)

	opts = append([]host.Option{
		host.WithSink(a.Hub),
		host.WithRecorder(a.Metrics),
		host.WithLogger(log.Named("host")),
	}, opts...)
	h, err := host.Open(host.StoreConfig{Backend: cfg.Store.Backend, Dir: cfg.Store.Dir}, opts...)
	if err != nil {
		return nil, err
	}
	a.Host = h

	byName := make(map[string]*feed.Feed, len(cfg.Genesis.Feeds))
	var oracles []rounds.Option
	for _, name := range cfg.Genesis.Feeds {
		var sources []feed.Option
		for _, other := range cfg.Genesis.Feeds {
			if other != name {
				sources = append(sources, feed.WithSource(other, lazySource{name: other, feeds: byName}))
			}
		}
		f := feed.New(name, sources...)
		byName[name] = f
		a.Feeds = append(a.Feeds, f)
		oracles = append(oracles, rounds.WithOracle(name, f))
	}
	a.Engine = rounds.New(oracles...)

	gateCfg := keeper.GateConfig{
		StaleThreshold: time.Duration(cfg.Keeper.StaleThresholdSec) * time.Second,
		CoolOff:        time.Duration(cfg.Keeper.CoolOffSec) * time.Second,
	}
	a.Gate = keeper.NewGate(gateCfg, a.Hub.Subscribe(events.TypeFeedPrice))
	a.Keeper = keeper.New(h, a.Engine,
		keeper.WithGuard(a.Gate),
		keeper.WithIdentity(operator),
		keeper.WithLogger(log.Named("keeper")))
	return a, nil
}

// Handler serves the event stream, metrics and a liveness check.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/events", events.NewStreamServer(a.Hub, a.log, events.WithAllowedOrigins(a.cfg.Events.AllowedOrigins...)))
	mux.Handle("/metrics", a.Metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// Run starts every component and blocks until ctx is cancelled, then shuts
// down in reverse order. The store is closed on return.
func (a *App) Run(ctx context.Context) error {
	defer a.Host.Close()

	svc := service.New(a.Host, a.Feeds, a.Engine,
		service.WithMaxSkew(a.cfg.Server.AuthMaxSkew()),
		service.WithHalter(a.Gate),
		service.WithLogger(a.log.Named("service")))
	srv, err := service.NewServer(service.ServerConfig{
		SocketPath: a.cfg.Server.SocketPath,
		ListenAddr: a.cfg.Server.ListenAddr,
	}, svc, a.log.Named("grpc"))
	if err != nil {
		return err
	}
	a.server = srv

	var rdb *events.GoRedis
	if a.cfg.Redis.Enabled {
		rdb, err = events.NewGoRedis(ctx, events.RedisOptions{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err != nil {
			srv.GracefulStop()
			return err
		}
		defer rdb.Close()
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 3)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(2)
	go func() {
		defer wg.Done()
		a.Metrics.Run(runCtx, a.Hub.SubscribeAll())
	}()
	go func() {
		defer wg.Done()
		a.Gate.Run(runCtx)
	}()
	if rdb != nil {
		writer := events.NewRedisWriter(rdb, a.Hub.SubscribeAll(), a.log.Named("redis"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			writer.Run(runCtx)
		}()
	}

	go func() {
		if err := srv.Serve(); err != nil {
			errCh <- err
		}
	}()

	if a.cfg.Events.HTTPAddr != "" {
		a.http = &http.Server{
			Addr:              a.cfg.Events.HTTPAddr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.log.Info("http listening", zap.String("addr", a.cfg.Events.HTTPAddr))
			if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	if a.cfg.Keeper.Enabled {
		if err := a.Keeper.Start(runCtx, a.cfg.Keeper.Schedule); err != nil {
			errCh <- err
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
	case runErr = <-errCh:
		a.log.Error("component failed", zap.Error(runErr))
	}

	a.Keeper.Stop()
	srv.GracefulStop()
	if a.http != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		a.http.Shutdown(shutdownCtx)
		done()
	}
	cancel()
	a.Hub.Close()
	wg.Wait()
	return runErr
}
