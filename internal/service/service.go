// Package service exposes the feeds and the round engine as the gRPC
// service settle.v1.Settlement. Mutating calls carry a signed envelope; the
// recovered signer becomes the operation's caller.
package service

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/caesar-terminal/settle/internal/auth"
	"github.com/caesar-terminal/settle/internal/events"
	"github.com/caesar-terminal/settle/internal/feed"
	"github.com/caesar-terminal/settle/internal/host"
	"github.com/caesar-terminal/settle/internal/rounds"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "settle.v1.Settlement"

// DefaultMaxSkew bounds how far in the future a signed request may expire.
const DefaultMaxSkew = 5 * time.Minute

// Halter is the operator switch of the round keeper. *keeper.Gate
// implements it.
type Halter interface {
	ManualHalt()
	Resume()
	Halted() bool
}

// Service implements settle.v1.Settlement on top of a Host.
type Service struct {
	host    *host.Host
	feeds   map[string]*feed.Feed
	engine  *rounds.Engine
	halter  Halter
	maxSkew time.Duration
	now     func() time.Time
	log     *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMaxSkew overrides DefaultMaxSkew.
func WithMaxSkew(d time.Duration) Option { return func(s *Service) { s.maxSkew = d } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// WithHalter enables the HaltKeeper and ResumeKeeper methods.
func WithHalter(h Halter) Option { return func(s *Service) { s.halter = h } }

// New creates a Service serving feeds (addressed by name) and engine.
func New(h *host.Host, feeds []*feed.Feed, engine *rounds.Engine, opts ...Option) *Service {
	s := &Service{
		host:    h,
		feeds:   make(map[string]*feed.Feed, len(feeds)),
		engine:  engine,
		maxSkew: DefaultMaxSkew,
		now:     time.Now,
	}
	for _, f := range feeds {
		s.feeds[f.Name()] = f
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// Register adds the service to gs. gs must use the JSON codec (see
// NewGRPCServer).
func (s *Service) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

func (s *Service) settlement() {}

func (s *Service) feed(name string) (*feed.Feed, error) {
	if name == "" {
		name = DefaultFeed
	}
	f, ok := s.feeds[name]
	if !ok {
		return nil, errorsmod.Wrap(ErrUnknownFeed, name)
	}
	return f, nil
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

// settlementServer is the handler type checked by grpc.RegisterService.
type settlementServer interface{ settlement() }

func unary[Req, Resp any](name string, fn func(*Service, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, toStatus(errorsmod.Wrap(ErrBadRequest, err.Error()))
			}
			s := srv.(*Service)
			handler := func(ctx context.Context, req any) (any, error) {
				out, err := fn(s, ctx, req.(*Req))
				if err != nil {
					return nil, toStatus(err)
				}
				return out, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// mutate builds a signed method: the envelope is verified against the raw
// body, which is then decoded and executed with the signer as caller. The
// envelope is consumed in the same operation, so it takes effect at most once.
func mutate[Body, Resp any](name string, fn func(*Service, *host.Ctx, *Body) (*Resp, error)) grpc.MethodDesc {
	return unary(name, func(s *Service, ctx context.Context, in *Signed) (*Resp, error) {
		method, now := fullMethod(name), s.now()
		caller, err := auth.Verify(in.Auth, method, in.Body, now, s.maxSkew)
		if err != nil {
			return nil, err
		}
		body := new(Body)
		if err := json.Unmarshal(in.Body, body); err != nil {
			return nil, errorsmod.Wrap(ErrBadRequest, err.Error())
		}
		var out *Resp
		err = s.host.Execute(ctx, name, caller, func(c *host.Ctx) error {
			digest := in.Auth.Hash(method, in.Body)
			if err := auth.Consume(c.KVStore(auth.Namespace), digest, in.Auth.Expires, now.Unix()); err != nil {
				return err
			}
			var err error
			out, err = fn(s, c, body)
			return err
		})
		return out, err
	})
}

func query[Req, Resp any](name string, fn func(*Service, *host.Ctx, *Req) (*Resp, error)) grpc.MethodDesc {
	return unary(name, func(s *Service, ctx context.Context, in *Req) (*Resp, error) {
		var out *Resp
		err := s.host.Query(ctx, name, func(c *host.Ctx) error {
			var err error
			out, err = fn(s, c, in)
			return err
		})
		return out, err
	})
}

// Method names.
const (
	MethodUpsertAsset = "UpsertAsset"
	MethodSetFeeder   = "SetFeeder"
	MethodSetSource   = "SetSource"
	MethodPushPrice   = "PushPrice"
	MethodPull        = "Pull"
	MethodGetAsset    = "GetAsset"
	MethodListAssets  = "ListAssets"
	MethodGetHistory  = "GetHistory"
	MethodGetFeedInfo = "GetFeedInfo"
	MethodGetSpot     = "GetSpot"
	MethodGetTWAP     = "GetTWAP"

	MethodSetOracle   = "SetOracle"
	MethodCreateRound = "CreateRound"
	MethodJoinRound   = "JoinRound"
	MethodLockRound   = "LockRound"
	MethodSettleRound = "SettleRound"
	MethodCancelRound = "CancelRound"
	MethodGetRound    = "GetRound"
	MethodPending     = "ListPending"
	MethodGetJoin     = "GetJoin"

	MethodHaltKeeper   = "HaltKeeper"
	MethodResumeKeeper = "ResumeKeeper"

	MethodStatus = "Status"
)

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*settlementServer)(nil),
	Methods: []grpc.MethodDesc{
		mutate(MethodUpsertAsset, (*Service).upsertAsset),
		mutate(MethodSetFeeder, (*Service).setFeeder),
		mutate(MethodSetSource, (*Service).setSource),
		mutate(MethodPushPrice, (*Service).pushPrice),
		mutate(MethodPull, (*Service).pull),
		query(MethodGetAsset, (*Service).getAsset),
		query(MethodListAssets, (*Service).listAssets),
		query(MethodGetHistory, (*Service).getHistory),
		query(MethodGetFeedInfo, (*Service).getFeedInfo),
		query(MethodGetSpot, (*Service).getSpot),
		query(MethodGetTWAP, (*Service).getTWAP),

		mutate(MethodSetOracle, (*Service).setOracle),
		mutate(MethodCreateRound, (*Service).createRound),
		mutate(MethodJoinRound, (*Service).joinRound),
		mutate(MethodLockRound, (*Service).lockRound),
		mutate(MethodSettleRound, (*Service).settleRound),
		mutate(MethodCancelRound, (*Service).cancelRound),
		query(MethodGetRound, (*Service).getRound),
		query(MethodPending, (*Service).listPending),
		query(MethodGetJoin, (*Service).getJoin),

		mutate(MethodHaltKeeper, (*Service).haltKeeper),
		mutate(MethodResumeKeeper, (*Service).resumeKeeper),

		query(MethodStatus, (*Service).status),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "settle/v1/settlement.proto",
}

func (s *Service) upsertAsset(c *host.Ctx, req *UpsertAssetRequest) (*AssetResponse, error) {
	f, err := s.feed(req.Feed)
	if err != nil {
		return nil, err
	}
	if err := f.UpsertAsset(c, req.Asset, req.Precision, req.StalenessWindow); err != nil {
		return nil, err
	}
	return &AssetResponse{Asset: req.Asset, Precision: req.Precision, StalenessWindow: req.StalenessWindow}, nil
}

func (s *Service) setFeeder(c *host.Ctx, req *SetFeederRequest) (*Empty, error) {
	f, err := s.feed(req.Feed)
	if err != nil {
		return nil, err
	}
	feeder, err := auth.ParseIdentity(req.Feeder)
	if err != nil {
		return nil, errorsmod.Wrapf(ErrBadRequest, "feeder %q", req.Feeder)
	}
	return &Empty{}, f.SetFeeder(c, feeder)
}

func (s *Service) setSource(c *host.Ctx, req *SetSourceRequest) (*Empty, error) {
	f, err := s.feed(req.Feed)
	if err != nil {
		return nil, err
	}
	return &Empty{}, f.SetSource(c, req.Source)
}

func (s *Service) pushPrice(c *host.Ctx, req *PushPriceRequest) (*Price, error) {
	f, err := s.feed(req.Feed)
	if err != nil {
		return nil, err
	}
	price, ok := sdkmath.NewIntFromString(req.Price)
	if !ok {
		return nil, errorsmod.Wrapf(ErrBadRequest, "price %q", req.Price)
	}
	obs, err := f.PushPrice(c, req.Asset, price, req.Precision, req.Timestamp)
	if err != nil {
		return nil, err
	}
	out := priceOf(obs)
	return &out, nil
}

func (s *Service) pull(c *host.Ctx, req *PullRequest) (*Price, error) {
	f, err := s.feed(req.Feed)
	if err != nil {
		return nil, err
	}
	obs, err := f.Pull(c, req.Asset)
	if err != nil {
		return nil, err
	}
	out := priceOf(obs)
	return &out, nil
}

func (s *Service) getAsset(c *host.Ctx, req *AssetRequest) (*AssetResponse, error) {
	f, err := s.feed(req.Feed)
	if err != nil {
		return nil, err
	}
	cfg, err := f.Asset(c, req.Asset)
	if err != nil {
		return nil, err
	}
	return &AssetResponse{Asset: req.Asset, Precision: cfg.Precision, StalenessWindow: cfg.StalenessWindow}, nil
}

func (s *Service) listAssets(c *host.Ctx, req *FeedRequest) (*AssetsResponse, error) {
	f, err := s.feed(req.Feed)
	if err != nil {
		return nil, err
	}
	assets, err := f.Assets(c)
	if err != nil {
		return nil, err
	}
	return &AssetsResponse{Assets: assets}, nil
}

func (s *Service) getHistory(c *host.Ctx, req *AssetRequest) (*HistoryResponse, error) {
	f, err := s.feed(req.Feed)
	if err != nil {
		return nil, err
	}
	obs, err := f.History(c, req.Asset)
	if err != nil {
		return nil, err
	}
	out := &HistoryResponse{Observations: make([]Price, 0, len(obs))}
	for _, o := range obs {
		out.Observations = append(out.Observations, priceOf(o))
	}
	return out, nil
}

func (s *Service) getFeedInfo(c *host.Ctx, req *FeedRequest) (*FeedInfoResponse, error) {
	f, err := s.feed(req.Feed)
	if err != nil {
		return nil, err
	}
	admin, err := f.Admin(c)
	if err != nil {
		return nil, err
	}
	feeder, err := f.Feeder(c)
	if err != nil {
		return nil, err
	}
	source, err := f.Source(c)
	if err != nil {
		return nil, err
	}
	return &FeedInfoResponse{Feed: f.Name(), Admin: admin.Hex(), Feeder: feeder.Hex(), Source: source}, nil
}

func queryOptions(maxAge *uint64, precision *uint32) []feed.QueryOption {
	var opts []feed.QueryOption
	if maxAge != nil {
		opts = append(opts, feed.WithMaxAge(*maxAge))
	}
	if precision != nil {
		opts = append(opts, feed.WithPrecision(*precision))
	}
	return opts
}

func (s *Service) getSpot(c *host.Ctx, req *SpotRequest) (*Price, error) {
	f, err := s.feed(req.Feed)
	if err != nil {
		return nil, err
	}
	q, err := f.GetSpot(c, req.Asset, queryOptions(req.MaxAge, req.Precision)...)
	if err != nil {
		return nil, err
	}
	out := priceOf(feed.Observation{Price: q.Price, Precision: q.Precision, ObservedAt: q.Timestamp})
	return &out, nil
}

func (s *Service) getTWAP(c *host.Ctx, req *TWAPRequest) (*TWAPResponse, error) {
	f, err := s.feed(req.Feed)
	if err != nil {
		return nil, err
	}
	avg, err := f.GetTWAP(c, req.Asset, req.Records, queryOptions(req.MaxAge, req.Precision)...)
	if err != nil {
		return nil, err
	}
	return &TWAPResponse{
		Price:  priceOf(feed.Observation{Price: avg.Price, Precision: avg.Precision, ObservedAt: avg.Timestamp}),
		Oldest: avg.Oldest,
		Count:  avg.Count,
	}, nil
}

func (s *Service) setOracle(c *host.Ctx, req *SetOracleRequest) (*Empty, error) {
	return &Empty{}, s.engine.SetOracle(c, req.Oracle)
}

func (s *Service) createRound(c *host.Ctx, req *CreateRoundRequest) (*RoundResponse, error) {
	r, err := s.engine.CreateRound(c, req.Asset, req.LockDelay, req.Duration)
	if err != nil {
		return nil, err
	}
	return roundOf(r), nil
}

func (s *Service) joinRound(c *host.Ctx, req *JoinRequest) (*RoundResponse, error) {
	side, err := rounds.ParseSide(req.Side)
	if err != nil {
		return nil, err
	}
	r, err := s.engine.Join(c, req.RoundID, side)
	if err != nil {
		return nil, err
	}
	return roundOf(r), nil
}

func (s *Service) transition(c *host.Ctx, id uint64, fn func(*host.Ctx, uint64) (rounds.Round, error)) (*RoundResponse, error) {
	r, err := fn(c, id)
	if err != nil {
		return nil, err
	}
	return roundOf(r), nil
}

func (s *Service) lockRound(c *host.Ctx, req *RoundRequest) (*RoundResponse, error) {
	return s.transition(c, req.RoundID, s.engine.Lock)
}

func (s *Service) settleRound(c *host.Ctx, req *RoundRequest) (*RoundResponse, error) {
	return s.transition(c, req.RoundID, s.engine.Settle)
}

func (s *Service) cancelRound(c *host.Ctx, req *RoundRequest) (*RoundResponse, error) {
	return s.transition(c, req.RoundID, s.engine.Cancel)
}

func (s *Service) getRound(c *host.Ctx, req *RoundRequest) (*RoundResponse, error) {
	return s.transition(c, req.RoundID, s.engine.GetRound)
}

func (s *Service) listPending(c *host.Ctx, _ *Empty) (*PendingResponse, error) {
	ids, err := s.engine.Pending(c)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []uint64{}
	}
	return &PendingResponse{RoundIDs: ids}, nil
}

func (s *Service) getJoin(c *host.Ctx, req *JoinQuery) (*JoinResponse, error) {
	who, err := auth.ParseIdentity(req.Participant)
	if err != nil {
		return nil, errorsmod.Wrapf(ErrBadRequest, "participant %q", req.Participant)
	}
	if _, err := s.engine.GetRound(c, req.RoundID); err != nil {
		return nil, err
	}
	out := &JoinResponse{RoundID: req.RoundID, Participant: who.Hex()}
	if side := s.engine.Joined(c, req.RoundID, who); side != 0 {
		out.Joined, out.Side = true, side.String()
	}
	return out, nil
}

// keeperSwitch applies a halt or resume requested by the round engine admin.
// The switch itself is in memory: a restarted daemon starts unhalted.
func (s *Service) keeperSwitch(c *host.Ctx, halt bool, reason string) (*KeeperResponse, error) {
	if s.halter == nil {
		return nil, ErrNoKeeper
	}
	admin, err := s.engine.Admin(c)
	if err != nil {
		return nil, err
	}
	if err := auth.Require(c, admin, rounds.ErrNotAdmin); err != nil {
		return nil, err
	}

	typ := events.TypeKeeperResume
	if halt {
		typ = events.TypeKeeperHalt
	}
	c.Emit(events.New(typ, events.AttrOperator, c.Caller().Hex(), events.AttrReason, reason))
	if halt {
		s.halter.ManualHalt()
	} else {
		s.halter.Resume()
	}
	s.log.Info("keeper switched",
		zap.Bool("halted", halt),
		zap.String("operator", c.Caller().Hex()),
		zap.String("reason", reason))
	return &KeeperResponse{Halted: s.halter.Halted()}, nil
}

func (s *Service) haltKeeper(c *host.Ctx, req *HaltRequest) (*KeeperResponse, error) {
	return s.keeperSwitch(c, true, req.Reason)
}

func (s *Service) resumeKeeper(c *host.Ctx, _ *Empty) (*KeeperResponse, error) {
	return s.keeperSwitch(c, false, "")
}

func (s *Service) status(c *host.Ctx, _ *Empty) (*StatusResponse, error) {
	names := make([]string, 0, len(s.feeds))
	for name := range s.feeds {
		names = append(names, name)
	}
	sort.Strings(names)
	out := &StatusResponse{Now: c.Now(), Feeds: names, Oracle: s.engine.OracleRef(c)}
	if s.halter != nil {
		out.KeeperHalted = s.halter.Halted()
	}
	return out, nil
}
