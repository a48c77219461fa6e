// Package rounds is the round lifecycle engine: time-gated rounds that open
// a join window, snapshot an oracle price at lock time, and settle against a
// second snapshot.
package rounds

import (
	"encoding/binary"
	"math"
	"strconv"

	errorsmod "cosmossdk.io/errors"
	storetypes "cosmossdk.io/store/types"
	"github.com/ethereum/go-ethereum/common"

	"github.com/caesar-terminal/settle/internal/auth"
	"github.com/caesar-terminal/settle/internal/events"
	"github.com/caesar-terminal/settle/internal/host"
)

// Engine runs rounds. Like feed.Feed it keeps no state outside the store;
// oracles are registered by reference and the stored reference selects one.
type Engine struct {
	oracles map[string]Oracle
}

// Option configures an Engine.
type Option func(*Engine)

// WithOracle registers o under ref.
func WithOracle(ref string, o Oracle) Option {
	return func(e *Engine) { e.oracles[ref] = o }
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{oracles: make(map[string]Oracle)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func store(ctx *host.Ctx) storetypes.KVStore {
	return ctx.KVStore(Namespace)
}

func emit(ctx *host.Ctx, typ string, id uint64, kv ...string) {
	attrs := append([]string{events.AttrRoundID, strconv.FormatUint(id, 10)}, kv...)
	ctx.Emit(events.New(typ, attrs...))
}

// Init stores the engine admin. The caller must be admin.
func (e *Engine) Init(ctx *host.Ctx, admin auth.Identity) error {
	s := store(ctx)
	if s.Has(keyAdmin) {
		return ErrAlreadyInitialized
	}
	if err := auth.Require(ctx, admin, ErrNotAdmin); err != nil {
		return err
	}
	s.Set(keyAdmin, admin.Bytes())
	ctx.Emit(events.New(events.TypeRoundsInit, events.AttrAdmin, admin.Hex()))
	return nil
}

// Admin returns the engine admin.
func (e *Engine) Admin(ctx *host.Ctx) (auth.Identity, error) {
	raw := store(ctx).Get(keyAdmin)
	if raw == nil {
		return auth.Identity{}, ErrNotInitialized
	}
	return common.BytesToAddress(raw), nil
}

func (e *Engine) requireAdmin(ctx *host.Ctx) error {
	admin, err := e.Admin(ctx)
	if err != nil {
		return err
	}
	return auth.Require(ctx, admin, ErrNotAdmin)
}

// SetOracle selects the oracle lock and settle query. Admin only.
func (e *Engine) SetOracle(ctx *host.Ctx, ref string) error {
	if err := e.requireAdmin(ctx); err != nil {
		return err
	}
	if ref == "" {
		return errorsmod.Wrap(ErrOracleNotSet, "empty oracle reference")
	}
	store(ctx).Set(keyOracle, []byte(ref))
	ctx.Emit(events.New(events.TypeRoundsOracle, events.AttrOracle, ref))
	return nil
}

// OracleRef returns the configured oracle reference, or "".
func (e *Engine) OracleRef(ctx *host.Ctx) string {
	return string(store(ctx).Get(keyOracle))
}

func (e *Engine) oracle(ctx *host.Ctx) (Oracle, error) {
	ref := e.OracleRef(ctx)
	if ref == "" {
		return nil, ErrOracleNotSet
	}
	o, ok := e.oracles[ref]
	if !ok {
		return nil, errorsmod.Wrapf(ErrOracleNotSet, "oracle %q is not registered", ref)
	}
	return o, nil
}

// CreateRound opens a round on asset for the caller. Joining is possible
// until now+lockDelay; settlement from lock time + duration. Both times use
// saturating addition.
func (e *Engine) CreateRound(ctx *host.Ctx, asset string, lockDelay, duration uint64) (Round, error) {
	creator, err := auth.Authenticated(ctx)
	if err != nil {
		return Round{}, err
	}
	if lockDelay == 0 || duration == 0 {
		return Round{}, errorsmod.Wrapf(ErrInvalidTimes, "lock_delay=%d duration=%d", lockDelay, duration)
	}

	s := store(ctx)
	id := uint64(1)
	if raw := s.Get(keyNextID); raw != nil {
		id = binary.BigEndian.Uint64(raw)
	}
	if id == math.MaxUint64 {
		return Round{}, ErrRoundIDExhausted
	}
	s.Set(keyNextID, idBytes(id+1))

	lockTime := saturatingAdd(ctx.Now(), lockDelay)
	r := Round{
		ID:         id,
		Creator:    creator,
		Asset:      asset,
		LockTime:   lockTime,
		SettleTime: saturatingAdd(lockTime, duration),
		Status:     StatusCreated,
	}
	e.put(ctx, r)
	s.Set(pendingKey(id), []byte{1})

	emit(ctx, events.TypeRoundCreate, id,
		events.AttrCreator, creator.Hex(),
		events.AttrAsset, asset,
		events.AttrLockTime, strconv.FormatUint(r.LockTime, 10),
		events.AttrSettleTime, strconv.FormatUint(r.SettleTime, 10),
	)
	return r, nil
}

// Join records the caller's prediction. The join window is
// [creation, lock_time) and each participant joins a round at most once.
func (e *Engine) Join(ctx *host.Ctx, id uint64, side Side) (Round, error) {
	who, err := auth.Authenticated(ctx)
	if err != nil {
		return Round{}, err
	}
	if side != SideUp && side != SideDown {
		return Round{}, errorsmod.Wrapf(ErrInvalidSide, "%d", side)
	}
	r, err := e.GetRound(ctx, id)
	if err != nil {
		return Round{}, err
	}
	if r.Status != StatusCreated {
		return Round{}, errorsmod.Wrapf(ErrJoinClosed, "round %d is %s", id, r.Status)
	}
	if ctx.Now() >= r.LockTime {
		return Round{}, errorsmod.Wrapf(ErrJoinClosed, "round %d locked at %d", id, r.LockTime)
	}

	s := store(ctx)
	jk := joinedKey(id, who)
	if s.Has(jk) {
		return Round{}, errorsmod.Wrapf(ErrAlreadyJoined, "round %d participant %s", id, who.Hex())
	}
	s.Set(jk, []byte{byte(side)})

	if side == SideUp {
		r.UpCount = saturatingAdd(r.UpCount, 1)
	} else {
		r.DownCount = saturatingAdd(r.DownCount, 1)
	}
	e.put(ctx, r)

	emit(ctx, events.TypeRoundJoin, id,
		events.AttrParticipant, who.Hex(),
		events.AttrSide, side.String(),
		events.AttrUpCount, strconv.FormatUint(r.UpCount, 10),
		events.AttrDownCount, strconv.FormatUint(r.DownCount, 10),
	)
	return r, nil
}

// Joined returns the side participant chose in round id, or 0.
func (e *Engine) Joined(ctx *host.Ctx, id uint64, participant auth.Identity) Side {
	raw := store(ctx).Get(joinedKey(id, participant))
	if len(raw) != 1 {
		return 0
	}
	return Side(raw[0])
}

// Lock snapshots the oracle spot price. Allowed once, from lock_time on.
// Any oracle failure aborts the lock.
func (e *Engine) Lock(ctx *host.Ctx, id uint64) (Round, error) {
	r, err := e.GetRound(ctx, id)
	if err != nil {
		return Round{}, err
	}
	if r.Status != StatusCreated {
		return Round{}, errorsmod.Wrapf(ErrBadState, "round %d is %s, want created", id, r.Status)
	}
	if ctx.Now() < r.LockTime {
		return Round{}, errorsmod.Wrapf(ErrBadState, "round %d locks at %d, now %d", id, r.LockTime, ctx.Now())
	}
	o, err := e.oracle(ctx)
	if err != nil {
		return Round{}, err
	}
	q, err := o.GetSpot(ctx, r.Asset)
	if err != nil {
		return Round{}, errorsmod.Wrapf(err, "lock round %d", id)
	}

	r.LockPrice, r.LockPrecision = q.Price, q.Precision
	r.Status = StatusLocked
	e.put(ctx, r)

	emit(ctx, events.TypeRoundLock, id,
		events.AttrAsset, r.Asset,
		events.AttrLockPrice, q.Price.String(),
		events.AttrLockPrec, strconv.FormatUint(uint64(q.Precision), 10),
		events.AttrTimestamp, strconv.FormatUint(q.Timestamp, 10),
	)
	return r, nil
}

// Settle snapshots the oracle again and decides the outcome. Allowed once
// the round is locked and settle_time is reached.
func (e *Engine) Settle(ctx *host.Ctx, id uint64) (Round, error) {
	r, err := e.GetRound(ctx, id)
	if err != nil {
		return Round{}, err
	}
	if r.Status != StatusLocked {
		return Round{}, errorsmod.Wrapf(ErrBadState, "round %d is %s, want locked", id, r.Status)
	}
	if ctx.Now() < r.SettleTime {
		return Round{}, errorsmod.Wrapf(ErrBadState, "round %d settles at %d, now %d", id, r.SettleTime, ctx.Now())
	}
	o, err := e.oracle(ctx)
	if err != nil {
		return Round{}, err
	}
	q, err := o.GetSpot(ctx, r.Asset)
	if err != nil {
		return Round{}, errorsmod.Wrapf(err, "settle round %d", id)
	}

	r.SettlePrice, r.SettlePrecision = q.Price, q.Precision
	r.Status = StatusSettled
	e.put(ctx, r)
	store(ctx).Delete(pendingKey(id))

	emit(ctx, events.TypeRoundSettle, id,
		events.AttrSettlePrice, q.Price.String(),
		events.AttrSettlePrec, strconv.FormatUint(uint64(q.Precision), 10),
		events.AttrTimestamp, strconv.FormatUint(q.Timestamp, 10),
		events.AttrOutcome, r.Outcome().String(),
	)
	return r, nil
}

// Cancel forces a created or locked round to Canceled regardless of its
// timers. Admin only.
func (e *Engine) Cancel(ctx *host.Ctx, id uint64) (Round, error) {
	if err := e.requireAdmin(ctx); err != nil {
		return Round{}, err
	}
	r, err := e.GetRound(ctx, id)
	if err != nil {
		return Round{}, err
	}
	if r.Status.Terminal() {
		return Round{}, errorsmod.Wrapf(ErrBadState, "round %d is %s", id, r.Status)
	}

	prev := r.Status
	r.Status = StatusCanceled
	e.put(ctx, r)
	store(ctx).Delete(pendingKey(id))

	emit(ctx, events.TypeRoundCancel, id, events.AttrPrevStatus, prev.String())
	return r, nil
}

// GetRound loads round id.
func (e *Engine) GetRound(ctx *host.Ctx, id uint64) (Round, error) {
	raw := store(ctx).Get(roundKey(id))
	if raw == nil {
		return Round{}, errorsmod.Wrapf(ErrRoundNotFound, "%d", id)
	}
	return decodeRound(id, raw)
}

// Pending returns the ids of rounds that are created or locked, ascending.
func (e *Engine) Pending(ctx *host.Ctx) ([]uint64, error) {
	it := storetypes.KVStorePrefixIterator(store(ctx), prefixPending)
	defer it.Close()

	var ids []uint64
	for ; it.Valid(); it.Next() {
		ids = append(ids, binary.BigEndian.Uint64(it.Key()[len(prefixPending):]))
	}
	return ids, it.Error()
}

func (e *Engine) put(ctx *host.Ctx, r Round) {
	store(ctx).Set(roundKey(r.ID), encodeRound(r))
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
