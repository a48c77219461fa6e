// Package host is the deterministic single-writer execution environment the
// settlement components run in. Every operation executes serialized against
// a branch of the committed store; the branch and the events it emitted are
// committed together only when the operation succeeds.
package host

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/store/cachekv"
	"cosmossdk.io/store/dbadapter"
	dbm "github.com/cosmos/cosmos-db"
	"go.uber.org/zap"

	"github.com/caesar-terminal/settle/internal/auth"
	"github.com/caesar-terminal/settle/internal/events"
)

var seqKey = []byte("\x00host/event_seq")

// Sink receives the events of committed operations, in commit order.
type Sink interface {
	Publish(events.Event)
}

// Recorder observes operation outcomes.
type Recorder interface {
	ObserveOp(op string, err error, elapsed time.Duration)
}

// Host owns the committed store and serializes operations against it.
type Host struct {
	mu    sync.Mutex
	db    dbm.DB
	clock Clock
	sink  Sink
	rec   Recorder
	log   *zap.Logger
	seq   uint64
}

// Option configures a Host.
type Option func(*Host)

// WithClock sets the logical clock. Defaults to a WallClock.
func WithClock(c Clock) Option { return func(h *Host) { h.clock = c } }

// WithSink sets where committed events are published.
func WithSink(s Sink) Option { return func(h *Host) { h.sink = s } }

// WithRecorder sets the operation observer.
func WithRecorder(r Recorder) Option { return func(h *Host) { h.rec = r } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(h *Host) { h.log = l } }

// Open opens the configured database and returns a Host over it.
func Open(cfg StoreConfig, opts ...Option) (*Host, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	h, err := New(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

// New wraps an already opened database.
func New(db dbm.DB, opts ...Option) (*Host, error) {
	h := &Host{db: db}
	for _, opt := range opts {
		opt(h)
	}
	if h.clock == nil {
		h.clock = &WallClock{}
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	h.log = h.log.Named("host")

	raw, err := db.Get(seqKey)
	if err != nil {
		return nil, fmt.Errorf("host: read event sequence: %w", err)
	}
	if len(raw) == 8 {
		h.seq = binary.BigEndian.Uint64(raw)
	}
	return h, nil
}

// Now returns the current logical time.
func (h *Host) Now() uint64 { return h.clock.Now() }

// Close closes the underlying database.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.db.Close()
}

// Execute runs fn as one atomic state-mutating operation on behalf of caller.
// If fn returns an error or panics, nothing it wrote is committed and none of
// its events are published.
func (h *Host) Execute(ctx context.Context, op string, caller auth.Identity, fn func(*Ctx) error) error {
	return h.run(ctx, op, caller, true, fn)
}

// Query runs fn against the committed state and discards any writes.
func (h *Host) Query(ctx context.Context, op string, fn func(*Ctx) error) error {
	return h.run(ctx, op, auth.Identity{}, false, fn)
}

func (h *Host) run(ctx context.Context, op string, caller auth.Identity, commit bool, fn func(*Ctx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		if h.rec != nil {
			h.rec.ObserveOp(op, err, elapsed)
		}
		h.logOutcome(op, caller, commit, err, elapsed)
	}()

	batch := h.db.NewBatch()
	defer batch.Close()

	branch := cachekv.NewStore(batchStore{Store: dbadapter.Store{DB: h.db}, batch: batch})
	c := &Ctx{
		Context: ctx,
		store:   branch,
		now:     h.clock.Now(),
		caller:  caller,
	}

	if err := call(op, c, fn); err != nil {
		return err
	}
	if !commit {
		return nil
	}

	seq := h.seq
	for i := range c.events {
		seq++
		c.events[i].Seq = seq
		c.events[i].Time = c.now
	}
	branch.Write()
	if seq != h.seq {
		var raw [8]byte
		binary.BigEndian.PutUint64(raw[:], seq)
		if err := batch.Set(seqKey, raw[:]); err != nil {
			return fmt.Errorf("host: %s: stage event sequence: %w", op, err)
		}
	}
	if err := batch.WriteSync(); err != nil {
		return fmt.Errorf("host: %s: commit: %w", op, err)
	}
	h.seq = seq

	if h.sink != nil {
		for _, ev := range c.events {
			h.sink.Publish(ev)
		}
	}
	return nil
}

// call runs fn, converting a panic (for example a store rejecting an empty
// key) into an error so the operation aborts instead of the process.
func call(op string, c *Ctx, fn func(*Ctx) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errorsmod.Wrapf(errorsmod.ErrPanic, "%s: %v", op, r)
		}
	}()
	return fn(c)
}

func (h *Host) logOutcome(op string, caller auth.Identity, commit bool, err error, elapsed time.Duration) {
	fields := []zap.Field{
		zap.String("op", op),
		zap.Duration("elapsed", elapsed),
	}
	if commit {
		fields = append(fields, zap.String("caller", caller.Hex()))
	}
	if err == nil {
		h.log.Debug("operation committed", fields...)
		return
	}
	codespace, code, _ := errorsmod.ABCIInfo(err, false)
	fields = append(fields,
		zap.String("codespace", codespace),
		zap.Uint32("code", code),
		zap.Error(err),
	)
	h.log.Info("operation rejected", fields...)
}
