package rounds

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/caesar-terminal/settle/internal/auth"
	"github.com/caesar-terminal/settle/internal/feed"
	"github.com/caesar-terminal/settle/internal/fixedpoint"
	"github.com/caesar-terminal/settle/internal/host"
)

// Side is the direction a participant predicts.
type Side uint8

const (
	SideDown Side = iota + 1
	SideUp
)

func (s Side) String() string {
	switch s {
	case SideDown:
		return "down"
	case SideUp:
		return "up"
	default:
		return "unknown"
	}
}

// ParseSide parses "up" or "down".
func ParseSide(s string) (Side, error) {
	switch s {
	case "up":
		return SideUp, nil
	case "down":
		return SideDown, nil
	default:
		return 0, errorsmod.Wrapf(ErrInvalidSide, "%q", s)
	}
}

// Status tracks the lifecycle of a round.
//
//	Created -> Locked -> Settled
//	Created -> Canceled
//	Locked  -> Canceled
type Status uint8

const (
	StatusCreated Status = iota + 1
	StatusLocked
	StatusSettled
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusLocked:
		return "locked"
	case StatusSettled:
		return "settled"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusCanceled
}

// Outcome is the result of a settled round.
type Outcome uint8

const (
	OutcomeUndecided Outcome = iota
	OutcomeDown
	OutcomeUp
	OutcomeTie
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDown:
		return "down"
	case OutcomeUp:
		return "up"
	case OutcomeTie:
		return "tie"
	default:
		return "undecided"
	}
}

// Round is one timed prediction unit.
type Round struct {
	ID         uint64
	Creator    auth.Identity
	Asset      string
	LockTime   uint64
	SettleTime uint64
	Status     Status

	// LockPrice and SettlePrice are nil until the snapshot is taken.
	LockPrice       sdkmath.Int
	LockPrecision   uint32
	SettlePrice     sdkmath.Int
	SettlePrecision uint32

	UpCount   uint64
	DownCount uint64
}

// Outcome compares the settle snapshot to the lock snapshot after bringing
// both to the larger of their precisions. Rounds that are not settled are
// undecided.
func (r Round) Outcome() Outcome {
	if r.Status != StatusSettled || r.LockPrice.IsNil() || r.SettlePrice.IsNil() {
		return OutcomeUndecided
	}
	switch fixedpoint.Compare(r.SettlePrice, r.SettlePrecision, r.LockPrice, r.LockPrecision) {
	case 1:
		return OutcomeUp
	case -1:
		return OutcomeDown
	default:
		return OutcomeTie
	}
}

// Oracle is the price source rounds snapshot from. *feed.Feed satisfies it.
type Oracle interface {
	GetSpot(ctx *host.Ctx, asset string, opts ...feed.QueryOption) (feed.Quote, error)
}
