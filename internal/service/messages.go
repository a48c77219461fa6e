package service

import (
	"encoding/json"

	"github.com/caesar-terminal/settle/internal/auth"
	"github.com/caesar-terminal/settle/internal/feed"
	"github.com/caesar-terminal/settle/internal/fixedpoint"
	"github.com/caesar-terminal/settle/internal/rounds"
)

// DefaultFeed is the feed addressed by requests that name none.
const DefaultFeed = "default"

// Signed wraps the JSON body of a mutating request with the caller's
// signature over it.
type Signed struct {
	Auth auth.Envelope   `json:"auth"`
	Body json.RawMessage `json:"body"`
}

// Empty is the response of operations without a result.
type Empty struct{}

// Feed operations.

type UpsertAssetRequest struct {
	Feed            string `json:"feed,omitempty"`
	Asset           string `json:"asset"`
	Precision       uint32 `json:"precision"`
	StalenessWindow uint64 `json:"staleness_window"`
}

type SetFeederRequest struct {
	Feed   string `json:"feed,omitempty"`
	Feeder string `json:"feeder"`
}

type SetSourceRequest struct {
	Feed   string `json:"feed,omitempty"`
	Source string `json:"source"`
}

// PushPriceRequest carries Price as the decimal text of a fixed-point
// integer at Precision.
type PushPriceRequest struct {
	Feed      string  `json:"feed,omitempty"`
	Asset     string  `json:"asset"`
	Price     string  `json:"price"`
	Precision uint32  `json:"precision"`
	Timestamp *uint64 `json:"timestamp,omitempty"`
}

type PullRequest struct {
	Feed  string `json:"feed,omitempty"`
	Asset string `json:"asset"`
}

type AssetRequest struct {
	Feed  string `json:"feed,omitempty"`
	Asset string `json:"asset"`
}

type FeedRequest struct {
	Feed string `json:"feed,omitempty"`
}

type SpotRequest struct {
	Feed      string  `json:"feed,omitempty"`
	Asset     string  `json:"asset"`
	MaxAge    *uint64 `json:"max_age,omitempty"`
	Precision *uint32 `json:"precision,omitempty"`
}

type TWAPRequest struct {
	Feed      string  `json:"feed,omitempty"`
	Asset     string  `json:"asset"`
	Records   uint32  `json:"records"`
	MaxAge    *uint64 `json:"max_age,omitempty"`
	Precision *uint32 `json:"precision,omitempty"`
}

// Price is a fixed-point value. Value renders it as a decimal for humans.
type Price struct {
	Price     string `json:"price"`
	Precision uint32 `json:"precision"`
	Timestamp uint64 `json:"timestamp"`
	Value     string `json:"value"`
}

type TWAPResponse struct {
	Price
	Oldest uint64 `json:"oldest"`
	Count  uint32 `json:"count"`
}

type AssetResponse struct {
	Asset           string `json:"asset"`
	Precision       uint32 `json:"precision"`
	StalenessWindow uint64 `json:"staleness_window"`
}

type AssetsResponse struct {
	Assets []string `json:"assets"`
}

type HistoryResponse struct {
	Observations []Price `json:"observations"`
}

type FeedInfoResponse struct {
	Feed   string `json:"feed"`
	Admin  string `json:"admin"`
	Feeder string `json:"feeder"`
	Source string `json:"source,omitempty"`
}

// Round operations.

type CreateRoundRequest struct {
	Asset     string `json:"asset"`
	LockDelay uint64 `json:"lock_delay"`
	Duration  uint64 `json:"duration"`
}

type JoinRequest struct {
	RoundID uint64 `json:"round_id"`
	Side    string `json:"side"`
}

type RoundRequest struct {
	RoundID uint64 `json:"round_id"`
}

type SetOracleRequest struct {
	Oracle string `json:"oracle"`
}

type RoundResponse struct {
	ID              uint64 `json:"id"`
	Creator         string `json:"creator"`
	Asset           string `json:"asset"`
	LockTime        uint64 `json:"lock_time"`
	SettleTime      uint64 `json:"settle_time"`
	Status          string `json:"status"`
	LockPrice       string `json:"lock_price,omitempty"`
	LockPrecision   uint32 `json:"lock_precision,omitempty"`
	SettlePrice     string `json:"settle_price,omitempty"`
	SettlePrecision uint32 `json:"settle_precision,omitempty"`
	UpCount         uint64 `json:"up_count"`
	DownCount       uint64 `json:"down_count"`
	Outcome         string `json:"outcome"`
}

type PendingResponse struct {
	RoundIDs []uint64 `json:"round_ids"`
}

type JoinQuery struct {
	RoundID     uint64 `json:"round_id"`
	Participant string `json:"participant"`
}

type JoinResponse struct {
	RoundID     uint64 `json:"round_id"`
	Participant string `json:"participant"`
	Joined      bool   `json:"joined"`
	Side        string `json:"side,omitempty"`
}

// Keeper control.

type HaltRequest struct {
	Reason string `json:"reason,omitempty"`
}

type KeeperResponse struct {
	Halted bool `json:"halted"`
}

type StatusResponse struct {
	Now          uint64   `json:"now"`
	Feeds        []string `json:"feeds"`
	Oracle       string   `json:"oracle,omitempty"`
	KeeperHalted bool     `json:"keeper_halted"`
}

func priceOf(o feed.Observation) Price {
	return Price{
		Price:     o.Price.String(),
		Precision: o.Precision,
		Timestamp: o.ObservedAt,
		Value:     fixedpoint.FormatDecimal(o.Price, o.Precision),
	}
}

func roundOf(r rounds.Round) *RoundResponse {
	out := &RoundResponse{
		ID:         r.ID,
		Creator:    r.Creator.Hex(),
		Asset:      r.Asset,
		LockTime:   r.LockTime,
		SettleTime: r.SettleTime,
		Status:     r.Status.String(),
		UpCount:    r.UpCount,
		DownCount:  r.DownCount,
		Outcome:    r.Outcome().String(),
	}
	if !r.LockPrice.IsNil() {
		out.LockPrice = r.LockPrice.String()
		out.LockPrecision = r.LockPrecision
	}
	if !r.SettlePrice.IsNil() {
		out.SettlePrice = r.SettlePrice.String()
		out.SettlePrecision = r.SettlePrecision
	}
	return out
}
