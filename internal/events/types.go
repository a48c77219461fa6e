// Package events carries the observations emitted by committed settlement
// operations to indexers: an in-process fan-out hub, a Redis projection of
// the latest state, and a websocket stream.
package events

import (
	"sort"
	"strings"
)

// Event types.
const (
	TypeFeedInit   = "feed.init"
	TypeFeedAsset  = "feed.asset"
	TypeFeedFeeder = "feed.feeder"
	TypeFeedSource = "feed.source"
	TypeFeedPrice  = "feed.price"

	TypeRoundsInit   = "rounds.init"
	TypeRoundsOracle = "rounds.oracle"
	TypeRoundCreate  = "rounds.create"
	TypeRoundJoin    = "rounds.join"
	TypeRoundLock    = "rounds.lock"
	TypeRoundSettle  = "rounds.settle"
	TypeRoundCancel  = "rounds.cancel"

	TypeKeeperHalt   = "keeper.halt"
	TypeKeeperResume = "keeper.resume"
)

// Attribute keys.
const (
	AttrFeed        = "feed"
	AttrAdmin       = "admin"
	AttrFeeder      = "feeder"
	AttrSource      = "source"
	AttrAsset       = "asset"
	AttrPrice       = "price"
	AttrPrecision   = "precision"
	AttrTimestamp   = "timestamp"
	AttrStaleness   = "staleness_window"
	AttrRoundID     = "round_id"
	AttrCreator     = "creator"
	AttrLockTime    = "lock_time"
	AttrSettleTime  = "settle_time"
	AttrParticipant = "participant"
	AttrSide        = "side"
	AttrUpCount     = "up_count"
	AttrDownCount   = "down_count"
	AttrLockPrice   = "lock_price"
	AttrLockPrec    = "lock_precision"
	AttrSettlePrice = "settle_price"
	AttrSettlePrec  = "settle_precision"
	AttrOutcome     = "outcome"
	AttrOracle      = "oracle"
	AttrPrevStatus  = "prev_status"
	AttrReason      = "reason"
	AttrOperator    = "operator"
)

// Event is one observation emitted by a committed operation. Seq is assigned
// by the host and strictly increases across all events; Time is the logical
// ledger time (unix seconds) of the operation that produced it.
type Event struct {
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	Time       uint64            `json:"time"`
	Attributes map[string]string `json:"attributes"`
}

// New builds an event from alternating key/value pairs.
func New(typ string, kv ...string) Event {
	attrs := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs[kv[i]] = kv[i+1]
	}
	return Event{Type: typ, Attributes: attrs}
}

// Attr returns the value of attribute key, or "".
func (e Event) Attr(key string) string {
	return e.Attributes[key]
}

// Module returns the component prefix of the event type ("feed", "rounds").
func (e Event) Module() string {
	if i := strings.IndexByte(e.Type, '.'); i > 0 {
		return e.Type[:i]
	}
	return e.Type
}

// fingerprint renders attributes in key order, skipping the given keys.
func fingerprint(attrs map[string]string, skip ...string) string {
	keys := make([]string, 0, len(attrs))
outer:
	for k := range attrs {
		for _, s := range skip {
			if k == s {
				continue outer
			}
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(attrs[k])
		b.WriteByte(';')
	}
	return b.String()
}
