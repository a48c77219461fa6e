package host

import (
	"context"

	"cosmossdk.io/store/prefix"
	storetypes "cosmossdk.io/store/types"

	"github.com/caesar-terminal/settle/internal/auth"
	"github.com/caesar-terminal/settle/internal/events"
)

// Ctx is the execution context of one operation. Nested component calls made
// with the same Ctx share its store branch, clock reading and event list, so
// they commit or abort together.
type Ctx struct {
	context.Context

	store  storetypes.KVStore
	now    uint64
	caller auth.Identity
	events []events.Event
}

// Now returns the logical time of the operation. It does not change while
// the operation runs.
func (c *Ctx) Now() uint64 { return c.now }

// Caller returns the authenticated identity the operation runs as. Queries
// run as the zero identity.
func (c *Ctx) Caller() auth.Identity { return c.caller }

// KVStore returns the operation's view of the store under namespace.
func (c *Ctx) KVStore(namespace []byte) storetypes.KVStore {
	return prefix.NewStore(c.store, namespace)
}

// Emit records an event to publish if the operation commits.
func (c *Ctx) Emit(ev events.Event) {
	c.events = append(c.events, ev)
}

// Events returns the events emitted so far.
func (c *Ctx) Events() []events.Event {
	return c.events
}
