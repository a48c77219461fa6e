package app

import (
	"context"
	"errors"

	"github.com/caesar-terminal/settle/internal/auth"
	"github.com/caesar-terminal/settle/internal/feed"
	"github.com/caesar-terminal/settle/internal/host"
	"github.com/caesar-terminal/settle/internal/rounds"
)

// Genesis describes the initial configuration of a fresh store.
type Genesis struct {
	Admin  auth.Identity
	Feeder auth.Identity
	Oracle string
}

// InitChain applies g. Components that are already initialized are left
// untouched, so it is safe to run on every start.
func (a *App) InitChain(ctx context.Context, g Genesis) error {
	if g.Admin == (auth.Identity{}) {
		return errors.New("genesis admin is required")
	}
	for _, f := range a.Feeds {
		err := a.Host.Execute(ctx, "genesis.feed", g.Admin, func(c *host.Ctx) error {
			if err := f.Init(c, g.Admin, ""); err != nil {
				return err
			}
			if g.Feeder != (auth.Identity{}) && g.Feeder != g.Admin {
				return f.SetFeeder(c, g.Feeder)
			}
			return nil
		})
		if err != nil && !errors.Is(err, feed.ErrAlreadyInitialized) {
			return err
		}
	}

	err := a.Host.Execute(ctx, "genesis.rounds", g.Admin, func(c *host.Ctx) error {
		if err := a.Engine.Init(c, g.Admin); err != nil {
			return err
		}
		if g.Oracle != "" {
			return a.Engine.SetOracle(c, g.Oracle)
		}
		return nil
	})
	if err != nil && !errors.Is(err, rounds.ErrAlreadyInitialized) {
		return err
	}
	return nil
}
