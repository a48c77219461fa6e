package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/caesar-terminal/settle/internal/service"
)

func parseID(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

func (c *cli) roundCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "round", Short: "Create, join and drive prediction rounds"}

	var lockDelay, duration uint64
	create := &cobra.Command{
		Use:   "create [asset]",
		Short: "Open a round on an asset",
		Long: `Open a round. Joining closes lock-delay seconds from now and the round
settles duration seconds after that.

Example:
  $ settlectl round create BTC --lock-delay 60 --duration 300`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return do(c, cmd, true, func(ctx context.Context, cl *service.Client) (*service.RoundResponse, error) {
				return cl.CreateRound(ctx, service.CreateRoundRequest{Asset: args[0], LockDelay: lockDelay, Duration: duration})
			})
		},
	}
	create.Flags().Uint64Var(&lockDelay, "lock-delay", 60, "seconds until the join window closes")
	create.Flags().Uint64Var(&duration, "duration", 300, "seconds from lock to settlement")

	join := &cobra.Command{
		Use:   "join [round-id] [up|down]",
		Short: "Predict the direction of a round",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return do(c, cmd, true, func(ctx context.Context, cl *service.Client) (*service.RoundResponse, error) {
				return cl.JoinRound(ctx, service.JoinRequest{RoundID: id, Side: args[1]})
			})
		},
	}

	byID := func(use, short string, signed bool, fn func(*service.Client, context.Context, uint64) (*service.RoundResponse, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " [round-id]",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return do(c, cmd, signed, func(ctx context.Context, cl *service.Client) (*service.RoundResponse, error) {
					return fn(cl, ctx, id)
				})
			},
		}
	}

	pending := &cobra.Command{
		Use:   "pending",
		Short: "List rounds awaiting lock or settlement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return do(c, cmd, false, func(ctx context.Context, cl *service.Client) (*service.PendingResponse, error) {
				return cl.ListPending(ctx)
			})
		},
	}

	joined := &cobra.Command{
		Use:   "joined [round-id] [participant]",
		Short: "Show which side a participant took in a round",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return do(c, cmd, false, func(ctx context.Context, cl *service.Client) (*service.JoinResponse, error) {
				return cl.GetJoin(ctx, service.JoinQuery{RoundID: id, Participant: args[1]})
			})
		},
	}

	cmd.AddCommand(
		create,
		join,
		joined,
		byID("lock", "Snapshot the lock price", true, (*service.Client).LockRound),
		byID("settle", "Snapshot the settle price", true, (*service.Client).SettleRound),
		byID("cancel", "Cancel an unsettled round (admin)", true, (*service.Client).CancelRound),
		byID("get", "Show a round", false, (*service.Client).GetRound),
		pending,
	)
	return cmd
}

func (c *cli) oracleCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "oracle", Short: "Manage the round engine's price oracle"}
	cmd.AddCommand(&cobra.Command{
		Use:   "set [feed]",
		Short: "Select the feed rounds lock and settle against (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return do(c, cmd, true, func(ctx context.Context, cl *service.Client) (*service.StatusResponse, error) {
				if err := cl.SetOracle(ctx, service.SetOracleRequest{Oracle: args[0]}); err != nil {
					return nil, err
				}
				return cl.Status(ctx)
			})
		},
	})
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon time, feeds and oracle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return do(c, cmd, false, func(ctx context.Context, cl *service.Client) (*service.StatusResponse, error) {
				return cl.Status(ctx)
			})
		},
	}
}
