package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/caesar-terminal/settle/internal/service"
)

func (c *cli) keeperCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "keeper", Short: "Pause or resume automatic lock and settlement"}

	var reason string
	halt := &cobra.Command{
		Use:   "halt",
		Short: "Stop the keeper from locking or settling rounds (admin)",
		Long: `Halt the round keeper. Rounds can still be locked and settled by hand;
the halt lasts until "keeper resume" or a daemon restart.

Example:
  $ settlectl keeper halt --reason "oracle maintenance"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return do(c, cmd, true, func(ctx context.Context, cl *service.Client) (*service.KeeperResponse, error) {
				return cl.HaltKeeper(ctx, reason)
			})
		},
	}
	halt.Flags().StringVar(&reason, "reason", "", "recorded in the keeper.halt event")

	cmd.AddCommand(
		halt,
		&cobra.Command{
			Use:   "resume",
			Short: "Clear an operator halt (admin)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return do(c, cmd, true, func(ctx context.Context, cl *service.Client) (*service.KeeperResponse, error) {
					return cl.ResumeKeeper(ctx)
				})
			},
		},
	)
	return cmd
}
