package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/caesar-terminal/settle/internal/fixedpoint"
	"github.com/caesar-terminal/settle/internal/service"
)

func (c *cli) assetCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "asset", Short: "Manage feed assets"}

	var precision uint32
	var staleness uint64
	upsert := &cobra.Command{
		Use:   "upsert [asset]",
		Short: "Create or replace an asset configuration (admin)",
		Long: `Create or replace an asset configuration.

Example:
  $ settlectl asset upsert BTC --precision 8 --staleness 300`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return do(c, cmd, true, func(ctx context.Context, cl *service.Client) (*service.AssetResponse, error) {
				return cl.UpsertAsset(ctx, service.UpsertAssetRequest{
					Feed: c.feed, Asset: args[0], Precision: precision, StalenessWindow: staleness,
				})
			})
		},
	}
	upsert.Flags().Uint32Var(&precision, "precision", 8, "default result precision")
	upsert.Flags().Uint64Var(&staleness, "staleness", 300, "staleness window in seconds")

	get := &cobra.Command{
		Use:   "get [asset]",
		Short: "Show an asset configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return do(c, cmd, false, func(ctx context.Context, cl *service.Client) (*service.AssetResponse, error) {
				return cl.GetAsset(ctx, service.AssetRequest{Feed: c.feed, Asset: args[0]})
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List configured assets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return do(c, cmd, false, func(ctx context.Context, cl *service.Client) (*service.AssetsResponse, error) {
				return cl.ListAssets(ctx, service.FeedRequest{Feed: c.feed})
			})
		},
	}

	cmd.AddCommand(upsert, get, list)
	return cmd
}

func (c *cli) feederCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "feeder", Short: "Manage the feed's price feeder"}
	cmd.AddCommand(&cobra.Command{
		Use:   "set [address]",
		Short: "Replace the feeder (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return do(c, cmd, true, func(ctx context.Context, cl *service.Client) (*service.FeedInfoResponse, error) {
				if err := cl.SetFeeder(ctx, service.SetFeederRequest{Feed: c.feed, Feeder: args[0]}); err != nil {
					return nil, err
				}
				return cl.GetFeedInfo(ctx, service.FeedRequest{Feed: c.feed})
			})
		},
	}, &cobra.Command{
		Use:   "info",
		Short: "Show the feed admin, feeder and source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return do(c, cmd, false, func(ctx context.Context, cl *service.Client) (*service.FeedInfoResponse, error) {
				return cl.GetFeedInfo(ctx, service.FeedRequest{Feed: c.feed})
			})
		},
	})
	return cmd
}

func (c *cli) sourceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "source", Short: "Manage the feed's pull source"}
	cmd.AddCommand(&cobra.Command{
		Use:   "set [ref]",
		Short: "Select the source Pull reads from; empty clears it (admin)",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := ""
			if len(args) == 1 {
				ref = args[0]
			}
			return do(c, cmd, true, func(ctx context.Context, cl *service.Client) (*service.FeedInfoResponse, error) {
				if err := cl.SetSource(ctx, service.SetSourceRequest{Feed: c.feed, Source: ref}); err != nil {
					return nil, err
				}
				return cl.GetFeedInfo(ctx, service.FeedRequest{Feed: c.feed})
			})
		},
	})
	return cmd
}

// queryFlags are the optional overrides of spot and TWAP queries.
type queryFlags struct {
	maxAge    int64
	precision int64
}

func (q *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&q.maxAge, "max-age", -1, "staleness override in seconds")
	cmd.Flags().Int64Var(&q.precision, "precision", -1, "result precision override")
}

func (q *queryFlags) values() (*uint64, *uint32) {
	var maxAge *uint64
	var precision *uint32
	if q.maxAge >= 0 {
		v := uint64(q.maxAge)
		maxAge = &v
	}
	if q.precision >= 0 {
		v := uint32(q.precision)
		precision = &v
	}
	return maxAge, precision
}

func (c *cli) priceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "price", Short: "Push and query prices"}

	var pushPrecision uint32
	var timestamp int64
	push := &cobra.Command{
		Use:   "push [asset] [price]",
		Short: "Append a price (feeder)",
		Long: `Append a price given as a decimal number.

Example:
  $ settlectl price push BTC 50000.12 --precision 8`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := fixedpoint.ParseDecimal(args[1], pushPrecision)
			if err != nil {
				return err
			}
			req := service.PushPriceRequest{Feed: c.feed, Asset: args[0], Price: price.String(), Precision: pushPrecision}
			if timestamp >= 0 {
				ts := uint64(timestamp)
				req.Timestamp = &ts
			}
			return do(c, cmd, true, func(ctx context.Context, cl *service.Client) (*service.Price, error) {
				return cl.PushPrice(ctx, req)
			})
		},
	}
	push.Flags().Uint32Var(&pushPrecision, "precision", 8, "precision of the pushed value")
	push.Flags().Int64Var(&timestamp, "timestamp", -1, "observation time in unix seconds (default now)")

	pull := &cobra.Command{
		Use:   "pull [asset]",
		Short: "Append the configured source's latest price (feeder)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return do(c, cmd, true, func(ctx context.Context, cl *service.Client) (*service.Price, error) {
				return cl.Pull(ctx, service.PullRequest{Feed: c.feed, Asset: args[0]})
			})
		},
	}

	var spotFlags queryFlags
	spot := &cobra.Command{
		Use:   "spot [asset]",
		Short: "Query the latest price",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxAge, precision := spotFlags.values()
			return do(c, cmd, false, func(ctx context.Context, cl *service.Client) (*service.Price, error) {
				return cl.GetSpot(ctx, service.SpotRequest{Feed: c.feed, Asset: args[0], MaxAge: maxAge, Precision: precision})
			})
		},
	}
	spotFlags.register(spot)

	var twapFlags queryFlags
	twap := &cobra.Command{
		Use:   "twap [asset] [records]",
		Short: "Query the average of the most recent prices",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return err
			}
			maxAge, precision := twapFlags.values()
			return do(c, cmd, false, func(ctx context.Context, cl *service.Client) (*service.TWAPResponse, error) {
				return cl.GetTWAP(ctx, service.TWAPRequest{
					Feed: c.feed, Asset: args[0], Records: uint32(records), MaxAge: maxAge, Precision: precision,
				})
			})
		},
	}
	twapFlags.register(twap)

	history := &cobra.Command{
		Use:   "history [asset]",
		Short: "List retained observations, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return do(c, cmd, false, func(ctx context.Context, cl *service.Client) (*service.HistoryResponse, error) {
				return cl.GetHistory(ctx, service.AssetRequest{Feed: c.feed, Asset: args[0]})
			})
		},
	}

	cmd.AddCommand(push, pull, spot, twap, history)
	return cmd
}
