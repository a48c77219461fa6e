package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/caesar-terminal/settle/internal/app"
	"github.com/caesar-terminal/settle/internal/config"
	"github.com/caesar-terminal/settle/internal/service"
)

// cli holds the state shared by every command.
type cli struct {
	cfg     *config.Config
	target  string
	feed    string
	timeout time.Duration
}

func main() {
	defer memguard.Purge()
	if err := newRootCmd().Execute(); err != nil {
		memguard.SafeExit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:          "settlectl",
		Short:        "Operate price feeds and prediction rounds",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			c.cfg = cfg
			if c.target == "" {
				c.target = "unix://" + cfg.Server.SocketPath
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.target, "target", "", "daemon address (default unix://$SETTLE_SERVER_SOCKET_PATH)")
	root.PersistentFlags().StringVar(&c.feed, "feed", service.DefaultFeed, "feed name")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(
		c.assetCmd(),
		c.feederCmd(),
		c.sourceCmd(),
		c.priceCmd(),
		c.roundCmd(),
		c.oracleCmd(),
		c.keeperCmd(),
		c.statusCmd(),
		c.eventsCmd(),
		c.keyCmd(),
	)
	return root
}

// client dials the daemon. Mutating commands need the operator key.
func (c *cli) client(cmd *cobra.Command, signed bool) (*service.Client, error) {
	if !signed {
		return service.Dial(c.target, nil)
	}
	key, err := app.LoadKeyRing(cmd.Context(), c.cfg.Signer, c.cfg.LocalStackEndpoint)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("no signing key: set SETTLE_SIGNER_KEY_HEX or SETTLE_SIGNER_KEY_FILE")
	}
	return service.Dial(c.target, key)
}

// do runs fn with a client and prints its result as JSON.
func do[T any](c *cli, cmd *cobra.Command, signed bool, fn func(context.Context, *service.Client) (T, error)) error {
	client, err := c.client(cmd, signed)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
	defer cancel()
	out, err := fn(ctx, client)
	if err != nil {
		return err
	}
	return printJSON(cmd, out)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
