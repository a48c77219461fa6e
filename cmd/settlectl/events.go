package main

import (
	"net/url"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caesar-terminal/settle/internal/events"
)

func (c *cli) eventsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "events", Short: "Follow committed events"}

	var endpoint string
	var types []string
	watch := &cobra.Command{
		Use:   "watch",
		Short: "Stream events as JSON lines until interrupted",
		Long: `Stream events from the daemon's websocket endpoint, reconnecting on failure.

Example:
  $ settlectl events watch --types feed.price,rounds.settle`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if endpoint == "" {
				endpoint = "ws://localhost" + c.cfg.Events.HTTPAddr + "/events"
			}
			u, err := url.Parse(endpoint)
			if err != nil {
				return err
			}
			if len(types) > 0 {
				q := u.Query()
				q.Set("types", strings.Join(types, ","))
				u.RawQuery = q.Encode()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client := events.NewStreamClient(events.DefaultClientConfig(u.String()), zap.NewNop())
			if err := client.Connect(ctx); err != nil {
				return err
			}
			defer client.Close()

			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-client.Events():
					if !ok {
						return nil
					}
					if err := printJSON(cmd, ev); err != nil {
						return err
					}
				}
			}
		},
	}
	watch.Flags().StringVar(&endpoint, "url", "", "websocket endpoint (default ws://localhost$SETTLE_EVENTS_HTTP_ADDR/events)")
	watch.Flags().StringSliceVar(&types, "types", nil, "event types to follow (default all)")

	cmd.AddCommand(watch)
	return cmd
}
