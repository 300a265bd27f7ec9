// Command finboard-notify publishes a transaction change event so running
// dashboards refresh. Backend hooks and import jobs call it after a write.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"finboard/internal/config"
	"finboard/internal/events"
	"finboard/internal/log"
)

// publishFunc sends one event.
type publishFunc func(ctx context.Context, ev *events.TransactionEvent) error

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logCfg := log.DefaultConfig()
	logCfg.Level = log.ParseLevel(cfg.LogLevel)
	logCfg.Output = os.Stderr
	logger := log.New(logCfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pub *events.Publisher
	publish := func(ctx context.Context, ev *events.TransactionEvent) error {
		if !cfg.EventsEnabled() {
			return errors.New("AMQP_URL is not set")
		}
		eventsCfg := events.DefaultConfig()
		eventsCfg.URL = cfg.AMQPURL
		eventsCfg.Exchange = cfg.AMQPExchange
		eventsCfg.Queue = cfg.AMQPQueue

		var err error
		pub, err = events.NewPublisher(eventsCfg, logger)
		if err != nil {
			return err
		}
		return pub.PublishTransactionEvent(ctx, ev)
	}

	err := newRootCommand(publish).ExecuteContext(ctx)
	if pub != nil {
		if cerr := pub.Close(); cerr != nil {
			logger.Warn("Failed to close publisher", log.FieldError, cerr)
		}
	}
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand(publish publishFunc) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "finboard-notify KIND [TRANSACTION_ID]",
		Short: "Announce a transaction change to finboard dashboards",
		Example: `
finboard-notify created 3f1c9a
finboard-notify imported --user u-42
`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			if len(args) == 2 {
				id = args[1]
			}
			ev := events.NewTransactionEvent(events.Kind(args[0]), id)
			ev.UserID = userID
			if err := ev.Validate(); err != nil {
				return err
			}
			if err := publish(cmd.Context(), ev); err != nil {
				return fmt.Errorf("publish %s: %w", ev.RoutingKey(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", ev.RoutingKey())
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "id of the user whose transactions changed")
	return cmd
}
