package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"mailrelay/internal/app"
	"mailrelay/internal/config"
	"mailrelay/internal/provenance"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "mailrelayd",
		Short:         "Relay Mailgun inbound mail into Typetalk topics",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("MR_CONFIG"), "path to config.yaml (default: $MR_CONFIG)")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(relayCmd())
	root.AddCommand(viewCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(true)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("app init: %w", err)
			}
			defer a.Close()
			return a.Serve(ctx)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply provenance schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(false)
			if err != nil {
				return err
			}
			if cfg.Store.Driver != "postgres" && cfg.Store.Driver != "sqlite" {
				return fmt.Errorf("store driver %q has no schema", cfg.Store.Driver)
			}
			st, err := provenance.OpenSQL(cfg.Store.Driver, cfg.Store.DSN)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}
			logger.Info("migrations applied", "driver", cfg.Store.Driver)
			return nil
		},
	}
}

func relayCmd() *cobra.Command {
	var topicID int64
	var messageID string
	c := &cobra.Command{
		Use:   "relay <message-url>",
		Short: "Relay one stored message, as the webhook would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(true)
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("app init: %w", err)
			}
			defer a.Close()

			if topicID > 0 {
				res, err := a.Relay.DeliverTo(cmd.Context(), topicID, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "posted %d to topic %d\n", res.Post.ID, res.Topic.ID)
				return nil
			}
			res, err := a.Relay.Deliver(cmd.Context(), messageID, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "posted %d to topic %d\n", res.Post.ID, res.Topic.ID)
			return nil
		},
	}
	c.Flags().Int64Var(&topicID, "topic", 0, "post into this topic instead of resolving the recipient")
	c.Flags().StringVar(&messageID, "message-id", "", "Message-Id used in diagnostics")
	return c
}

func viewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view <message-id>",
		Short: "Print the full body of a relayed message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(true)
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("app init: %w", err)
			}
			defer a.Close()
			body, err := a.Relay.View(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), body)
			return nil
		},
	}
}

func load(validate bool) (config.Config, *slog.Logger, error) {
	read := config.Read
	if validate {
		read = config.Load
	}
	cfg, err := read(configPath)
	if err != nil {
		return cfg, nil, fmt.Errorf("config: %w", err)
	}
	return cfg, newLogger(cfg), nil
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
