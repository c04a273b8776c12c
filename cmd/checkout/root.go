package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ticket-payments/internal/checkout"
	"ticket-payments/internal/client"
	"ticket-payments/internal/config"
	"ticket-payments/internal/kvstore"
	"ticket-payments/internal/logger"
	"ticket-payments/internal/paymentapi"
)

// app is what every subcommand shares once the config is loaded.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	intents *checkout.IntentStore
	api     *paymentapi.Client
	close   func()
}

func newRootCmd() *cobra.Command {
	var (
		a         app
		namespace string
		token     string
	)

	root := &cobra.Command{
		Use:           "checkout",
		Short:         "Pay for a ticket order against the payments backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if namespace != "" {
				cfg.Checkout.Namespace = namespace
			}
			if token != "" {
				cfg.Checkout.Token = token
			}

			log, err := logger.New(cfg.Log)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}

			store, closeStore, err := openStore(cmd.Context(), cfg.Checkout)
			if err != nil {
				return err
			}

			a = app{
				cfg:     cfg,
				log:     log,
				intents: checkout.NewIntentStore(store, cfg.Checkout.Namespace, cfg.Checkout.IntentTTL),
				api:     paymentapi.New(cfg.Checkout.BackendURL, cfg.Checkout.Token),
				close: func() {
					closeStore()
					_ = log.Sync()
				},
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.close != nil {
				a.close()
			}
		},
	}

	root.PersistentFlags().StringVar(&namespace, "namespace", "", "intent store namespace (default $CHECKOUT_NAMESPACE)")
	root.PersistentFlags().StringVar(&token, "token", "", "bearer token for the payments backend (default $CHECKOUT_TOKEN)")

	root.AddCommand(
		newBookCmd(&a),
		newPayCmd(&a),
		newRecoverCmd(&a),
		newHistoryCmd(&a),
		newReceiptCmd(&a),
		newTokenCmd(&a),
	)
	return root
}

func openStore(ctx context.Context, cfg config.Checkout) (kvstore.Store, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		return kvstore.NewMemoryStore(), func() {}, nil
	case "sqlite":
		db, err := client.OpenIntentDB(config.Database{Driver: "sqlite", URL: cfg.StorePath})
		if err != nil {
			return nil, nil, fmt.Errorf("open intent db: %w", err)
		}
		return kvstore.NewGormStore(db), func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}, nil
	case "redis":
		rdb, err := client.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return kvstore.NewRedisStore(rdb), func() { _ = rdb.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

func (a *app) newCheckout(orderID string, out func(format string, args ...any)) *checkout.Checkout {
	return checkout.New(orderID, a.api, a.intents, checkout.Options{
		CaptureTimeout: a.cfg.Checkout.CaptureTimeout,
		RecheckDelay:   a.cfg.Checkout.RecheckDelay,
		Logger:         a.log,
		OnSuccess: func(transactionID string) {
			out("payment confirmed, transaction %s\n", transactionID)
		},
	})
}
