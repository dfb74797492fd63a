package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"supportdesk/backend/internal/config"
	"supportdesk/backend/internal/logger"
	"supportdesk/backend/internal/queue"
	"supportdesk/backend/internal/storage"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// app is what every subcommand works against.
type app struct {
	store  storage.Storage
	queues queue.Manager // nil unless the queue backend is shared
	log    logrus.FieldLogger
	out    io.Writer
	close  func()
}

type opener func(ctx context.Context, cfgFile string) (*app, error)

func main() {
	if err := newRootCmd(openApp).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openApp connects to the stores the bot process uses. Only shared backends
// make sense from a separate process.
func openApp(ctx context.Context, cfgFile string) (*app, error) {
	cfg, err := config.Load(config.NewViper(), cfgFile)
	if err != nil {
		return nil, err
	}
	if cfg.StorageBackend != config.BackendPostgres {
		return nil, errors.New("admin commands need storage.backend=postgres")
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	db, err := storage.OpenPostgres(cfg.PostgresDSN, log.WithField("component", "gorm"))
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &app{
		store: storage.NewStorageService(db, nil), // no event publishing from the CLI
		log:   log,
		out:   os.Stdout,
		close: func() {},
	}
	if cfg.QueueBackend == config.BackendRedis {
		rdb, err := storage.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.queues = queue.NewRedis(rdb)
		a.close = func() { _ = rdb.Close() }
	}
	return a, nil
}

func newRootCmd(open opener) *cobra.Command {
	var a *app
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Support desk administration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, _ := cmd.Flags().GetString("config")
			var err error
			a, err = open(cmd.Context(), cfgFile)
			if err != nil {
				return err
			}
			a.out = cmd.OutOrStdout()
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a != nil && a.close != nil {
				a.close()
			}
		},
	}
	root.PersistentFlags().String("config", "", "Config file path (optional).")

	get := func() *app { return a }
	root.AddCommand(
		newAddOperatorCmd(get),
		newRemoveCmd(get),
		newOperatorsCmd(get),
		newDiscardPendingCmd(get),
		newQueuesCmd(get),
	)
	return root
}
