package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"supportdesk/backend/internal/api/handler"
	"supportdesk/backend/internal/chathub"
	"supportdesk/backend/internal/config"
	"supportdesk/backend/internal/localization"
	"supportdesk/backend/internal/logger"
	"supportdesk/backend/internal/queue"
	"supportdesk/backend/internal/storage"
	"supportdesk/backend/internal/telegram"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	cmd := &cobra.Command{
		Use:           "supportdesk",
		Short:         "Telegram support desk bot and admin API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, log)
		},
	}
	cmd.Flags().String("config", "", "Config file path (optional).")
	return cmd
}

type backends struct {
	store  storage.Storage
	events storage.EventPublisher
	queues queue.Manager
	redis  *redis.Client
}

// openBackends picks storage, queue and event publishing from cfg. Without
// Redis, events go straight to the local hub.
func openBackends(ctx context.Context, cfg *config.Config, hub *chathub.EventHub, log *logrus.Logger) (*backends, error) {
	b := &backends{events: hub, queues: queue.NewMemory()}

	if cfg.RedisURL != "" {
		rdb, err := storage.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		b.redis = rdb
	}

	switch cfg.StorageBackend {
	case config.BackendPostgres:
		db, err := storage.OpenPostgres(cfg.PostgresDSN, log.WithField("component", "gorm"))
		if err != nil {
			return nil, err
		}
		if err := storage.Migrate(db); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		svc := storage.NewStorageService(db, b.redis)
		b.store = svc
		if b.redis != nil {
			sub, err := svc.SubscribeEvents(ctx)
			if err != nil {
				return nil, err
			}
			go hub.ListenRedis(ctx, sub)
			b.events = svc
		}
	default:
		log.Warn("using in-memory storage, state is lost on restart")
		b.store = storage.NewMemoryStore()
	}

	if cfg.QueueBackend == config.BackendRedis {
		b.queues = queue.NewRedis(b.redis)
	}
	log.WithFields(logrus.Fields{
		"storage": cfg.StorageBackend,
		"queue":   cfg.QueueBackend,
		"redis":   b.redis != nil,
	}).Info("backends ready")
	return b, nil
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	if cfg.Telegram.Token == "" {
		return errors.New("telegram.token is required")
	}
	log.Info("starting support desk")

	hub := chathub.NewEventHub(log.WithField("component", "event_hub"))
	b, err := openBackends(ctx, cfg, hub, log)
	if err != nil {
		return err
	}
	if b.redis != nil {
		defer b.redis.Close()
	}

	loc, err := localization.NewBundledLocalizer()
	if err != nil {
		return fmt.Errorf("failed to create localizer: %w", err)
	}

	// Long polling shares the client, so the timeout covers a full poll.
	httpClient := &http.Client{Timeout: time.Duration(cfg.Telegram.PollTimeout)*time.Second + cfg.Telegram.SendTimeout}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.Telegram.Token, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	api.Debug = cfg.Telegram.Debug
	log.WithField("bot", api.Self.UserName).Info("authorized on telegram")

	manager := chathub.NewManagerService(b.store, b.queues, telegram.NewClient(api, loc, log), loc, log.WithField("component", "manager"))
	manager.Events = b.events
	manager.SendTimeout = cfg.Telegram.SendTimeout

	bot := telegram.NewBotService(api, manager, loc, log)
	bot.PollTimeout = cfg.Telegram.PollTimeout
	bot.QueueSize = cfg.Telegram.ChatQueueSize
	bot.IdleTimeout = cfg.Telegram.ChatIdleTime

	if !cfg.Telegram.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handler.NewHandler(b.store, b.queues, hub, cfg.HTTP.JWTSecret, cfg.HTTP.AdminKey, log)
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		bot.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		log.WithField("addr", server.Addr).Info("admin api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("admin api stopped")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("admin api shutdown")
	}
	wg.Wait()
	return nil
}
