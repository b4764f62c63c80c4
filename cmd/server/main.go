package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/npezzotti/go-chatsync/internal/api"
	"github.com/npezzotti/go-chatsync/internal/cache"
	"github.com/npezzotti/go-chatsync/internal/chat"
	"github.com/npezzotti/go-chatsync/internal/config"
	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/logger"
	"github.com/npezzotti/go-chatsync/internal/server"
	"github.com/npezzotti/go-chatsync/internal/stats"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New(logger.Config{})
		bootLog.Fatal().Err(err).Msg("config")
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})

	db, err := database.NewPgRepository(cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db open")
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("db close")
		}
	}()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := chat.Options{
		LockTimeout:      cfg.Chat.LockTimeout,
		LockRetries:      cfg.Chat.LockRetries,
		SessionQueueSize: cfg.Chat.SessionQueueSize,
		OfflineGrace:     cfg.Presence.OfflineGrace,
	}

	var mirror *cache.RedisPresence
	if cfg.Redis.Address != "" {
		mirror, err = cache.NewRedisPresence(ctx, cache.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("redis")
		}
		defer mirror.Close()
		opts.Mirror = mirror
		log.Info().Str("addr", cfg.Redis.Address).Msg("presence mirror enabled")
	}

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)

	svc := chat.NewService(log, db, statsUpdater, opts)
	if err := svc.Hydrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("hydrate")
	}

	chatServer := server.NewChatServer(log, svc, server.Options{
		PingInterval:   cfg.WS.PingInterval,
		PongWait:       cfg.WS.PongWait,
		WriteWait:      cfg.WS.WriteWait,
		MaxMessageSize: cfg.WS.MaxMessageSize,
	})

	app := api.NewChatSyncApp(mux, log, svc, chatServer, db, db, cfg)
	if mirror != nil {
		app.WithCache(mirror)
	}

	statsUpdater.Run()
	defer statsUpdater.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := app.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := app.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := chatServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		svc.Stop()

		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server")
		os.Exit(1)
	}

	log.Info().Msg("shutdown complete")
}
