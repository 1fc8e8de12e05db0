package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"socialchat/backend/internal/api/handler"
	"socialchat/backend/internal/chathub"
	"socialchat/backend/internal/config"
	"socialchat/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupDependencies(cfg *config.Config) (*gorm.DB, *redis.Client) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		logrus.WithError(err).Fatal("failed to connect PostgreSQL")
	}
	if err := storage.Migrate(db); err != nil {
		logrus.WithError(err).Fatal("failed to run migrations")
	}

	var rdb *redis.Client
	if cfg.Chat.Broadcast == config.BackendRedis || cfg.Chat.Presence == config.BackendRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logrus.WithError(err).Fatal("failed to connect Redis")
		}
	}

	logrus.Info("database connections established, migrations complete")
	return db, rdb
}

func main() {
	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	cfg.ConfigureLogging()
	loc, _ := cfg.Location()

	db, rdb := setupDependencies(cfg)
	store := storage.NewStorageService(db)

	var presence storage.PresenceStore = store
	if cfg.Chat.Presence == config.BackendRedis {
		presence = storage.NewRedisPresence(rdb)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	var bus chathub.Broadcaster
	if cfg.Chat.Broadcast == config.BackendRedis {
		rb := chathub.NewRedisBroadcaster(rdb)
		g.Go(func() error { return rb.Run(ctx) })
		bus = rb
	} else {
		bus = chathub.NewLocalBroadcaster()
	}

	registry := chathub.NewRegistry(store, presence, cfg.Chat.DefaultImage)
	hub := chathub.NewManagerService(registry, chathub.NewAccessControl(store), store, bus, cfg.Chat, loc)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	r := gin.Default()
	handler.NewHandler(hub, store, store, cfg.JWTSecret).Routes(r)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	g.Go(func() error {
		logrus.WithField("addr", cfg.HTTPAddr).Info("chat server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logrus.WithError(err).Fatal("server stopped")
	}
	logrus.Info("server stopped")
}
