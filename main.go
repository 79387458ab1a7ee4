package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/api"
	"taskboard/config"
	"taskboard/domain"
	"taskboard/storage"
	"taskboard/subscription"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	defer closeStore()

	reg := subscription.NewRegistry(subscription.Mode(cfg.Broadcast.Mode), cfg.Socket.SendBuffer, logger)

	var pub domain.Publisher = reg
	var cache *storage.ViewCache
	var deduper api.Deduper = api.NewMemoryDeduper(cfg.Redis.DedupeTTL)
	if cfg.Redis.URL != "" {
		rc := redis.NewClient(parseRedisOptions(cfg.Redis.URL))
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			logger.Fatalf("redis: %v", err)
		}
		cache = storage.NewViewCache(rc, cfg.Redis.ViewTTL)
		fanout := subscription.NewRedisFanout(rc, cfg.Redis.Channel, reg, cache, logger)
		go fanout.Run(ctx)
		pub = fanout
		deduper = api.NewRedisDeduper(rc, cfg.Redis.DedupeTTL)
	}

	views := domain.NewViewComposer(store, logger)
	svc := domain.NewTaskService(store, domain.NewSyncBroadcaster(views, pub), logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Server.AllowedOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	api.Register(e, api.Deps{
		Service:  svc,
		Registry: reg,
		Users:    store,
		Cache:    cache,
		Deduper:  deduper,
		Health:   store,
		Socket: api.SocketConfig{
			WriteTimeout:   cfg.Socket.WriteTimeout,
			PingInterval:   cfg.Socket.PingInterval,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		},
		Logger: logger,
	})

	go func() {
		addr := ":" + strconv.Itoa(cfg.Server.Port)
		logger.WithFields(log.Fields{"addr": addr, "backend": cfg.Store.Backend, "broadcast": cfg.Broadcast.Mode}).Info("taskboard listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown")
	}
}

func newLogger(cfg config.LogConfig) *log.Logger {
	logger := log.New()
	if cfg.Format == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	}
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func openStore(ctx context.Context, cfg config.StoreConfig) (storage.Backend, func(), error) {
	switch cfg.Backend {
	case "tables":
		st, err := storage.NewTables(cfg.Tables.ConnectionString, cfg.Tables.TasksTable, cfg.Tables.UsersTable)
		if err != nil {
			return nil, nil, err
		}
		if err := st.EnsureTables(ctx); err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	case "mongo":
		st, err := storage.NewMongo(ctx, storage.MongoOptions{
			URI:             cfg.Mongo.URI,
			Database:        cfg.Mongo.Database,
			TasksCollection: cfg.Mongo.TasksCollection,
			UsersCollection: cfg.Mongo.UsersCollection,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := st.EnsureIndexes(ctx); err != nil {
			_ = st.Close(context.Background())
			return nil, nil, err
		}
		return st, func() { _ = st.Close(context.Background()) }, nil
	}
	return storage.NewMemory(), func() {}, nil
}

// parseRedisOptions accepts a redis URL or the Azure style
// "host:port,password=...,ssl=true" connection string.
func parseRedisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts
}
