package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"OminisNode/internal/cache"
	"OminisNode/internal/chain"
	"OminisNode/internal/config"
	"OminisNode/internal/db"
	internalhttp "OminisNode/internal/http"
	"OminisNode/internal/indexer"
	"OminisNode/internal/logger"
	"OminisNode/internal/node"
	"OminisNode/internal/notify"
	"OminisNode/internal/pricing"
	"OminisNode/internal/services"
	"OminisNode/internal/store"

	"golang.org/x/time/rate"
)

func main() {
	log := logger.New("indexer")

	cfg, err := config.Load("")
	if err != nil {
		log.Error("config load failed", "err", err)
		os.Exit(1)
	}
	if err := cfg.ValidateIndexer(); err != nil {
		log.Error("invalid indexer config", "err", err)
		os.Exit(1)
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		log.Warn("unknown log level, keeping info", "level", cfg.Log.Level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, db.Options{DSN: cfg.DB.DSN, MaxConns: cfg.DB.MaxConns})
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	st := store.New(pool)

	source, dialed, err := chain.DialFailover(ctx, cfg.Chain.RPCEndpoints, node.EVMConfig(cfg), cfg.Chain.RPCFailoverThreshold)
	if err != nil {
		log.Error("rpc dial failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		for _, e := range dialed {
			e.Close()
		}
	}()

	hub := notify.NewHub(log.With("component", "notify"))
	go hub.Run()
	defer hub.Stop()

	policy, _ := indexer.ParseChunkPolicy(cfg.Indexer.OnChunkFailure)
	sync := &indexer.Synchronizer{
		Source:         source,
		Store:          st,
		Orders:         chain.NewContracts(dialed[0]),
		Publisher:      hub,
		Tiers:          pricing.DefaultSchedule(),
		Log:            log.With("component", "synchronizer"),
		ChunkSize:      cfg.Indexer.ChunkSize,
		Interval:       config.Seconds(cfg.Indexer.IntervalSeconds),
		ConfirmDepth:   cfg.Indexer.ConfirmDepth,
		StartHeight:    cfg.Indexer.StartHeight,
		OnChunkFailure: policy,
	}
	if cfg.Indexer.RatePerSecond > 0 {
		sync.Limiter = rate.NewLimiter(rate.Limit(cfg.Indexer.RatePerSecond), 1)
	}

	var responses cache.Cache = cache.Nop{}
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Warn("redis unavailable, serving uncached", "err", err)
		} else {
			defer rc.Close()
			responses = rc
		}
	}

	orders := &services.OrderService{
		Store:         st,
		Cache:         responses,
		CacheTTL:      config.Seconds(cfg.Redis.TTLSeconds),
		Sync:          sync,
		Head:          source,
		SyncTolerance: cfg.Indexer.ConfirmDepth + cfg.Indexer.SyncTolerance,
		Log:           log.With("component", "orders"),
	}
	srv := internalhttp.NewServer(internalhttp.NewHandler(orders, log.With("component", "api")), internalhttp.Options{
		CORSOrigins: cfg.Server.CORSOrigins,
		Stream:      hub.ServeWS,
		Ping:        pool.Ping,
		Log:         log.With("component", "http"),
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopMetrics := node.StartMetrics(cfg, log)
	defer stopMetrics()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sync.Run(ctx); err != nil {
			log.Error("synchronizer stopped", "err", err)
			stop()
		}
	}()

	go func() {
		log.Info("api listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
	<-done
}
