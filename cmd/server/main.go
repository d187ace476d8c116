package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/tomz197/pong/internal/config"
	"github.com/tomz197/pong/internal/gateway"
	"github.com/tomz197/pong/internal/logging"
	"github.com/tomz197/pong/internal/rating"
	"github.com/tomz197/pong/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration", "err", err)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped with error", "err", err)
	}
}

func run(cfg config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("rating store ready", "backend", cfg.RatingBackend)

	hub := gateway.NewHub(logger.WithPrefix("hub"))
	engine := server.NewEngine(store, hub,
		server.WithSettings(cfg.Settings),
		server.WithLogger(logger.WithPrefix("engine")),
		server.WithStoreTimeout(cfg.StoreTimeout),
		server.WithTopLimit(cfg.TopLimit),
	)
	router := gateway.NewRouter(engine, hub, logger.WithPrefix("gateway"))

	// Intent handlers outlive the signal context so in-flight store calls
	// finish during shutdown.
	ws := gateway.NewWebSocketServer(context.Background(), router, logger.WithPrefix("ws"))
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           gateway.NewHTTPHandler(engine, ws, logger.WithPrefix("http")),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var sshSrv *gateway.SSHServer
	if cfg.SSHAddr != "" {
		sshSrv, err = gateway.NewSSHServer(cfg.SSHAddr, cfg.SSHHostKey, router, logger.WithPrefix("ssh"))
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr, "tickRate", cfg.Settings.TickRate)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "http server")
		}
		return nil
	})
	if sshSrv != nil {
		g.Go(func() error {
			logger.Info("starting ssh server", "addr", cfg.SSHAddr)
			if err := sshSrv.ListenAndServe(); err != nil {
				return eris.Wrap(err, "ssh server")
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return shutdown(cfg, logger, engine, hub, httpSrv, sshSrv)
	})

	return g.Wait()
}

// shutdown notifies players, lets them leave, then stops the listeners.
func shutdown(cfg config.Config, logger *log.Logger, engine *server.Engine, hub *gateway.Hub, httpSrv *http.Server, sshSrv *gateway.SSHServer) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := engine.Shutdown(ctx); err != nil {
		logger.Warn("engine did not stop cleanly", "err", err)
	}
	hub.Drain(ctx, cfg.DrainTimeout)

	var errs []error
	if err := httpSrv.Shutdown(ctx); err != nil {
		errs = append(errs, eris.Wrap(err, "http shutdown"))
	}
	if sshSrv != nil {
		if err := sshSrv.Shutdown(ctx); err != nil {
			errs = append(errs, eris.Wrap(err, "ssh shutdown"))
		}
	}
	logger.Info("server stopped")
	return errors.Join(errs...)
}

// openStore builds the configured rating backend. The returned func releases
// its resources.
func openStore(ctx context.Context, cfg config.Config) (rating.Store, func(), error) {
	switch cfg.RatingBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, eris.Wrapf(err, "connect to redis at %s", cfg.RedisAddr)
		}
		store := rating.NewRedisStore(client, cfg.RedisPrefix, cfg.DefaultRating)
		return store, func() { _ = client.Close() }, nil

	case config.BackendHTTP:
		store := rating.NewHTTPStore(cfg.RatingServiceURL, &http.Client{Timeout: cfg.StoreTimeout}, cfg.DefaultRating)
		return store, func() {}, nil

	default:
		return rating.NewMemoryStore(cfg.DefaultRating), func() {}, nil
	}
}
