package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"

	"github.com/Consigna-Supply/gateway/internal/api"
	"github.com/Consigna-Supply/gateway/internal/config"
	"github.com/Consigna-Supply/gateway/internal/credstore"
	"github.com/Consigna-Supply/gateway/internal/events"
	"github.com/Consigna-Supply/gateway/internal/metrics"
	"github.com/Consigna-Supply/gateway/internal/pipeline"
	"github.com/Consigna-Supply/gateway/internal/refresh"
	"github.com/Consigna-Supply/gateway/internal/session"
	"github.com/Consigna-Supply/gateway/internal/transport"
	"github.com/Consigna-Supply/gateway/pkg/logger"
	pkgsecrets "github.com/Consigna-Supply/gateway/pkg/secrets"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Info("starting [consigna-gateway]...")

	// --- Credential store backend ---
	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		logg.Fatalw("failed to init credential store", "backend", cfg.CredBackend, "error", err)
	}
	defer closeStore() //nolint:errcheck

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		logg.Fatalw("failed to connect to NATS", "error", err)
	}
	defer nc.Drain() //nolint:errcheck

	pub, err := events.New(nc, cfg.OutboundSubject, cfg.ServiceName)
	if err != nil {
		logg.Fatalw("failed to init publisher", "error", err)
	}

	// --- Authenticated request pipeline ---
	exec := transport.New(logger.L(), &http.Client{})

	coordinator := refresh.NewCoordinator(logger.L(), store, exec, cfg.CoreBaseURL, cfg.RequestTimeout)
	coordinator.OnExpired(func() {
		if err := pub.PublishSessionExpired(context.Background()); err != nil {
			logg.Warnw("session.expired event publish failed", "error", err)
		}
	})

	pipe := pipeline.New(logger.L(), store, exec, coordinator, cfg.CoreBaseURL, cfg.RequestTimeout)

	// --- Session manager ---
	sessions := session.NewManager(logger.L(), pipe, store, pub)
	if cfg.ServiceAccountSecret != "" {
		awsProvider, err := pkgsecrets.NewAWSProvider(cfg.AWSRegion)
		if err != nil {
			logg.Fatalw("failed to init AWS provider", "error", err)
		}
		cache := pkgsecrets.NewCache[pkgsecrets.Credentials](cfg.SecretsCacheTTL)
		sessions.WithServiceAccount(awsProvider, cache, cfg.ServiceAccountSecret)

		if err := sessions.ServiceAccountLogin(ctx); err != nil {
			logg.Warnw("service account login failed; continuing unauthenticated", "error", err)
		}
	}

	// --- Metrics ---
	metrics.StartServer(fmt.Sprintf(":%d", cfg.MetricsPort))

	// --- HTTP API ---
	app := fiber.New()
	h := &api.Handler{
		Logger:   logger.L(),
		Pipe:     pipe,
		Sessions: sessions,
	}
	api.RegisterRoutes(app, h)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[consigna-gateway] running",
		"core", cfg.CoreBaseURL,
		"cred_backend", cfg.CredBackend,
		"nats", cfg.NATSURL)

	<-ctx.Done()
	stop()
	logg.Info("shutting down [consigna-gateway]...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	app.ShutdownWithContext(shutdownCtx) //nolint:errcheck
}

// newStore selects the credential store backend from config.
func newStore(ctx context.Context, cfg *config.Config) (credstore.Store, func() error, error) {
	switch cfg.CredBackend {
	case "redis":
		st, err := credstore.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case "file":
		st, err := credstore.NewBoltStore(cfg.CredStorePath)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown credential backend %q", cfg.CredBackend)
	}
}
