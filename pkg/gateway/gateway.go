package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	apiv1 "github.com/beam-cloud/mailsync/pkg/api/v1"
	"github.com/beam-cloud/mailsync/pkg/classifier"
	"github.com/beam-cloud/mailsync/pkg/common"
	"github.com/beam-cloud/mailsync/pkg/credentials"
	"github.com/beam-cloud/mailsync/pkg/events"
	"github.com/beam-cloud/mailsync/pkg/ingest"
	"github.com/beam-cloud/mailsync/pkg/oauth"
	"github.com/beam-cloud/mailsync/pkg/repository"
	"github.com/beam-cloud/mailsync/pkg/scheduler"
	"github.com/beam-cloud/mailsync/pkg/sources"
	"github.com/beam-cloud/mailsync/pkg/sources/providers"
	"github.com/beam-cloud/mailsync/pkg/types"
)

const defaultShutdownTimeout = 10 * time.Second

// Gateway owns every long-lived component of the daemon
type Gateway struct {
	Config      types.AppConfig
	RedisClient *common.RedisClient // nil in local mode
	Store       repository.Store

	httpServer *http.Server
	echo       *echo.Echo

	tokens        *oauth.Registry
	manager       *credentials.Manager
	scheduler     *scheduler.RefreshScheduler
	publisher     events.Publisher
	orchestrators map[types.Provider]*ingest.Orchestrator

	closeOnce sync.Once
}

// New wires the daemon from config. Call Close when done, or Run to serve until shutdown.
func New(config types.AppConfig) (*Gateway, error) {
	g := &Gateway{
		Config:        config,
		orchestrators: make(map[types.Provider]*ingest.Orchestrator),
	}

	var locker credentials.Locker
	if config.IsLocalMode() {
		log.Info().Msg("running in local mode - Redis and Postgres disabled")
		locker = credentials.NewLocalLocker(config.Refresh.LockWait)
	} else {
		rdb, err := common.NewRedisClient(config.Database.Redis, common.WithClientName("MailsyncGateway"))
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		g.RedisClient = rdb
		locker = credentials.NewRedisLocker(rdb, config.Refresh.LockTTL, config.Refresh.LockWait)
	}

	store, err := OpenStore(config)
	if err != nil {
		g.Close()
		return nil, err
	}
	g.Store = store

	g.tokens = oauth.NewRegistryFromConfig(config.OAuth)
	g.manager = credentials.NewManager(store, g.tokens, locker, config.Refresh)
	g.scheduler = scheduler.NewRefreshScheduler(store, g.manager, g.tokens, config.Refresh)

	if err := g.initSync(); err != nil {
		g.Close()
		return nil, err
	}
	g.initHTTP()

	log.Info().
		Str("mode", config.Mode).
		Interface("oauth_providers", g.tokens.ListConfiguredProviders()).
		Msg("gateway initialized")

	return g, nil
}

func (g *Gateway) initSync() error {
	cls, err := classifier.New(g.Config.Classifier)
	if err != nil {
		return fmt.Errorf("create classifier: %w", err)
	}

	g.publisher, err = events.New(g.Config.Events)
	if err != nil {
		return fmt.Errorf("create event publisher: %w", err)
	}

	limiter := sources.NewRateLimiter(sources.DefaultRateLimitConfig())
	for _, src := range []sources.Source{
		providers.NewGmailSource(g.Config.Sync, limiter),
		providers.NewOutlookSource(g.Config.Sync, limiter),
	} {
		g.orchestrators[src.Provider()] = ingest.NewOrchestrator(ingest.Options{
			Source:          src,
			Accounts:        g.Store,
			Messages:        g.Store,
			Credentials:     g.manager,
			Classifier:      cls,
			Publisher:       g.publisher,
			DefaultMaxCount: g.Config.Sync.DefaultMaxCount,
			MaxCount:        g.Config.Sync.MaxCount,
		})
	}
	return nil
}

func (g *Gateway) initHTTP() {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Pre(middleware.RemoveTrailingSlash())
	if g.Config.DebugMode {
		e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
			Format: "${time_rfc3339} ${method} ${uri} ${status} ${latency_human}\n",
		}))
	}
	e.Use(middleware.Recover())

	apiv1.NewHealthGroup(e.Group(apiv1.HttpServerBaseRoute+"/health"), g.Store, g.RedisClient)

	g.echo = e
	g.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", g.Config.HTTP.Host, g.Config.HTTP.Port),
		Handler: e,
	}
}

// Orchestrator returns the sync orchestrator for a provider
func (g *Gateway) Orchestrator(provider types.Provider) (*ingest.Orchestrator, error) {
	o, ok := g.orchestrators[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrProviderNotSupported, provider)
	}
	return o, nil
}

// Credentials returns the credential lifecycle manager
func (g *Gateway) Credentials() *credentials.Manager {
	return g.manager
}

// RefreshOnce runs a single scheduler tick
func (g *Gateway) RefreshOnce(ctx context.Context) types.RefreshTickResult {
	return g.scheduler.Tick(ctx)
}

// Handler exposes the HTTP routes
func (g *Gateway) Handler() http.Handler {
	return g.echo
}

// Run serves HTTP and runs the refresh scheduler until ctx is cancelled or a
// termination signal arrives, then shuts down and closes every component.
func (g *Gateway) Run(ctx context.Context) error {
	defer g.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", g.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", g.httpServer.Addr, err)
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.scheduler.Start(ctx)
		return nil
	})

	eg.Go(func() error {
		log.Info().Str("addr", lis.Addr().String()).Msg("gateway http server running")
		if err := g.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down...")

		timeout := g.Config.HTTP.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return g.httpServer.Shutdown(shutdownCtx)
	})

	err = eg.Wait()
	log.Info().Msg("gateway stopped")
	return err
}

// Close releases external connections. It is safe to call on a partially built gateway.
func (g *Gateway) Close() {
	g.closeOnce.Do(g.close)
}

func (g *Gateway) close() {
	if g.publisher != nil {
		g.publisher.Close()
	}
	if g.Store != nil {
		if err := g.Store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close store")
		}
	}
	if g.RedisClient != nil {
		if err := g.RedisClient.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
}
