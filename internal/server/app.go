// Package server assembles the identity lookup service: the Matrix HTTP API,
// the gRPC health endpoint and the maintenance scheduler, and runs them until
// a termination signal arrives.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/fedid/internal/server/auth"
	"github.com/dmitrijs2005/fedid/internal/server/config"
	"github.com/dmitrijs2005/fedid/internal/server/httpapi"
	"github.com/dmitrijs2005/fedid/internal/server/ratelimit"
	"github.com/dmitrijs2005/fedid/internal/server/scheduler"
	"github.com/dmitrijs2005/fedid/internal/server/services"
	"github.com/redis/go-redis/v9"

	gs "github.com/dmitrijs2005/fedid/internal/server/grpc"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	*Core
	httpServer *http.Server
	health     *gs.HealthServer
	scheduler  *scheduler.Scheduler
	janitors   []*ratelimit.Memory
	redis      *redis.Client
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	core, err := Open(ctx, c)
	if err != nil {
		return nil, err
	}
	app := &App{Core: core}

	trust, err := auth.NewEvaluator(c.TrustedServers, c.TrustXForwardedFor, core.Repos.Grants(core.DB), core.Logger)
	if err != nil {
		_ = core.Close()
		return nil, err
	}

	lookup := services.NewLookupService(core.DB, core.Repos, c.AdditionalFeatures, core.Metrics)
	federation := services.NewFederationService(core.DB, core.Repos, core.Peppers, c.FederationAcceptUnknownPepper, core.Metrics, core.Logger)

	var pusher scheduler.Pusher
	switch {
	case len(c.FederationServers) == 0:
	case !core.Directory.HasSource():
		core.Logger.Warn(ctx, "federation servers configured without a directory source, outbound pushes disabled")
	default:
		client := &http.Client{Timeout: c.FederationPushTimeout}
		pusher = services.NewPusher(client, core.Directory, c.ServerName, c.FederationServers, c.FederationAccessToken, core.Metrics, core.Logger)
	}

	handler := httpapi.NewHandler(httpapi.Options{
		Resolver:     lookup,
		Ingester:     federation,
		Peppers:      core.Peppers,
		Trust:        trust,
		Limits:       app.limits(ctx),
		MaxAddresses: c.MaxAddressesPerLookup,
		Metrics:      core.Metrics,
		Gatherer:     core.Registry,
		Logger:       core.Logger,
	})

	app.httpServer = &http.Server{
		Addr:              c.EndpointAddrHTTP,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	app.health = gs.NewHealthServer(c.EndpointAddrGRPC, core.DB, core.Logger)
	app.scheduler = scheduler.New(core.Peppers, core.Directory, pusher,
		c.PepperRotationInterval, c.DirectoryRefreshInterval, core.Metrics, core.Logger)

	return app, nil
}

// limits builds the per-endpoint limiters. Counters live in Redis when it is
// configured and reachable, in process memory otherwise.
func (app *App) limits(ctx context.Context) httpapi.Limits {
	rl := app.Config.RateLimits
	policies := [3]ratelimit.Policy{
		{Window: rl.HashDetails.Window, Max: rl.HashDetails.Max},
		{Window: rl.Lookup.Window, Max: rl.Lookup.Max},
		{Window: rl.Lookups.Window, Max: rl.Lookups.Max},
	}

	if addr := app.Config.RedisAddr; addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		if err := client.Ping(ctx).Err(); err != nil {
			app.Logger.Warn(ctx, "redis unavailable, using in-memory rate limits", "addr", addr, "error", err)
			_ = client.Close()
		} else {
			app.redis = client
			return httpapi.Limits{
				HashDetails: ratelimit.NewRedis(client, "fedid:rl", policies[0]),
				Lookup:      ratelimit.NewRedis(client, "fedid:rl", policies[1]),
				Lookups:     ratelimit.NewRedis(client, "fedid:rl", policies[2]),
			}
		}
	}

	var mem [3]*ratelimit.Memory
	for i, p := range policies {
		mem[i] = ratelimit.NewMemory(p)
	}
	app.janitors = mem[:]
	return httpapi.Limits{HashDetails: mem[0], Lookup: mem[1], Lookups: mem[2]}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	go func() {
		<-ctx.Done()
		app.Logger.Info(ctx, "Stopping HTTP server...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.httpServer.Shutdown(sctx); err != nil {
			app.Logger.Error(ctx, "http shutdown", "error", err)
		}
	}()

	app.Logger.Info(ctx, "Starting HTTP server", "address", app.httpServer.Addr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.Logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.health.Run(ctx); err != nil {
		app.Logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startScheduler(ctx context.Context) {
	// populate the directory and announce it before the first tick
	if err := app.scheduler.RefreshOnce(ctx); err != nil {
		app.Logger.Error(ctx, "initial refresh failed", "error", err)
	}
	app.scheduler.Run(ctx)
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.Logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	for _, m := range app.janitors {
		wg.Add(1)
		go func(m *ratelimit.Memory) {
			defer wg.Done()
			m.RunJanitor(ctx, 0)
		}(m)
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startScheduler(ctx)
	}()

	wg.Wait()

	if app.redis != nil {
		_ = app.redis.Close()
	}
	if err := app.Close(); err != nil {
		app.Logger.Error(ctx, "db close", "error", err)
	}
	app.Logger.Info(context.Background(), "App stopped")
}
