package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-oauth-session/authsession"
	"github.com/jrsteele09/go-oauth-session/identity"
	"github.com/jrsteele09/go-oauth-session/internal/config"
	"github.com/jrsteele09/go-oauth-session/metrics"
	"github.com/jrsteele09/go-oauth-session/server"
	"github.com/jrsteele09/go-oauth-session/sessions"
	"github.com/jrsteele09/go-oauth-session/sessions/redisstore"
)

const (
	appName             = "oauth session"
	maintenanceInterval = 24 * time.Hour
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("Recovered from panic: %v", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	settings := config.NewSettings()
	if err := settings.Load(config.GetEnv("SETTINGS_PREFIX", ""), nil); err != nil {
		return err
	}
	setupLogging(settings.GetEnv())
	displayAppname(appName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	if err := server.CheckConnectivity(ctx, httpClient, config.GetEnv("CONNECTIVITY_URL", server.DefaultConnectivityURL)); err != nil {
		return err
	}

	rdb, err := redisstore.Connect(ctx, settings.GetRedisURL())
	if err != nil {
		return err
	}
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store := redisstore.New(rdb, settings.GetCookieName(), redisstore.WithMetrics(m))
	manager := sessions.NewManager(store, sessions.DefaultCookieOptions(
		settings.GetCookieName(), settings.GetDomain(), settings.GetSessionMaxAge()))

	provider, err := identity.NewOIDCProvider(ctx, identity.OIDCConfig{
		ClientID:        settings.GetAppID(),
		ClientSecret:    settings.GetAppSecret(),
		Authority:       settings.GetAuthority(),
		SkipIssuerCheck: isMultiTenant(settings.GetAuthority()),
		SealTokenCache:  true,
		HTTPClient:      httpClient,
	})
	if err != nil {
		return err
	}
	factory := authsession.NewFactory(provider, httpClient)
	factory.Metrics = m
	defer factory.Close()

	srv, err := server.New(settings, server.Deps{Sessions: manager, Factory: factory, Metrics: m})
	if err != nil {
		return err
	}
	srv.RegisterRouteHandler("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	go maintainSessions(ctx, store, settings.GetSessionMaxAge())

	httpServer := &http.Server{Addr: settings.GetPort(), Handler: srv, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() { serveErr <- listenAndServe(httpServer) }()

	select {
	case err := <-serveErr:
		return err
	case <-waitForStopSignal():
	}
	cancel()
	return shutdown(httpServer)
}

// isMultiTenant reports whether the authority is a shared Entra ID endpoint,
// whose discovery document names a templated issuer.
func isMultiTenant(authority string) bool {
	for _, tenant := range []string{"/common", "/organizations", "/consumers"} {
		if strings.Contains(authority, tenant) {
			return true
		}
	}
	return false
}

// maintainSessions drops invalid and stale sessions at startup and then daily.
func maintainSessions(ctx context.Context, store *redisstore.Store, maxAge time.Duration) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		if _, err := store.RemoveInvalid(ctx); err != nil {
			log.Err(err).Msg("Failed to remove invalid sessions")
		}
		if _, err := store.Clean(ctx, redisstore.CleanOptions{MaxAge: maxAge}); err != nil {
			log.Err(err).Msg("Failed to clean sessions")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func setupLogging(env string) {
	if env == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func listenAndServe(server *http.Server) error {
	log.Info().Msgf("Server listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
