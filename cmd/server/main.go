package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jason-s-yu/tabletop/internal/app"
	"github.com/jason-s-yu/tabletop/internal/auth"
	"github.com/jason-s-yu/tabletop/internal/config"
	"github.com/jason-s-yu/tabletop/internal/handlers"
	"github.com/jason-s-yu/tabletop/internal/matchmaking"
	"github.com/jason-s-yu/tabletop/internal/middleware"
	"github.com/jason-s-yu/tabletop/internal/rating"
	"github.com/jason-s-yu/tabletop/internal/reaper"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to open room store")
	}
	defer backend.Close()

	issuer, err := newIssuer(cfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to set up token signing")
	}

	if cfg.EmbeddedReaper {
		go reaper.New(backend.Rooms, cfg.ReaperInterval, cfg.InactivityTimeout, logger).Run(ctx)
	}

	api := handlers.NewAPI(backend.Rooms, matchmaking.NewService(backend.Rooms, logger), issuer, logger,
		handlers.WithSecureCookies(cfg.Production()),
		handlers.WithOriginPatterns(originHosts(cfg.AllowedOrigins)),
		handlers.WithRatings(rating.NewUpdater(backend.Ratings, logger)),
	)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))
	r.Use(middleware.LogMiddleware(logger))
	r.Mount("/", api.Routes())

	srv := &http.Server{Addr: cfg.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Infof("Running on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server exited")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("graceful shutdown failed")
	}
}

func newIssuer(cfg config.Config) (*auth.Issuer, error) {
	if cfg.KeyPath != "" && cfg.PublicKeyPath != "" {
		return auth.NewIssuerFromPath(cfg.KeyPath, cfg.PublicKeyPath, cfg.TokenExpiry)
	}
	return auth.NewIssuer(cfg.TokenExpiry)
}

// originHosts turns CORS origins into the host patterns the websocket upgrader matches.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}
