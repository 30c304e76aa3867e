package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/medisecure/clinic/internal/config"
	"github.com/medisecure/clinic/internal/domain/identity"
	"github.com/medisecure/clinic/internal/domain/scheduling"
	"github.com/medisecure/clinic/internal/platform/auth"
	"github.com/medisecure/clinic/internal/platform/db"
	"github.com/medisecure/clinic/internal/platform/jobs"
	"github.com/medisecure/clinic/internal/platform/middleware"
	"github.com/medisecure/clinic/internal/platform/telemetry"
)

// routerDeps is everything the HTTP surface needs, built by runServer and
// by tests.
type routerDeps struct {
	Config      *config.Config
	Logger      zerolog.Logger
	DB          db.Pinger
	JWT         auth.JWTConfig
	Identity    *identity.Service
	Scheduling  *scheduling.Service
	Revocations *auth.TokenRevocationStore
}

func newRouter(d routerDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(d.Logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(d.Logger))
	e.Use(telemetry.Middleware(telemetry.HTTPConfig{}))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: d.Config.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: d.Config.RateLimitRPS,
		BurstSize:         d.Config.RateLimitBurst,
		ExpiresIn:         3 * time.Minute,
	}))
	e.Use(echomw.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(d.Config.RequestTimeoutDuration()))

	jwtCfg := d.JWT
	jwtCfg.Skipper = auth.AuthSkipper
	jwtCfg.Revocations = d.Revocations
	e.Use(auth.JWTMiddleware(jwtCfg))
	e.Use(middleware.Audit(d.Logger, nil))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(d.DB))

	api := e.Group("/api/v1")
	auth.RegisterSessionRoutes(api, d.Revocations)
	identity.NewHandler(d.Identity).RegisterRoutes(api)
	scheduling.NewHandler(d.Scheduling).RegisterRoutes(api)

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx := context.Background()

	tel, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  cfg.OTelServiceName,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRatio:  cfg.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	events := newPublisher(cfg, logger)
	defer events.Close()

	jwtCfg := auth.JWTConfig{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer, TTL: cfg.JWTTTL()}
	issuer, err := auth.NewIssuer(jwtCfg)
	if err != nil {
		return err
	}
	revocations := auth.NewTokenRevocationStore(5 * time.Minute)
	defer revocations.Close()

	patients := identity.NewPatientRepoPG(pool)
	identitySvc := identity.NewService(patients, identity.NewUserRepoPG(pool), issuer, events, logger, nil)
	schedulingSvc := scheduling.NewService(patients, scheduling.NewAppointmentRepoPG(pool), events, logger, schedulingConfig(cfg))

	sched := jobs.NewScheduler(logger, time.Minute)
	if err := sched.AddMissedSweep(cfg.MissedSweepSchedule, schedulingSvc); err != nil {
		return err
	}
	sched.Start()

	e := newRouter(routerDeps{
		Config:      cfg,
		Logger:      logger,
		DB:          pool,
		JWT:         jwtCfg,
		Identity:    identitySvc,
		Scheduling:  schedulingSvc,
		Revocations: revocations,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sched.Stop(shutdownCtx)
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("telemetry shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
