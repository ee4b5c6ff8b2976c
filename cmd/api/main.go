package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ma496/EasyForNet-sub002/internal/auth"
	"github.com/ma496/EasyForNet-sub002/internal/config"
	"github.com/ma496/EasyForNet-sub002/internal/grpcapi"
	"github.com/ma496/EasyForNet-sub002/internal/httpapi"
	"github.com/ma496/EasyForNet-sub002/internal/jobs"
	"github.com/ma496/EasyForNet-sub002/internal/migrate"
	"github.com/ma496/EasyForNet-sub002/internal/notify"
	"github.com/ma496/EasyForNet-sub002/internal/obs"
	"github.com/ma496/EasyForNet-sub002/internal/store/memory"
	"github.com/ma496/EasyForNet-sub002/internal/store/pg"
)

func main() {
	configPath := flag.String("config", os.Getenv("EASYFORNET_CONFIG"), "Path to YAML config file")
	inMemory := flag.Bool("memory", false, "Use the in-memory store instead of PostgreSQL")
	flag.Parse()

	logger := obs.Logger()
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("load config")
	}
	obs.SetLevel(cfg.Log.Level)
	obs.Init()
	obs.InitBuildInfo(obs.Version, obs.Commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, db, err := openStore(ctx, cfg, *inMemory)
	if err != nil {
		logger.WithError(err).Fatal("open store")
	}
	if db != nil {
		defer db.Close()
	}

	catalog := auth.DefaultCatalog()
	diff, err := auth.ReconcilePermissions(ctx, catalog, store.Permissions())
	if err != nil {
		logger.WithError(err).Fatal("reconcile permissions")
	}
	if !diff.Empty() {
		logger.WithFields(logrus.Fields{
			"added":   len(diff.Missing),
			"renamed": len(diff.Drifted),
		}).Info("permissions reconciled")
	}

	seedCfg := auth.SeedConfig{
		AdminUsername: cfg.Seed.AdminUsername,
		AdminEmail:    cfg.Seed.AdminEmail,
		AdminPassword: cfg.Seed.AdminPassword,
	}
	if seedCfg.AdminPassword == "" {
		seedCfg.AdminPassword = randomPassword()
	}
	seeded, err := auth.NewSeeder(store, catalog, seedCfg).Seed(ctx)
	if err != nil {
		logger.WithError(err).Fatal("seed")
	}
	if seeded.CreatedAdmin {
		entry := logger.WithField("username", seeded.Admin.Username)
		if cfg.Seed.AdminPassword == "" {
			entry = entry.WithField("password", seedCfg.AdminPassword)
		}
		entry.Warn("default administrator created")
	}

	signer, err := auth.NewTokenSigner(cfg.Auth.JWTSecret, auth.WithSignerIssuer(cfg.Auth.Issuer))
	if err != nil {
		logger.WithError(err).Fatal("token signer")
	}
	creds, err := auth.NewCredentialIssuer(store.AuthTokens(), signer,
		auth.WithAccessTTL(cfg.Auth.AccessTTL()),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL()),
	)
	if err != nil {
		logger.WithError(err).Fatal("credential issuer")
	}

	sender, err := mailSender(ctx, cfg.Mail, logger)
	if err != nil {
		logger.WithError(err).Fatal("mail sender")
	}
	accounts, err := auth.NewService(store, signer, creds,
		auth.WithTokenTTL(cfg.Auth.TokenTTL()),
		auth.WithNotifier(notify.NewMailer(sender, cfg.App.BaseURL)),
		auth.WithRequireVerifiedEmail(cfg.Auth.RequireVerifiedEmail),
	)
	if err != nil {
		logger.WithError(err).Fatal("account service")
	}
	rbac, err := auth.NewRBACService(store, catalog, auth.WithSessionRevoker(creds))
	if err != nil {
		logger.WithError(err).Fatal("rbac service")
	}

	scheduler := jobs.NewScheduler(logger)
	if cfg.Cleanup.Enabled {
		if err := scheduler.Add(cfg.Cleanup.Schedule, jobs.CleanupJobs(auth.NewCleaner(store, time.Now))...); err != nil {
			logger.WithError(err).Fatal("schedule cleanup")
		}
		scheduler.Start()
	}

	probe := httpapi.ReadyProbe{DB: db}
	api := httpapi.New(probe, obs.Version, accounts, rbac,
		httpapi.WithAllowedOrigins(cfg.HTTP.AllowedOrigins),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
		httpapi.WithRateLimit(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst),
		httpapi.WithTrustedProxies(cfg.HTTP.TrustedProxyPrefixes()),
	)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := grpcapi.New(probe, grpcapi.WithLogger(logger))
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		logger.WithError(err).Fatal("grpc listen")
	}
	go health.Watch(ctx)
	go func() {
		if err := health.GRPC().Serve(lis); err != nil {
			logger.WithError(err).Error("grpc serve")
			stop()
		}
	}()

	go func() {
		logger.WithFields(logrus.Fields{
			"version": obs.Version,
			"http":    cfg.HTTP.Addr,
			"grpc":    cfg.GRPC.Addr,
		}).Info("starting easyfornet-identity")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("http listen")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
	health.Stop()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("scheduler shutdown")
	}
	logger.Info("stopped")
}

// openStore returns the configured store. db is nil for the in-memory store.
func openStore(ctx context.Context, cfg config.Config, inMemory bool) (auth.Store, *sql.DB, error) {
	if inMemory || cfg.Database.DSN == "" {
		obs.Logger().Warn("using in-memory store; data is lost on exit")
		return memory.New(), nil, nil
	}
	store, err := pg.Open(cfg.Database.DSN, pg.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime(),
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime(),
	})
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.MigrateOnStart {
		applied, err := migrate.NewManager(store.DB(), migrate.Embedded()).Up(ctx)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		for _, name := range applied {
			obs.Logger().WithField("migration", name).Info("applied")
		}
	}
	return store, store.DB(), nil
}

func mailSender(ctx context.Context, cfg config.MailConfig, logger logrus.FieldLogger) (notify.Sender, error) {
	if cfg.Driver == "ses" {
		return notify.NewSESSender(ctx, cfg.Region, cfg.From)
	}
	return notify.LogSender{Logger: logger}, nil
}

func randomPassword() string {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
