// Command cleanup runs the expired-session and expired-token sweeps once,
// for deployments that schedule it externally.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/ma496/EasyForNet-sub002/internal/auth"
	"github.com/ma496/EasyForNet-sub002/internal/config"
	"github.com/ma496/EasyForNet-sub002/internal/jobs"
	"github.com/ma496/EasyForNet-sub002/internal/obs"
	"github.com/ma496/EasyForNet-sub002/internal/store/pg"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall timeout")
	flag.Parse()

	logger := obs.Logger()
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("load config")
	}
	obs.SetLevel(cfg.Log.Level)
	if cfg.Database.DSN == "" {
		logger.Fatal("database.dsn is required")
	}

	store, err := pg.Open(cfg.Database.DSN, pg.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		logger.WithError(err).Fatal("open db")
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cleaner := auth.NewCleaner(store, time.Now)
	if err := jobs.RunOnce(ctx, logger, jobs.CleanupJobs(cleaner)); err != nil {
		logger.WithError(err).Fatal("cleanup failed")
	}
}
