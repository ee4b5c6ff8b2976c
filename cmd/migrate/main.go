package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ma496/EasyForNet-sub002/internal/migrate"
	"github.com/ma496/EasyForNet-sub002/internal/obs"
	"github.com/ma496/EasyForNet-sub002/internal/store/pg"
)

func main() {
	logger := obs.Logger()
	var (
		dsn     = flag.String("dsn", os.Getenv("EASYFORNET_DATABASE_DSN"), "PostgreSQL DSN")
		dir     = flag.String("dir", "", "Directory of *.up.sql/*.down.sql files (default: embedded schema)")
		timeout = flag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	flag.Parse()

	if *dsn == "" {
		logger.Fatal("missing DSN: provide via -dsn or EASYFORNET_DATABASE_DSN")
	}
	if len(flag.Args()) == 0 {
		logger.Fatal("usage: migrate [up|down|status|pending]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn, pg.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		logger.WithError(err).Fatal("open db")
	}
	defer store.Close()

	files := migrate.Embedded()
	if *dir != "" {
		files = os.DirFS(*dir)
	}
	mgr := migrate.NewManager(store.DB(), files)

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		for _, name := range applied {
			logger.WithField("migration", name).Info("applied")
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil {
			logger.WithField("migration", name).Info("rolled back")
		}
	case "status", "pending":
		var names []string
		if cmd == "status" {
			names, err = mgr.Status(ctx)
		} else {
			names, err = mgr.Pending(ctx)
		}
		for _, name := range names {
			fmt.Println(name)
		}
	default:
		logger.Fatalf("unknown command %q", cmd)
	}
	if err != nil {
		logger.WithError(err).Fatalf("migrate %s", cmd)
	}
}
