package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"famlocator.app/internal/config"
	"famlocator.app/internal/migrate"
	"famlocator.app/internal/obs"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := obs.InitLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	err = run(cfg)
	if err != nil {
		logger.Error("migrate failed", zap.Strings("args", cfg.Args), zap.Error(err))
	}
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if cfg.DatabaseDSN == "" {
		return errors.New("missing DSN: provide via -dsn or FAM_DATABASE_DSN")
	}
	args := cfg.Args
	if len(args) == 0 {
		return errors.New("usage: migrate [flags] up|down|status")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	mgr, err := migrate.NewManager(db)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}

	var lines []string
	switch args[0] {
	case "up":
		lines, err = mgr.Up(ctx)
	case "down":
		var line string
		line, err = mgr.Down(ctx)
		lines = []string{line}
	case "status":
		lines, err = mgr.Status(ctx)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return err
}
