package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"famlocator.app/internal/account"
	"famlocator.app/internal/auth"
	"famlocator.app/internal/cache"
	"famlocator.app/internal/chat"
	"famlocator.app/internal/config"
	"famlocator.app/internal/httpapi"
	"famlocator.app/internal/ids"
	"famlocator.app/internal/mail"
	"famlocator.app/internal/members"
	"famlocator.app/internal/migrate"
	"famlocator.app/internal/obs"
	"famlocator.app/internal/settings"
	"famlocator.app/internal/store"
	"famlocator.app/internal/store/memory"
	"famlocator.app/internal/store/pg"
	"famlocator.app/internal/stream"
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
	os.Exit(finish(logger, run(cfg, logger)))
}

// finish logs a failed run and flushes the logger, returning the exit code.
func finish(logger *zap.Logger, err error) int {
	code := 0
	if err != nil {
		logger.Error("api stopped", zap.Error(err))
		code = 1
	}
	_ = logger.Sync()
	return code
}

func run(cfg *config.Config, logger *zap.Logger) error {
	obs.Init()
	obs.InitBuildInfo(cfg.Version, cfg.Commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := stream.New()
	var (
		publisher stream.Publisher = hub
		rdb       redis.UniversalClient
		dirOpts   []members.Option
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		bridge := stream.NewRedisBridge(hub, rdb)
		publisher = bridge
		go func() {
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("redis bridge stopped", zap.Error(err))
			}
		}()
		dirOpts = append(dirOpts, members.WithCache(cache.NewJSON[[]*store.Member](rdb, "famlocator:members", cfg.MemberCacheTTL)))
		logger.Info("redis enabled", zap.String("addr", cfg.RedisAddr))
	}

	var sender mail.Sender = mail.LogSender{LogBody: true}
	if cfg.SMTPEnabled() {
		sender = mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.SMTPFrom,
		})
	} else {
		logger.Warn("smtp not configured, verification emails are logged only")
	}

	site := settings.NewService(st)
	directory := members.NewService(st, dirOpts...)
	chats := chat.NewService(st, publisher)
	if err := chats.EnsureGroupChat(ctx); err != nil {
		return fmt.Errorf("ensure group chat: %w", err)
	}
	var accountOpts []account.Option
	if cfg.AdminEmail != "" {
		accountOpts = append(accountOpts, account.WithBootstrapAdmin(cfg.AdminEmail, cfg.AdminPassword))
	} else {
		logger.Warn("ADMIN_EMAIL not set, administrator setup is disabled")
	}
	accounts := account.NewService(st, directory, mail.NewDispatcher(sender, site), accountOpts...)

	secret := cfg.SessionSecret
	if secret == "" {
		if secret, err = ids.Token(32); err != nil {
			return err
		}
		logger.Warn("FAM_SESSION_SECRET not set, sessions will not survive a restart")
	}
	sessions, err := auth.NewSessions(secret, auth.WithSessionTTL(cfg.SessionTTL))
	if err != nil {
		return err
	}

	probe := httpapi.ReadyProbe{Store: st}
	if rdb != nil {
		probe.Redis = rdb
	}
	api := httpapi.New(httpapi.Options{
		Accounts:       accounts,
		Members:        directory,
		Chats:          chats,
		Settings:       site,
		Sessions:       sessions,
		Feed:           hub,
		Ready:          probe,
		Version:        cfg.Version,
		MapsAPIKey:     cfg.MapsAPIKey,
		CookieSecure:   cfg.CookieSecure,
		SetupTTL:       cfg.SetupTTL,
		CORSOrigins:    cfg.CORSOrigins,
		AuthRateBurst:  cfg.AuthRateBurst,
		AuthRatePerSec: cfg.AuthRateLimit,
		TrustedProxies: cfg.TrustedProxies,
	})

	// No WriteTimeout: live chat feeds are long-lived responses.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpc.NewServer(grpc.UnaryInterceptor(httpapi.UnaryLogging))
		httpapi.NewGRPCServer(probe).Register(grpcSrv)
		go func() {
			logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("stopped")
	return nil
}

// openStore returns PostgreSQL with migrations applied, or the in-memory
// store when no DSN is configured.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, func(), error) {
	if cfg.DatabaseDSN == "" {
		logger.Warn("no database configured, using the in-memory store")
		return memory.New(), func() {}, nil
	}
	pgStore, err := pg.Open(cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pgStore.Ping(pingCtx); err != nil {
		_ = pgStore.Close()
		return nil, nil, fmt.Errorf("ping db: %w", err)
	}
	mgr, err := migrate.NewManager(pgStore.DB())
	if err != nil {
		_ = pgStore.Close()
		return nil, nil, err
	}
	applied, err := mgr.Up(pingCtx)
	if err != nil {
		_ = pgStore.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	for _, line := range applied {
		logger.Info("migration applied", zap.String("migration", line))
	}
	return pgStore, func() { _ = pgStore.Close() }, nil
}
