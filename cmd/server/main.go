package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pulsecare/pulsecare/internal/accounts"
	"github.com/pulsecare/pulsecare/internal/api"
	"github.com/pulsecare/pulsecare/internal/app"
	"github.com/pulsecare/pulsecare/internal/app/maintenance"
	iauth "github.com/pulsecare/pulsecare/internal/auth"
	"github.com/pulsecare/pulsecare/internal/database"
	"github.com/pulsecare/pulsecare/internal/middleware"
	"github.com/pulsecare/pulsecare/internal/registration"
	"github.com/pulsecare/pulsecare/internal/verification"
	"github.com/pulsecare/pulsecare/pkg/logger"
	"github.com/pulsecare/pulsecare/pkg/mail"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("pulsecare-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	var redisClient *redis.Client
	if cfg.Cache.Redis.Enabled {
		client := redis.NewClient(cfg.Cache.RedisOptions())
		if pingErr := client.Ping(ctx).Err(); pingErr != nil {
			log.Warn("redis unavailable; falling back to database-backed code storage", zap.Error(pingErr))
			_ = client.Close()
		} else {
			redisClient = client
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}
	defer func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}()

	var codeStore verification.CodeStore
	if redisClient != nil {
		codeStore, err = verification.NewRedisStore(redisClient)
	} else {
		codeStore, err = verification.NewSQLStore(db)
	}
	if err != nil {
		return fmt.Errorf("initialise code store: %w", err)
	}

	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return fmt.Errorf("initialise mailer: %w", err)
	}
	if !cfg.Email.SMTP.Enabled {
		log.Warn("smtp delivery disabled; verification codes will not reach mailboxes")
	}

	codes, err := verification.NewService(codeStore, mailer,
		verification.WithTTL(cfg.Verification.CodeTTL),
		verification.WithCodeWidth(cfg.Verification.CodeWidth),
	)
	if err != nil {
		return fmt.Errorf("initialise verification service: %w", err)
	}

	staging, err := registration.NewStore(db)
	if err != nil {
		return fmt.Errorf("initialise registration store: %w", err)
	}

	accountStore, err := accounts.NewGormStore(db)
	if err != nil {
		return fmt.Errorf("initialise account store: %w", err)
	}

	sessions, err := iauth.NewSessionController(codes, staging, accountStore, iauth.Config{})
	if err != nil {
		return fmt.Errorf("initialise session controller: %w", err)
	}

	var sweeper *maintenance.Sweeper
	if cfg.Maintenance.Enabled {
		sweeper = maintenance.NewSweeper(db, staging,
			maintenance.WithSchedule(cfg.Maintenance.Schedule),
			maintenance.WithPendingRetention(cfg.Maintenance.PendingRetention),
		)
		if err := sweeper.Start(); err != nil {
			return fmt.Errorf("start maintenance sweep: %w", err)
		}
		defer func() {
			stopCtx := sweeper.Stop()
			if err := sweeper.RunOnce(stopCtx); err != nil {
				log.Warn("maintenance shutdown sweep failed", zap.Error(err))
			}
		}()
	}

	var rateStore middleware.RateStore
	if cfg.RateLimit.Enabled {
		if redisClient != nil {
			rateStore = middleware.NewRedisRateStore(redisClient)
		} else {
			rateStore = middleware.NewMemoryRateStore()
		}
	}

	router, err := api.NewRouter(db, sessions, cfg, rateStore)
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	db, err := database.Open(cfg.Database.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(cfg.Database.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
