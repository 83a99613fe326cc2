package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/go-relay/internal/api"
	"github.com/npezzotti/go-relay/internal/config"
	"github.com/npezzotti/go-relay/internal/database"
	"github.com/npezzotti/go-relay/internal/logging"
	"github.com/npezzotti/go-relay/internal/pubsub"
	"github.com/npezzotti/go-relay/internal/server"
	"github.com/npezzotti/go-relay/internal/stats"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var _ server.Publisher = (*pubsub.RedisPublisher)(nil)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	configPath     string
	addr           string
	storeDriver    string
	dsn            string
	redisAddr      string
	signingKey     string
	logEnv         string
	logLevel       string
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.StringVar(&addr, "addr", "", "server address")
	flag.StringVar(&storeDriver, "store-driver", "", "message store: sqlite, postgres or memory")
	flag.StringVar(&dsn, "dsn", "", "message store connection string or sqlite path")
	flag.StringVar(&redisAddr, "redis-addr", "", "redis address for the event mirror")
	flag.StringVar(&signingKey, "signing-key", "", "base64 encoded admin token signing key")
	flag.StringVar(&logEnv, "log-env", "", "log format: dev or prod")
	flag.StringVar(&logLevel, "log-level", "", "log level")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Env, cfg.Log.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Errorf("%v", err)
		logger.Sync()
		os.Exit(1)
	}
}

// loadConfig layers defaults, the config file, the environment (including
// .env) and finally explicitly set flags.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := config.Default()
	if configPath != "" {
		if err := config.LoadFile(configPath, cfg); err != nil {
			return nil, err
		}
	}

	if err := config.ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.HTTP.Addr = addr
		case "store-driver":
			cfg.Store.Driver = storeDriver
		case "dsn":
			cfg.Store.DSN = dsn
		case "redis-addr":
			cfg.Redis.Addr = redisAddr
		case "signing-key":
			cfg.Admin.SigningSecret = signingKey
		case "log-env":
			cfg.Log.Env = logEnv
		case "log-level":
			cfg.Log.Level = logLevel
		case "allowed-origins":
			cfg.HTTP.AllowedOrigins = allowedOrigins
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (database.MessageStore, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		return database.NewPgMessageStore(cfg.Store.DSN)
	case config.DriverMemory:
		return database.NewMemoryMessageStore(), nil
	default:
		return database.NewSqliteMessageStore(cfg.Store.DSN)
	}
}

func run(cfg *config.Config, logger *zap.SugaredLogger) error {
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Errorf("store close: %v", err)
		}
	}()

	opts := server.Options{
		IdleRoomTimeout:       cfg.Relay.IdleRoomTimeout,
		PersistSystemMessages: cfg.Relay.PersistSystemMessages,
		ClientBuffer:          cfg.Relay.ClientBuffer,
	}

	if cfg.Redis.Addr != "" {
		pub, err := pubsub.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer pub.Close()

		opts.Publisher = pub
		logger.Infof("mirroring room events to redis at %s", cfg.Redis.Addr)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	chatServer := server.NewChatServer(logger, store, statsUpdater, opts)
	srv := api.NewRelayApp(mux, logger, chatServer, cfg)

	if len(cfg.SigningKey) == 0 {
		logger.Warn("no admin signing key configured, admin routes are open")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigs:
		logger.Infof("received signal: %s", sig)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server: %w", err)
		}
	}

	shutDownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Errorf("HTTP server shutdown: %v", err)
	}

	logger.Info("shutting down chat server")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		return fmt.Errorf("chat server shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return serveErr
}
