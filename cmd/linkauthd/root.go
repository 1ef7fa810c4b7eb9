package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	goLinkAuth "github.com/MrEthical07/goLinkAuth"
	"github.com/MrEthical07/goLinkAuth/directory"
	"github.com/MrEthical07/goLinkAuth/internal/sqlstore"
)

type globalOptions struct {
	configPath string
	logLevel   string
	dev        bool
}

// daemonConfig is the process-level part of the config file, read from the
// "daemon" section.
type daemonConfig struct {
	Listen          string
	DatabaseDriver  string
	DatabaseDSN     string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	DirectoryFile   string
	SweepInterval   time.Duration
	ShutdownTimeout time.Duration
	PersistAudit    bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "linkauthd",
		Short:         "Magic-link and TOTP login daemon",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.PersistentFlags().BoolVar(&opts.dev, "dev", false, "use an embedded Redis and an in-memory SQLite store")

	cmd.AddCommand(
		newServeCmd(opts),
		newSweepCmd(opts),
		newMigrateCmd(opts),
		newOverrideCmd(opts),
		newReportCmd(opts),
		newHashPasswordCmd(opts),
	)
	return cmd
}

func loadDaemonConfig(path string, dev bool) (daemonConfig, error) {
	v := viper.New()
	v.SetDefault("daemon.listen", ":8080")
	v.SetDefault("daemon.databasedriver", sqlstore.DriverSQLite)
	v.SetDefault("daemon.databasedsn", "linkauth.db")
	v.SetDefault("daemon.redisaddr", "127.0.0.1:6379")
	v.SetDefault("daemon.redispassword", "")
	v.SetDefault("daemon.redisdb", 0)
	v.SetDefault("daemon.directoryfile", "principals.toml")
	v.SetDefault("daemon.sweepinterval", "10m")
	v.SetDefault("daemon.shutdowntimeout", "15s")
	v.SetDefault("daemon.persistaudit", true)

	v.SetEnvPrefix(goLinkAuth.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return daemonConfig{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var out struct{ Daemon daemonConfig }
	if err := v.Unmarshal(&out); err != nil {
		return daemonConfig{}, fmt.Errorf("decode daemon config: %w", err)
	}
	if dev {
		out.Daemon.DatabaseDriver = sqlstore.DriverSQLite
		out.Daemon.DatabaseDSN = ":memory:"
	}
	return out.Daemon, nil
}

func newLogger(level string, dev bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func openStore(ctx context.Context, dc daemonConfig, migrateUp bool) (*sqlstore.Store, error) {
	store, err := sqlstore.Open(dc.DatabaseDriver, dc.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if migrateUp {
		if err := store.MigrateUp(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return store, nil
}

// stack is everything an Engine needs, plus the handles to release.
type stack struct {
	logger  *zap.Logger
	config  goLinkAuth.Config
	daemon  daemonConfig
	store   *sqlstore.Store
	redis   redis.UniversalClient
	mini    *miniredis.Miniredis
	dir     *directory.Static
	engine  *goLinkAuth.Engine
	closers []func()
}

func (r *stack) Close() {
	if r.engine != nil {
		r.engine.Close()
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	_ = r.logger.Sync()
}

func buildStack(ctx context.Context, opts *globalOptions) (*stack, error) {
	logger, err := newLogger(opts.logLevel, opts.dev)
	if err != nil {
		return nil, err
	}
	rt := &stack{logger: logger}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	if rt.config, err = goLinkAuth.LoadConfig(opts.configPath); err != nil {
		return nil, err
	}
	if rt.daemon, err = loadDaemonConfig(opts.configPath, opts.dev); err != nil {
		return nil, err
	}

	if rt.store, err = openStore(ctx, rt.daemon, true); err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() { _ = rt.store.Close() })

	addr := rt.daemon.RedisAddr
	if opts.dev {
		rt.mini, err = miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start embedded redis: %w", err)
		}
		rt.closers = append(rt.closers, rt.mini.Close)
		addr = rt.mini.Addr()
		logger.Warn("using embedded redis; state is lost on exit", zap.String("addr", addr))
	}
	rt.redis = redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: rt.daemon.RedisPassword,
		DB:       rt.daemon.RedisDB,
	})
	rt.closers = append(rt.closers, func() { _ = rt.redis.Close() })

	if rt.dir, err = directory.LoadFile(rt.daemon.DirectoryFile); err != nil {
		return nil, err
	}
	logger.Info("directory loaded", zap.String("file", rt.daemon.DirectoryFile), zap.Int("principals", rt.dir.Len()))

	var sink goLinkAuth.AuditSink = goLinkAuth.NewZapSink(logger)
	if rt.daemon.PersistAudit {
		sink = goLinkAuth.MultiSink{sink, goLinkAuth.NewSQLSink(rt.store, logger)}
	}

	rt.engine, err = goLinkAuth.New().
		WithConfig(rt.config).
		WithRedis(rt.redis).
		WithStore(rt.store).
		WithDirectory(rt.dir).
		WithDeliverer(directory.NewLogDeliverer(logger)).
		WithAuditSink(sink).
		WithLogger(logger).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	ok = true
	return rt, nil
}
