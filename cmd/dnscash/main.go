package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dnscash/internal/admin"
	"dnscash/internal/data"
	"dnscash/internal/log"
	"dnscash/internal/meta"
	"dnscash/internal/metrics"
	"dnscash/internal/network"
	"dnscash/internal/pool"
	"dnscash/internal/protocol"

	"github.com/getsentry/raven-go"
)

func main() {
	configPath := flag.String(
		"config",
		os.Getenv("DNSCASH_CONFIG"),
		"path to the configuration file on disk (.yaml or .toml)",
	)
	version := flag.Bool(
		"version",
		false,
		"print the compiled dnscash version SHA",
	)
	level := log.Error
	flag.Var(&level, "verbosity", "desired logging verbosity: one of error, warn, info, debug")
	port := flag.Int("port", 0, "UDP port to listen on, overriding listener.udp.addr")
	upstream := flag.String("upstream", "", "upstream resolver address as host:port")
	threadCount := flag.Int("tcount", 0, "explicit number of pool workers")
	ltpc := flag.Int("ltpc", 0, "logical threads per physical core, used to derive the pool size")
	multiplier := flag.Int("multiplier", 0, "workers per logical CPU, used to derive the pool size")
	affinity := flag.Bool("affinity", false, "pin each pool worker to a CPU core")
	capacity := flag.Int("capacity", 0, "maximum number of cached answers")
	ttlEviction := flag.Bool("ttl-eviction", true, "hide cached answers whose TTL has elapsed")
	flag.Parse()

	// Report the compiled version and exit
	if *version {
		fmt.Printf("dnscash/%s\n", meta.VersionSHA)
		return
	}

	// Parse application configuration
	config, err := meta.ParseConfig(*configPath)
	if err != nil {
		panic(err)
	}

	// Command-line flags take precedence over the file, but only when explicitly set
	var overrides meta.Overrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			overrides.Port = port
		case "upstream":
			overrides.Upstream = upstream
		case "tcount":
			overrides.PoolSize = threadCount
		case "ltpc":
			overrides.LogicalThreadsPerCore = ltpc
		case "multiplier":
			overrides.Multiplier = multiplier
		case "affinity":
			overrides.Affinity = affinity
		case "capacity":
			overrides.Capacity = capacity
		case "ttl-eviction":
			overrides.TTLEviction = ttlEviction
		}
	})

	if err := config.Apply(overrides); err != nil {
		panic(err)
	}

	// Logging configuration; default to log.Error verbosity
	var logger log.Logger
	if config.Application.Log.Format == "json" {
		zapLogger := log.NewZapLogger(level, log.ZapLoggerOpts{
			File:       config.Application.Log.File,
			MaxSizeMB:  config.Application.Log.MaxSizeMB,
			MaxBackups: config.Application.Log.MaxBackups,
			MaxAgeDays: config.Application.Log.MaxAgeDays,
		})
		defer zapLogger.Sync()

		logger = zapLogger
	} else {
		logger = log.NewConsoleLogger(level)
	}

	logger.Debug("main: initialized logger: level=%v config=%s", level, *configPath)

	// Configure error reporting
	if config.Application.SentryDSN != "" {
		raven.SetDSN(config.Application.SentryDSN)
		raven.SetRelease(meta.VersionSHA)
	}

	// Configure metrics reporting
	ioHook := metrics.NewNoopConnectionIOHook()
	proxyHook := metrics.NewNoopProxyHook()
	poolHook := metrics.NewNoopPoolHook()

	if statsd := config.Metrics.Statsd; statsd != nil {
		logger.Info(
			"main: configuring statsd metrics reporting: addr=%s sample_rate=%f",
			statsd.Address,
			statsd.SampleRate,
		)

		if ioHook, err = metrics.NewAsyncStatsdConnectionIOHook(
			statsd.Address,
			statsd.SampleRate,
			meta.VersionSHA,
		); err != nil {
			panic(err)
		}

		if proxyHook, err = metrics.NewAsyncStatsdProxyHook(
			statsd.Address,
			statsd.SampleRate,
			meta.VersionSHA,
		); err != nil {
			panic(err)
		}

		if poolHook, err = metrics.NewAsyncStatsdPoolHook(
			statsd.Address,
			statsd.SampleRate,
			meta.VersionSHA,
		); err != nil {
			panic(err)
		}
	} else {
		logger.Warn("main: no metrics output engine specified; disabling metrics")
	}

	// Shared state
	cache := data.NewTLRUCache(config.Cache.Capacity, config.Cache.TTLEviction, data.TLRUCacheOpts{})
	pending := data.NewPendingTable(data.PendingTableOpts{
		Timeout:  config.Upstream.PendingTimeout,
		Capacity: config.Upstream.MaxPending,
	})

	logger.Info(
		"main: configured cache: capacity=%d ttl_eviction=%t min_ttl=%v max_ttl=%v",
		config.Cache.Capacity,
		config.Cache.TTLEviction,
		config.Cache.MinTTL,
		config.Cache.MaxTTL,
	)

	// Bind the shared client and upstream socket
	server, err := network.NewUDPServer(
		config.Listener.UDP.Address,
		config.Upstream.Address,
		ioHook,
		proxyHook,
		logger,
		network.UDPServerOpts{},
	)
	if err != nil {
		panic(err)
	}

	if err := server.Listen(); err != nil {
		panic(err)
	}

	workers := pool.New(config.Pool.Size, poolHook, logger, pool.Opts{
		Multiplier:            config.Pool.Multiplier,
		LogicalThreadsPerCore: config.Pool.LogicalThreadsPerCore,
		Affinity:              config.Pool.Affinity,
	})

	h := &protocol.DNSCacheHandler{
		Transport: server,
		Cache:     cache,
		Pending:   pending,
		ProxyHook: proxyHook,
		Logger:    logger,
		Opts: protocol.DNSCacheOpts{
			MinTTL: config.Cache.MinTTL,
			MaxTTL: config.Cache.MaxTTL,
		},
	}

	// Optional administration API
	var adminServer *admin.Server
	if config.Listener.Admin != nil {
		adminServer = admin.NewServer(config.Listener.Admin.Address, cache, pending, workers, logger)

		go func() {
			if err := adminServer.ListenAndServe(); err != nil {
				panic(err)
			}
		}()
	}

	// Serve until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(
		"main: serving: addr=%s upstream=%s workers=%d",
		server.LocalAddr(),
		server.UpstreamAddr(),
		workers.Size(),
	)

	if err := server.Serve(ctx, h, workers); err != nil {
		panic(err)
	}

	logger.Info("main: shutting down")

	if adminServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("main: error stopping admin server: err=%v", err)
		}
		cancel()
	}

	discarded := workers.Shutdown()
	logger.Info("main: stopped: discarded_tasks=%d", discarded)
}
