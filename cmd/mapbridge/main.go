// Command mapbridge serves a tile cache configuration over HTTP, on TCP or on
// AF_VSOCK when running inside a microVM guest.
package main

import (
	"context"
	"log"
	"net"
	"os"
	"time"

	"github.com/mdlayher/vsock"
	"github.com/spf13/pflag"

	"github.com/seantiz/mapbridge/internal/api"
	"github.com/seantiz/mapbridge/internal/config"
	"github.com/seantiz/mapbridge/internal/engine"
	"github.com/seantiz/mapbridge/internal/loop"
	"github.com/seantiz/mapbridge/internal/pool"
	"github.com/seantiz/mapbridge/internal/process"
	"github.com/seantiz/mapbridge/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}

	flags := pflag.NewFlagSet("mapbridge", pflag.ExitOnError)
	flags.StringVarP(&cfg.ConfigFile, "config", "c", cfg.ConfigFile, "tile cache XML configuration file")
	flags.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "TCP listen address")
	flags.StringVar(&cfg.DBPath, "db", cfg.DBPath, "job history database path")
	flags.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "public URL advertised in capabilities documents")
	flags.IntVar(&cfg.MaxWorkers, "max-workers", cfg.MaxWorkers, "maximum concurrent jobs (0 for unbounded)")
	flags.Int64Var(&cfg.PoolMaxBytes, "pool-max-bytes", cfg.PoolMaxBytes, "memory budget for request pools (0 for unlimited)")
	flags.Uint32Var(&cfg.VsockPort, "vsock-port", cfg.VsockPort, "listen on this AF_VSOCK port instead of TCP")
	logLevel := flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Parse(os.Args[1:])
	if *logLevel != "" {
		cfg.LogLevel = config.ParseLogLevel(*logLevel)
	}

	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("mapbridge: starting",
		"config_file", cfg.ConfigFile,
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"vsock_port", cfg.VsockPort,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	recorder := engine.NewRecorder(db, logger)
	defer recorder.Close()

	state := process.New(process.WithPoolOptions(pool.WithMaxBytes(cfg.PoolMaxBytes)))
	defer state.Teardown()

	l := loop.New(loop.WithMaxWorkers(cfg.MaxWorkers))
	eng := engine.New(l,
		engine.WithState(state),
		engine.WithLogger(logger),
		engine.WithRecorder(recorder),
	)

	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		l.Run(ctx)
	}()

	cache, err := loadCache(eng, cfg.ConfigFile)
	if err != nil {
		cancel()
		<-loopDone
		log.Fatalf("load %s: %v", cfg.ConfigFile, err)
	}

	var ln net.Listener
	if cfg.VsockPort != 0 {
		ln, err = vsock.Listen(cfg.VsockPort, nil)
		if err != nil {
			log.Fatalf("vsock listen on port %d: %v", cfg.VsockPort, err)
		}
	}

	srv := api.NewServer(cfg.ListenAddr, db, eng, cache, logger, api.WithBaseURL(cfg.BaseURL))
	runErr := srv.Run(ln)

	released := make(chan struct{})
	l.Post(func() {
		cache.Release()
		close(released)
	})
	<-released
	cancel()
	<-loopDone

	// The main goroutine owns the loop from here on.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := l.Shutdown(drainCtx); err != nil {
		logger.Warn("loop shutdown incomplete", "error", err)
	}
	drainCancel()
	eng.Broker().Close(cache.Name())

	if runErr != nil {
		log.Fatalf("server error: %v", runErr)
	}
}

// loadCache loads path on the engine loop and waits for the result.
func loadCache(eng *engine.Engine, path string) (*engine.Cache, error) {
	type result struct {
		cache *engine.Cache
		err   error
	}
	done := make(chan result, 1)
	eng.Loop().Post(func() {
		target := engine.MultiTarget(
			engine.BrokerTarget(eng.Broker(), path),
			engine.SlogTarget(eng.Logger()),
		)
		_, err := eng.FromConfigFile(path, target, func(err error, c *engine.Cache) {
			done <- result{cache: c, err: err}
		})
		if err != nil {
			done <- result{err: err}
		}
	})
	res := <-done
	return res.cache, res.err
}
