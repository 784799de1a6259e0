package serverrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	cfgpkg "github.com/rzbill/roomledger/internal/config"
	"github.com/rzbill/roomledger/internal/ledger"
	"github.com/rzbill/roomledger/internal/metrics"
	"github.com/rzbill/roomledger/internal/runtime"
	grpcserver "github.com/rzbill/roomledger/internal/server/grpc"
	httpserver "github.com/rzbill/roomledger/internal/server/http"
	"github.com/rzbill/roomledger/internal/telemetry"
	logpkg "github.com/rzbill/roomledger/pkg/log"
)

// Seed sets the capacity of one room on one date before consumption starts.
type Seed struct {
	RoomID   string
	Date     time.Time
	Capacity int
}

// ParseSeed parses "room:YYYY-MM-DD:capacity".
func ParseSeed(s string) (Seed, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Seed{}, fmt.Errorf("invalid seed %q; use room:YYYY-MM-DD:capacity", s)
	}
	d, err := ledger.ParseDate(parts[1])
	if err != nil {
		return Seed{}, fmt.Errorf("invalid seed %q: %w", s, err)
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil || n < 0 {
		return Seed{}, fmt.Errorf("invalid seed %q: capacity must be a non-negative integer", s)
	}
	if strings.TrimSpace(parts[0]) == "" {
		return Seed{}, fmt.Errorf("invalid seed %q: room is required", s)
	}
	return Seed{RoomID: strings.TrimSpace(parts[0]), Date: d, Capacity: n}, nil
}

type Options struct {
	Config cfgpkg.Config
	// ConfigPath is watched for changes when set; only the log level is
	// applied without a restart.
	ConfigPath string
	Seeds      []Seed
}

// Run opens the runtime, starts the consumer, the retention sweeper and the
// gRPC and HTTP servers, and blocks until ctx is cancelled. An empty server
// address disables that server.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = cfgpkg.DefaultDataDir()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	procLogger, err := logpkg.ApplyConfig(&cfg.Log)
	if err != nil {
		return err
	}
	logpkg.RedirectStdLog(procLogger)

	shutdownTracing, err := telemetry.Setup(sctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			procLogger.Warn("tracing shutdown", logpkg.Err(err))
		}
	}()

	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: procLogger, Metrics: metrics.New()})
	if err != nil {
		return err
	}
	defer rt.Close()

	for _, s := range opts.Seeds {
		if err := ledger.SeedCapacity(sctx, rt.Ledger(), s.RoomID, s.Date, s.Capacity, cfg.Reconcile.MaxAttempts); err != nil {
			return fmt.Errorf("seed %s %s: %w", s.RoomID, ledger.FormatDate(s.Date), err)
		}
	}

	cons, closeSource, err := rt.NewConsumer()
	if err != nil {
		return err
	}
	defer closeSource()

	procLogger.Info("Starting RoomLedger server",
		logpkg.Str("grpc", cfg.GRPC.Addr),
		logpkg.Str("http", cfg.HTTP.Addr),
		logpkg.Str("data_dir", cfg.Storage.DataDir),
		logpkg.Str("ledger", cfg.Storage.Backend),
		logpkg.Str("stream", cfg.Stream.Backend),
		logpkg.Str("group", rt.Engine().Group()),
		logpkg.Str("consumer", cons.Name()),
		logpkg.Int("seeds", len(opts.Seeds)),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := cons.Run(sctx); err != nil && sctx.Err() == nil {
			procLogger.Error("consumer stopped", logpkg.Err(err))
			stop()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		rt.NewSweeper().Run(sctx)
	}()

	var gsrv *grpcserver.Server
	if cfg.GRPC.Addr != "" {
		gsrv = grpcserver.New(rt)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := gsrv.ListenAndServe(sctx, cfg.GRPC.Addr); err != nil && sctx.Err() == nil {
				procLogger.Error("grpc error", logpkg.Err(err))
				stop()
			}
		}()
	}

	var hsrv *httpserver.Server
	if cfg.HTTP.Addr != "" {
		hsrv = httpserver.New(rt, procLogger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hsrv.ListenAndServe(sctx, cfg.HTTP.Addr); err != nil && sctx.Err() == nil {
				procLogger.Error("http error", logpkg.Err(err))
				stop()
			}
		}()
	}

	if opts.ConfigPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := cfgpkg.Watch(sctx, opts.ConfigPath, func(next cfgpkg.Config) {
				applyLogLevel(procLogger, next.Log.Level)
			}, func(err error) {
				procLogger.Warn("config reload failed", logpkg.Err(err))
			})
			if err != nil {
				procLogger.Warn("config watch disabled", logpkg.Err(err))
			}
		}()
	}

	<-sctx.Done()
	// Stop servers before the runtime closes the DB underneath them.
	if gsrv != nil {
		gsrv.Close()
	}
	if hsrv != nil {
		hsrv.Close()
	}
	wg.Wait()
	procLogger.Info("RoomLedger server stopped")
	return nil
}

func applyLogLevel(logger logpkg.Logger, level string) {
	lvl, err := logpkg.ParseLevel(level)
	if err != nil {
		logger.Warn("ignoring log level", logpkg.Str("level", level), logpkg.Err(err))
		return
	}
	if lvl != logger.GetLevel() {
		logger.SetLevel(lvl)
		logger.Info("log level changed", logpkg.Str("level", lvl.String()))
	}
}
