package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/l1jgo/phasetrack/internal/config"
	"github.com/l1jgo/phasetrack/internal/core/cause"
	"github.com/l1jgo/phasetrack/internal/core/event"
	"github.com/l1jgo/phasetrack/internal/core/phase"
	"github.com/l1jgo/phasetrack/internal/core/pipeline"
	coresys "github.com/l1jgo/phasetrack/internal/core/system"
	"github.com/l1jgo/phasetrack/internal/core/tracker"
	"github.com/l1jgo/phasetrack/internal/data"
	"github.com/l1jgo/phasetrack/internal/handler"
	gonet "github.com/l1jgo/phasetrack/internal/net"
	"github.com/l1jgo/phasetrack/internal/net/packet"
	"github.com/l1jgo/phasetrack/internal/persist"
	"github.com/l1jgo/phasetrack/internal/scripting"
	"github.com/l1jgo/phasetrack/internal/system"
	"github.com/l1jgo/phasetrack/internal/world"
)

func main() {
	if len(os.Args) > 2 && os.Args[1] == "hash-password" {
		hash, err := handler.HashPassword(os.Args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string, serverID int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m            phasetrack  v0.1.0             \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m     causal phase tracking world server    \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mserver:\033[0m %s \033[90m(id: %d)\033[0m\n\n", serverName, serverID)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

// simTick is the cause participant of one simulation tick.
type simTick uint64

func (t simTick) String() string { return fmt.Sprintf("tick#%d", uint64(t)) }

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("PHASETRACK_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.ID)

	// 3. Data tables
	printSection("data")

	palette, err := data.LoadPalette(cfg.Data.Palette)
	if err != nil {
		return fmt.Errorf("load palette: %w", err)
	}
	printStat("block types", palette.Count())

	drops, err := data.LoadDropTable(cfg.Data.Drops)
	if err != nil {
		return fmt.Errorf("load drop table: %w", err)
	}
	drops.Seed(cfg.Server.StartTime)
	printStat("drop entries", drops.Count())

	pipeDefs, err := data.LoadPipelines(cfg.Data.Pipelines)
	if err != nil {
		return fmt.Errorf("load pipelines: %w", err)
	}

	luaEngine, err := scripting.NewEngine(cfg.Scripting.Dir, log)
	if err != nil {
		return fmt.Errorf("lua engine: %w", err)
	}
	defer luaEngine.Close()
	if !luaEngine.HasFunc(cfg.Scripting.TickRuleFunc) {
		return fmt.Errorf("lua engine: tick rule %q not defined", cfg.Scripting.TickRuleFunc)
	}
	printOK("lua scripts loaded")

	// 4. Pipelines
	policy, err := pipeline.ParseCancelPolicy(cfg.Tracker.CancelPolicy)
	if err != nil {
		return fmt.Errorf("tracker: %w", err)
	}
	pipes := pipeline.NewRegistry(policy)
	catalog := pipeline.NewCatalog()
	catalog.AddBuiltins(pipeline.Builtins{
		Palette:    palette,
		Drops:      drops,
		Regions:    pipeDefs.Regions(),
		SlotCount:  cfg.Data.ContainerSize,
		StackLimit: cfg.Data.StackLimit,
	})
	catalog.Add("lua", luaEngine.EffectFactory)
	n, err := pipeDefs.Install(pipes, catalog)
	if err != nil {
		return fmt.Errorf("install pipelines: %w", err)
	}
	printStat("pipelines", n)
	fmt.Println()

	// 5. World and tracker
	worldState := world.NewState(cfg.Data.ContainerSize)
	bus := event.NewBus()
	tr := tracker.New(cfg.Tracker, worldState, pipes, log)
	tr.SetDispatcher(bus)
	tr.SetJournal(bus)
	if cfg.Tracker.Verbose {
		event.Listen(bus, func(ev event.SideEffect) event.Verdict {
			log.Debug("side effect",
				zap.Stringer("side_effect", ev.SideEffect),
				zap.Stringer("phase", ev.Phase),
				zap.Stringer("cause", ev.Cause),
			)
			return event.Accept
		})
	}

	// 6. Journal
	var journal system.JournalWriter
	if cfg.Database.Enabled {
		printSection("database")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		db, err := persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			cancel()
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL connected")
		version, err := db.Migrate(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK(fmt.Sprintf("schema at version %d", version))
		fmt.Println()
		journal = persist.NewJournalRepo(db)
	}

	// 7. Network intake
	charset, err := packet.LookupCharset(cfg.Network.Charset)
	if err != nil {
		return fmt.Errorf("network: %w", err)
	}
	pktReg := packet.NewRegistry(charset, log)
	deps := &handler.Deps{
		Config:  cfg,
		Log:     log,
		Tracker: tr,
		World:   worldState,
		Charset: charset,
	}
	handler.RegisterAll(pktReg, deps)

	pps := 0
	if cfg.RateLimit.Enabled {
		pps = cfg.RateLimit.PacketsPerSecond
	}
	netServer, err := gonet.NewServer(cfg.Network.BindAddress, cfg.Server.Name, gonet.SessionOptions{
		InQueueSize:  cfg.Network.InQueueSize,
		OutQueueSize: cfg.Network.OutQueueSize,
		PktPerSec:    pps,
		WriteTimeout: cfg.Network.WriteTimeout,
		ReadTimeout:  cfg.Network.ReadTimeout,
	}, charset, log)
	if err != nil {
		return fmt.Errorf("net server: %w", err)
	}
	go netServer.AcceptLoop()

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.BindAddress, log)
	}

	// 8. Systems
	store := gonet.NewSessionStore()
	tickSys := system.NewScheduledTickSystem(tr, worldState, luaEngine, cfg.Scripting.TickRuleFunc, palette, cfg.Data.TickDelay, log)
	tr.SetNeighborFunc(tickSys.Wake)

	runner := coresys.NewRunner()
	runner.Register(system.NewInputSystem(netServer, pktReg, store, tr, cfg.Network.MaxCommandsPerTick, log))
	runner.Register(system.NewEventDispatchSystem(bus, log))
	runner.Register(tickSys)
	runner.Register(system.NewOutputSystem(store))
	var persistSys *system.PersistenceSystem
	if journal != nil {
		persistSys = system.NewPersistenceSystem(bus, journal, cfg.Database.FlushBatch, log)
		runner.Register(persistSys)
	}
	runner.Register(system.NewCleanupSystem(worldState, log))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Network.TickRate)
	defer ticker.Stop()

	printSection("ready")
	printReady(fmt.Sprintf("listening on %s", netServer.Addr().String()))
	printReady(fmt.Sprintf("simulation loop started (tick: %s)", cfg.Network.TickRate))
	fmt.Println()

	var tick simTick
	for {
		select {
		case <-ticker.C:
			tick++
			err := tr.Do(phase.TickSimulation, cause.Of(tick).With(cause.KeyTick, uint64(tick)), func(*phase.Context) error {
				runner.Tick(cfg.Network.TickRate)
				return nil
			})
			if err != nil {
				log.Error("tick failed", zap.Uint64("tick", uint64(tick)), zap.Error(err))
				if errors.Is(err, tracker.ErrPhaseCorruption) {
					log.Error("phase stack", zap.String("dump", tr.DumpStack()))
				}
			}
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			netServer.Shutdown()
			if persistSys != nil {
				// the last tick's journal is still queued on the bus
				bus.SwapBuffers()
				bus.DispatchAll()
				persistSys.Flush()
			}
			log.Info("server stopped")
			return nil
		}
	}
}

func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Info("metrics endpoint", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server stopped", zap.Error(err))
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
