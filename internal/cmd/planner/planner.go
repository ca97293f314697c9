// Package planner parses planner command flags and runs the scheduler loop.
package planner

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/planward/planward/internal/budget"
	"github.com/planward/planward/internal/chokepoint"
	"github.com/planward/planward/internal/dispatch"
	"github.com/planward/planward/internal/execstate"
	"github.com/planward/planward/internal/governance"
	"github.com/planward/planward/internal/ledger"
	"github.com/planward/planward/internal/lifecycle"
	"github.com/planward/planward/internal/orchestrator"
	"github.com/planward/planward/internal/plantype"
	"github.com/planward/planward/internal/platform/config"
	"github.com/planward/planward/internal/platform/otel"
	"github.com/planward/planward/internal/policy"
	"github.com/planward/planward/internal/storage/sqlite"
	"github.com/planward/planward/internal/telemetry/metrics"
)

// Config holds planner command configuration.
type Config struct {
	DBPath         string        `env:"PLANWARD_DB_PATH" envDefault:"data/planner.db"`
	Tenants        string        `env:"PLANWARD_TENANTS" envDefault:"default"`
	PollInterval   time.Duration `env:"PLANWARD_POLL_INTERVAL" envDefault:"5s"`
	BatchSize      int           `env:"PLANWARD_BATCH_SIZE" envDefault:"25"`
	MetricsAddr    string        `env:"PLANWARD_METRICS_ADDR" envDefault:":9090"`
	PlanTypesPath  string        `env:"PLANWARD_PLAN_TYPES_PATH" envDefault:"config/plan_types.yaml"`
	GovernancePath string        `env:"PLANWARD_GOVERNANCE_PATH"`
	BudgetsPath    string        `env:"PLANWARD_BUDGETS_PATH"`
	LogFile        string        `env:"PLANWARD_LOG_FILE"`
	Local          bool          `env:"PLANWARD_LOCAL" envDefault:"false"`
}

// TenantIDs returns the configured tenant list.
func (c Config) TenantIDs() []string {
	var tenants []string
	for _, tenant := range strings.Split(c.Tenants, ",") {
		if trimmed := strings.TrimSpace(tenant); trimmed != "" {
			tenants = append(tenants, trimmed)
		}
	}
	return tenants
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The planner SQLite database path")
	fs.StringVar(&cfg.Tenants, "tenants", cfg.Tenants, "Comma-separated tenant ids to schedule")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Orchestrator cycle interval")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Plans handled per cycle pass")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address")
	fs.StringVar(&cfg.PlanTypesPath, "plan-types", cfg.PlanTypesPath, "Plan type config YAML path")
	fs.StringVar(&cfg.GovernancePath, "governance", cfg.GovernancePath, "Governance config YAML path")
	fs.StringVar(&cfg.BudgetsPath, "budgets", cfg.BudgetsPath, "Budget config YAML path")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Rotating log file path")
	fs.BoolVar(&cfg.Local, "local", cfg.Local, "Feed synchronous DONE outcomes back after dispatch")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run wires the planner and ticks the orchestrator until the context ends.
func Run(ctx context.Context, cfg Config) error {
	logger := log.Default()
	if cfg.LogFile != "" {
		logger.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
		}))
	}

	shutdown, err := otel.Setup(ctx, "planner")
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Printf("shutdown tracing: %v", err)
		}
	}()

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	planTypes, err := plantype.LoadFile(cfg.PlanTypesPath)
	if err != nil {
		return fmt.Errorf("load plan types: %w", err)
	}
	registry := plantype.NewRegistry(planTypes)

	govCfg := governance.Config{}
	if cfg.GovernancePath != "" {
		govCfg, err = governance.LoadFile(cfg.GovernancePath)
		if err != nil {
			return fmt.Errorf("load governance config: %w", err)
		}
	}
	var budgets []budget.Config
	if cfg.BudgetsPath != "" {
		budgets, err = budget.LoadFile(cfg.BudgetsPath)
		if err != nil {
			return fmt.Errorf("load budget config: %w", err)
		}
	}

	auditLog := ledger.New(store)
	gate := policy.NewGate(registry)
	lifecycles := lifecycle.New(store, auditLog)

	var budgetSvc *budget.Service
	if len(budgets) > 0 {
		budgetSvc = budget.NewService(budgets, store, store, auditLog, logger)
	}
	checkpoints, err := chokepoint.New(chokepoint.Config{
		Plans:     store,
		Registry:  registry,
		Gate:      gate,
		Gateway:   governance.NewGateway(govCfg, auditLog, logger),
		Budget:    budgetSvc,
		Lifecycle: lifecycles,
		Ledger:    auditLog,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("build checkpoints: %w", err)
	}

	collectors := metrics.New()
	adapter := &localAdapter{
		inner: &guardedAdapter{
			inner:       dispatch.NewLogAdapter(logger),
			checkpoints: checkpoints,
			metrics:     collectors,
		},
		local: cfg.Local,
	}
	orch, err := orchestrator.New(orchestrator.Config{
		Plans:     store,
		Registry:  registry,
		Gate:      gate,
		Lifecycle: lifecycles,
		Tracker:   execstate.New(store),
		Ledger:    auditLog,
		Adapter:   adapter,
		BatchSize: cfg.BatchSize,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}
	adapter.outcomes = orch

	server := serveMetrics(cfg.MetricsAddr, collectors, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("shutdown metrics server: %v", err)
		}
	}()

	tenants := cfg.TenantIDs()
	if len(tenants) == 0 {
		return fmt.Errorf("at least one tenant is required")
	}
	logger.Printf("planner running: tenants=%v interval=%s batch=%d", tenants, cfg.PollInterval, cfg.BatchSize)

	tracer := otelapi.Tracer("planner/orchestrator")
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		for _, tenant := range tenants {
			cycleCtx, span := tracer.Start(ctx, "orchestrator.RunCycle")
			span.SetAttributes(attribute.String("tenant.id", tenant))
			started := time.Now()
			stats, err := orch.RunCycle(cycleCtx, tenant)
			collectors.ObserveCycle(stats, time.Since(started), err)
			if err != nil {
				span.RecordError(err)
				logger.Printf("cycle failed for tenant %s: %v", tenant, err)
			} else if stats != (orchestrator.Stats{}) {
				logger.Printf("cycle tenant=%s activated=%d started=%d completed=%d expired=%d",
					tenant, stats.Activated, stats.StepsStarted, stats.Completed, stats.Expired)
			}
			span.End()
		}
	}
}

func serveMetrics(addr string, collectors *metrics.Metrics, logger *log.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collectors.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server: %v", err)
		}
	}()
	return server
}
