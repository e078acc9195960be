package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ammar0144/sql4go"
	"github.com/ammar0144/sql4go/internal/scenario"
	"github.com/ammar0144/sql4go/pkg/redis"
	"github.com/ammar0144/sql4go/pkg/uow"
)

var (
	configPath    string
	driver        string
	dbPath        string
	logLevel      string
	transactional bool
	showMetrics   bool
)

var rootCmd = &cobra.Command{
	Use:   "sql4go-versioncheck",
	Short: "Check optimistic version tracking against a database",
	Long: `Seeds versioned test cases and their revisions, renames every test case
reached through a populated revision and flushes once. Each version must
advance by exactly one, and change sets computed before the flush must show
the flushed state. A second check updates one row from two sessions and
expects the stale one to fail.`,
	SilenceUsage: true,
	Run:          runAll,
}

var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Run the rename-and-flush version scenario only",
	Run:   runScenario,
}

var conflictCmd = &cobra.Command{
	Use:   "conflict",
	Short: "Run the two-session optimistic lock check only",
	Run:   runConflict,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "TOML config file")
	pf.StringVar(&driver, "driver", "", "override database driver (mysql, sqlite)")
	pf.StringVar(&dbPath, "path", "", "override sqlite database file")
	pf.StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.BoolVar(&transactional, "transactional", false, "wrap each flush in a transaction")
	pf.BoolVar(&showMetrics, "metrics", false, "print flush metrics when done")

	rootCmd.AddCommand(scenarioCmd, conflictCmd)
}

type session struct {
	orm      *sql4go.ORM
	registry *prometheus.Registry
}

func (s *session) Close() {
	if showMetrics {
		printMetrics(s.registry)
		if r := s.orm.Redis(); r != nil {
			printCacheMetrics(r.GetMetrics())
		}
	}
	s.orm.Close()
}

func openSession(ctx context.Context) *session {
	cfg := sql4go.DefaultConfig()
	if configPath != "" {
		loaded, err := sql4go.LoadConfig(configPath)
		if err != nil {
			exitError("%v", err)
		}
		cfg = loaded
	}
	if driver != "" {
		cfg.Database.Driver = driver
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if err := cfg.Validate(); err != nil {
		exitError("invalid config: %v", err)
	}

	reg := prometheus.NewRegistry()
	orm, err := sql4go.Open(cfg, scenario.Registry(), uow.Options{
		Logger:        newLogger(logLevel),
		Metrics:       uow.NewMetrics(reg),
		Transactional: transactional,
	})
	if err != nil {
		exitError("failed to open database: %v", err)
	}

	if err := orm.DB().Ping(ctx); err != nil {
		orm.Close()
		exitError("database unreachable: %v", err)
	}
	if r := orm.Redis(); r != nil {
		if err := r.Ping(ctx); err != nil {
			orm.Close()
			exitError("redis unreachable: %v", err)
		}
	}

	if err := scenario.Setup(ctx, orm.DB()); err != nil {
		orm.Close()
		exitError("failed to create tables: %v", err)
	}
	return &session{orm: orm, registry: reg}
}

func runAll(cmd *cobra.Command, args []string) {
	ok := checkScenario(cmd.Context())
	ok = checkConflict(cmd.Context()) && ok
	if !ok {
		os.Exit(1)
	}
}

func runScenario(cmd *cobra.Command, args []string) {
	if !checkScenario(cmd.Context()) {
		os.Exit(1)
	}
}

func runConflict(cmd *cobra.Command, args []string) {
	if !checkConflict(cmd.Context()) {
		os.Exit(1)
	}
}

func checkScenario(ctx context.Context) bool {
	s := openSession(ctx)
	defer s.Close()

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	cyan := color.New(color.FgCyan)

	report, err := scenario.Run(ctx, s.orm.EntityManager())
	if err != nil {
		printf(red, "scenario failed: %v", err)
		return false
	}

	printf(cyan, "rename and flush (%s)", s.orm.DB().Config().Driver)
	printRow("loaded", report.Loaded)
	printRow("change sets", report.ChangeSets)
	printRow("flushed", report.Flushed)
	printRow("stored", report.Stored)

	if err := report.Check(); err != nil {
		printf(red, "FAIL %v", err)
		return false
	}
	printf(green, "PASS every version advanced exactly once")
	return true
}

func checkConflict(ctx context.Context) bool {
	s := openSession(ctx)
	defer s.Close()

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	cyan := color.New(color.FgCyan)

	em := s.orm.EntityManager()
	if err := scenario.Seed(ctx, em); err != nil {
		printf(red, "seed failed: %v", err)
		return false
	}

	report, err := scenario.RunConflict(ctx, s.orm.Fork(), s.orm.Fork(), 1)
	if err != nil {
		printf(red, "conflict check failed: %v", err)
		return false
	}

	printf(cyan, "two sessions updating test case 1")
	printRow("first flush", []scenario.Observation{{ID: 1, Version: report.FirstVersion}})
	if err := report.Check(); err != nil {
		printf(red, "FAIL %v", err)
		return false
	}
	printf(green, "PASS stale session rejected: %v", report.SecondErr)
	return true
}

func printRow(label string, obs []scenario.Observation) {
	parts := make([]string, len(obs))
	for i, o := range obs {
		parts[i] = o.String()
	}
	color.New(color.FgYellow).Printf("  %-12s ", label)
	fmt.Println(strings.Join(parts, " "))
}

func printMetrics(reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			value := m.GetCounter().GetValue()
			if h := m.GetHistogram(); h != nil {
				value = float64(h.GetSampleCount())
			}
			color.New(color.FgMagenta).Printf("  %s{%s} ", mf.GetName(), strings.Join(labels, ","))
			fmt.Println(strconv.FormatFloat(value, 'f', -1, 64))
		}
	}
}

func printCacheMetrics(m redis.MetricsSnapshot) {
	c := color.New(color.FgMagenta)
	c.Printf("  row cache ")
	fmt.Printf("hits=%d misses=%d errors=%d hit_rate=%.1f%% invalidations=%d\n",
		m.CacheHits, m.CacheMisses, m.CacheErrors, m.CacheHitRate, m.InvalidationCount)
	for _, op := range []struct {
		name string
		s    redis.OpSnapshot
	}{{"get", m.Gets}, {"set", m.Sets}, {"delete", m.Deletes}} {
		c.Printf("  row cache %-6s ", op.name)
		fmt.Printf("count=%d avg=%s\n", op.s.Count, op.s.AvgLatency)
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
