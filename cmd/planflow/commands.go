package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/planflow/config"
	"github.com/BaSui01/planflow/dynamic"
	"github.com/BaSui01/planflow/engine"
	"github.com/BaSui01/planflow/execution"
	"github.com/BaSui01/planflow/internal/metrics"
	"github.com/BaSui01/planflow/internal/telemetry"
	"github.com/BaSui01/planflow/plan"
	"github.com/BaSui01/planflow/reports"
	"github.com/BaSui01/planflow/resolvedplan"
)

// paramFlag collects repeated key=value flags.
type paramFlag map[string]string

func (p paramFlag) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + p[k]
	}
	return strings.Join(parts, ",")
}

func (p paramFlag) Set(v string) error {
	k, val, ok := strings.Cut(v, "=")
	if !ok || k == "" {
		return fmt.Errorf("parameter %q is not key=value", v)
	}
	p[k] = val
	return nil
}

type planFlags struct {
	configPath string
	planPath   string
	planDir    string
	params     paramFlag
}

func bindPlanFlags(fs *flag.FlagSet) *planFlags {
	pf := &planFlags{params: paramFlag{}}
	fs.StringVar(&pf.configPath, "config", "", "Path to config file")
	fs.StringVar(&pf.planPath, "plan", "", "Plan file")
	fs.StringVar(&pf.planDir, "plan-dir", "", "Directory of referenced plans (default: engine.plan_dir)")
	fs.Var(pf.params, "param", "Execution parameter key=value, repeatable")
	return pf
}

// session holds everything a command needs after flag parsing.
type session struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    resolvedplan.Store
	plan     *plan.Plan
	accessor *plan.MemoryAccessor
}

func openSession(ctx context.Context, pf *planFlags) (*session, error) {
	if pf.planPath == "" {
		return nil, errors.New("--plan is required")
	}
	cfg, err := loadConfig(pf.configPath)
	if err != nil {
		return nil, err
	}
	logger := initLogger(cfg.Log)

	p, acc, err := loadPlans(pf, cfg.Engine)
	if err != nil {
		return nil, err
	}
	store, err := resolvedplan.NewStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, store: store, plan: p, accessor: acc}, nil
}

func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		s.logger.Warn("failed to close store", zap.Error(err))
	}
	_ = s.logger.Sync()
}

// loadPlans loads the plan directory, when present, and the plan file on top.
func loadPlans(pf *planFlags, cfg config.EngineConfig) (*plan.Plan, *plan.MemoryAccessor, error) {
	dir := pf.planDir
	if dir == "" {
		dir = cfg.PlanDir
	}
	acc := plan.NewMemoryAccessor()
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			loaded, err := plan.LoadDir(dir)
			if err != nil {
				return nil, nil, err
			}
			acc = loaded
		} else if pf.planDir != "" {
			return nil, nil, fmt.Errorf("plan dir %s is not a directory", dir)
		}
	}
	p, err := plan.LoadFile(pf.planPath)
	if err != nil {
		return nil, nil, err
	}
	acc.Add(p)
	return p, acc, nil
}

// runPlan executes a plan and returns the process exit code.
func runPlan(ctx context.Context, args []string, stdout io.Writer) (int, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	pf := bindPlanFlags(fs)
	metricsOut := fs.String("metrics-out", "", "Write Prometheus metrics to this file after the run")
	if err := fs.Parse(args); err != nil {
		return 2, err
	}

	s, err := openSession(ctx, pf)
	if err != nil {
		return 1, err
	}
	defer s.Close()

	providers, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		if err := providers.Shutdown(context.Background()); err != nil {
			s.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	opts := []engine.Option{
		engine.WithConfig(s.cfg.Engine),
		engine.WithStore(s.store),
		engine.WithAccessor(s.accessor),
		engine.WithTracer(providers.Tracer()),
	}
	var reg *prometheus.Registry
	if s.cfg.Metrics.Enabled || *metricsOut != "" {
		reg = prometheus.NewRegistry()
		opts = append(opts, engine.WithMetrics(metrics.NewCollector(s.cfg.Metrics.Namespace, reg, s.logger)))
	}

	eng, err := engine.New(s.logger, opts...)
	if err != nil {
		return 1, err
	}
	defer eng.Close()

	res, err := eng.Run(ctx, s.plan, pf.params)
	if err != nil {
		return 1, err
	}

	fmt.Fprintf(stdout, "execution %s of plan %s: %s (%s)\n",
		res.Execution.ID, s.plan.ID, res.Status, res.Execution.Duration().Round(time.Millisecond))
	if err := res.Report.Render(stdout); err != nil {
		return 1, err
	}

	if *metricsOut != "" {
		if err := prometheus.WriteToTextfile(*metricsOut, reg); err != nil {
			return 1, fmt.Errorf("write metrics: %w", err)
		}
	}
	if res.Status != reports.StatusPassed {
		return 1, nil
	}
	return 0, nil
}

// resolvePlan builds the resolved plan eagerly and prints it.
func resolvePlan(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	pf := bindPlanFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := openSession(ctx, pf)
	if err != nil {
		return err
	}
	defer s.Close()

	eng, err := engine.New(s.logger,
		engine.WithConfig(s.cfg.Engine),
		engine.WithStore(s.store),
		engine.WithAccessor(s.accessor),
	)
	if err != nil {
		return err
	}
	defer eng.Close()

	exec := execution.NewExecution(s.plan.ID, s.plan.Name, pf.params)
	bindings := make(dynamic.Bindings, len(pf.params))
	for k, v := range pf.params {
		bindings[k] = v
	}
	root, err := eng.Builder().BuildResolvedPlan(ctx, exec.ID, s.plan, bindings)
	if err != nil {
		return err
	}
	exec.ResolvedPlanRootNodeID = root.ID

	acc, err := resolvedplan.NewCachedAccessor(ctx, s.store, exec)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "resolved plan %s: %d nodes\n", s.plan.ID, acc.Len())
	return printResolved(stdout, acc, root, 0)
}

func printResolved(w io.Writer, acc *resolvedplan.CachedAccessor, n *resolvedplan.Node, depth int) error {
	source := n.ParentSource
	if source == "" {
		source = resolvedplan.SourceMain
	}
	hash := n.ArtefactHash
	if len(hash) > 12 {
		hash = hash[:12]
	}
	if _, err := fmt.Fprintf(w, "%s%s %s (%s#%d) %s\n",
		strings.Repeat("  ", depth), n.Artefact.Type, n.Artefact.DisplayName(), source, n.Position, hash); err != nil {
		return err
	}
	for _, c := range acc.GetByParentID(n.ID) {
		if err := printResolved(w, acc, c, depth+1); err != nil {
			return err
		}
	}
	return nil
}
