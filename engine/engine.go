package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/planflow/config"
	"github.com/BaSui01/planflow/dynamic"
	"github.com/BaSui01/planflow/execution"
	"github.com/BaSui01/planflow/internal/ctxkeys"
	"github.com/BaSui01/planflow/internal/metrics"
	"github.com/BaSui01/planflow/internal/telemetry"
	"github.com/BaSui01/planflow/plan"
	"github.com/BaSui01/planflow/reports"
	"github.com/BaSui01/planflow/resolvedplan"
	"github.com/BaSui01/planflow/threads"
	"github.com/BaSui01/planflow/types"
	"github.com/BaSui01/planflow/variables"
)

var (
	// ErrExecutionTimeout is the cancellation cause of executions exceeding
	// the configured timeout.
	ErrExecutionTimeout = errors.New("execution timeout")
	// ErrUnknownExecution is returned by Abort for executions not running.
	ErrUnknownExecution = errors.New("unknown execution")
)

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine section of the configuration.
func WithConfig(cfg config.EngineConfig) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithStore sets the resolved-plan store. Defaults to a memory store.
func WithStore(store resolvedplan.Store) Option {
	return func(e *Engine) { e.store = store }
}

// WithAccessor sets the plan accessor used by callPlan.
func WithAccessor(accessor plan.Accessor) Option {
	return func(e *Engine) { e.accessor = accessor }
}

// WithEvaluators replaces the expression evaluators.
func WithEvaluators(ev *dynamic.Evaluators) Option {
	return func(e *Engine) { e.evaluators = ev }
}

// WithMetrics records engine metrics on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithTracer sets the tracer for node spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithListener adds a listener.
func WithListener(l Listener) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, l) }
}

// WithHandler registers or replaces the handler of an artefact type.
func WithHandler(artefactType string, h Handler) Option {
	return func(e *Engine) { e.handlers[artefactType] = h }
}

// Engine runs plans. One engine serves many concurrent executions; each
// execution owns its report tree, variable scopes and context registry.
type Engine struct {
	cfg        config.EngineConfig
	store      resolvedplan.Store
	accessor   plan.Accessor
	evaluators *dynamic.Evaluators
	metrics    *metrics.Collector
	tracer     trace.Tracer
	listeners  []Listener
	handlers   map[string]Handler

	threads  *threads.Manager
	builder  *resolvedplan.Builder
	fields   *dynamic.FieldResolver
	registry *execution.Context

	running sync.Map // executionID -> *run
	logger  *zap.Logger
}

// New creates an engine.
func New(logger *zap.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:    config.DefaultEngineConfig(),
		logger: logger.With(zap.String("component", "engine")),
	}
	e.handlers = builtinHandlers(e)
	for _, opt := range opts {
		opt(e)
	}

	if e.store == nil {
		e.store = resolvedplan.NewMemoryStore()
	}
	if e.accessor == nil {
		e.accessor = plan.NewMemoryAccessor()
	}
	if e.evaluators == nil {
		e.evaluators = dynamic.NewEvaluators(e.cfg.DefaultLanguage)
		e.evaluators.Register(dynamic.LanguageExpr, dynamic.NewExprEvaluator(logger))
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(telemetry.InstrumentationName)
	}

	threadOpts := []threads.Option{}
	builderOpts := []resolvedplan.BuilderOption{}
	if e.metrics != nil {
		e.evaluators.SetObserver(e.metrics.RecordEvaluation)
		threadOpts = append(threadOpts, threads.WithInterruptHook(func(*threads.Thread) { e.metrics.RecordInterrupt() }))
		builderOpts = append(builderOpts, resolvedplan.WithNodeObserver(func(*resolvedplan.Node) { e.metrics.RecordResolvedNode() }))
	}

	e.threads = threads.NewManager(logger, threadOpts...)
	for _, class := range e.cfg.InterruptTypes {
		e.threads.RegisterClass(class)
	}
	for _, expr := range e.cfg.InterruptPatterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile interrupt pattern %q: %w", expr, err)
		}
		e.threads.RegisterPattern(re)
	}

	e.builder = resolvedplan.NewBuilder(e.store, e.accessor,
		dynamic.NewDocumentResolver(e.evaluators, logger), logger, builderOpts...)
	e.fields = dynamic.NewFieldResolver(e.evaluators, logger)

	e.registry = execution.NewContext(logger)
	execution.Put(e.registry, e.threads)
	execution.Put(e.registry, e.builder)
	execution.Put(e.registry, e.evaluators)
	return e, nil
}

// Threads returns the thread manager shared by all executions.
func (e *Engine) Threads() *threads.Manager { return e.threads }

// Builder returns the resolved-plan builder.
func (e *Engine) Builder() *resolvedplan.Builder { return e.builder }

// Store returns the resolved-plan store.
func (e *Engine) Store() resolvedplan.Store { return e.store }

// Close releases engine-level resources. The store is owned by the caller.
func (e *Engine) Close() {
	e.registry.Close()
}

// Result is the outcome of one execution.
type Result struct {
	Execution    *execution.Execution
	Status       reports.Status
	Report       *reports.Tree
	ResolvedRoot *resolvedplan.Node
	Variables    *variables.Manager
	// Interrupted counts threads interrupted at execution end.
	Interrupted int
}

type run struct {
	engine   *Engine
	exec     *execution.Execution
	registry *execution.Context
	tree     *reports.Tree
	vars     *variables.Manager
	thread   *threads.Thread

	mu   sync.Mutex
	root *resolvedplan.Node

	background sync.WaitGroup
}

// Run executes p to completion. Node failures are reported through the
// result status; the error covers failures to start the execution.
func (e *Engine) Run(ctx context.Context, p *plan.Plan, params map[string]string) (*Result, error) {
	if p == nil {
		return nil, types.NewError(types.ErrInvalidArtefact, "plan is nil")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	exec := execution.NewExecution(p.ID, p.Name, params)
	r, err := e.newRun(exec)
	if err != nil {
		return nil, err
	}
	defer r.registry.Close()

	ctx = ctxkeys.WithExecutionID(ctx, exec.ID)
	if e.cfg.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, e.cfg.ExecutionTimeout, ErrExecutionTimeout)
		defer cancel()
	}
	name := p.Name
	if name == "" {
		name = p.ID
	}
	ctx, span := e.tracer.Start(ctx, "execution "+name, trace.WithAttributes(
		attribute.String("planflow.execution.id", exec.ID),
		attribute.String("planflow.plan.id", p.ID),
	))
	defer span.End()

	r.thread = threads.NewThread(ctx, "execution")
	e.threads.AssociateThread(exec.ID, r.thread, "")
	e.observeThreads()
	e.running.Store(exec.ID, r)
	r.setStatus(execution.StatusRunning)

	e.logger.Info("execution started",
		zap.String("execution_id", exec.ID),
		zap.String("plan_id", p.ID),
	)

	status, _ := r.executeNode(r.thread.Context(), nil, nil,
		Child{Artefact: p.Root, Source: resolvedplan.SourceMain}, resolvedplan.NewVisited(p.ID))

	interrupted := 0
	if e.cfg.InterruptOnEnd {
		interrupted = e.threads.BeforeExecutionEnd(ctx, exec.ID)
	}
	r.background.Wait()

	e.running.Delete(exec.ID)
	e.threads.UnassociateThread(r.thread)
	r.thread.Done()
	e.observeThreads()

	r.mu.Lock()
	exec.Status = execution.StatusEnded
	exec.Result = string(status)
	exec.EndTime = time.Now()
	root := r.root
	r.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordExecution(string(status), exec.Duration())
	}
	if status != reports.StatusPassed {
		span.SetStatus(codes.Error, string(status))
		e.logger.Error("execution ended",
			zap.String("execution_id", exec.ID),
			zap.String("status", string(status)),
			zap.Duration("duration", exec.Duration()),
		)
	} else {
		e.logger.Info("execution ended",
			zap.String("execution_id", exec.ID),
			zap.String("status", string(status)),
			zap.Duration("duration", exec.Duration()),
		)
	}

	return &Result{
		Execution:    exec,
		Status:       status,
		Report:       r.tree,
		ResolvedRoot: root,
		Variables:    r.vars,
		Interrupted:  interrupted,
	}, nil
}

// newRun seeds the execution's context registry. Engine-wide services are
// inherited, per-execution state is created here.
func (e *Engine) newRun(exec *execution.Execution) (*run, error) {
	r := &run{engine: e, exec: exec, registry: execution.NewContext(e.logger)}
	execution.Put(r.registry, exec)

	tree, err := execution.ComputeIfAbsent(r.registry, func() (*reports.Tree, error) {
		return reports.NewTree(), nil
	})
	if err != nil {
		return nil, err
	}
	r.tree = tree

	r.vars, err = execution.ComputeIfAbsent(r.registry, func() (*variables.Manager, error) {
		return variables.NewManager(tree, e.logger, variables.WithReleaseHook(r.scopeReleased)), nil
	})
	if err != nil {
		return nil, err
	}

	for _, inherit := range []func() error{
		func() error {
			_, err := execution.InheritFromParentOrComputeIfAbsent(r.registry, e.registry, func() (*threads.Manager, error) {
				return e.threads, nil
			})
			return err
		},
		func() error {
			_, err := execution.InheritFromParentOrComputeIfAbsent(r.registry, e.registry, func() (*resolvedplan.Builder, error) {
				return e.builder, nil
			})
			return err
		},
		func() error {
			_, err := execution.InheritFromParentOrComputeIfAbsent(r.registry, e.registry, func() (*dynamic.Evaluators, error) {
				return e.evaluators, nil
			})
			return err
		},
	} {
		if err := inherit(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Abort interrupts every thread of a running execution.
func (e *Engine) Abort(executionID string) error {
	v, ok := e.running.Load(executionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExecution, executionID)
	}
	r := v.(*run)
	r.setStatus(execution.StatusAborting)
	r.thread.Interrupt(threads.ErrInterrupted)
	e.logger.Warn("execution aborted", zap.String("execution_id", executionID))
	return nil
}

// Execution returns a snapshot of a running execution.
func (e *Engine) Execution(executionID string) (execution.Execution, bool) {
	v, ok := e.running.Load(executionID)
	if !ok {
		return execution.Execution{}, false
	}
	r := v.(*run)
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.exec, true
}

func (e *Engine) observeThreads() {
	if e.metrics != nil {
		e.metrics.SetLiveThreads(e.threads.LiveThreads())
	}
}

func (r *run) setStatus(s execution.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exec.Status != execution.StatusEnded {
		r.exec.Status = s
	}
}

func (r *run) scopeReleased(nodeID string) {
	if r.engine.metrics != nil {
		r.engine.metrics.RecordScopeRelease()
	}
	for _, l := range r.engine.listeners {
		l.ScopeReleased(r.exec, nodeID)
	}
}

// bindings merges parameters, visible variables and the reserved keys.
func (r *run) bindings(nodeID string) dynamic.Bindings {
	b := make(dynamic.Bindings)
	for k, v := range r.exec.Parameters {
		b[k] = v
	}
	b = b.Merge(r.vars.GetAllVariables(nodeID))
	b[variables.KeyExecutionID] = r.exec.ID
	b[variables.KeyPlanID] = r.exec.PlanID
	b[variables.KeyReportNodeID] = nodeID
	return b
}

func (r *run) executeNode(ctx context.Context, parentReport *reports.Node, parentResolved *resolvedplan.Node, c Child, path resolvedplan.Visited) (reports.Status, error) {
	e := r.engine
	a := c.Artefact
	parentID := ""
	if parentReport != nil {
		parentID = parentReport.ID
	}

	report := reports.NewNode(r.exec.ID, parentID, a.DisplayName())
	report.ArtefactID = a.ID
	report.ArtefactType = a.Type
	r.tree.Add(report)

	ctx = ctxkeys.WithReportNodeID(ctx, report.ID)
	ctx, span := e.tracer.Start(ctx, a.Type+" "+a.DisplayName(), trace.WithAttributes(
		attribute.String("planflow.artefact.id", a.ID),
		attribute.String("planflow.artefact.type", a.Type),
		attribute.String("planflow.report_node.id", report.ID),
	))
	defer span.End()

	e.threads.BeforeReportNodeExecution(ctx, report.ID)
	th, hasThread := threads.FromContext(ctx)
	if hasThread {
		th.PushOperation(a.Type + " " + a.DisplayName())
	}
	for _, l := range e.listeners {
		l.NodeStarted(r.exec, report)
	}

	status, err := r.runNode(ctx, report, parentResolved, c, path)

	if hasThread {
		th.PopOperation()
	}
	e.threads.AfterReportNodeExecution(ctx, report.ID)

	_ = r.tree.Finish(report.ID, status, ownError(err))
	r.vars.ReleaseVariables(report.ID)

	finished, _ := r.tree.Get(report.ID)
	if e.metrics != nil {
		e.metrics.RecordNode(a.Type, string(status), finished.Duration)
	}
	for _, l := range e.listeners {
		l.NodeFinished(r.exec, finished)
	}

	span.SetAttributes(attribute.String("planflow.status", string(status)))
	if status != reports.StatusPassed && status != reports.StatusSkipped {
		msg := string(status)
		if own := ownError(err); own != nil {
			msg = own.Error()
		}
		span.SetStatus(codes.Error, msg)
	}

	e.logger.Debug("node finished",
		zap.String("execution_id", r.exec.ID),
		zap.String("report_node_id", report.ID),
		zap.String("artefact_id", a.ID),
		zap.String("artefact_type", a.Type),
		zap.String("status", string(status)),
	)
	return status, err
}

func (r *run) runNode(ctx context.Context, report *reports.Node, parentResolved *resolvedplan.Node, c Child, path resolvedplan.Visited) (status reports.Status, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = types.NewError(types.ErrInternalError, fmt.Sprintf("handler panicked: %v", p)).WithKey(c.Artefact.ID)
			status = reports.StatusTechnicalError
		}
	}()

	e := r.engine
	a := c.Artefact

	resolved, err := e.builder.Attach(ctx, r.exec.ID, parentResolved, a, c.Source, c.Position)
	if err != nil {
		return reports.StatusTechnicalError, err
	}
	if parentResolved == nil {
		r.mu.Lock()
		r.root = resolved
		r.exec.ResolvedPlanRootNodeID = resolved.ID
		r.mu.Unlock()
	}
	_ = r.tree.Update(report.ID, func(n *reports.Node) {
		n.ArtefactHash = resolved.ArtefactHash
		n.ResolvedPlanNodeID = resolved.ID
	})

	for k, v := range c.Variables {
		if err := r.vars.PutVariable(report.ID, variables.Normal, k, v); err != nil {
			return reports.StatusTechnicalError, err
		}
	}

	// the thread may have been interrupted before the node got here
	if cause := context.Cause(ctx); cause != nil {
		return reports.StatusInterrupted, cause
	}

	bindings := r.bindings(report.ID)
	artefact := a.Snapshot()
	artefact.Before, artefact.Children, artefact.After = a.Before, a.Children, a.After
	if err := e.fields.Resolve(ctx, artefact, bindings); err != nil {
		return reports.StatusTechnicalError, err
	}

	handler, ok := e.handlers[a.Type]
	if !ok {
		return reports.StatusTechnicalError, types.NewError(types.ErrInvalidArtefact, "no handler for artefact type "+a.Type).WithKey(a.ID)
	}

	step := &Step{
		Artefact: artefact,
		Report:   report,
		Resolved: resolved,
		Bindings: bindings,
		Context:  r.registry,
		run:      r,
		path:     path,
	}
	err = handler.Execute(ctx, step)
	status = classify(err)
	if worst := step.worstChild(); worst != "" {
		status = reports.Worse(status, worst)
	}
	return status, err
}

// classify maps a handler error to a status. Child failures were already
// folded into the step and count as passed here.
func classify(err error) reports.Status {
	if err == nil {
		return reports.StatusPassed
	}
	if _, ok := err.(*childFailure); ok {
		return reports.StatusPassed
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		status := reports.StatusPassed
		for _, e := range joined.Unwrap() {
			status = reports.Worse(status, classify(e))
		}
		return status
	}
	switch {
	case errors.Is(err, threads.ErrInterrupted),
		errors.Is(err, ErrExecutionTimeout),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return reports.StatusInterrupted
	case types.IsCode(err, types.ErrCheckFailed):
		return reports.StatusFailed
	}
	return reports.StatusTechnicalError
}

// ownError drops child failures so a parent only reports its own errors.
func ownError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*childFailure); ok {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var own []error
		for _, e := range joined.Unwrap() {
			if o := ownError(e); o != nil {
				own = append(own, o)
			}
		}
		return errors.Join(own...)
	}
	return err
}
