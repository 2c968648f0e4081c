package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"

	"github.com/BaSui01/planflow/execution"
	"github.com/BaSui01/planflow/internal/pool"
	"github.com/BaSui01/planflow/plan"
	"github.com/BaSui01/planflow/resolvedplan"
	"github.com/BaSui01/planflow/threads"
	"github.com/BaSui01/planflow/types"
	"github.com/BaSui01/planflow/variables"
)

// Handler executes one artefact type.
type Handler interface {
	Execute(ctx context.Context, step *Step) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, step *Step) error

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, step *Step) error {
	return f(ctx, step)
}

// DefaultCounter is the loop variable name when a for artefact sets none.
const DefaultCounter = "counter"

func builtinHandlers(e *Engine) map[string]Handler {
	return map[string]Handler{
		plan.TypeSequence: HandlerFunc(executeSequence),
		plan.TypeEcho:     HandlerFunc(e.executeEcho),
		plan.TypeSet:      HandlerFunc(executeSet),
		plan.TypeCheck:    HandlerFunc(executeCheck),
		plan.TypeFor:      HandlerFunc(e.executeFor),
		plan.TypeParallel: HandlerFunc(executeParallel),
		plan.TypeCallPlan: HandlerFunc(e.executeCallPlan),
		plan.TypeSleep:    HandlerFunc(executeSleep),
	}
}

func executeSequence(ctx context.Context, step *Step) error {
	continueOnError, err := step.AttrBool("continueOnError", false)
	if err != nil {
		return err
	}
	return step.RunChildren(ctx, continueOnError)
}

func (e *Engine) executeEcho(ctx context.Context, step *Step) error {
	msg := step.AttrString("message", "")
	step.SetMessage(msg)
	e.logger.Info("echo",
		zap.String("execution_id", step.Execution().ID),
		zap.String("artefact_id", step.Artefact.ID),
		zap.String("message", msg),
	)
	return step.RunChildren(ctx, false)
}

// executeSet writes into the parent scope so following siblings see the value.
// A background branch may outlive its parent; the write then goes to the
// nearest ancestor scope still alive.
func executeSet(_ context.Context, step *Step) error {
	key := step.AttrString("key", "")
	if key == "" {
		return step.invalid("set artefact " + step.Artefact.ID + " has no key")
	}
	value, _ := step.Attr("value")
	immutable, err := step.AttrBool("immutable", false)
	if err != nil {
		return err
	}

	vars, err := execution.Require[*variables.Manager](step.Context)
	if err != nil {
		return err
	}
	scope := step.Report.ParentID
	if scope == "" {
		scope = step.Report.ID
	}
	scope, err = vars.NearestLiveScope(scope)
	if err != nil {
		return err
	}
	if immutable {
		return vars.PutVariable(scope, variables.Immutable, key, value)
	}
	return vars.SetVariableWithFallback(scope, key, value)
}

func executeCheck(_ context.Context, step *Step) error {
	v, ok := step.Attr("expression")
	if !ok {
		return step.invalid("check artefact " + step.Artefact.ID + " has no expression")
	}
	passed, isBool := v.(bool)
	if !isBool {
		return step.invalid(fmt.Sprintf("check expression on %s returned %T, not a boolean", step.Artefact.ID, v))
	}
	if !passed {
		msg := step.AttrString("message", "check "+step.Artefact.DisplayName()+" failed")
		step.SetMessage(msg)
		return types.NewError(types.ErrCheckFailed, msg).WithKey(step.Artefact.ID)
	}
	return nil
}

// executeFor runs the loop body once per counter value. Each iteration's
// children carry the counter in their own scope, so concurrent iterations
// never share a writable scope.
func (e *Engine) executeFor(ctx context.Context, step *Step) error {
	start, err := step.AttrInt("start", 1)
	if err != nil {
		return err
	}
	end, err := step.AttrInt("end", 0)
	if err != nil {
		return err
	}
	inc, err := step.AttrInt("increment", 1)
	if err != nil {
		return err
	}
	if inc <= 0 {
		return step.invalid("for artefact " + step.Artefact.ID + " needs a positive increment")
	}
	workers, err := step.AttrInt("threads", int64(e.cfg.LoopWorkers))
	if err != nil {
		return err
	}
	counter := step.AttrString("counter", DefaultCounter)

	body := step.Artefact.Children
	var iterations []int64
	for i := start; i <= end; i += inc {
		iterations = append(iterations, i)
	}
	if len(iterations) == 0 || len(body) == 0 {
		return nil
	}

	iteration := func(idx int, value int64) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			var errs []error
			for j, child := range body {
				err := step.RunChild(ctx, Child{
					Artefact:  child,
					Source:    resolvedplan.SourceMain,
					Position:  idx*len(body) + j,
					Variables: map[string]any{counter: value},
				})
				if err != nil {
					errs = append(errs, err)
					break
				}
			}
			return errors.Join(errs...)
		}
	}

	if workers <= 1 || len(iterations) == 1 {
		var errs []error
		for idx, value := range iterations {
			if ctx.Err() != nil {
				break
			}
			errs = append(errs, iteration(idx, value)(ctx))
		}
		return errors.Join(errs...)
	}

	// A pool per loop node keeps nested loops from starving each other.
	pc := pool.ConfigFrom(e.cfg)
	pc.MaxWorkers = min(int(workers), len(iterations))
	pc.QueueSize = len(iterations)
	p := pool.NewGoroutinePool(pc)
	defer p.Close()

	tasks := make([]pool.Task, len(iterations))
	for idx, value := range iterations {
		value := value
		run := iteration(idx, value)
		tasks[idx] = func(ctx context.Context) error {
			return step.SpawnThread(ctx, fmt.Sprintf("%s[%d]", step.Artefact.Type, value), run)
		}
	}
	return p.RunAll(ctx, tasks)
}

// executeParallel runs every main child on its own thread. Before and after
// lists run sequentially around them; a failing before list skips the
// branches. Background branches are not awaited; they are left to the
// execution end, which may interrupt them.
func executeParallel(ctx context.Context, step *Step) error {
	limit, err := step.AttrInt("threads", 0)
	if err != nil {
		return err
	}
	failFast, err := step.AttrBool("failFast", false)
	if err != nil {
		return err
	}
	background, err := step.AttrBool("background", false)
	if err != nil {
		return err
	}

	var errs []error
	position := len(step.Artefact.Before)
	for i, child := range step.Artefact.Before {
		if err := step.RunChild(ctx, Child{Artefact: child, Source: resolvedplan.SourceBefore, Position: i}); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		if background {
			startBackground(ctx, step, position)
		} else if err := runBranches(ctx, step, position, int(limit), failFast); err != nil {
			errs = append(errs, err)
		}
	}

	position += len(step.Artefact.Children)
	for i, child := range step.Artefact.After {
		if err := step.RunChild(ctx, Child{Artefact: child, Source: resolvedplan.SourceAfter, Position: position + i}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func runBranches(ctx context.Context, step *Step, position, limit int, failFast bool) error {
	g, gctx := new(errgroup.Group), ctx
	if failFast {
		g, gctx = errgroup.WithContext(ctx)
	}
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, child := range step.Artefact.Children {
		child := child
		c := Child{Artefact: child, Source: resolvedplan.SourceMain, Position: position + i}
		g.Go(func() error {
			return step.SpawnThread(gctx, child.Type, func(ctx context.Context) error {
				return step.RunChild(ctx, c)
			})
		})
	}
	return g.Wait()
}

// startBackground associates every branch thread before returning so the
// execution end sees them.
func startBackground(ctx context.Context, step *Step, position int) {
	for i, child := range step.Artefact.Children {
		c := Child{Artefact: child, Source: resolvedplan.SourceMain, Position: position + i}
		th, done := step.startThread(ctx, child.Type)
		step.run.background.Add(1)
		go func() {
			defer step.run.background.Done()
			defer done()
			_ = step.RunChild(th.Context(), c)
		}()
	}
}

// executeCallPlan resolves the referenced plan with the current bindings and
// runs its root as a sub_plan child. Revisiting a plan on the same path fails.
func (e *Engine) executeCallPlan(ctx context.Context, step *Step) error {
	target, err := e.builder.ResolveReference(ctx, step.Artefact, step.Bindings)
	if err != nil {
		return err
	}
	path, err := step.path.Enter(target.ID)
	if err != nil {
		return err
	}
	step.SetMessage("calling plan " + target.ID)
	return step.RunChild(ctx, Child{
		Artefact: target.Root,
		Source:   resolvedplan.SourceSubPlan,
		Path:     path,
	})
}

func executeSleep(ctx context.Context, step *Step) error {
	d, err := step.AttrDuration("duration", 0)
	if err != nil {
		return err
	}
	if th, ok := threads.FromContext(ctx); ok {
		th.PushOperation("sleep " + d.String())
		defer th.PopOperation()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
