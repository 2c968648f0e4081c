package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/BaSui01/planflow/dynamic"
	"github.com/BaSui01/planflow/execution"
	"github.com/BaSui01/planflow/plan"
	"github.com/BaSui01/planflow/reports"
	"github.com/BaSui01/planflow/resolvedplan"
	"github.com/BaSui01/planflow/threads"
	"github.com/BaSui01/planflow/types"
)

// Step is the view a handler gets of the node it executes. The artefact is
// a private clone with every attribute already resolved.
type Step struct {
	Artefact *plan.Artefact
	Report   *reports.Node
	Resolved *resolvedplan.Node
	Bindings dynamic.Bindings
	// Context is the execution's context registry.
	Context *execution.Context

	run  *run
	path resolvedplan.Visited

	mu    sync.Mutex
	worst reports.Status
}

// childFailure carries a non-passing child status up to the parent handler.
type childFailure struct {
	name   string
	status reports.Status
	err    error
}

func (f *childFailure) Error() string {
	if f.err != nil {
		return fmt.Sprintf("child %s %s: %v", f.name, f.status, f.err)
	}
	return fmt.Sprintf("child %s %s", f.name, f.status)
}

func (f *childFailure) Unwrap() error { return f.err }

// Execution returns the running execution.
func (s *Step) Execution() *execution.Execution {
	return s.run.exec
}

// SetMessage stores a human readable outcome on the report node.
func (s *Step) SetMessage(msg string) {
	_ = s.run.tree.Update(s.Report.ID, func(n *reports.Node) { n.Message = msg })
}

// Attr returns the resolved value of an attribute.
func (s *Step) Attr(name string) (any, bool) {
	slot := s.Artefact.Attribute(name)
	if slot == nil {
		return nil, false
	}
	v, err := slot.Get()
	if err != nil {
		return nil, false
	}
	return v, true
}

// AttrString returns an attribute formatted as a string.
func (s *Step) AttrString(name, def string) string {
	v, ok := s.Attr(name)
	if !ok || v == nil {
		return def
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

// AttrInt returns an integer attribute.
func (s *Step) AttrInt(name string, def int64) (int64, error) {
	v, ok := s.Attr(name)
	if !ok || v == nil {
		return def, nil
	}
	n, ok := toInt64(v)
	if !ok {
		return 0, s.invalid(fmt.Sprintf("attribute %s is %T, not an integer", name, v))
	}
	return n, nil
}

// AttrBool returns a boolean attribute.
func (s *Step) AttrBool(name string, def bool) (bool, error) {
	v, ok := s.Attr(name)
	if !ok || v == nil {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed, nil
		}
	}
	return false, s.invalid(fmt.Sprintf("attribute %s is %T, not a boolean", name, v))
}

// AttrDuration reads integers as milliseconds and strings as Go durations.
func (s *Step) AttrDuration(name string, def time.Duration) (time.Duration, error) {
	v, ok := s.Attr(name)
	if !ok || v == nil {
		return def, nil
	}
	if str, ok := v.(string); ok {
		if d, err := time.ParseDuration(str); err == nil {
			return d, nil
		}
	}
	if n, ok := toInt64(v); ok {
		return time.Duration(n) * time.Millisecond, nil
	}
	return 0, s.invalid(fmt.Sprintf("attribute %s is not a duration: %v", name, v))
}

func (s *Step) invalid(msg string) error {
	return types.NewError(types.ErrInvalidArtefact, msg).WithKey(s.Artefact.ID)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		if n == float32(int64(n)) {
			return int64(n), true
		}
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

// Child describes one child invocation.
type Child struct {
	Artefact *plan.Artefact
	Source   resolvedplan.ParentSource
	Position int
	// Variables are declared in the child's own scope before it resolves.
	Variables map[string]any
	// Path overrides the indirection path, used when entering a sub-plan.
	Path resolvedplan.Visited
}

// RunChild executes one child below this step and folds its status into the
// step. A child that did not pass yields a *childFailure error.
func (s *Step) RunChild(ctx context.Context, c Child) error {
	path := c.Path
	if path == nil {
		path = s.path
	}
	status, err := s.run.executeNode(ctx, s.Report, s.Resolved, c, path)
	s.fold(status)
	if status == reports.StatusPassed || status == reports.StatusSkipped {
		return nil
	}
	return &childFailure{name: c.Artefact.DisplayName(), status: status, err: err}
}

// RunChildren runs the before, main and after lists in order. A failing
// before list skips the main list; the after list always runs. Within a list
// the first failure stops the list unless continueOnError is set.
func (s *Step) RunChildren(ctx context.Context, continueOnError bool) error {
	var errs []error
	position := 0
	mainSkipped := false
	for _, list := range resolvedplan.ChildLists(s.Artefact) {
		if list.Source == resolvedplan.SourceMain && mainSkipped {
			position += len(list.Artefacts)
			continue
		}
		failed := false
		for _, child := range list.Artefacts {
			pos := position
			position++
			if failed && !continueOnError {
				continue
			}
			if err := s.RunChild(ctx, Child{Artefact: child, Source: list.Source, Position: pos}); err != nil {
				errs = append(errs, err)
				failed = true
			}
		}
		if failed && list.Source == resolvedplan.SourceBefore {
			mainSkipped = true
		}
	}
	return errors.Join(errs...)
}

// SpawnThread runs fn on a new thread associated with the current one.
func (s *Step) SpawnThread(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	th, done := s.startThread(ctx, name)
	defer done()
	return fn(th.Context())
}

// startThread associates a new child thread of ctx's thread with the
// execution. The returned func unassociates and releases it.
func (s *Step) startThread(ctx context.Context, name string) (*threads.Thread, func()) {
	e := s.run.engine
	parentID := ""
	if parent, ok := threads.FromContext(ctx); ok {
		parentID = parent.ID
	}
	th := threads.NewThread(ctx, name)
	e.threads.AssociateThread(s.run.exec.ID, th, parentID)
	e.observeThreads()
	return th, func() {
		e.threads.UnassociateThread(th)
		th.Done()
		e.observeThreads()
	}
}

func (s *Step) fold(status reports.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.worst = reports.Worse(s.worst, status)
}

func (s *Step) worstChild() reports.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.worst
}
