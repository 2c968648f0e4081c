package dynamic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"

	"github.com/BaSui01/planflow/types"
)

// LanguageExpr is the id of the built-in expr-lang evaluator.
const LanguageExpr = "expr"

// Bindings is the flat name→value map an expression is evaluated against.
type Bindings map[string]any

// Merge returns a new Bindings holding b overlaid with other.
func (b Bindings) Merge(other map[string]any) Bindings {
	merged := make(Bindings, len(b)+len(other))
	for k, v := range b {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}

// Evaluator evaluates an expression written in a given language.
// Implementations return the original cause on failure and may block; they
// are not cancellable once started.
type Evaluator interface {
	Evaluate(ctx context.Context, expression, language string, bindings Bindings) (any, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, expression, language string, bindings Bindings) (any, error)

// Evaluate implements Evaluator.
func (f EvaluatorFunc) Evaluate(ctx context.Context, expression, language string, bindings Bindings) (any, error) {
	return f(ctx, expression, language, bindings)
}

// EvaluationObserver is notified after every evaluation.
type EvaluationObserver func(language string, duration time.Duration, err error)

// Evaluators dispatches to a per-language Evaluator.
type Evaluators struct {
	mu              sync.RWMutex
	byLanguage      map[string]Evaluator
	defaultLanguage string
	observer        EvaluationObserver
}

// NewEvaluators creates a registry; an empty language resolves to defaultLanguage.
func NewEvaluators(defaultLanguage string) *Evaluators {
	if defaultLanguage == "" {
		defaultLanguage = LanguageExpr
	}
	return &Evaluators{
		byLanguage:      make(map[string]Evaluator),
		defaultLanguage: defaultLanguage,
	}
}

// Register binds an evaluator to a language id, replacing any previous one.
func (e *Evaluators) Register(language string, evaluator Evaluator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byLanguage[language] = evaluator
}

// SetObserver installs an observer called after each evaluation.
func (e *Evaluators) SetObserver(observer EvaluationObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = observer
}

// DefaultLanguage returns the language used for expressions that declare none.
func (e *Evaluators) DefaultLanguage() string {
	return e.defaultLanguage
}

// Evaluate implements Evaluator.
func (e *Evaluators) Evaluate(ctx context.Context, expression, language string, bindings Bindings) (any, error) {
	if language == "" {
		language = e.defaultLanguage
	}
	e.mu.RLock()
	evaluator, ok := e.byLanguage[language]
	observer := e.observer
	e.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.ErrUnsupportedLanguage, "no evaluator registered for language "+language).
			WithKey(language)
	}

	start := time.Now()
	result, err := evaluator.Evaluate(ctx, expression, language, bindings)
	if observer != nil {
		observer(language, time.Since(start), err)
	}
	return result, err
}

// ExprEvaluator evaluates expr-lang expressions. Compiled programs are cached
// per expression text; programs are compiled without a typed environment so
// one program serves any bindings.
type ExprEvaluator struct {
	mu           sync.RWMutex
	programs     map[string]*vm.Program
	maxCacheSize int
	logger       *zap.Logger
}

// NewExprEvaluator creates an expr-lang evaluator.
func NewExprEvaluator(logger *zap.Logger) *ExprEvaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExprEvaluator{
		programs:     make(map[string]*vm.Program),
		maxCacheSize: 1024,
		logger:       logger.With(zap.String("component", "expr_evaluator")),
	}
}

// Evaluate implements Evaluator.
func (e *ExprEvaluator) Evaluate(ctx context.Context, expression, _ string, bindings Bindings) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	program, err := e.compile(expression)
	if err != nil {
		return nil, err
	}

	env := map[string]any(bindings)
	if env == nil {
		env = map[string]any{}
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("eval %q: %w", expression, err)
	}
	return output, nil
}

func (e *ExprEvaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}

	e.mu.Lock()
	if len(e.programs) >= e.maxCacheSize {
		e.logger.Debug("expression cache full, resetting", zap.Int("size", len(e.programs)))
		e.programs = make(map[string]*vm.Program)
	}
	e.programs[expression] = program
	e.mu.Unlock()

	return program, nil
}
