package dynamic

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// maxWalkDepth bounds nested dynamic-value recursion.
const maxWalkDepth = 64

// HasDynamicFields is implemented by values that own dynamic slots.
// Implementations list every slot, including those of embedded types.
type HasDynamicFields interface {
	DynamicFields() []Resolvable
}

// FieldResolver resolves every dynamic slot reachable from a root value.
// Types that cannot implement HasDynamicFields themselves are registered
// with RegisterDynamicFields.
//
// Evaluation failures are cached on their slot, the walk continues with the
// remaining slots, and all failures are returned joined. Callers decide
// whether a non-nil error aborts the owning node.
type FieldResolver struct {
	evaluator Evaluator
	logger    *zap.Logger

	mu         sync.RWMutex
	extractors map[reflect.Type]func(any) []Resolvable
}

// NewFieldResolver creates an object-graph walker bound to an evaluator.
func NewFieldResolver(evaluator Evaluator, logger *zap.Logger) *FieldResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FieldResolver{
		evaluator:  evaluator,
		logger:     logger.With(zap.String("component", "field_resolver")),
		extractors: make(map[reflect.Type]func(any) []Resolvable),
	}
}

// RegisterDynamicFields registers the slot extractor for values of type T.
func RegisterDynamicFields[T any](r *FieldResolver, extract func(T) []Resolvable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[reflect.TypeOf((*T)(nil)).Elem()] = func(v any) []Resolvable {
		return extract(v.(T))
	}
}

// Resolve walks root and evaluates every unevaluated slot with bindings.
func (r *FieldResolver) Resolve(ctx context.Context, root any, bindings Bindings) error {
	var errs []error
	r.walk(ctx, root, bindings, 0, &errs)
	return errors.Join(errs...)
}

func (r *FieldResolver) walk(ctx context.Context, v any, bindings Bindings, depth int, errs *[]error) {
	if v == nil || depth > maxWalkDepth {
		if depth > maxWalkDepth {
			r.logger.Warn("dynamic field walk depth exceeded", zap.Int("depth", depth))
		}
		return
	}

	for _, slot := range r.slots(v) {
		if slot == nil {
			continue
		}
		resolved, err := slot.Resolve(ctx, r.evaluator, bindings)
		if err != nil {
			*errs = append(*errs, err)
			continue
		}
		r.walk(ctx, resolved, bindings, depth+1, errs)
	}
}

func (r *FieldResolver) slots(v any) []Resolvable {
	if h, ok := v.(HasDynamicFields); ok {
		return h.DynamicFields()
	}
	r.mu.RLock()
	extract, ok := r.extractors[reflect.TypeOf(v)]
	r.mu.RUnlock()
	if ok {
		return extract(v)
	}
	return nil
}
