package dynamic

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/BaSui01/planflow/types"
)

// FailureHandler is told about each Dynamic node the document walker could
// not evaluate.
type FailureHandler func(node Dynamic, err error)

// DocumentResolver resolves Dynamic nodes of a document tree.
//
// A failed evaluation never aborts the walk: the failing node is replaced by
// the fallback (String("") unless configured), a warning is logged and the
// failure handler, if any, is called. A null evaluation result becomes
// String(""), unlike the field walker which keeps null.
type DocumentResolver struct {
	evaluator Evaluator
	fallback  Node
	onFailure FailureHandler
	logger    *zap.Logger
}

// DocumentResolverOption configures a DocumentResolver.
type DocumentResolverOption func(*DocumentResolver)

// WithFallback sets the node substituted for failed evaluations.
func WithFallback(n Node) DocumentResolverOption {
	return func(r *DocumentResolver) { r.fallback = n }
}

// WithFailureHandler installs a handler notified of each failed evaluation.
func WithFailureHandler(h FailureHandler) DocumentResolverOption {
	return func(r *DocumentResolver) { r.onFailure = h }
}

// NewDocumentResolver creates a document walker bound to an evaluator.
func NewDocumentResolver(evaluator Evaluator, logger *zap.Logger, opts ...DocumentResolverOption) *DocumentResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &DocumentResolver{
		evaluator: evaluator,
		fallback:  String(""),
		logger:    logger.With(zap.String("component", "document_resolver")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns a new tree in which every Dynamic node is replaced by its
// evaluated and coerced result. Trees without Dynamic nodes are returned
// structurally equal to the input.
func (r *DocumentResolver) Resolve(ctx context.Context, n Node, bindings Bindings) Node {
	switch v := n.(type) {
	case nil:
		return nil
	case Null, Bool, Int, String:
		return v
	case Array:
		out := make(Array, len(v))
		for i, e := range v {
			out[i] = r.Resolve(ctx, e, bindings)
		}
		return out
	case *Object:
		out := &Object{Fields: make([]Field, len(v.Fields))}
		for i, f := range v.Fields {
			out.Fields[i] = Field{Key: f.Key, Value: r.Resolve(ctx, f.Value, bindings)}
		}
		return out
	case Dynamic:
		result, err := r.evaluator.Evaluate(ctx, v.Expression, v.Language, bindings)
		if err != nil {
			err = types.EvaluationError(v.Expression, err)
			r.logger.Warn("dynamic document value failed, using fallback",
				zap.String("expression", v.Expression),
				zap.String("language", v.Language),
				zap.Error(err),
			)
			if r.onFailure != nil {
				r.onFailure(v, err)
			}
			return r.fallback
		}
		return Coerce(result)
	default:
		panic(fmt.Sprintf("dynamic: unknown document node %T", n))
	}
}

// Coerce maps an evaluation result onto a document node. Null becomes
// String(""), booleans, integers and strings map to their variants, Nodes
// pass through and anything else is stringified.
func Coerce(result any) Node {
	switch v := result.(type) {
	case nil:
		return String("")
	case Node:
		return v
	case bool:
		return Bool(v)
	case string:
		return String(v)
	}
	rv := reflect.ValueOf(result)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return Int(int64(rv.Uint()))
	}
	return String(fmt.Sprint(result))
}
