package dynamic

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/planflow/types"
)

// Resolvable is a lazy slot reachable by the field walker.
type Resolvable interface {
	// IsDynamic reports whether the slot holds an expression.
	IsDynamic() bool
	// Evaluated reports whether the slot already holds a cached result or failure.
	Evaluated() bool
	// Resolve evaluates the slot if needed and returns its value.
	Resolve(ctx context.Context, evaluator Evaluator, bindings Bindings) (any, error)
}

// Value is either a literal T or an expression evaluated at most once.
// The first evaluation's result or failure is cached; later reads never
// re-evaluate, whatever bindings they pass. A Value is owned by the object
// embedding it; use Clone to give another owner its own unevaluated copy.
type Value[T any] struct {
	mu         sync.Mutex
	literal    T
	expression string
	language   string
	dynamic    bool

	evaluated bool
	result    T
	err       error
}

// NewValue creates a literal value.
func NewValue[T any](v T) *Value[T] {
	return &Value[T]{literal: v}
}

// NewExpression creates a dynamic value. An empty language means the
// evaluator's default.
func NewExpression[T any](expression, language string) *Value[T] {
	return &Value[T]{expression: expression, language: language, dynamic: true}
}

// IsDynamic implements Resolvable.
func (v *Value[T]) IsDynamic() bool {
	return v != nil && v.dynamic
}

// Expression returns the expression text and language id.
func (v *Value[T]) Expression() (string, string) {
	if v == nil {
		return "", ""
	}
	return v.expression, v.language
}

// Evaluated implements Resolvable.
func (v *Value[T]) Evaluated() bool {
	if v == nil {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.evaluated
}

// Get returns the literal, or the cached result of a dynamic value. A dynamic
// value that was never evaluated fails with NOT_EVALUATED.
func (v *Value[T]) Get() (T, error) {
	if v == nil {
		var zero T
		return zero, nil
	}
	if !v.dynamic {
		return v.literal, nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.evaluated {
		var zero T
		return zero, types.NewError(types.ErrNotEvaluated, "expression "+v.expression+" has not been evaluated").
			WithKey(v.expression)
	}
	return v.result, v.err
}

// GetOr returns Get's value, or def when the value is unset or failed.
func (v *Value[T]) GetOr(def T) T {
	if v == nil {
		return def
	}
	r, err := v.Get()
	if err != nil {
		return def
	}
	return r
}

// Evaluate evaluates the expression once and caches the outcome. Failures are
// cached as EVALUATION_ERROR.
func (v *Value[T]) Evaluate(ctx context.Context, evaluator Evaluator, bindings Bindings) (T, error) {
	if v == nil {
		var zero T
		return zero, nil
	}
	if !v.dynamic {
		return v.literal, nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.evaluated {
		return v.result, v.err
	}

	raw, err := evaluator.Evaluate(ctx, v.expression, v.language, bindings)
	if err == nil {
		v.result, err = convert[T](raw)
	}
	if err != nil {
		var zero T
		v.result = zero
		v.err = types.EvaluationError(v.expression, err)
	}
	v.evaluated = true
	return v.result, v.err
}

// Resolve implements Resolvable. A nil Value resolves to nil.
func (v *Value[T]) Resolve(ctx context.Context, evaluator Evaluator, bindings Bindings) (any, error) {
	if v == nil {
		return nil, nil
	}
	r, err := v.Evaluate(ctx, evaluator, bindings)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Clone returns an unevaluated copy of the definition.
func (v *Value[T]) Clone() *Value[T] {
	if v == nil {
		return nil
	}
	return &Value[T]{
		literal:    v.literal,
		expression: v.expression,
		language:   v.language,
		dynamic:    v.dynamic,
	}
}

func convert[T any](raw any) (T, error) {
	var zero T
	if raw == nil {
		return zero, nil
	}
	if t, ok := raw.(T); ok {
		return t, nil
	}

	target := reflect.TypeOf((*T)(nil)).Elem()
	rv := reflect.ValueOf(raw)
	if target.Kind() == reflect.String {
		s := fmt.Sprint(raw)
		return reflect.ValueOf(s).Convert(target).Interface().(T), nil
	}
	if isNumeric(rv.Kind()) && isNumeric(target.Kind()) {
		if isFloat(rv.Kind()) && !isFloat(target.Kind()) {
			f := rv.Float()
			if math.IsInf(f, 0) || f != math.Trunc(f) {
				return zero, fmt.Errorf("cannot convert non-integral %v to %s", raw, target)
			}
		}
		return rv.Convert(target).Interface().(T), nil
	}
	if rv.Type().ConvertibleTo(target) && rv.Kind() == target.Kind() {
		return rv.Convert(target).Interface().(T), nil
	}
	return zero, fmt.Errorf("cannot convert %T to %s", raw, target)
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// valueJSON is the wire shape of a Value.
type valueJSON struct {
	Dynamic        bool            `json:"dynamic,omitempty"`
	Expression     string          `json:"expression,omitempty"`
	ExpressionType string          `json:"expressionType,omitempty"`
	Value          json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes the definition, never the cached result.
func (v *Value[T]) MarshalJSON() ([]byte, error) {
	if v.dynamic {
		return json.Marshal(valueJSON{Dynamic: true, Expression: v.expression, ExpressionType: v.language})
	}
	raw, err := json.Marshal(v.literal)
	if err != nil {
		return nil, err
	}
	return json.Marshal(valueJSON{Value: raw})
}

// wrapperKeys are the only keys a wrapped Value definition may carry.
var wrapperKeys = map[string]struct{}{
	"dynamic":        {},
	"expression":     {},
	"expressionType": {},
	"language":       {},
	"value":          {},
}

type wrapperShape int

const (
	shapeLiteral wrapperShape = iota
	shapeValue
	shapeExpression
)

// classify decides whether a mapping with keys is a wrapped definition. It
// must hold wrapper keys only and exactly one of value or expression;
// anything else is a literal map.
func classify(keys []string) wrapperShape {
	hasValue, hasExpression := false, false
	for _, k := range keys {
		if _, ok := wrapperKeys[k]; !ok {
			return shapeLiteral
		}
		switch k {
		case "value":
			hasValue = true
		case "expression":
			hasExpression = true
		}
	}
	switch {
	case hasExpression && !hasValue:
		return shapeExpression
	case hasValue && !hasExpression:
		return shapeValue
	}
	return shapeLiteral
}

// UnmarshalJSON accepts {"dynamic":true,"expression":...}, {"value":...} or a
// bare literal. Objects carrying other keys decode as literals.
func (v *Value[T]) UnmarshalJSON(data []byte) error {
	var shape map[string]json.RawMessage
	if err := json.Unmarshal(data, &shape); err == nil {
		keys := make([]string, 0, len(shape))
		for k := range shape {
			keys = append(keys, k)
		}
		switch classify(keys) {
		case shapeExpression:
			var w struct {
				Expression     string `json:"expression"`
				ExpressionType string `json:"expressionType"`
				Language       string `json:"language"`
			}
			if err := json.Unmarshal(data, &w); err != nil {
				return err
			}
			language := w.ExpressionType
			if language == "" {
				language = w.Language
			}
			*v = Value[T]{expression: w.Expression, language: language, dynamic: true}
			return nil
		case shapeValue:
			var lit T
			if err := json.Unmarshal(shape["value"], &lit); err != nil {
				return err
			}
			*v = Value[T]{literal: lit}
			return nil
		}
	}
	var lit T
	if err := json.Unmarshal(data, &lit); err != nil {
		return err
	}
	*v = Value[T]{literal: lit}
	return nil
}

// MarshalYAML encodes literals bare and expressions as a mapping. A literal
// map that would read back as a wrapper is wrapped in {value: ...}.
func (v *Value[T]) MarshalYAML() (any, error) {
	if v.dynamic {
		out := map[string]string{"expression": v.expression}
		if v.language != "" {
			out["language"] = v.language
		}
		return out, nil
	}
	if m, ok := any(v.literal).(map[string]any); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		if classify(keys) != shapeLiteral {
			return map[string]any{"value": m}, nil
		}
	}
	return v.literal, nil
}

// UnmarshalYAML accepts a bare literal, {value: ...} or {expression: ..., language: ...}.
// Mappings carrying other keys decode as literals.
func (v *Value[T]) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		fields := make(map[string]*yaml.Node, len(node.Content)/2)
		keys := make([]string, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			fields[node.Content[i].Value] = node.Content[i+1]
			keys = append(keys, node.Content[i].Value)
		}
		switch classify(keys) {
		case shapeExpression:
			language := ""
			if l, ok := fields["language"]; ok {
				language = l.Value
			} else if l, ok := fields["expressionType"]; ok {
				language = l.Value
			}
			*v = Value[T]{expression: fields["expression"].Value, language: language, dynamic: true}
			return nil
		case shapeValue:
			var lit T
			if err := fields["value"].Decode(&lit); err != nil {
				return err
			}
			*v = Value[T]{literal: lit}
			return nil
		}
	}
	var lit T
	if err := node.Decode(&lit); err != nil {
		return err
	}
	*v = Value[T]{literal: lit}
	return nil
}
