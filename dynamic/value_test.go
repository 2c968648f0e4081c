package dynamic

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/planflow/testutil"
	"github.com/BaSui01/planflow/types"
)

func newTestEvaluators() *Evaluators {
	ev := NewEvaluators(LanguageExpr)
	ev.Register(LanguageExpr, NewExprEvaluator(zap.NewNop()))
	return ev
}

func TestValue_Literal(t *testing.T) {
	v := NewValue(5)
	assert.False(t, v.IsDynamic())

	got, err := v.Get()
	require.NoError(t, err)
	assert.Equal(t, 5, got)

	got, err = v.Evaluate(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, got)
}

func TestValue_GetBeforeEvaluate(t *testing.T) {
	v := NewExpression[int]("1 + 1", "")
	_, err := v.Get()
	assert.True(t, types.IsCode(err, types.ErrNotEvaluated))
	assert.Equal(t, 7, v.GetOr(7))
}

func TestValue_EvaluatedOnce(t *testing.T) {
	ev := newTestEvaluators()
	v := NewExpression[int]("x * 2", "")

	first, err := v.Evaluate(context.Background(), ev, Bindings{"x": 3})
	require.NoError(t, err)
	assert.Equal(t, 6, first)

	second, err := v.Evaluate(context.Background(), ev, Bindings{"x": 100})
	require.NoError(t, err)
	assert.Equal(t, 6, second)
	assert.True(t, v.Evaluated())
}

func TestValue_FailureIsCached(t *testing.T) {
	var calls atomic.Int32
	ev := EvaluatorFunc(func(context.Context, string, string, Bindings) (any, error) {
		calls.Add(1)
		return nil, errors.New("broken script")
	})
	v := NewExpression[string]("whatever", "")

	_, err := v.Evaluate(context.Background(), ev, nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrEvaluation))

	_, err = v.Evaluate(context.Background(), ev, nil)
	require.Error(t, err)
	_, err = v.Get()
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestValue_Conversions(t *testing.T) {
	ev := newTestEvaluators()
	ctx := context.Background()

	n, err := NewExpression[int64]("2 + 3", "").Evaluate(ctx, ev, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	s, err := NewExpression[string]("40 + 2", "").Evaluate(ctx, ev, nil)
	require.NoError(t, err)
	assert.Equal(t, "42", s)

	p, err := NewExpression[*int]("nil", "").Evaluate(ctx, ev, nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = NewExpression[bool]("'text'", "").Evaluate(ctx, ev, nil)
	assert.True(t, types.IsCode(err, types.ErrEvaluation))
}

func TestValue_FloatToIntegerConversion(t *testing.T) {
	ev := newTestEvaluators()
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)

	whole, err := NewExpression[int]("4.0", "").Evaluate(ctx, ev, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, whole)

	for _, expression := range []string{"2.7", "-0.5"} {
		_, err := NewExpression[int64](expression, "").Evaluate(ctx, ev, nil)
		testutil.AssertErrorCode(t, err, types.ErrEvaluation)
	}

	f, err := NewExpression[float32]("2.5", "").Evaluate(ctx, ev, nil)
	require.NoError(t, err)
	assert.Equal(t, float32(2.5), f)
}

func TestValue_UnsupportedLanguage(t *testing.T) {
	v := NewExpression[int]("1", "groovy")
	_, err := v.Evaluate(context.Background(), newTestEvaluators(), nil)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrEvaluation))
	assert.True(t, types.IsCode(err, types.ErrUnsupportedLanguage))
}

func TestValue_CloneIsUnevaluated(t *testing.T) {
	ev := newTestEvaluators()
	v := NewExpression[int]("x", "")
	_, err := v.Evaluate(context.Background(), ev, Bindings{"x": 1})
	require.NoError(t, err)

	c := v.Clone()
	assert.False(t, c.Evaluated())
	got, err := c.Evaluate(context.Background(), ev, Bindings{"x": 2})
	require.NoError(t, err)
	assert.Equal(t, 2, got)
}

func TestValue_JSON(t *testing.T) {
	data, err := json.Marshal(NewExpression[int]("a + b", "expr"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"dynamic":true,"expression":"a + b","expressionType":"expr"}`, string(data))

	var v Value[int]
	require.NoError(t, json.Unmarshal(data, &v))
	assert.True(t, v.IsDynamic())
	expression, language := v.Expression()
	assert.Equal(t, "a + b", expression)
	assert.Equal(t, "expr", language)

	var lit Value[string]
	require.NoError(t, json.Unmarshal([]byte(`{"value":"hi"}`), &lit))
	got, _ := lit.Get()
	assert.Equal(t, "hi", got)

	var bare Value[int]
	require.NoError(t, json.Unmarshal([]byte(`12`), &bare))
	n, _ := bare.Get()
	assert.Equal(t, 12, n)
}

func TestValue_JSONLiteralMaps(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		dynamic bool
		want    any
	}{
		{name: "value with extra key", input: `{"value":1,"unit":"ms"}`, want: map[string]any{"value": 1.0, "unit": "ms"}},
		{name: "expression with extra key", input: `{"expression":"a","owner":"qa"}`, want: map[string]any{"expression": "a", "owner": "qa"}},
		{name: "value and expression", input: `{"value":1,"expression":"a"}`, want: map[string]any{"value": 1.0, "expression": "a"}},
		{name: "wrapped value", input: `{"value":{"unit":"ms"}}`, want: map[string]any{"unit": "ms"}},
		{name: "wrapped expression", input: `{"dynamic":true,"expression":"a","language":"expr"}`, dynamic: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := testutil.MustParseJSON[*Value[any]](tt.input)
			assert.Equal(t, tt.dynamic, v.IsDynamic())
			if tt.dynamic {
				return
			}
			got, err := v.Get()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValue_JSONRoundTripKeepsLiteralMaps(t *testing.T) {
	lit := map[string]any{"expression": "not code", "value": 3.0}
	encoded := testutil.MustJSON(NewValue[any](lit))

	decoded := testutil.MustParseJSON[*Value[any]](encoded)
	assert.False(t, decoded.IsDynamic())
	got, err := decoded.Get()
	require.NoError(t, err)
	testutil.AssertJSONEqual(t, lit, got)
}

func TestValue_YAML(t *testing.T) {
	var holder struct {
		Count   Value[int]    `yaml:"count"`
		Message Value[string] `yaml:"message"`
	}
	src := `
count:
  expression: "n + 1"
message: hello
`
	require.NoError(t, yaml.Unmarshal([]byte(src), &holder))
	assert.True(t, holder.Count.IsDynamic())
	assert.False(t, holder.Message.IsDynamic())
	msg, _ := holder.Message.Get()
	assert.Equal(t, "hello", msg)
}

func TestValue_YAMLLiteralMaps(t *testing.T) {
	var holder struct {
		Timeout Value[any] `yaml:"timeout"`
		Labels  Value[any] `yaml:"labels"`
		Wrapped Value[int] `yaml:"wrapped"`
	}
	src := `
timeout:
  value: 1
  unit: ms
labels:
  expression: nightly
  owner: qa
wrapped:
  value: 7
`
	require.NoError(t, yaml.Unmarshal([]byte(src), &holder))

	assert.False(t, holder.Timeout.IsDynamic())
	timeout, _ := holder.Timeout.Get()
	assert.Equal(t, map[string]any{"value": 1, "unit": "ms"}, timeout)

	assert.False(t, holder.Labels.IsDynamic())
	labels, _ := holder.Labels.Get()
	assert.Equal(t, map[string]any{"expression": "nightly", "owner": "qa"}, labels)

	wrapped, _ := holder.Wrapped.Get()
	assert.Equal(t, 7, wrapped)
}

func TestValue_YAMLRoundTripKeepsLiteralMaps(t *testing.T) {
	out, err := yaml.Marshal(NewValue[any](map[string]any{"expression": "not code"}))
	require.NoError(t, err)

	var back Value[any]
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.False(t, back.IsDynamic())
	got, _ := back.Get()
	assert.Equal(t, map[string]any{"expression": "not code"}, got)
}
