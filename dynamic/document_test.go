package dynamic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/planflow/types"
)

func TestParseJSON_PreservesOrderAndMarkers(t *testing.T) {
	src := `{"z":1,"a":[true,null,"s",1.5],"m":{"dynamic":true,"expression":"x + 1","expressionType":"expr"}}`
	n, err := ParseJSON([]byte(src))
	require.NoError(t, err)

	obj, ok := n.(*Object)
	require.True(t, ok)
	assert.Equal(t, []string{"z", "a", "m"}, obj.Keys())

	arr, _ := obj.Get("a")
	assert.Equal(t, Array{Bool(true), Null{}, String("s"), String("1.5")}, arr)

	m, _ := obj.Get("m")
	assert.Equal(t, Dynamic{Expression: "x + 1", Language: "expr"}, m)

	out, err := MarshalNodeJSON(n)
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":[true,null,"s","1.5"],"m":{"dynamic":true,"expression":"x + 1","expressionType":"expr"}}`, string(out))
}

func TestParseJSON_Errors(t *testing.T) {
	_, err := ParseJSON([]byte(`{"a":`))
	assert.Error(t, err)
	_, err = ParseJSON([]byte(`1 2`))
	assert.Error(t, err)
}

func TestFromYAML_PreservesOrder(t *testing.T) {
	var doc Document
	require.NoError(t, yaml.Unmarshal([]byte("b: 1\na: two\nc:\n  dynamic: true\n  expression: n\n"), &doc))

	obj, ok := doc.Root.(*Object)
	require.True(t, ok)
	assert.Equal(t, []string{"b", "a", "c"}, obj.Keys())
	c, _ := obj.Get("c")
	assert.Equal(t, Dynamic{Expression: "n"}, c)

	out, err := yaml.Marshal(doc)
	require.NoError(t, err)
	assert.Regexp(t, `(?s)^b: 1\na: two\nc:`, string(out))

	var again Document
	require.NoError(t, yaml.Unmarshal(out, &again))
	assert.Equal(t, doc, again)
}

func TestDocumentResolver_ResolvesMarkers(t *testing.T) {
	doc := NewObject(
		Field{Key: "name", Value: String("fixed")},
		Field{Key: "count", Value: Dynamic{Expression: "n * 2"}},
		Field{Key: "list", Value: Array{Dynamic{Expression: "n > 1"}, Int(3)}},
		Field{Key: "none", Value: Dynamic{Expression: "nil"}},
		Field{Key: "float", Value: Dynamic{Expression: "1.5"}},
	)

	r := NewDocumentResolver(newTestEvaluators(), zap.NewNop())
	got := r.Resolve(context.Background(), doc, Bindings{"n": 2})

	want := NewObject(
		Field{Key: "name", Value: String("fixed")},
		Field{Key: "count", Value: Int(4)},
		Field{Key: "list", Value: Array{Bool(true), Int(3)}},
		Field{Key: "none", Value: String("")},
		Field{Key: "float", Value: String("1.5")},
	)
	assert.Equal(t, want, got)

	// input untouched
	count, _ := doc.Get("count")
	assert.Equal(t, Dynamic{Expression: "n * 2"}, count)
}

func TestDocumentResolver_FallbackOnFailure(t *testing.T) {
	var failures []error
	r := NewDocumentResolver(newTestEvaluators(), nil,
		WithFallback(String("n/a")),
		WithFailureHandler(func(_ Dynamic, err error) { failures = append(failures, err) }),
	)

	got := r.Resolve(context.Background(), Array{Dynamic{Expression: "1 +"}, Dynamic{Expression: "'fine'"}}, nil)
	assert.Equal(t, Array{String("n/a"), String("fine")}, got)
	require.Len(t, failures, 1)

	var e *types.Error
	require.True(t, errors.As(failures[0], &e))
	assert.Equal(t, types.ErrEvaluation, e.Code)
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want Node
	}{
		{"nil", nil, String("")},
		{"bool", false, Bool(false)},
		{"int", 7, Int(7)},
		{"int32", int32(-2), Int(-2)},
		{"uint8", uint8(9), Int(9)},
		{"string", "s", String("s")},
		{"node", Array{Int(1)}, Array{Int(1)}},
		{"float", 2.25, String("2.25")},
		{"slice", []int{1, 2}, String("[1 2]")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Coerce(tt.in))
		})
	}
}
