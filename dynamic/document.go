package dynamic

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Node is one value of a generic document tree. The set of variants is closed:
// Null, Bool, Int, String, *Object, Array and Dynamic.
type Node interface {
	node()
}

// Null is the JSON null.
type Null struct{}

// Bool is a boolean leaf.
type Bool bool

// Int is an integer leaf.
type Int int64

// String is a string leaf. Non-integer numbers decode to String holding
// their literal text.
type String string

// Array is an ordered list of nodes.
type Array []Node

// Field is one key of an object.
type Field struct {
	Key   string
	Value Node
}

// Object is an object with insertion-ordered keys.
type Object struct {
	Fields []Field
}

// Dynamic marks an expression to be evaluated by the document walker.
type Dynamic struct {
	Expression string
	Language   string
}

func (Null) node()    {}
func (Bool) node()    {}
func (Int) node()     {}
func (String) node()  {}
func (Array) node()   {}
func (*Object) node() {}
func (Dynamic) node() {}

// NewObject creates an object from ordered fields.
func NewObject(fields ...Field) *Object {
	return &Object{Fields: fields}
}

// Get returns the value of key.
func (o *Object) Get(key string) (Node, bool) {
	for _, f := range o.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Set replaces key in place or appends it.
func (o *Object) Set(key string, value Node) {
	for i := range o.Fields {
		if o.Fields[i].Key == key {
			o.Fields[i].Value = value
			return
		}
	}
	o.Fields = append(o.Fields, Field{Key: key, Value: value})
}

// Keys returns the keys in order.
func (o *Object) Keys() []string {
	keys := make([]string, len(o.Fields))
	for i, f := range o.Fields {
		keys[i] = f.Key
	}
	return keys
}

// dynamic marker keys
const (
	markerDynamic        = "dynamic"
	markerExpression     = "expression"
	markerExpressionType = "expressionType"
)

// asDynamic recognises {"dynamic": true, "expression": ..., "expressionType": ...}.
func asDynamic(o *Object) (Dynamic, bool) {
	flag, ok := o.Get(markerDynamic)
	if !ok || flag != Bool(true) {
		return Dynamic{}, false
	}
	d := Dynamic{}
	if e, ok := o.Get(markerExpression); ok {
		if s, ok := e.(String); ok {
			d.Expression = string(s)
		}
	}
	if l, ok := o.Get(markerExpressionType); ok {
		if s, ok := l.(String); ok {
			d.Language = string(s)
		}
	}
	return d, true
}

// ParseJSON decodes a JSON document into a Node tree, preserving key order.
// Objects carrying a true "dynamic" key become Dynamic nodes.
func ParseJSON(data []byte) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	n, err := decodeJSON(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("trailing data after document")
	}
	return n, nil
}

func decodeJSON(dec *json.Decoder) (Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		if i, err := strconv.ParseInt(string(t), 10, 64); err == nil {
			return Int(i), nil
		}
		return String(t.String()), nil
	case json.Delim:
		switch t {
		case '{':
			obj := &Object{Fields: []Field{}}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key %v", keyTok)
				}
				value, err := decodeJSON(dec)
				if err != nil {
					return nil, err
				}
				obj.Fields = append(obj.Fields, Field{Key: key, Value: value})
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			if d, ok := asDynamic(obj); ok {
				return d, nil
			}
			return obj, nil
		case '[':
			arr := Array{}
			for dec.More() {
				value, err := decodeJSON(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, value)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

// MarshalNodeJSON encodes a Node tree, writing object keys in order.
func MarshalNodeJSON(n Node) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, n); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, n Node) error {
	switch v := n.(type) {
	case nil, Null:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(bool(v)))
	case Int:
		buf.WriteString(strconv.FormatInt(int64(v), 10))
	case String:
		b, err := json.Marshal(string(v))
		if err != nil {
			return err
		}
		buf.Write(b)
	case Array:
		buf.WriteByte('[')
		for i, e := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case *Object:
		buf.WriteByte('{')
		for i, f := range v.Fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(f.Key)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteByte(':')
			if err := writeJSON(buf, f.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case Dynamic:
		return writeJSON(buf, NewObject(
			Field{Key: markerDynamic, Value: Bool(true)},
			Field{Key: markerExpression, Value: String(v.Expression)},
			Field{Key: markerExpressionType, Value: String(v.Language)},
		))
	default:
		return fmt.Errorf("unknown node type %T", n)
	}
	return nil
}

// FromYAML converts a decoded yaml.Node into a Node tree, preserving key order.
func FromYAML(y *yaml.Node) (Node, error) {
	switch y.Kind {
	case yaml.DocumentNode:
		if len(y.Content) == 0 {
			return Null{}, nil
		}
		return FromYAML(y.Content[0])
	case yaml.AliasNode:
		return FromYAML(y.Alias)
	case yaml.ScalarNode:
		switch y.Tag {
		case "!!null":
			return Null{}, nil
		case "!!bool":
			var b bool
			if err := y.Decode(&b); err != nil {
				return nil, err
			}
			return Bool(b), nil
		case "!!int":
			var i int64
			if err := y.Decode(&i); err != nil {
				return nil, err
			}
			return Int(i), nil
		default:
			return String(y.Value), nil
		}
	case yaml.SequenceNode:
		arr := make(Array, 0, len(y.Content))
		for _, c := range y.Content {
			n, err := FromYAML(c)
			if err != nil {
				return nil, err
			}
			arr = append(arr, n)
		}
		return arr, nil
	case yaml.MappingNode:
		obj := &Object{Fields: []Field{}}
		for i := 0; i+1 < len(y.Content); i += 2 {
			value, err := FromYAML(y.Content[i+1])
			if err != nil {
				return nil, err
			}
			obj.Fields = append(obj.Fields, Field{Key: y.Content[i].Value, Value: value})
		}
		if d, ok := asDynamic(obj); ok {
			return d, nil
		}
		return obj, nil
	}
	return nil, fmt.Errorf("unsupported yaml node kind %d", y.Kind)
}

// ToInterface converts a resolved tree into plain Go values. Object key order
// is lost; Dynamic nodes become their marker map.
func ToInterface(n Node) any {
	switch v := n.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(v)
	case Int:
		return int64(v)
	case String:
		return string(v)
	case Array:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = ToInterface(e)
		}
		return out
	case *Object:
		out := make(map[string]any, len(v.Fields))
		for _, f := range v.Fields {
			out[f.Key] = ToInterface(f.Value)
		}
		return out
	case Dynamic:
		return map[string]any{
			markerDynamic:        true,
			markerExpression:     v.Expression,
			markerExpressionType: v.Language,
		}
	}
	return nil
}

// Document wraps a Node so it can sit in plan files as a YAML or JSON field.
type Document struct {
	Root Node
}

// IsZero reports whether the document is empty.
func (d Document) IsZero() bool {
	return d.Root == nil
}

// MarshalJSON implements json.Marshaler.
func (d Document) MarshalJSON() ([]byte, error) {
	return MarshalNodeJSON(d.Root)
}

// UnmarshalJSON implements json.Unmarshaler. A JSON null leaves the
// document empty.
func (d *Document) UnmarshalJSON(data []byte) error {
	n, err := ParseJSON(data)
	if err != nil {
		return err
	}
	if _, isNull := n.(Null); isNull {
		n = nil
	}
	d.Root = n
	return nil
}

// MarshalYAML implements yaml.Marshaler, keeping object key order.
func (d Document) MarshalYAML() (any, error) {
	return toYAML(d.Root), nil
}

func toYAML(n Node) *yaml.Node {
	scalar := func(tag, value string) *yaml.Node {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
	}
	switch v := n.(type) {
	case Bool:
		return scalar("!!bool", strconv.FormatBool(bool(v)))
	case Int:
		return scalar("!!int", strconv.FormatInt(int64(v), 10))
	case String:
		return scalar("!!str", string(v))
	case Array:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, e := range v {
			seq.Content = append(seq.Content, toYAML(e))
		}
		return seq
	case *Object:
		m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, f := range v.Fields {
			m.Content = append(m.Content, scalar("!!str", f.Key), toYAML(f.Value))
		}
		return m
	case Dynamic:
		return toYAML(NewObject(
			Field{Key: markerDynamic, Value: Bool(true)},
			Field{Key: markerExpression, Value: String(v.Expression)},
			Field{Key: markerExpressionType, Value: String(v.Language)},
		))
	}
	return scalar("!!null", "null")
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Document) UnmarshalYAML(node *yaml.Node) error {
	n, err := FromYAML(node)
	if err != nil {
		return err
	}
	d.Root = n
	return nil
}
