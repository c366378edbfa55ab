package record

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Kind tags the shape a field arrived in.
type Kind int

const (
	KindNone Kind = iota
	KindText
	KindList
)

// Value is a text-bearing field normalised at ingestion: either a single
// string or a list of strings. Empty strings never appear in a Value.
type Value struct {
	kind Kind
	text string
	list []string
}

func Text(s string) Value {
	s = strings.TrimSpace(s)
	if s == "" {
		return Value{}
	}
	return Value{kind: KindText, text: s}
}

func List(items ...string) Value {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return Value{}
	}
	return Value{kind: KindList, list: out}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsZero() bool { return v.kind == KindNone }

// Strings flattens the value.
func (v Value) Strings() []string {
	switch v.kind {
	case KindText:
		return []string{v.text}
	case KindList:
		out := make([]string, len(v.list))
		copy(out, v.list)
		return out
	default:
		return nil
	}
}

// First returns the text or the first list member.
func (v Value) First() string {
	switch v.kind {
	case KindText:
		return v.text
	case KindList:
		return v.list[0]
	default:
		return ""
	}
}

// strategy extracts a Value from one possible shape of a decoded JSON value.
type strategy func(raw any) (Value, bool)

// strategies are tried in order; the first that recognises the shape wins.
// Assigned in init because fromAnySlice recurses into Extract.
var strategies []strategy

func init() {
	strategies = []strategy{
		fromString,
		fromStringSlice,
		fromAnySlice,
		fromObject,
		fromNumber,
	}
}

// objectTextKeys are looked up, in order, when a scalar is wrapped in an object.
var objectTextKeys = []string{"name", "value", "text", "title", "label", "url", "href"}

// Extract normalises an arbitrary decoded value into a Value. Shapes no
// strategy recognises yield the zero Value.
func Extract(raw any) Value {
	for _, s := range strategies {
		if v, ok := s(raw); ok {
			return v
		}
	}
	return Value{}
}

func fromString(raw any) (Value, bool) {
	s, ok := raw.(string)
	if !ok {
		return Value{}, false
	}
	return Text(s), true
}

func fromStringSlice(raw any) (Value, bool) {
	items, ok := raw.([]string)
	if !ok {
		return Value{}, false
	}
	return List(items...), true
}

func fromAnySlice(raw any) (Value, bool) {
	items, ok := raw.([]any)
	if !ok {
		return Value{}, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, nested := item.([]any); nested {
			continue
		}
		out = append(out, Extract(item).Strings()...)
	}
	return List(out...), true
}

func fromObject(raw any) (Value, bool) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return Value{}, false
	}
	for _, key := range objectTextKeys {
		if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
			return Text(s), true
		}
	}
	return Value{}, true
}

func fromNumber(raw any) (Value, bool) {
	switch n := raw.(type) {
	case float64:
		return Text(strconv.FormatFloat(n, 'f', -1, 64)), true
	case int:
		return Text(strconv.Itoa(n)), true
	case int64:
		return Text(strconv.FormatInt(n, 10)), true
	case json.Number:
		return Text(n.String()), true
	}
	return Value{}, false
}
