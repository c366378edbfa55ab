// Package record normalises the loosely-typed records returned by the
// archive backend. Every text-bearing field is reduced to a tagged Value
// when the record is built, so downstream components read flat string
// lists and never inspect raw shapes.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Objects whose members are read one level deep.
const (
	FieldMetadata = "metadata"
	FieldLinks    = "links"
)

// Record is a single archive search hit.
type Record struct {
	raw    map[string]any
	fields map[string]Value
	nested map[string]map[string]Value
}

// New builds a Record from a decoded JSON object. The map is copied, so
// later changes to raw do not affect the Record.
func New(raw map[string]any) *Record {
	r := &Record{
		raw:    make(map[string]any, len(raw)),
		fields: make(map[string]Value, len(raw)),
		nested: make(map[string]map[string]Value),
	}
	for k, v := range raw {
		r.raw[k] = v
		r.index(k, v)
	}
	return r
}

// FromJSON decodes a single JSON object into a Record.
func FromJSON(data []byte) (*Record, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return New(raw), nil
}

func (r *Record) index(key string, v any) {
	delete(r.fields, key)
	delete(r.nested, key)
	if obj, ok := v.(map[string]any); ok && (key == FieldMetadata || key == FieldLinks) {
		members := make(map[string]Value, len(obj))
		for mk, mv := range obj {
			if val := Extract(mv); !val.IsZero() {
				members[mk] = val
			}
		}
		r.nested[key] = members
		return
	}
	if val := Extract(v); !val.IsZero() {
		r.fields[key] = val
	}
}

// Value returns the normalised top-level field.
func (r *Record) Value(field string) Value {
	return r.fields[field]
}

// Strings returns the flattened top-level field, or nil when absent.
func (r *Record) Strings(field string) []string {
	return r.fields[field].Strings()
}

// First returns the first string of a top-level field, or "".
func (r *Record) First(field string) string {
	return r.fields[field].First()
}

// Has reports whether a top-level field carries any text.
func (r *Record) Has(field string) bool {
	return !r.fields[field].IsZero()
}

// Nested returns every string inside one of the nested objects, ordered by
// member name.
func (r *Record) Nested(object string) []string {
	members := r.nested[object]
	if len(members) == 0 {
		if v, ok := r.fields[object]; ok {
			return v.Strings()
		}
		return nil
	}
	keys := sortedKeys(members)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, members[k].Strings()...)
	}
	return out
}

// NestedValue returns one member of a nested object.
func (r *Record) NestedValue(object, member string) Value {
	return r.nested[object][member]
}

// Number reads a numeric field that may have arrived as a JSON number or as
// a numeric string. Lists use their first member.
func (r *Record) Number(field string) (float64, bool) {
	switch n := r.raw[field].(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	s := strings.ReplaceAll(r.First(field), ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

// Raw returns the value exactly as it was supplied.
func (r *Record) Raw(field string) (any, bool) {
	v, ok := r.raw[field]
	return v, ok
}

// Set replaces a field and re-normalises it.
func (r *Record) Set(field string, v any) {
	r.raw[field] = v
	r.index(field, v)
}

// Delete removes a field.
func (r *Record) Delete(field string) {
	delete(r.raw, field)
	delete(r.fields, field)
	delete(r.nested, field)
}

// Clone returns an independent copy. Raw values are shared, which is safe
// because Record never mutates them in place.
func (r *Record) Clone() *Record {
	return New(r.raw)
}

// Map returns a shallow copy of the raw fields.
func (r *Record) Map() map[string]any {
	out := make(map[string]any, len(r.raw))
	for k, v := range r.raw {
		out[k] = v
	}
	return out
}

// Hash returns a stable content digest of the record.
func (r *Record) Hash() string {
	data, err := json.Marshal(r.raw)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.raw)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = *New(raw)
	return nil
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
