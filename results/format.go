package results

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Shape is the closed set of result categories the store distinguishes.
type Shape string

const (
	ShapeTabular    Shape = "tabular"
	ShapeObject     Shape = "object"
	ShapeCollection Shape = "collection"
	ShapeScalar     Shape = "scalar"
	ShapeOpaque     Shape = "opaque"
)

// Format is the tag recorded next to an artifact. Scalars carry a kind
// qualifier so that retrieval restores the original scalar type.
type Format string

const (
	FormatTabular      Format = "tabular"
	FormatObject       Format = "object"
	FormatCollection   Format = "collection"
	FormatScalarInt    Format = "scalar/int"
	FormatScalarUint   Format = "scalar/uint"
	FormatScalarFloat  Format = "scalar/float"
	FormatScalarBool   Format = "scalar/bool"
	FormatScalarString Format = "scalar/string"
	FormatOpaque       Format = "opaque"
)

// Shape returns the category of f.
func (f Format) Shape() Shape {
	s, _, _ := strings.Cut(string(f), "/")
	return Shape(s)
}

// Ext returns the artifact file extension for f.
func (f Format) Ext() string {
	switch f.Shape() {
	case ShapeTabular:
		return "csv"
	case ShapeObject, ShapeCollection:
		return "json"
	default:
		return "txt"
	}
}

// Lossless reports whether values stored under f are restored exactly.
func (f Format) Lossless() bool { return f.Shape() != ShapeOpaque }

// Encode picks the format for v by inspecting its shape and renders it.
// Precedence: tabular, string-keyed mapping, collection (sets sorted),
// scalar, then a JSON attempt with an opaque text fallback.
func Encode(v any) (Format, []byte, error) {
	switch x := v.(type) {
	case Table:
		data, err := x.encodeCSV()
		return FormatTabular, data, err
	case *Table:
		if x != nil {
			data, err := x.encodeCSV()
			return FormatTabular, data, err
		}
	case setLike:
		return encodeJSON(FormatCollection, x.sortedMembers(), v)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Elem().Kind() == reflect.Struct && rv.Type().Elem().NumField() == 0 {
			return encodeJSON(FormatCollection, reflectSetMembers(rv), v)
		}
		if rv.Type().Key().Kind() == reflect.String {
			if rv.IsNil() {
				return encodeJSON(FormatObject, map[string]any{}, v)
			}
			return encodeJSON(FormatObject, v, v)
		}
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return encodeJSON(FormatCollection, []any{}, v)
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			// encoding/json would write bytes as a base64 string.
			return encodeJSON(FormatCollection, byteMembers(rv), v)
		}
		return encodeJSON(FormatCollection, v, v)
	case reflect.Bool:
		return FormatScalarBool, []byte(strconv.FormatBool(rv.Bool())), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return FormatScalarInt, []byte(strconv.FormatInt(rv.Int(), 10)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return FormatScalarUint, []byte(strconv.FormatUint(rv.Uint(), 10)), nil
	case reflect.Float32, reflect.Float64:
		return FormatScalarFloat, []byte(strconv.FormatFloat(rv.Float(), 'g', -1, 64)), nil
	case reflect.String:
		return FormatScalarString, []byte(rv.String()), nil
	}
	return encodeJSON(FormatObject, v, v)
}

// encodeJSON renders payload as indented JSON under f, falling back to an
// opaque text rendering of orig when the payload is not encodable.
func encodeJSON(f Format, payload, orig any) (Format, []byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return FormatOpaque, []byte(fmt.Sprintf("%+v", orig)), nil
	}
	return f, buf.Bytes(), nil
}

// Decode is the inverse of Encode for every lossless format. Opaque and
// unknown formats come back as text, or as JSON if the text parses.
func Decode(f Format, data []byte) (any, error) {
	switch f {
	case FormatTabular:
		return decodeCSV(data)
	case FormatObject, FormatCollection:
		v, err := decodeJSON(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
		}
		return v, nil
	case FormatScalarString:
		return string(data), nil
	case FormatScalarBool:
		b, err := strconv.ParseBool(string(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
		}
		return b, nil
	case FormatScalarInt:
		i, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
		}
		return i, nil
	case FormatScalarUint:
		u, err := strconv.ParseUint(string(data), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
		}
		return u, nil
	case FormatScalarFloat:
		x, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
		}
		return x, nil
	case FormatOpaque:
		return string(data), nil
	}
	if v, err := decodeJSON(data); err == nil {
		return v, nil
	}
	return string(data), nil
}

// Normalize returns v as Retrieve would return it after a Persist round trip.
func Normalize(v any) (any, error) {
	f, data, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return Decode(f, data)
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return narrow(v), nil
}

// narrow converts json.Number leaves into int64 when integral, else float64.
func narrow(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []any:
		for i := range x {
			x[i] = narrow(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = narrow(x[k])
		}
		return x
	default:
		return v
	}
}

// setLike is implemented by Set.
type setLike interface {
	sortedMembers() []any
}

// Set is an unordered collection. It is stored as a sorted sequence so the
// artifact is reproducible.
type Set[T cmp.Ordered] map[T]struct{}

// NewSet builds a set from vals.
func NewSet[T cmp.Ordered](vals ...T) Set[T] {
	s := make(Set[T], len(vals))
	for _, v := range vals {
		s[v] = struct{}{}
	}
	return s
}

func (s Set[T]) Add(v T) { s[v] = struct{}{} }

func (s Set[T]) Has(v T) bool {
	_, ok := s[v]
	return ok
}

// Sorted returns the members in ascending order.
func (s Set[T]) Sorted() []T {
	out := make([]T, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return cmp.Less(out[i], out[j]) })
	return out
}

func (s Set[T]) sortedMembers() []any {
	sorted := s.Sorted()
	out := make([]any, len(sorted))
	for i, v := range sorted {
		out[i] = v
	}
	return out
}

func byteMembers(rv reflect.Value) []any {
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = int64(rv.Index(i).Uint())
	}
	return out
}

func reflectSetMembers(rv reflect.Value) []any {
	out := make([]any, 0, rv.Len())
	for _, k := range rv.MapKeys() {
		out = append(out, k.Interface())
	}
	sort.Slice(out, func(i, j int) bool { return compareAny(out[i], out[j]) < 0 })
	return out
}

// compareAny orders mixed members: nil, bools, numbers, strings, then the rest
// by their printed form.
func compareAny(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch ra {
	case 1:
		ab, bb := reflect.ValueOf(a).Bool(), reflect.ValueOf(b).Bool()
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case 2:
		return cmp.Compare(toFloat(a), toFloat(b))
	case 3:
		return strings.Compare(reflect.ValueOf(a).String(), reflect.ValueOf(b).String())
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func rank(v any) int {
	if v == nil {
		return 0
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Bool:
		return 1
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return 2
	case reflect.String:
		return 3
	}
	return 4
}

func toFloat(v any) float64 {
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return float64(rv.Int())
	case rv.CanUint():
		return float64(rv.Uint())
	default:
		return rv.Float()
	}
}
