package fingerprint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"unicode/utf8"
)

// Canonicalize converts v into the JSON model used for identities.
func Canonicalize(v any) (any, error) {
	return canonicalize(v, "$")
}

func canonicalize(v any, path string) (any, error) {
	w := walker{seen: make(map[visit]struct{})}
	return w.value(v, path)
}

// visit identifies a map, slice or pointer on the current descent path.
type visit struct {
	ptr uintptr
	typ reflect.Type
	len int
}

type walker struct {
	seen map[visit]struct{}
}

// enter records rv on the descent path and fails if it is already there.
// The returned func removes it, so shared but acyclic values still pass.
func (w walker) enter(rv reflect.Value, path string) (func(), error) {
	key := visit{ptr: rv.Pointer(), typ: rv.Type()}
	if rv.Kind() == reflect.Slice {
		key.len = rv.Len()
	}
	if _, ok := w.seen[key]; ok {
		return nil, fmt.Errorf("%w: %s: cyclic value of type %s", ErrUnrepresentable, path, rv.Type())
	}
	w.seen[key] = struct{}{}
	return func() { delete(w.seen, key) }, nil
}

func (w walker) value(v any, path string) (any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, nil
	}
	switch x := v.(type) {
	case json.Number:
		return narrowNumber(x, path)
	case json.Marshaler:
		return canonicalizeMarshaler(x, path)
	}

	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %s: unsigned value %d overflows int64", ErrUnrepresentable, path, u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: %s: non-finite float %v", ErrUnrepresentable, path, f)
		}
		return f, nil
	case reflect.String:
		s := rv.String()
		if !utf8.ValidString(s) {
			return nil, fmt.Errorf("%w: %s: string is not valid UTF-8", ErrUnrepresentable, path)
		}
		return s, nil
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		leave, err := w.enter(rv, path)
		if err != nil {
			return nil, err
		}
		defer leave()
		return w.sequence(rv, path)
	case reflect.Array:
		return w.sequence(rv, path)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: %s: map key type %s is not string", ErrUnrepresentable, path, rv.Type().Key())
		}
		if rv.IsNil() {
			return nil, nil
		}
		leave, err := w.enter(rv, path)
		if err != nil {
			return nil, err
		}
		defer leave()
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			if !utf8.ValidString(k) {
				return nil, fmt.Errorf("%w: %s: map key %q is not valid UTF-8", ErrUnrepresentable, path, k)
			}
			cv, err := w.value(iter.Value().Interface(), path+"."+k)
			if err != nil {
				return nil, err
			}
			out[k] = cv
		}
		return out, nil
	case reflect.Pointer:
		leave, err := w.enter(rv, path)
		if err != nil {
			return nil, err
		}
		defer leave()
		return w.value(rv.Elem().Interface(), path)
	case reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return w.value(rv.Elem().Interface(), path)
	default:
		return nil, fmt.Errorf("%w: %s: unsupported type %T", ErrUnrepresentable, path, v)
	}
}

func (w walker) sequence(rv reflect.Value, path string) (any, error) {
	out := make([]any, rv.Len())
	for i := range out {
		cv, err := w.value(rv.Index(i).Interface(), path+"["+strconv.Itoa(i)+"]")
		if err != nil {
			return nil, err
		}
		out[i] = cv
	}
	return out, nil
}

func canonicalizeMarshaler(m json.Marshaler, path string) (any, error) {
	raw, err := m.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnrepresentable, path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnrepresentable, path, err)
	}
	return canonicalize(decoded, path)
}

func narrowNumber(n json.Number, path string) (any, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: bad number %q", ErrUnrepresentable, path, n)
	}
	return f, nil
}

// Encode returns the canonical JSON of a canonicalized value. encoding/json
// sorts map keys, which makes the output stable across runs.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
