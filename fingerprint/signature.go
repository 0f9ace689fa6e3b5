package fingerprint

import (
	"errors"
	"fmt"
)

var (
	// ErrSignatureMismatch reports a call that does not satisfy the declared parameter list.
	ErrSignatureMismatch = errors.New("signature mismatch")
	// ErrUnrepresentable reports an argument value outside the JSON model.
	ErrUnrepresentable = errors.New("value not representable as JSON")
)

// Param is one declared parameter of a computation.
type Param struct {
	Name       string
	Default    any
	HasDefault bool
}

// Required declares a parameter the caller must supply.
func Required(name string) Param { return Param{Name: name} }

// Optional declares a parameter with a default value.
func Optional(name string, def any) Param {
	return Param{Name: name, Default: def, HasDefault: true}
}

// Signature is the ordered parameter list of a computation.
type Signature struct {
	params []Param
	index  map[string]int
}

// NewSignature validates the declared parameters. Names must be unique and
// non-empty, and defaults must themselves be representable.
func NewSignature(params ...Param) (Signature, error) {
	sig := Signature{params: make([]Param, 0, len(params)), index: make(map[string]int, len(params))}
	for _, p := range params {
		if p.Name == "" {
			return Signature{}, fmt.Errorf("%w: empty parameter name", ErrSignatureMismatch)
		}
		if _, dup := sig.index[p.Name]; dup {
			return Signature{}, fmt.Errorf("%w: duplicate parameter %q", ErrSignatureMismatch, p.Name)
		}
		if p.HasDefault {
			v, err := canonicalize(p.Default, p.Name)
			if err != nil {
				return Signature{}, fmt.Errorf("default for %q: %w", p.Name, err)
			}
			p.Default = v
		}
		sig.index[p.Name] = len(sig.params)
		sig.params = append(sig.params, p)
	}
	return sig, nil
}

// MustSignature is like NewSignature but panics on error. Intended for
// package-level task declarations.
func MustSignature(params ...Param) Signature {
	sig, err := NewSignature(params...)
	if err != nil {
		panic(err)
	}
	return sig
}

// Params returns a copy of the declared parameters in order.
func (s Signature) Params() []Param {
	out := make([]Param, len(s.params))
	copy(out, s.params)
	return out
}

// Args is a concrete call: positional values followed by keyword values.
type Args struct {
	Positional []any
	Keyword    map[string]any
}

// Positional builds Args from positional values only.
func Positional(vals ...any) Args { return Args{Positional: vals} }

// Keywords builds Args from keyword values only.
func Keywords(kw map[string]any) Args { return Args{Keyword: kw} }

// With returns a copy of a with the keyword name set to v.
func (a Args) With(name string, v any) Args {
	kw := make(map[string]any, len(a.Keyword)+1)
	for k, val := range a.Keyword {
		kw[k] = val
	}
	kw[name] = v
	return Args{Positional: a.Positional, Keyword: kw}
}

// Bind matches args against the signature and applies defaults. The returned
// Arguments hold canonical values for every declared parameter.
func (s Signature) Bind(args Args) (Arguments, error) {
	if len(args.Positional) > len(s.params) {
		return Arguments{}, fmt.Errorf("%w: takes %d positional arguments but %d were given",
			ErrSignatureMismatch, len(s.params), len(args.Positional))
	}
	values := make(map[string]any, len(s.params))
	for i, v := range args.Positional {
		name := s.params[i].Name
		cv, err := canonicalize(v, name)
		if err != nil {
			return Arguments{}, err
		}
		values[name] = cv
	}
	for name, v := range args.Keyword {
		if _, ok := s.index[name]; !ok {
			return Arguments{}, fmt.Errorf("%w: unexpected keyword argument %q", ErrSignatureMismatch, name)
		}
		if _, ok := values[name]; ok {
			return Arguments{}, fmt.Errorf("%w: multiple values for argument %q", ErrSignatureMismatch, name)
		}
		cv, err := canonicalize(v, name)
		if err != nil {
			return Arguments{}, err
		}
		values[name] = cv
	}
	names := make([]string, 0, len(s.params))
	for _, p := range s.params {
		names = append(names, p.Name)
		if _, ok := values[p.Name]; ok {
			continue
		}
		if !p.HasDefault {
			return Arguments{}, fmt.Errorf("%w: missing required argument %q", ErrSignatureMismatch, p.Name)
		}
		values[p.Name] = p.Default
	}
	return Arguments{names: names, values: values}, nil
}
