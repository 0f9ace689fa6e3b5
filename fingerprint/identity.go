package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cast"
)

// SeedParam is the conventional parameter name recorded as a task's random seed.
const SeedParam = "random_seed"

// Arguments are the bound, canonical arguments of one call, in declared order.
type Arguments struct {
	names  []string
	values map[string]any
}

// Names returns parameter names in declared order.
func (a Arguments) Names() []string {
	out := make([]string, len(a.names))
	copy(out, a.names)
	return out
}

// Get returns the canonical value of a parameter.
func (a Arguments) Get(name string) (any, bool) {
	v, ok := a.values[name]
	return v, ok
}

// Map returns a copy of the name to value mapping.
func (a Arguments) Map() map[string]any {
	out := make(map[string]any, len(a.values))
	for k, v := range a.values {
		out[k] = v
	}
	return out
}

func (a Arguments) lookup(name string) (any, error) {
	v, ok := a.values[name]
	if !ok {
		return nil, fmt.Errorf("argument %q not bound", name)
	}
	return v, nil
}

func (a Arguments) Int(name string) (int, error) {
	v, err := a.lookup(name)
	if err != nil {
		return 0, err
	}
	return cast.ToIntE(v)
}

func (a Arguments) Int64(name string) (int64, error) {
	v, err := a.lookup(name)
	if err != nil {
		return 0, err
	}
	return cast.ToInt64E(v)
}

func (a Arguments) Float64(name string) (float64, error) {
	v, err := a.lookup(name)
	if err != nil {
		return 0, err
	}
	return cast.ToFloat64E(v)
}

func (a Arguments) String(name string) (string, error) {
	v, err := a.lookup(name)
	if err != nil {
		return "", err
	}
	return cast.ToStringE(v)
}

func (a Arguments) Bool(name string) (bool, error) {
	v, err := a.lookup(name)
	if err != nil {
		return false, err
	}
	return cast.ToBoolE(v)
}

// Seed returns the random_seed argument when one is bound to an integer.
func (a Arguments) Seed() (int64, bool) {
	v, ok := a.values[SeedParam]
	if !ok || v == nil {
		return 0, false
	}
	i, ok := v.(int64)
	return i, ok
}

// Identity is the cache key of a memoized call.
type Identity struct {
	Name   string
	Params Arguments

	canonical string
	hash      string
}

// NewIdentity fixes the canonical encoding of params for name.
func NewIdentity(name string, params Arguments) Identity {
	raw, err := Encode(params.values)
	if err != nil {
		// Arguments only hold canonicalized values, which always encode.
		panic(fmt.Sprintf("fingerprint: encode canonical params: %v", err))
	}
	if params.values == nil {
		raw = []byte("{}")
	}
	sum := sha256.Sum256(append([]byte(name+"\x00"), raw...))
	return Identity{
		Name:      name,
		Params:    params,
		canonical: string(raw),
		hash:      hex.EncodeToString(sum[:]),
	}
}

// Canonical returns the sorted-key JSON of the parameters.
func (id Identity) Canonical() string { return id.canonical }

// Hash returns the hex sha256 of the name and canonical parameters.
func (id Identity) Hash() string { return id.hash }

// Equal reports structural equality of name and canonical parameters.
func (id Identity) Equal(other Identity) bool {
	return id.Name == other.Name && id.canonical == other.canonical
}

func (id Identity) String() string {
	return id.Name + id.canonical
}
