// Package fingerprint derives the identity of a memoized call.
//
// A computation declares its parameters once as a Signature. Each call's
// positional and keyword arguments are bound against it, declared defaults
// are applied, and every value is canonicalized into the JSON model
// (nil, bool, int64, float64, string, []any, map[string]any). The resulting
// Identity serializes with sorted keys, so two calls that supply the same
// effective arguments always produce byte-identical canonical parameters:
//
//	sig := fingerprint.MustSignature(
//	    fingerprint.Required("x"),
//	    fingerprint.Optional("y", 10),
//	)
//	a, _ := sig.Bind(fingerprint.Positional(5))
//	b, _ := sig.Bind(fingerprint.Keywords(map[string]any{"x": 5, "y": 10}))
//	fingerprint.NewIdentity("f", a).Equal(fingerprint.NewIdentity("f", b)) // true
//
// Values that cannot be represented exactly (channels, funcs, structs
// without a JSON marshaller, NaN) are rejected instead of stringified.
package fingerprint
