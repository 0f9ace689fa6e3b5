package asyncx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohans/memotask/fingerprint"
)

// TypePrefix namespaces memoized invocations among other asynq task types.
const TypePrefix = "memotask:"

// TypeName returns the asynq task type for a memoized task name.
func TypeName(task string) string { return TypePrefix + task }

// TaskName strips TypePrefix from an asynq task type.
func TaskName(typeName string) (string, bool) {
	if !strings.HasPrefix(typeName, TypePrefix) {
		return "", false
	}
	return strings.TrimPrefix(typeName, TypePrefix), true
}

// Invocation is the queued payload: the arguments of one memoized call.
type Invocation struct {
	Args   []any          `json:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

func (inv Invocation) FingerprintArgs() fingerprint.Args {
	return fingerprint.Args{Positional: inv.Args, Keyword: inv.Kwargs}
}

// decodeInvocation keeps integral numbers exact so a queued x=4 has the same
// identity as a direct call with 4.
func decodeInvocation(payload []byte) (Invocation, error) {
	var inv Invocation
	if len(payload) == 0 {
		return inv, nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&inv); err != nil {
		return inv, fmt.Errorf("decode invocation: %w", err)
	}
	return inv, nil
}
