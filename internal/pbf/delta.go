package pbf

import (
	"github.com/JohnCGriffin/overflow"
)

// DeltaDecode turns a column of deltas into absolute values by running sum.
// The accumulator starts at zero on every call. A sum that does not fit in
// an int64 is a schema violation.
func DeltaDecode(deltas []int64) ([]int64, error) {
	out := make([]int64, len(deltas))
	var acc int64
	for i, d := range deltas {
		next, ok := overflow.Add64(acc, d)
		if !ok {
			return nil, newError(KindSchemaViolation, "delta decode",
				"int64 overflow at position %d (%d + %d)", i, acc, d)
		}
		acc = next
		out[i] = acc
	}
	return out, nil
}

// DeltaEncode is the inverse of DeltaDecode.
func DeltaEncode(values []int64) ([]int64, error) {
	out := make([]int64, len(values))
	var prev int64
	for i, v := range values {
		d, ok := overflow.Sub64(v, prev)
		if !ok {
			return nil, newError(KindSchemaViolation, "delta encode",
				"int64 overflow at position %d (%d - %d)", i, v, prev)
		}
		out[i] = d
		prev = v
	}
	return out, nil
}
