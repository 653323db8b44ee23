// Package normalize maps loosely-typed upstream analyzer output onto the
// canonical verdict, score and fusion shapes. Nothing here returns an error:
// missing or wrongly-typed fields degrade to score 0 and label safe.
package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ModelOutput is one analyzer's raw payload as decoded from JSON.
type ModelOutput = map[string]any

// ToNumber coerces numbers and numeric strings. Empty strings, NaN and
// infinities are not numeric.
func ToNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Score coerces a raw confidence into [0,1]. Values above 1 are read as a
// 0-100 percentage. This misreads unit-interval scores that drift past 1
// (raw logits, float noise); the upstream contract does not say which scale
// each analyzer uses.
func Score(raw any) float64 {
	f, ok := ToNumber(raw)
	if !ok {
		return 0
	}
	if f > 1 {
		f /= 100
	}
	return clamp01(f)
}

// Round3 rounds to three decimal places.
func Round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

func clamp01(f float64) float64 {
	return math.Min(math.Max(f, 0), 1)
}
