package normalize

import (
	"sort"
	"strings"

	"github.com/sells-group/phish-cli/internal/model"
)

// scoreKeys are tried in order before falling back to a nested search.
var scoreKeys = []string{
	"confidence",
	"score",
	"probability",
	"phishing_prob",
	"risk",
	"threat_score",
	"value",
}

// maxDigDepth bounds the nested search so adversarial payloads cannot force
// unbounded traversal.
const maxDigDepth = 2

// digSkipKeys hold numbers that are never scores.
var digSkipKeys = map[string]bool{
	"elapsed_ms": true,
}

// BuildFusion maps every upstream source to a canonical label and score.
// An empty input yields an empty, non-nil map; substituting a fallback entry
// is the caller's job.
func BuildFusion(models map[string]ModelOutput) map[string]model.FusionSource {
	fusion := make(map[string]model.FusionSource, len(models))
	for name, m := range models {
		fusion[name] = fuseSource(m)
	}
	return fusion
}

func fuseSource(m ModelOutput) model.FusionSource {
	score := Score(ExtractScore(m))
	label := ClassifySource(m)

	// Analyzers that only emit a label carry no confidence.
	if score == 0 {
		switch label {
		case model.VerdictPhish:
			score = 1
		case model.VerdictSuspicious:
			score = 0.5
		}
	}

	return model.FusionSource{Label: label, Score: Round3(score)}
}

// ExtractScore returns the raw (unnormalized) score of a model output, or 0
// when nothing numeric is found.
func ExtractScore(m ModelOutput) float64 {
	for _, key := range scoreKeys {
		if f, ok := ToNumber(m[key]); ok {
			return f
		}
	}
	if f, ok := dig(m, 0); ok {
		return f
	}
	return 0
}

// dig walks nested objects in key order and returns the first numeric-like
// value. Unlike a plain first-number search it skips digSkipKeys, so an
// analyzer's timing is never read as its score.
func dig(payload map[string]any, depth int) (float64, bool) {
	if depth > maxDigDepth || len(payload) == 0 {
		return 0, false
	}
	for _, key := range sortedKeys(payload) {
		if digSkipKeys[key] {
			continue
		}
		v := payload[key]
		if v == nil {
			continue
		}
		if f, ok := ToNumber(v); ok {
			return f, true
		}
		if nested, ok := v.(map[string]any); ok {
			if f, ok := dig(nested, depth+1); ok {
				return f, true
			}
		}
	}
	return 0, false
}

// CollectReasons gathers each model's reason and reasons entries, trimmed,
// in source-name order.
func CollectReasons(models map[string]ModelOutput) []string {
	reasons := []string{}
	for _, name := range sortedKeys(models) {
		reasons = append(reasons, modelReasons(models[name])...)
	}
	return reasons
}

func modelReasons(m ModelOutput) []string {
	var out []string
	if s, ok := m["reason"].(string); ok {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	switch rs := m["reasons"].(type) {
	case string:
		if s := strings.TrimSpace(rs); s != "" {
			out = append(out, s)
		}
	case []any:
		for _, item := range rs {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
	case []string:
		for _, s := range rs {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// CollectURLs gathers the per-model extracted_urls lists without duplicates.
func CollectURLs(models map[string]ModelOutput) []string {
	var lists [][]string
	for _, name := range sortedKeys(models) {
		lists = append(lists, StringList(models[name]["extracted_urls"]))
	}
	return UniqueStrings(lists...)
}

// UniqueStrings concatenates lists, dropping empty strings and repeats while
// keeping first-seen order. The result is never nil.
func UniqueStrings(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, list := range lists {
		for _, s := range list {
			if s == "" {
				continue
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// StringList reads a JSON array of strings, ignoring non-string items.
func StringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
