package upstream

import (
	"encoding/json"
	"strings"
)

type urlWire struct {
	URL            any             `json:"url"`
	FinalVerdict   any             `json:"final_verdict"`
	Confidence     any             `json:"confidence"`
	Models         any             `json:"models"`
	DetectedBrands any             `json:"detected_brands"`
	VisualReasons  any             `json:"visual_reasons"`
	ExtractedURLs  any             `json:"extracted_urls"`
	ModelVersion   any             `json:"model_version"`
	RequestID      any             `json:"request_id"`
	Timestamp      any             `json:"timestamp"`
	Agent          json.RawMessage `json:"agent"`
}

// UnmarshalJSON only fails when the body is not a JSON object.
func (a *URLAnalysis) UnmarshalJSON(data []byte) error {
	var w urlWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*a = URLAnalysis{
		URL:            stringValue(w.URL),
		FinalVerdict:   boolValue(w.FinalVerdict),
		Confidence:     w.Confidence,
		Models:         modelMap(w.Models),
		DetectedBrands: stringList(w.DetectedBrands),
		VisualReasons:  stringList(w.VisualReasons),
		ExtractedURLs:  stringList(w.ExtractedURLs),
		ModelVersion:   stringValue(w.ModelVersion),
		RequestID:      stringValue(w.RequestID),
		Timestamp:      stringValue(w.Timestamp),
		Agent:          w.Agent,
	}
	return nil
}

type textWire struct {
	IsPhishing    any `json:"is_phishing"`
	Confidence    any `json:"confidence"`
	Reasons       any `json:"reasons"`
	ExtractedURLs any `json:"extracted_urls"`
	ModelVersion  any `json:"model_version"`
	RequestID     any `json:"request_id"`
	Timestamp     any `json:"timestamp"`
}

// UnmarshalJSON only fails when the body is not a JSON object.
func (t *TextAnalysis) UnmarshalJSON(data []byte) error {
	var w textWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*t = TextAnalysis{
		IsPhishing:    boolValue(w.IsPhishing),
		Confidence:    w.Confidence,
		Reasons:       stringList(w.Reasons),
		ExtractedURLs: stringList(w.ExtractedURLs),
		ModelVersion:  stringValue(w.ModelVersion),
		RequestID:     stringValue(w.RequestID),
		Timestamp:     stringValue(w.Timestamp),
	}
	return nil
}

// boolValue is true only for a JSON true.
func boolValue(v any) bool {
	b, _ := v.(bool)
	return b
}

func stringValue(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// stringList keeps the non-blank strings of a list. A lone string becomes a
// one-element list; anything else is nil.
func stringList(v any) []string {
	switch list := v.(type) {
	case string:
		if s := strings.TrimSpace(list); s != "" {
			return []string{s}
		}
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	return nil
}

// modelMap keeps the analyzers whose output is an object.
func modelMap(v any) map[string]ModelOutput {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	models := make(map[string]ModelOutput, len(raw))
	for name, out := range raw {
		if m, ok := out.(map[string]any); ok {
			models[name] = m
		}
	}
	return models
}
