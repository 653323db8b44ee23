package normalize

import (
	"strings"

	"github.com/sells-group/phish-cli/internal/model"
)

const (
	// SourcePhishThreshold is the normalized score at which a single
	// analyzer is treated as calling phish.
	SourcePhishThreshold = 0.7
	// SuspiciousThreshold is the aggregate probability above which a
	// non-phish response escalates to suspicious. Equality stays safe.
	SuspiciousThreshold = 0.55
)

var keywordSets = []struct {
	verdict  model.Verdict
	keywords []string
}{
	{model.VerdictPhish, []string{"phish", "malicious", "block"}},
	{model.VerdictSuspicious, []string{"suspicious", "review"}},
	{model.VerdictSafe, []string{"safe", "benign", "allow"}},
}

// LabelFromText matches free-text labels such as "Malicious" or
// "needs_review". Text matching none of the keyword sets reports false.
func LabelFromText(text string) (model.Verdict, bool) {
	lower := strings.ToLower(text)
	for _, set := range keywordSets {
		for _, kw := range set.keywords {
			if strings.Contains(lower, kw) {
				return set.verdict, true
			}
		}
	}
	return "", false
}

// ClassifySource derives one analyzer's label. First match wins: a text
// label or verdict, then a boolean verdict, final_verdict or is_phishing,
// then a score or confidence at or above SourcePhishThreshold. Everything
// else is safe.
func ClassifySource(m ModelOutput) model.Verdict {
	for _, key := range []string{"label", "verdict"} {
		if s, ok := m[key].(string); ok {
			if v, ok := LabelFromText(s); ok {
				return v
			}
		}
	}

	for _, key := range []string{"verdict", "final_verdict", "is_phishing"} {
		if b, ok := m[key].(bool); ok {
			if b {
				return model.VerdictPhish
			}
			return model.VerdictSafe
		}
	}

	for _, key := range []string{"score", "confidence"} {
		if _, ok := ToNumber(m[key]); ok {
			if Score(m[key]) >= SourcePhishThreshold {
				return model.VerdictPhish
			}
			break
		}
	}

	return model.VerdictSafe
}

// TopLevel is the response-wide verdict. It escalates to suspicious at a
// lower bar than ClassifySource uses for phish.
func TopLevel(finalVerdict bool, prob float64) model.Verdict {
	switch {
	case finalVerdict:
		return model.VerdictPhish
	case prob > SuspiciousThreshold:
		return model.VerdictSuspicious
	default:
		return model.VerdictSafe
	}
}
