package classifier

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tofagerl/mailmind/internal/metrics"
	"github.com/tofagerl/mailmind/pkg/models"
)

// Reasoning prefixes of default-category results
const (
	ReasonInvalidCategory = "invalid category"
	ReasonMissingCategory = "missing category in response"
	ReasonMissing         = "missing from response"
	ReasonParse           = "failed to parse response"
	ReasonOracle          = "classification failed"
)

// A self-contained result object; nested braces are not expected
var fragmentRe = regexp.MustCompile(`\{[^{}]*\}`)

// parseResponse maps oracle text onto n results. Fragments with a valid,
// unused 1-based "email" index take that slot first; the others fill the
// remaining slots in order. Slots left empty get the default category.
func parseResponse(text string, n int, set *models.CategorySet) []models.Classification {
	results := make([]models.Classification, n)
	filled := make([]bool, n)

	// nil entries are fragments that did not decode
	var positional []map[string]interface{}
	for _, raw := range fragmentRe.FindAllString(text, -1) {
		var fields map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			positional = append(positional, nil)
			continue
		}

		if idx, ok := toInt(fields["email"]); ok && idx >= 1 && idx <= n && !filled[idx-1] {
			results[idx-1] = fromFragment(fields, set)
			filled[idx-1] = true
			continue
		}
		positional = append(positional, fields)
	}

	slot := 0
	for _, fields := range positional {
		for slot < n && filled[slot] {
			slot++
		}
		if slot == n {
			break
		}

		if fields == nil {
			results[slot] = fallback(set, ReasonParse, "parse")
		} else {
			results[slot] = fromFragment(fields, set)
		}
		filled[slot] = true
	}

	for i, ok := range filled {
		if !ok {
			results[i] = fallback(set, ReasonMissing, "missing")
		}
	}
	return results
}

// fromFragment validates one decoded result object
func fromFragment(fields map[string]interface{}, set *models.CategorySet) models.Classification {
	name, ok := fields["category"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return fallback(set, ReasonMissingCategory, "missing_category")
	}

	cat, ok := set.Lookup(name)
	if !ok {
		return fallback(set, fmt.Sprintf("%s: %s", ReasonInvalidCategory, name), "invalid_category")
	}

	confidence, _ := toFloat(fields["confidence"])
	reasoning, _ := fields["reasoning"].(string)

	return models.Classification{
		Category:   cat,
		Confidence: clamp(confidence, 0, 100),
		Reasoning:  reasoning,
	}
}

// fallback returns the default category with zero confidence
func fallback(set *models.CategorySet, reasoning, metric string) models.Classification {
	metrics.RecordFallback(metric)
	return models.Classification{
		Category:   set.Default(),
		Confidence: 0,
		Reasoning:  reasoning,
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(x), "%"), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toInt(v interface{}) (int, bool) {
	f, ok := toFloat(v)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
