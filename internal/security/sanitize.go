package security

import (
	"regexp"
)

// MaxStringLength is the longest string Sanitize lets through.
const MaxStringLength = 10000

var (
	scriptBlock  = regexp.MustCompile(`(?is)<script\b.*?</script\s*>`)
	jsScheme     = regexp.MustCompile(`(?i)javascript\s*:`)
	eventHandler = regexp.MustCompile(`(?i)\bon\w+\s*=`)
)

// Sanitize walks decoded JSON (maps, slices, strings) and returns a copy with
// script blocks, javascript: schemes and inline on*= handlers removed and
// strings cut to MaxStringLength runes. It is a blacklist filter and no
// substitute for encoding output.
func Sanitize(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return SanitizeString(t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = Sanitize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = Sanitize(val)
		}
		return out
	default:
		return v
	}
}

// SanitizeString applies the string rules of Sanitize.
func SanitizeString(s string) string {
	s = scriptBlock.ReplaceAllString(s, "")
	s = jsScheme.ReplaceAllString(s, "")
	s = eventHandler.ReplaceAllString(s, "")
	if r := []rune(s); len(r) > MaxStringLength {
		s = string(r[:MaxStringLength])
	}
	return s
}
