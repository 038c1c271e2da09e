package blend

import (
	"fmt"
	"strconv"
	"strings"
)

// mergeCacheControl returns the shortest max-age among hits. Any fault
// forces max-age=0. ok is false when no layer declared a lifetime.
func mergeCacheControl(results []layerResult) (value string, ok bool) {
	shortest := -1
	for _, r := range results {
		switch r.outcome.kind {
		case outcomeFault:
			return "public, max-age=0", true
		case outcomeHit:
			if age, found := maxAge(r.outcome.header.Get("Cache-Control")); found && (shortest < 0 || age < shortest) {
				shortest = age
			}
		}
	}
	if shortest < 0 {
		return "", false
	}
	return fmt.Sprintf("public, max-age=%d", shortest), true
}

// maxAge extracts the max-age directive of a Cache-Control value.
func maxAge(cc string) (int, bool) {
	for _, directive := range strings.Split(cc, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(directive), "=")
		if !found || !strings.EqualFold(name, "max-age") {
			continue
		}
		age, err := strconv.Atoi(strings.Trim(value, `"`))
		if err != nil || age < 0 {
			continue
		}
		return age, true
	}
	return 0, false
}
