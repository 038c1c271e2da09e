package tile

import (
	"strconv"
	"strings"
)

// BuildURL replaces URL template tokens
func BuildURL(template string, c Coord) string {
	url := template
	url = strings.ReplaceAll(url, "{z}", strconv.Itoa(c.Z))
	url = strings.ReplaceAll(url, "{x}", strconv.Itoa(c.X))
	url = strings.ReplaceAll(url, "{y}", strconv.Itoa(c.Y))
	url = strings.ReplaceAll(url, "{-y}", strconv.Itoa(c.FlipY()))
	// Handle {s} for subdomains (simple implementation)
	if strings.Contains(url, "{s}") {
		subdomain := string(rune('a' + (c.X+c.Y)%3))
		url = strings.ReplaceAll(url, "{s}", subdomain)
	}
	return url
}

// IsTemplate reports whether s carries the {z}, {x} and a row placeholder.
func IsTemplate(s string) bool {
	return strings.Contains(s, "{z}") &&
		strings.Contains(s, "{x}") &&
		(strings.Contains(s, "{y}") || strings.Contains(s, "{-y}"))
}
