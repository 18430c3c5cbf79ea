package utils

import (
	"math"
	"net/url"
	"strings"
)

func IsValidInterval(interval string) bool {
	switch interval {
	case "Minute", "Hour", "Day", "Week", "Month", "Quarter", "Year":
		return true
	default:
		return false
	}
}

// NormalizePath reduces a tracker-supplied path or full URL to a bare
// route: no scheme/host, no query, no fragment, no trailing slash
// (except the root itself). Unparseable or empty input becomes "/".
func NormalizePath(raw string) string {
	if raw == "" {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "/"
	}
	path := u.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		path = "/"
	}
	return path
}

// Round2 rounds to two decimal places, the precision used for dropoff
// and conversion percentages.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
