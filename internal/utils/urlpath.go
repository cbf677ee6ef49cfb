package utils

import (
	"net/url"
	"strings"
)

// RedactURL strips the query string and credentials from a URL so CDN
// tokens never reach the logs.
// Example: https://u:p@cdn.example.com/live/1.flv?expires=1&sign=x -> https://cdn.example.com/live/1.flv
func RedactURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		if i := strings.IndexByte(rawURL, '?'); i >= 0 {
			return rawURL[:i]
		}
		return rawURL
	}
	parsed.User = nil
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String()
}

// illegalNameChars are replaced in generated file names.
var illegalNameChars = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_", "\n", " ", "\r", " ", "\t", " ",
)

// SanitizeFilename makes s safe to use as a single path element.
func SanitizeFilename(s string) string {
	s = illegalNameChars.Replace(s)
	s = strings.TrimSpace(s)
	s = strings.Trim(s, ".")
	if s == "" {
		return "_"
	}
	return s
}
