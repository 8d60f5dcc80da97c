package utils

import "regexp"

var bearerRegex = regexp.MustCompile(`(?i)(bearer\s+)\S+`)

// MaskBearer redacts the token portion of an Authorization header value.
func MaskBearer(header string) string {
	return bearerRegex.ReplaceAllString(header, "${1}***")
}

// MaskToken keeps the first and last 4 characters of a token for log correlation.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
