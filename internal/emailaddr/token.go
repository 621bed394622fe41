package emailaddr

import "strings"

// ThreadToken reduces a Message-Id to the key used for conversation talks and
// provenance records: "<abc.123@mx.example.com>" becomes "abc.123". The
// result is cut to max runes when max > 0.
func ThreadToken(messageID string, max int) string {
	token := strings.TrimSpace(messageID)
	token = strings.TrimPrefix(token, "<")
	if i := strings.Index(token, "@"); i >= 0 {
		token = token[:i]
	}
	token = strings.TrimSuffix(token, ">")
	if max > 0 {
		runes := []rune(token)
		if len(runes) > max {
			token = string(runes[:max])
		}
	}
	return token
}

// SplitReferences splits a References header into message ids.
func SplitReferences(refs string) []string {
	return strings.Fields(refs)
}
