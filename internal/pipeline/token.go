package pipeline

import (
	"crypto/subtle"
	"strings"
)

// MaskChar replaces the hidden part of a masked token.
const MaskChar = "*"

// MaskToken hides a bearer token for logging. Tokens of eight characters
// or fewer are fully masked; longer ones keep their first and last four
// characters. The result always has the same length as the input.
func MaskToken(token string) string {
	n := len(token)
	if n <= 8 {
		return strings.Repeat(MaskChar, n)
	}
	return token[:4] + strings.Repeat(MaskChar, n-8) + token[n-4:]
}

// TokensEqual reports whether presented matches expected exactly. An empty
// expected secret never matches, so a server with no token configured
// rejects every request.
func TokensEqual(presented, expected string) bool {
	if presented == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}
