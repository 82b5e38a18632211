package config

import (
	"github.com/ccojocar/zxcvbn-go"
)

// minTokenScore is the lowest zxcvbn score (0-4) accepted for API tokens
const minTokenScore = 3

// IsWeakToken reports whether a bearer token is guessable
func IsWeakToken(token string) bool {
	if token == "" {
		return true
	}
	return zxcvbn.PasswordStrength(token, nil).Score < minTokenScore
}
