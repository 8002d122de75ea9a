// Package otp issues and verifies email one-time-password challenges.
//
// A challenge never leaves the server holding the plaintext code. It carries
// an HMAC of "email:code", the bound email, an expiry and a random id, and the
// whole payload is signed so the client that custodies it cannot extend its
// lifetime or rebind it to another address.
package otp

import (
	"crypto/hmac"
	"crypto/sha256"
	"strings"
)

// Hash binds a code to an email address with the server key.
func Hash(key []byte, email, code string) []byte {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(email))
	_, _ = mac.Write([]byte{':'})
	_, _ = mac.Write([]byte(code))
	return mac.Sum(nil)
}

// Sign returns the keyed hash of the parts joined with '|'.
func Sign(key []byte, parts ...string) []byte {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(strings.Join(parts, "|")))
	return mac.Sum(nil)
}

// Equal compares two digests in constant time. Lengths are checked first and
// every byte is visited regardless of where the first difference occurs.
func Equal(a, b []byte) bool {
	return hmac.Equal(a, b)
}
