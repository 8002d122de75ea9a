package otp

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ChallengeTTL is the lifetime of an issued challenge.
const ChallengeTTL = 5 * time.Minute

var (
	errMalformed     = errors.New("otp: malformed challenge")
	errMissingFields = errors.New("otp: challenge missing fields")
	errBadSignature  = errors.New("otp: challenge signature invalid")
)

// Challenge is the client-custodied artifact binding a code hash to an email.
type Challenge struct {
	Hash      string `json:"hash"`
	ExpiresAt int64  `json:"exp"`
	Email     string `json:"email"`
	ID        string `json:"jti"`
	Signature string `json:"sig"`
}

// Expiry returns ExpiresAt as a time value.
func (c Challenge) Expiry() time.Time {
	return time.UnixMilli(c.ExpiresAt)
}

func (c Challenge) signingParts() []string {
	return []string{"challenge", c.Hash, strconv.FormatInt(c.ExpiresAt, 10), c.Email, c.ID}
}

func (c *Challenge) sign(key []byte) {
	c.Signature = hex.EncodeToString(Sign(key, c.signingParts()...))
}

func (c Challenge) validSignature(key []byte) bool {
	sig, err := hex.DecodeString(c.Signature)
	if err != nil {
		return false
	}
	return Equal(sig, Sign(key, c.signingParts()...))
}

func (c Challenge) complete() bool {
	return c.Hash != "" && c.ExpiresAt > 0 && c.Email != "" && c.ID != "" && c.Signature != ""
}

// Encode serialises the challenge for cookie transport.
func (c Challenge) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeChallenge parses an artifact produced by Encode. Standard and URL
// base64 alphabets, padded or not, are accepted.
func DecodeChallenge(raw string) (Challenge, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Challenge{}, errMalformed
	}
	data, err := decodeBase64(raw)
	if err != nil {
		return Challenge{}, errMalformed
	}
	var c Challenge
	if err := json.Unmarshal(data, &c); err != nil {
		return Challenge{}, errMalformed
	}
	return c, nil
}

func decodeBase64(raw string) ([]byte, error) {
	trimmed := strings.TrimRight(raw, "=")
	if data, err := base64.RawURLEncoding.DecodeString(trimmed); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(trimmed)
}
