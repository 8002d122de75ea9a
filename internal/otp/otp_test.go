package otp

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/gatekeeper/internal/mail"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

var testKey = []byte("otp-test-secret")

type captureSender struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (c *captureSender) Send(ctx context.Context, msg mail.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return c.err
}

func (c *captureSender) lastCode(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.sent)
	match := regexp.MustCompile(`\b(\d{6})\b`).FindStringSubmatch(c.sent[len(c.sent)-1].Body)
	require.Len(t, match, 2)
	return match[1]
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newPair(t *testing.T, ledger Ledger) (*Issuer, *Verifier, *captureSender, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	sender := &captureSender{}
	issuer := NewIssuer(IssuerConfig{Key: testKey, Sender: sender, Now: clk.Now})
	verifier := NewVerifier(VerifierConfig{Key: testKey, Ledger: ledger, Now: clk.Now})
	return issuer, verifier, sender, clk
}

func newRedisLedger(t *testing.T) *RedisLedger {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewRedisLedger(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestHashIsKeyedAndDeterministic(t *testing.T) {
	a := Hash(testKey, "a@b.com", "123456")
	assert.Equal(t, a, Hash(testKey, "a@b.com", "123456"))
	assert.NotEqual(t, a, Hash([]byte("other"), "a@b.com", "123456"))
	assert.NotEqual(t, a, Hash(testKey, "a@b.com", "123457"))
	assert.NotEqual(t, a, Hash(testKey, "c@b.com", "123456"))
}

func TestEqualRequiresSameLength(t *testing.T) {
	d := Hash(testKey, "a@b.com", "123456")
	assert.True(t, Equal(d, append([]byte(nil), d...)))
	assert.False(t, Equal(d, d[:len(d)-1]))
	assert.False(t, Equal(d, nil))
}

func TestGenerateCodeShape(t *testing.T) {
	pattern := regexp.MustCompile(`^\d{6}$`)
	for i := 0; i < 200; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.Regexp(t, pattern, code)
	}
}

func TestIssueArtifactFields(t *testing.T) {
	issuer, _, sender, clk := newPair(t, nil)

	issued, err := issuer.Issue(context.Background(), "A@B.com ")
	require.NoError(t, err)
	code := sender.lastCode(t)

	raw, err := base64.RawURLEncoding.DecodeString(issued.Artifact)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))

	assert.Equal(t, "a@b.com", fields["email"])
	assert.EqualValues(t, clk.Now().UnixMilli()+300000, fields["exp"])
	assert.Equal(t, hex.EncodeToString(Hash(testKey, "a@b.com", code)), fields["hash"])
	assert.NotEmpty(t, fields["jti"])
	assert.NotEmpty(t, fields["sig"])
	assert.NotContains(t, string(raw), code)
	assert.Equal(t, "a@b.com", sender.sent[0].To)
}

func TestIssueFallsBackToDefaultEmail(t *testing.T) {
	sender := &captureSender{}
	issuer := NewIssuer(IssuerConfig{Key: testKey, Sender: sender, DefaultEmail: "owner@agency.test"})
	issued, err := issuer.Issue(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "owner@agency.test", issued.Email)
}

func TestIssueErrors(t *testing.T) {
	sender := &captureSender{}

	_, err := NewIssuer(IssuerConfig{Key: testKey, Sender: sender}).Issue(context.Background(), "")
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = NewIssuer(IssuerConfig{Key: testKey}).Issue(context.Background(), "a@b.com")
	assert.ErrorIs(t, err, shared.ErrConfiguration)

	_, err = NewIssuer(IssuerConfig{Sender: sender}).Issue(context.Background(), "a@b.com")
	assert.ErrorIs(t, err, shared.ErrConfiguration)
}

func TestIssueTransportFailureStillCommitsChallenge(t *testing.T) {
	sender := &captureSender{err: errors.New("connection refused")}
	issuer := NewIssuer(IssuerConfig{Key: testKey, Sender: sender})

	issued, err := issuer.Issue(context.Background(), "a@b.com")
	require.ErrorIs(t, err, shared.ErrTransport)
	assert.NotEmpty(t, issued.Artifact)
	_, decodeErr := DecodeChallenge(issued.Artifact)
	assert.NoError(t, decodeErr)
}

func TestVerifyAcceptsExactlyOnceWithinWindow(t *testing.T) {
	issuer, verifier, sender, clk := newPair(t, newRedisLedger(t))
	issued, err := issuer.Issue(context.Background(), "a@b.com")
	require.NoError(t, err)
	code := sender.lastCode(t)

	clk.Advance(4 * time.Minute)
	res := verifier.Verify(context.Background(), "a@b.com", code, issued.Artifact)
	require.True(t, res.OK())
	assert.True(t, res.Discard)
	assert.Equal(t, "a@b.com", res.Email)

	replay := verifier.Verify(context.Background(), "a@b.com", code, issued.Artifact)
	assert.Equal(t, KindChallengeReplayed, replay.Kind)
}

func TestVerifyAfterDiscardFails(t *testing.T) {
	issuer, verifier, sender, _ := newPair(t, nil)
	issued, err := issuer.Issue(context.Background(), "a@b.com")
	require.NoError(t, err)
	code := sender.lastCode(t)

	require.True(t, verifier.Verify(context.Background(), "a@b.com", code, issued.Artifact).OK())
	// The caller cleared the cookie; nothing is resubmitted alongside the code.
	assert.Equal(t, KindChallengeInvalid, verifier.Verify(context.Background(), "a@b.com", code, "").Kind)
}

func TestVerifyRejectsExpiredEvenWithMatchingDigest(t *testing.T) {
	issuer, verifier, sender, clk := newPair(t, nil)
	issued, err := issuer.Issue(context.Background(), "a@b.com")
	require.NoError(t, err)
	code := sender.lastCode(t)

	clk.Advance(ChallengeTTL + time.Millisecond)
	res := verifier.Verify(context.Background(), "a@b.com", code, issued.Artifact)
	assert.Equal(t, KindChallengeExpired, res.Kind)
	assert.True(t, res.Discard)
}

func TestVerifyRejectsOtherEmail(t *testing.T) {
	issuer, verifier, sender, _ := newPair(t, nil)
	issued, err := issuer.Issue(context.Background(), "a@b.com")
	require.NoError(t, err)
	code := sender.lastCode(t)

	res := verifier.Verify(context.Background(), "x@b.com", code, issued.Artifact)
	assert.Equal(t, KindEmailMismatch, res.Kind)
	assert.False(t, res.Discard)
}

func TestVerifyRejectsWrongCode(t *testing.T) {
	issuer, verifier, sender, _ := newPair(t, nil)
	issued, err := issuer.Issue(context.Background(), "a@b.com")
	require.NoError(t, err)
	code := sender.lastCode(t)

	for _, wrong := range []string{"000000", "12345", "1234567", "abcdef"} {
		if wrong == code {
			continue
		}
		assert.Equal(t, KindChallengeMismatch, verifier.Verify(context.Background(), "a@b.com", wrong, issued.Artifact).Kind, wrong)
	}
}

func TestVerifyRejectsTamperedChallenge(t *testing.T) {
	issuer, verifier, sender, clk := newPair(t, nil)
	issued, err := issuer.Issue(context.Background(), "a@b.com")
	require.NoError(t, err)
	code := sender.lastCode(t)

	extended := issued.Challenge
	extended.ExpiresAt = clk.Now().Add(24 * time.Hour).UnixMilli()
	artifact, err := extended.Encode()
	require.NoError(t, err)

	clk.Advance(10 * time.Minute)
	assert.Equal(t, KindChallengeInvalid, verifier.Verify(context.Background(), "a@b.com", code, artifact).Kind)
}

func TestVerifyRejectsMalformedAndIncomplete(t *testing.T) {
	_, verifier, _, _ := newPair(t, nil)
	incomplete, err := Challenge{Hash: "ab", Email: "a@b.com"}.Encode()
	require.NoError(t, err)

	for name, artifact := range map[string]string{
		"empty":      "",
		"not base64": "%%%",
		"not json":   base64.RawURLEncoding.EncodeToString([]byte("nope")),
		"incomplete": incomplete,
	} {
		assert.Equal(t, KindChallengeInvalid, verifier.Verify(context.Background(), "a@b.com", "123456", artifact).Kind, name)
	}
}

func TestVerifyAcceptsStandardBase64(t *testing.T) {
	issuer, verifier, sender, _ := newPair(t, nil)
	issued, err := issuer.Issue(context.Background(), "a@b.com")
	require.NoError(t, err)
	code := sender.lastCode(t)

	raw, err := base64.RawURLEncoding.DecodeString(issued.Artifact)
	require.NoError(t, err)
	std := base64.StdEncoding.EncodeToString(raw)
	assert.True(t, verifier.Verify(context.Background(), "a@b.com", code, std).OK())
}

func TestConcurrentChallengesAreIndependent(t *testing.T) {
	issuer, verifier, sender, _ := newPair(t, newRedisLedger(t))

	first, err := issuer.Issue(context.Background(), "a@b.com")
	require.NoError(t, err)
	firstCode := sender.lastCode(t)
	second, err := issuer.Issue(context.Background(), "a@b.com")
	require.NoError(t, err)
	secondCode := sender.lastCode(t)

	assert.True(t, verifier.Verify(context.Background(), "a@b.com", secondCode, second.Artifact).OK())
	assert.True(t, verifier.Verify(context.Background(), "a@b.com", firstCode, first.Artifact).OK())
}

func TestVerifierWithoutKeyRejects(t *testing.T) {
	issuer, _, sender, _ := newPair(t, nil)
	issued, err := issuer.Issue(context.Background(), "a@b.com")
	require.NoError(t, err)

	v := NewVerifier(VerifierConfig{})
	assert.False(t, v.Configured())
	assert.Equal(t, KindChallengeInvalid, v.Verify(context.Background(), "a@b.com", sender.lastCode(t), issued.Artifact).Kind)
}

func TestRedisLedgerClaim(t *testing.T) {
	ledger := newRedisLedger(t)
	exp := time.Now().Add(time.Minute)

	ok, err := ledger.Claim(context.Background(), "id-1", exp)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ledger.Claim(context.Background(), "id-1", exp)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ledger.Claim(context.Background(), "id-2", exp)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "challenge_expired", KindChallengeExpired.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
