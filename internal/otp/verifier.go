package otp

import (
	"context"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// Kind classifies a verification outcome.
type Kind int

const (
	KindOK Kind = iota
	KindChallengeInvalid
	KindChallengeExpired
	KindEmailMismatch
	KindChallengeMismatch
	KindChallengeReplayed
)

var kindNames = [...]string{
	KindOK:                "ok",
	KindChallengeInvalid:  "challenge_invalid",
	KindChallengeExpired:  "challenge_expired",
	KindEmailMismatch:     "email_mismatch",
	KindChallengeMismatch: "challenge_mismatch",
	KindChallengeReplayed: "challenge_replayed",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Result is the outcome of Verify. Callers branch on Kind.
type Result struct {
	Kind  Kind
	Email string
	// Discard tells the caller to drop the custodied artifact.
	Discard bool
}

// OK reports whether verification succeeded.
func (r Result) OK() bool { return r.Kind == KindOK }

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	Key          []byte
	DefaultEmail string
	Ledger       Ledger
	Logger       *slog.Logger
	Now          func() time.Time
}

// Verifier checks submitted codes against custodied challenges.
type Verifier struct {
	key          []byte
	defaultEmail string
	ledger       Ledger
	logger       *slog.Logger
	now          func() time.Time
}

// NewVerifier constructs a Verifier.
func NewVerifier(cfg VerifierConfig) *Verifier {
	if cfg.Ledger == nil {
		cfg.Ledger = NopLedger{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Verifier{
		key:          cfg.Key,
		defaultEmail: cfg.DefaultEmail,
		ledger:       cfg.Ledger,
		logger:       cfg.Logger,
		now:          cfg.Now,
	}
}

// Configured reports whether the verifier holds a key.
func (v *Verifier) Configured() bool {
	return len(v.key) > 0
}

// Verify validates code for email against artifact.
func (v *Verifier) Verify(ctx context.Context, email, code, artifact string) Result {
	email = shared.NormalizeEmail(email)
	if email == "" {
		email = shared.NormalizeEmail(v.defaultEmail)
	}
	res := v.verify(ctx, email, strings.TrimSpace(code), artifact)
	if !res.OK() {
		v.logger.Info("otp verification rejected", slog.String("reason", res.Kind.String()))
	}
	return res
}

func (v *Verifier) verify(ctx context.Context, email, code, artifact string) Result {
	if len(v.key) == 0 || email == "" || code == "" {
		return Result{Kind: KindChallengeInvalid}
	}
	challenge, err := DecodeChallenge(artifact)
	if err != nil {
		return Result{Kind: KindChallengeInvalid}
	}
	if !challenge.complete() || !challenge.validSignature(v.key) {
		return Result{Kind: KindChallengeInvalid}
	}
	if v.now().After(challenge.Expiry()) {
		return Result{Kind: KindChallengeExpired, Discard: true}
	}
	if challenge.Email != email {
		return Result{Kind: KindEmailMismatch}
	}
	stored, err := hex.DecodeString(challenge.Hash)
	if err != nil {
		return Result{Kind: KindChallengeInvalid}
	}
	if !Equal(Hash(v.key, email, code), stored) {
		return Result{Kind: KindChallengeMismatch}
	}
	fresh, err := v.ledger.Claim(ctx, challenge.ID, challenge.Expiry())
	if err != nil {
		v.logger.Error("otp ledger claim", slog.Any("error", err))
		return Result{Kind: KindChallengeInvalid}
	}
	if !fresh {
		return Result{Kind: KindChallengeReplayed, Discard: true}
	}
	return Result{Kind: KindOK, Email: email, Discard: true}
}
