package otp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/gatekeeper/internal/mail"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// CodeDigits is the length of generated codes.
const CodeDigits = 6

var codeSpace = big.NewInt(1_000_000)

// IssuerConfig configures an Issuer.
type IssuerConfig struct {
	Key          []byte
	DefaultEmail string
	SendTimeout  time.Duration
	Sender       mail.Sender
	Now          func() time.Time
	// Code overrides code generation in tests.
	Code func() (string, error)
}

// Issuer mints challenges and mails the matching code.
type Issuer struct {
	key          []byte
	defaultEmail string
	sendTimeout  time.Duration
	sender       mail.Sender
	now          func() time.Time
	code         func() (string, error)
}

// Issued is the result of a successful Issue call.
type Issued struct {
	Challenge Challenge
	// Artifact is the encoded challenge handed to the client.
	Artifact string
	Email    string
}

// NewIssuer constructs an Issuer.
func NewIssuer(cfg IssuerConfig) *Issuer {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Code == nil {
		cfg.Code = GenerateCode
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Issuer{
		key:          cfg.Key,
		defaultEmail: cfg.DefaultEmail,
		sendTimeout:  cfg.SendTimeout,
		sender:       cfg.Sender,
		now:          cfg.Now,
		code:         cfg.Code,
	}
}

// Issue creates a challenge for email and dispatches the code.
//
// When the transport fails the returned Issued is still populated and the
// error wraps shared.ErrTransport; the challenge is considered committed.
func (i *Issuer) Issue(ctx context.Context, email string) (Issued, error) {
	email = shared.NormalizeEmail(email)
	if email == "" {
		email = shared.NormalizeEmail(i.defaultEmail)
	}
	if email == "" {
		return Issued{}, fmt.Errorf("%w: email is required", shared.ErrValidation)
	}
	if len(i.key) == 0 {
		return Issued{}, fmt.Errorf("%w: otp secret missing", shared.ErrConfiguration)
	}
	if i.sender == nil {
		return Issued{}, fmt.Errorf("%w: mail transport missing", shared.ErrConfiguration)
	}

	code, err := i.code()
	if err != nil {
		return Issued{}, fmt.Errorf("otp: generate code: %w", err)
	}
	challenge := Challenge{
		Hash:      hex.EncodeToString(Hash(i.key, email, code)),
		ExpiresAt: i.now().Add(ChallengeTTL).UnixMilli(),
		Email:     email,
		ID:        uuid.NewString(),
	}
	challenge.sign(i.key)
	artifact, err := challenge.Encode()
	if err != nil {
		return Issued{}, fmt.Errorf("otp: encode challenge: %w", err)
	}
	issued := Issued{Challenge: challenge, Artifact: artifact, Email: email}

	sendCtx, cancel := context.WithTimeout(ctx, i.sendTimeout)
	defer cancel()
	if err := i.sender.Send(sendCtx, codeMessage(email, code)); err != nil {
		return issued, fmt.Errorf("%w: %v", shared.ErrTransport, err)
	}
	return issued, nil
}

func codeMessage(email, code string) mail.Message {
	return mail.Message{
		To:      email,
		Subject: "Your sign-in code",
		Body: fmt.Sprintf("Your sign-in code is %s.\r\nIt expires in %d minutes. If you did not request it, ignore this message.\r\n",
			code, int(ChallengeTTL/time.Minute)),
	}
}

// GenerateCode returns a uniformly random zero-padded 6-digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeDigits, n.Int64()), nil
}

