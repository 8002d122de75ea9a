package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/gatekeeper/internal/identity"
	"github.com/odyssey-erp/gatekeeper/internal/otp"
	"github.com/odyssey-erp/gatekeeper/internal/session"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// Service wraps the sign-in rules: challenge issuance, verification and
// session minting.
type Service struct {
	issuer    *otp.Issuer
	verifier  *otp.Verifier
	sessions  *session.Service
	directory identity.Directory
	logger    *slog.Logger
}

// NewService constructs a new Service.
func NewService(issuer *otp.Issuer, verifier *otp.Verifier, sessions *session.Service, directory identity.Directory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{issuer: issuer, verifier: verifier, sessions: sessions, directory: directory, logger: logger}
}

// RequestCode issues a challenge for email. Issuance does not consult the
// directory so the response never reveals whether an address is known.
func (s *Service) RequestCode(ctx context.Context, email string) (otp.Issued, error) {
	if s.issuer == nil {
		return otp.Issued{}, fmt.Errorf("%w: otp issuer missing", shared.ErrConfiguration)
	}
	return s.issuer.Issue(ctx, email)
}

// Ready reports whether verification can run at all.
func (s *Service) Ready() bool {
	return s.verifier != nil && s.verifier.Configured() && s.sessions != nil && s.directory != nil
}

// SignIn verifies code against the custodied artifact and, on success,
// mints a session for the directory identity of the verified email.
// Unknown identities fail like a wrong code. Only directory and signing
// faults are returned as errors.
func (s *Service) SignIn(ctx context.Context, email, code, artifact string) (SignIn, error) {
	if !s.Ready() {
		return SignIn{}, fmt.Errorf("%w: sign-in not configured", shared.ErrConfiguration)
	}
	res := s.verifier.Verify(ctx, email, code, artifact)
	if !res.OK() {
		return SignIn{Result: res}, nil
	}

	id, err := s.directory.Lookup(ctx, res.Email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.logger.Info("otp verified for unprovisioned identity", slog.String("email", res.Email))
			return SignIn{Result: otp.Result{Kind: otp.KindChallengeInvalid, Email: res.Email, Discard: true}}, nil
		}
		return SignIn{Result: res}, fmt.Errorf("auth: resolve identity: %w", err)
	}

	token, claims, err := s.sessions.Issue(id, 0)
	if err != nil {
		return SignIn{Result: res}, fmt.Errorf("auth: issue session: %w", err)
	}
	s.logger.Info("signed in", slog.String("email", claims.Email), slog.String("role", claims.Role))
	return SignIn{Result: res, Token: token, Claims: claims}, nil
}

// Current verifies a presented session token.
func (s *Service) Current(token string) (session.Claims, bool) {
	if s.sessions == nil {
		return session.Claims{}, false
	}
	return s.sessions.Verify(token)
}

// SessionTTL is the lifetime of minted sessions.
func (s *Service) SessionTTL() time.Duration {
	if s.sessions == nil {
		return session.DefaultTTL
	}
	return s.sessions.TTL()
}
