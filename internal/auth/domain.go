package auth

import (
	"github.com/odyssey-erp/gatekeeper/internal/otp"
	"github.com/odyssey-erp/gatekeeper/internal/session"
)

// ChallengeCookie custodies the encoded challenge between request and verify.
const ChallengeCookie = "otp_challenge"

// InvalidOTPMessage is the single failure message shown for every rejected
// verification.
const InvalidOTPMessage = "Invalid OTP"

// SignIn is the outcome of a verification attempt.
type SignIn struct {
	Result otp.Result
	Token  string
	Claims session.Claims
}

// OK reports whether a session was issued.
func (s SignIn) OK() bool {
	return s.Result.OK() && s.Token != ""
}
