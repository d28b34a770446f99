package identity

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// fixedOTP is the constant code the simulated SMS gateway "sends". A real
// deployment replaces the OTPManager with an SMS provider integration.
const fixedOTP = "1234"

const (
	otpMaxAttempts = 3
	otpTTL         = 2 * time.Minute
)

var (
	ErrInvalidMobile = errors.New("identity: invalid mobile number")
	ErrNoPendingOTP  = errors.New("identity: no pending code for this mobile, request a new one")
	ErrOTPExpired    = errors.New("identity: verification code expired")
	ErrOTPExhausted  = errors.New("identity: too many failed attempts, request a new code")
	ErrOTPWrong      = errors.New("identity: wrong verification code")
)

type pendingOTP struct {
	code     string
	issuedAt time.Time
	attempts int
}

// OTPManager simulates the second authentication stage: issuing and
// verifying one-time codes per mobile number, with an attempt cap and
// expiry.
type OTPManager struct {
	mu      sync.Mutex
	pending map[string]*pendingOTP
	now     func() time.Time
}

func NewOTPManager() *OTPManager {
	return &OTPManager{pending: make(map[string]*pendingOTP), now: time.Now}
}

// Send issues a code for the given mobile number. Mobile numbers follow the
// national format: 11 digits starting with 09.
func (m *OTPManager) Send(mobile string) error {
	mobile = strings.TrimSpace(mobile)
	if !strings.HasPrefix(mobile, "09") || len(mobile) != 11 {
		return ErrInvalidMobile
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[mobile] = &pendingOTP{code: fixedOTP, issuedAt: m.now()}
	return nil
}

// Verify checks the code a voter entered. A correct code consumes the
// pending entry; a wrong one burns an attempt.
func (m *OTPManager) Verify(mobile, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[strings.TrimSpace(mobile)]
	if !ok {
		return ErrNoPendingOTP
	}
	if m.now().Sub(p.issuedAt) > otpTTL {
		delete(m.pending, mobile)
		return ErrOTPExpired
	}
	if p.attempts >= otpMaxAttempts {
		return ErrOTPExhausted
	}
	if p.code != strings.TrimSpace(code) {
		p.attempts++
		return ErrOTPWrong
	}
	delete(m.pending, mobile)
	return nil
}
