package authflow

import (
	"context"
	"sync"

	"github.com/authgate/client/internal/api"
	"github.com/authgate/client/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SignupState enumerates the signup dialogue steps.
type SignupState int

const (
	SignupForm SignupState = iota
	SignupPendingVerification
	SignupDone
)

func (s SignupState) String() string {
	switch s {
	case SignupForm:
		return "form"
	case SignupPendingVerification:
		return "pending_verification"
	case SignupDone:
		return "done"
	default:
		return "unknown"
	}
}

// Signup drives the two-step registration dialogue: Form →
// PendingVerification → Done. The role tab value is sent with the
// registration request; it never reaches the resulting session directly.
type Signup struct {
	backend Backend
	role    model.Role
	log     *zap.Logger

	mu        sync.Mutex
	state     SignupState
	instance  uuid.UUID
	inflight  bool
	challenge model.OtpChallenge
	message   string
}

// NewSignup creates a signup flow for the given role tab.
func NewSignup(backend Backend, role model.Role, log *zap.Logger) *Signup {
	return &Signup{
		backend:  backend,
		role:     role,
		log:      log.With(zap.String("component", "signup_flow"), zap.String("role", string(role))),
		instance: uuid.New(),
	}
}

// State returns the current dialogue step.
func (s *Signup) State() SignupState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Challenge returns the pending OTP challenge, if any.
func (s *Signup) Challenge() (model.OtpChallenge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.challenge, s.state == SignupPendingVerification
}

// Message returns the last human-readable notice from the backend.
func (s *Signup) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

// Submit runs the registration step. Email and phone are optional, but
// the backend needs at least one resolvable delivery target. On success
// the flow moves to PendingVerification, capturing the echoed target.
func (s *Signup) Submit(ctx context.Context, username, password, email, phone string) error {
	if username == "" {
		return &api.ValidationError{Field: "username", Reason: "required"}
	}
	if len(username) < 3 {
		return &api.ValidationError{Field: "username", Reason: "must be at least 3 characters"}
	}
	if password == "" {
		return &api.ValidationError{Field: "password", Reason: "required"}
	}
	if len(password) < 6 {
		return &api.ValidationError{Field: "password", Reason: "must be at least 6 characters"}
	}

	s.mu.Lock()
	if s.state != SignupForm {
		from := s.state.String()
		s.mu.Unlock()
		return &TransitionError{Op: "submit signup", From: from}
	}
	if s.inflight {
		s.mu.Unlock()
		return ErrBusy
	}
	s.inflight = true
	instance := s.instance
	s.mu.Unlock()

	resp, err := s.backend.Signup(ctx, api.SignupRequest{
		Username: username,
		Password: password,
		Email:    email,
		Phone:    phone,
		Role:     s.role,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight = false
	if instance != s.instance {
		return ErrStaleFlow
	}
	if err != nil {
		// Remain in Form; the caller surfaces the detail text.
		return err
	}
	s.state = SignupPendingVerification
	s.challenge = model.OtpChallenge{Target: resp.Target, Purpose: "signup"}
	s.message = resp.Message
	s.log.Info("signup submitted", zap.String("target", resp.Target))
	return nil
}

// VerifyOTP confirms the delivered code. On success the dialogue is Done
// and all draft state is cleared; the caller should route to login.
func (s *Signup) VerifyOTP(ctx context.Context, otp string) error {
	if err := validateOTP(otp); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != SignupPendingVerification {
		s.mu.Unlock()
		return ErrNoPendingChallenge
	}
	if s.inflight {
		s.mu.Unlock()
		return ErrBusy
	}
	s.inflight = true
	instance := s.instance
	target := s.challenge.Target
	s.mu.Unlock()

	err := s.backend.VerifySignupOTP(ctx, target, otp)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight = false
	if instance != s.instance {
		return ErrStaleFlow
	}
	if err != nil {
		// Remain pending; the entered code may simply be wrong.
		return err
	}
	s.state = SignupDone
	s.challenge = model.OtpChallenge{}
	s.message = ""
	s.log.Info("signup verified", zap.String("target", target))
	return nil
}

// Reset abandons the dialogue and returns it to the form. Responses from
// requests started before the reset are discarded when they resolve.
func (s *Signup) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SignupForm
	s.challenge = model.OtpChallenge{}
	s.message = ""
	s.instance = uuid.New()
}
