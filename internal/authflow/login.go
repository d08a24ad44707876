package authflow

import (
	"context"
	"sync"

	"github.com/authgate/client/internal/api"
	"github.com/authgate/client/internal/model"
	"github.com/authgate/client/internal/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LoginState enumerates the login dialogue steps.
type LoginState int

const (
	LoginForm LoginState = iota
	LoginPendingOtp
	LoginDone
)

func (s LoginState) String() string {
	switch s {
	case LoginForm:
		return "form"
	case LoginPendingOtp:
		return "pending_otp"
	case LoginDone:
		return "done"
	default:
		return "unknown"
	}
}

// Login drives the two-step login dialogue: Form → PendingOtp → Done.
// The role tab is advisory only: the identity installed into the session
// always comes from the backend's identity fetch, so a tab that disagrees
// with the resolved account never decides authorization.
type Login struct {
	backend Backend
	session *session.Core
	role    model.Role
	log     *zap.Logger

	mu        sync.Mutex
	state     LoginState
	instance  uuid.UUID
	inflight  bool
	challenge model.OtpChallenge
	username  string // resolved account name from the password step
	message   string
}

// NewLogin creates a login flow for the given role tab, feeding the given
// session core on success.
func NewLogin(backend Backend, core *session.Core, role model.Role, log *zap.Logger) *Login {
	return &Login{
		backend:  backend,
		session:  core,
		role:     role,
		log:      log.With(zap.String("component", "login_flow"), zap.String("role", string(role))),
		instance: uuid.New(),
	}
}

// State returns the current dialogue step.
func (l *Login) State() LoginState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Challenge returns the pending OTP challenge, if any.
func (l *Login) Challenge() (model.OtpChallenge, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.challenge, l.state == LoginPendingOtp
}

// Username returns the account name resolved by the password step.
func (l *Login) Username() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.username
}

// Message returns the last human-readable notice from the backend.
func (l *Login) Message() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.message
}

// SubmitPassword runs the primary step. identifier may be a username,
// email, or phone. On success the flow moves to PendingOtp, capturing the
// OTP target and the resolved username.
func (l *Login) SubmitPassword(ctx context.Context, identifier, password string) error {
	if identifier == "" {
		return &api.ValidationError{Field: "identifier", Reason: "required"}
	}
	if password == "" {
		return &api.ValidationError{Field: "password", Reason: "required"}
	}

	l.mu.Lock()
	if l.state != LoginForm {
		from := l.state.String()
		l.mu.Unlock()
		return &TransitionError{Op: "submit password", From: from}
	}
	if l.inflight {
		l.mu.Unlock()
		return ErrBusy
	}
	l.inflight = true
	instance := l.instance
	l.mu.Unlock()

	resp, err := l.backend.PasswordLogin(ctx, identifier, password)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.inflight = false
	if instance != l.instance {
		return ErrStaleFlow
	}
	if err != nil {
		return err
	}
	l.state = LoginPendingOtp
	l.challenge = model.OtpChallenge{Target: resp.Target, Purpose: "login"}
	l.username = resp.Username
	l.message = resp.Message
	l.log.Info("password accepted", zap.String("username", resp.Username), zap.String("target", resp.Target))
	return nil
}

// VerifyOTP exchanges the code for a token pair, fetches the full identity
// with the fresh access token, and installs both into the session core.
// The flow reports Done only after the identity fetch confirms the
// account; the token pair is never installed with a guessed profile.
func (l *Login) VerifyOTP(ctx context.Context, otp string) error {
	if err := validateOTP(otp); err != nil {
		return err
	}

	l.mu.Lock()
	if l.state != LoginPendingOtp {
		l.mu.Unlock()
		return ErrNoPendingChallenge
	}
	if l.inflight {
		l.mu.Unlock()
		return ErrBusy
	}
	l.inflight = true
	instance := l.instance
	target := l.challenge.Target
	l.mu.Unlock()

	pair, err := l.backend.VerifyLoginOTP(ctx, target, otp)
	var identity model.Identity
	if err == nil {
		identity, err = l.backend.FetchIdentity(ctx, pair.AccessToken)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.inflight = false
	if instance != l.instance {
		return ErrStaleFlow
	}
	if err != nil {
		// Remain pending; no partial token assignment happens.
		return err
	}
	if identity.Role != l.role {
		// The tab is not authoritative; the fetched role wins.
		l.log.Warn("role tab disagrees with account role",
			zap.String("tab", string(l.role)),
			zap.String("account", string(identity.Role)))
	}
	if err := l.session.Login(ctx, pair, identity); err != nil {
		return err
	}
	l.state = LoginDone
	l.challenge = model.OtpChallenge{}
	l.message = ""
	l.log.Info("login complete", zap.String("username", identity.Username))
	return nil
}

// Reset abandons the dialogue and returns it to the form. Responses from
// requests started before the reset are discarded when they resolve.
func (l *Login) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = LoginForm
	l.challenge = model.OtpChallenge{}
	l.username = ""
	l.message = ""
	l.instance = uuid.New()
}
