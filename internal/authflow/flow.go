// Package authflow drives the two multi-step authentication dialogues
// (signup-then-verify and login-then-verify) as explicit finite-state
// flows. Each flow instance is independent per role tab.
package authflow

import (
	"context"
	"errors"

	"github.com/authgate/client/internal/api"
	"github.com/authgate/client/internal/model"
)

var (
	// ErrBusy is returned when a step is submitted while the previous
	// submission is still in flight. Callers should disable resubmission.
	ErrBusy = errors.New("a request is already in flight")

	// ErrNoPendingChallenge is returned when an OTP is verified with no
	// pending challenge, i.e. the primary step has not succeeded yet.
	ErrNoPendingChallenge = errors.New("no pending OTP challenge")

	// ErrStaleFlow is returned when a response arrives for a flow
	// instance that was reset while the request was in flight. The
	// response is discarded and state is untouched.
	ErrStaleFlow = errors.New("flow was reset")
)

// TransitionError reports an operation invoked from a dialogue step that
// does not allow it, e.g. submitting the form while verification is
// already pending.
type TransitionError struct {
	Op   string
	From string
}

func (e *TransitionError) Error() string {
	return e.Op + " not allowed from state " + e.From
}

// Backend is the slice of the API the flows use.
type Backend interface {
	Signup(ctx context.Context, req api.SignupRequest) (*api.SignupResponse, error)
	VerifySignupOTP(ctx context.Context, target, otp string) error
	PasswordLogin(ctx context.Context, identifier, password string) (*api.PasswordLoginResponse, error)
	VerifyLoginOTP(ctx context.Context, target, otp string) (model.TokenPair, error)
	FetchIdentity(ctx context.Context, accessToken string) (model.Identity, error)
}

// validateOTP enforces the 6-digit code format before any network call.
func validateOTP(otp string) error {
	if len(otp) != 6 {
		return &api.ValidationError{Field: "otp", Reason: "must be 6 digits"}
	}
	for _, r := range otp {
		if r < '0' || r > '9' {
			return &api.ValidationError{Field: "otp", Reason: "must be 6 digits"}
		}
	}
	return nil
}

// UserMessage converts a flow error into text fit for display, falling
// back to a generic message when the backend provided no detail.
func UserMessage(err error, fallback string) string {
	var verr *api.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	var berr *api.BackendError
	if errors.As(err, &berr) && berr.Detail != "" {
		return berr.Detail
	}
	if errors.Is(err, api.ErrUnauthorized) {
		return "session expired, please log in again"
	}
	var nerr *api.NetworkError
	if errors.As(err, &nerr) {
		return "could not reach the server"
	}
	return fallback
}
