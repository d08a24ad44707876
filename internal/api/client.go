package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/authgate/client/internal/model"
	"go.uber.org/zap"
)

// Client talks to the authentication backend over HTTP/JSON. All endpoints
// live under the /api prefix; failures carry a {"detail": "..."} body.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// New creates a backend client for the given base URL.
func New(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log.With(zap.String("component", "api")),
	}
}

// SignupRequest is the request body for POST /api/auth/signup
type SignupRequest struct {
	Username string     `json:"username"`
	Password string     `json:"password"`
	Email    string     `json:"email,omitempty"`
	Phone    string     `json:"phone,omitempty"`
	Role     model.Role `json:"role"`
}

// SignupResponse is the JSON response for signup
type SignupResponse struct {
	Message              string `json:"message"`
	Username             string `json:"username"`
	Target               string `json:"target"`
	VerificationRequired bool   `json:"verification_required"`
}

// verifyOTPRequest is the request body for the OTP verification endpoints
type verifyOTPRequest struct {
	Target  string `json:"target"`
	OTP     string `json:"otp"`
	Purpose string `json:"purpose"`
}

// PasswordLoginRequest is the request body for POST /api/auth/login/password
type PasswordLoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// PasswordLoginResponse is the JSON response for the password step
type PasswordLoginResponse struct {
	Message     string `json:"message"`
	Target      string `json:"target"`
	OTPRequired bool   `json:"otp_required"`
	Username    string `json:"username"`
}

// tokenResponse is the JSON response carrying a fresh token pair
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// refreshRequest is the request body for POST /api/auth/refresh and logout
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Stats is the JSON response for GET /api/admin/stats
type Stats struct {
	TotalUsers    int `json:"total_users"`
	VerifiedUsers int `json:"verified_users"`
	AdminUsers    int `json:"admin_users"`
	CustomerUsers int `json:"customer_users"`
}

// Signup registers a new account. The backend sends a verification OTP to
// the resolved target and echoes it back.
func (c *Client) Signup(ctx context.Context, req SignupRequest) (*SignupResponse, error) {
	var resp SignupResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/signup", "", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifySignupOTP confirms the signup verification code for target.
func (c *Client) VerifySignupOTP(ctx context.Context, target, otp string) error {
	req := verifyOTPRequest{Target: target, OTP: otp, Purpose: "signup"}
	return c.do(ctx, http.MethodPost, "/api/auth/verify-signup", "", req, nil)
}

// PasswordLogin runs the primary login step. identifier may be a username,
// email, or phone; the backend alone decides which account it resolves to.
func (c *Client) PasswordLogin(ctx context.Context, identifier, password string) (*PasswordLoginResponse, error) {
	req := PasswordLoginRequest{Identifier: identifier, Password: password}
	var resp PasswordLoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login/password", "", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyLoginOTP exchanges the login OTP for a token pair.
func (c *Client) VerifyLoginOTP(ctx context.Context, target, otp string) (model.TokenPair, error) {
	req := verifyOTPRequest{Target: target, OTP: otp, Purpose: "login"}
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login/verify-otp", "", req, &resp); err != nil {
		return model.TokenPair{}, err
	}
	return model.TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}, nil
}

// FetchIdentity resolves the access token to the full profile. Returns
// ErrUnauthorized when the token is expired or invalid.
func (c *Client) FetchIdentity(ctx context.Context, accessToken string) (model.Identity, error) {
	var identity model.Identity
	if err := c.do(ctx, http.MethodGet, "/api/users/me", accessToken, nil, &identity); err != nil {
		return model.Identity{}, err
	}
	return identity, nil
}

// Refresh exchanges the refresh token for a new pair. The old pair is
// revoked server-side on success.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/refresh", "", refreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return model.TokenPair{}, err
	}
	return model.TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}, nil
}

// Logout revokes the refresh token server-side. Requires a valid bearer.
func (c *Client) Logout(ctx context.Context, pair model.TokenPair) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", pair.AccessToken, refreshRequest{RefreshToken: pair.RefreshToken}, nil)
}

// AdminUsers lists all accounts. Admin only.
func (c *Client) AdminUsers(ctx context.Context, accessToken string) ([]model.Identity, error) {
	var users []model.Identity
	if err := c.do(ctx, http.MethodGet, "/api/admin/users", accessToken, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// AdminStats fetches aggregate account counts. Admin only.
func (c *Client) AdminStats(ctx context.Context, accessToken string) (*Stats, error) {
	var stats Stats
	if err := c.do(ctx, http.MethodGet, "/api/admin/stats", accessToken, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// CustomerProfile fetches the caller's own profile. Customer only.
func (c *Client) CustomerProfile(ctx context.Context, accessToken string) (model.Identity, error) {
	var identity model.Identity
	if err := c.do(ctx, http.MethodGet, "/api/customer/profile", accessToken, nil, &identity); err != nil {
		return model.Identity{}, err
	}
	return identity, nil
}

// Health checks backend reachability.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", "", nil, nil)
}

// errorBody is the FastAPI-style failure payload
type errorBody struct {
	Detail string `json:"detail"`
}

// do runs one request/response exchange. A 401 on a bearer-authenticated
// call maps to ErrUnauthorized; any other failure status maps to
// *BackendError with the backend's detail text; transport failures map to
// *NetworkError.
func (c *Client) do(ctx context.Context, method, path, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("request failed", zap.String("path", path), zap.Error(err))
		return &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		c.log.Debug("backend rejected request",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("detail", eb.Detail))
		if resp.StatusCode == http.StatusUnauthorized && bearer != "" {
			return ErrUnauthorized
		}
		return &BackendError{Status: resp.StatusCode, Detail: eb.Detail}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}
