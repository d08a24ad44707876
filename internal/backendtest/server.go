// Package backendtest provides an in-process stand-in for the
// authentication backend, implementing its wire contract for tests: JSON
// request/response bodies under /api with {"detail": "..."} failures.
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/authgate/client/internal/model"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const accessTokenTTL = 15 * time.Minute

// account is one registered user plus its plaintext password (tests only).
type account struct {
	identity model.Identity
	password string
}

// Server holds the fake backend's state. Zero accounts until Seed or a
// signup flow registers one.
type Server struct {
	secret []byte

	mu       sync.Mutex
	accounts map[string]*account // by username
	otps     map[string]string   // target|purpose -> code
	refresh  map[string]string   // refresh token -> username
	otpSeq   int
	calls    map[string]int // path -> request count
}

// New creates an empty fake backend.
func New() *Server {
	return &Server{
		secret:   []byte("backendtest-secret"),
		accounts: make(map[string]*account),
		otps:     make(map[string]string),
		refresh:  make(map[string]string),
		calls:    make(map[string]int),
	}
}

// Router returns the HTTP handler implementing the contract.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.countCalls)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/signup", s.handleSignup)
		r.Post("/auth/verify-signup", s.handleVerifySignup)
		r.Post("/auth/login/password", s.handlePasswordLogin)
		r.Post("/auth/login/verify-otp", s.handleLoginVerifyOTP)
		r.Post("/auth/refresh", s.handleRefresh)
		r.Post("/auth/logout", s.handleLogout)
		r.Get("/users/me", s.handleMe)
		r.Get("/admin/users", s.handleAdminUsers)
		r.Get("/admin/stats", s.handleAdminStats)
		r.Get("/customer/profile", s.handleCustomerProfile)
		r.Get("/health", s.handleHealth)
	})

	return r
}

// Seed registers a pre-verified account, bypassing the signup dialogue.
func (s *Server) Seed(identity model.Identity, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	identity.IsActive = true
	identity.IsVerified = true
	s.accounts[identity.Username] = &account{identity: identity, password: password}
}

// IssuePair mints a token pair for username without any dialogue. A
// negative accessTTL produces an already-expired access token.
func (s *Server) IssuePair(username string, accessTTL time.Duration) model.TokenPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.accounts[username]
	pair := model.TokenPair{
		AccessToken:  s.signAccessToken(acct.identity, accessTTL),
		RefreshToken: uuid.NewString(),
	}
	s.refresh[pair.RefreshToken] = username
	return pair
}

// OTP returns the code most recently sent for target and purpose.
func (s *Server) OTP(target, purpose string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.otps[target+"|"+purpose]
}

// RevokeRefresh invalidates a refresh token, as an admin or a concurrent
// logout would.
func (s *Server) RevokeRefresh(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refresh, token)
}

// CallCount returns how many requests hit the given path.
func (s *Server) CallCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// TotalCalls returns how many requests the server saw in total.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

func (s *Server) countCalls(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// sendOTP records a fresh code for target and purpose. Callers hold s.mu.
func (s *Server) sendOTP(target, purpose string) string {
	s.otpSeq++
	code := fmt.Sprintf("%06d", 100000+s.otpSeq)
	s.otps[target+"|"+purpose] = code
	return code
}

// signAccessToken mints an HS256 access token. Callers hold s.mu.
func (s *Server) signAccessToken(identity model.Identity, ttl time.Duration) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  identity.Username,
		"role": string(identity.Role),
		"type": "access",
		"iat":  jwt.NewNumericDate(now),
		"exp":  jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic(err) // test fixture; cannot fail with a static HMAC key
	}
	return token
}

// authenticate resolves the bearer token to an account, or fails 401.
func (s *Server) authenticate(r *http.Request) (*account, bool) {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, false
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid || claims["type"] != "access" {
		return nil, false
	}
	username, _ := claims["sub"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[username]
	return acct, ok
}

// findByIdentifier resolves a username, email, or phone. Callers hold s.mu.
func (s *Server) findByIdentifier(identifier string) *account {
	for _, acct := range s.accounts {
		id := acct.identity
		if id.Username == identifier || (id.Email != "" && id.Email == identifier) || (id.Phone != "" && id.Phone == identifier) {
			return acct
		}
	}
	return nil
}

// findByTarget resolves an OTP delivery target. Callers hold s.mu.
func (s *Server) findByTarget(target string) *account {
	return s.findByIdentifier(target)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Email    string `json:"email"`
		Phone    string `json:"phone"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondDetail(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[req.Username]; exists {
		respondDetail(w, http.StatusBadRequest, "Username already exists")
		return
	}
	for _, acct := range s.accounts {
		if req.Email != "" && acct.identity.Email == req.Email {
			respondDetail(w, http.StatusBadRequest, "Email already registered")
			return
		}
		if req.Phone != "" && acct.identity.Phone == req.Phone {
			respondDetail(w, http.StatusBadRequest, "Phone already registered")
			return
		}
	}

	role := model.Role(req.Role)
	if !role.Valid() {
		role = model.RoleCustomer
	}
	s.accounts[req.Username] = &account{
		identity: model.Identity{
			Username:  req.Username,
			Email:     req.Email,
			Phone:     req.Phone,
			Role:      role,
			IsActive:  true,
			CreatedAt: time.Now().UTC().Truncate(time.Second),
		},
		password: req.Password,
	}

	target := req.Email
	if target == "" {
		target = req.Phone
	}
	if target == "" {
		target = req.Username
	}
	s.sendOTP(target, "signup")

	respondJSON(w, http.StatusCreated, map[string]any{
		"message":               "User created successfully. Please verify your account with the OTP sent.",
		"username":              req.Username,
		"target":                target,
		"verification_required": true,
	})
}

func (s *Server) handleVerifySignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target  string `json:"target"`
		OTP     string `json:"otp"`
		Purpose string `json:"purpose"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondDetail(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := req.Target + "|signup"
	if s.otps[key] == "" || s.otps[key] != req.OTP {
		respondDetail(w, http.StatusBadRequest, "Invalid or expired OTP")
		return
	}
	delete(s.otps, key)

	acct := s.findByTarget(req.Target)
	if acct == nil {
		respondDetail(w, http.StatusNotFound, "User not found")
		return
	}
	acct.identity.IsVerified = true

	respondJSON(w, http.StatusOK, map[string]any{
		"message":  "Account verified successfully. You can now login.",
		"verified": true,
	})
}

func (s *Server) handlePasswordLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondDetail(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.findByIdentifier(req.Identifier)
	if acct == nil || acct.password != req.Password {
		respondDetail(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if !acct.identity.IsVerified {
		respondDetail(w, http.StatusForbidden, "Account not verified. Please verify your account first.")
		return
	}

	target := acct.identity.Email
	if target == "" {
		target = acct.identity.Phone
	}
	if target == "" {
		target = acct.identity.Username
	}
	s.sendOTP(target, "login")

	respondJSON(w, http.StatusOK, map[string]any{
		"message":      "Password verified. Please enter the OTP sent to your registered contact.",
		"target":       target,
		"otp_required": true,
		"username":     acct.identity.Username,
	})
}

func (s *Server) handleLoginVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target  string `json:"target"`
		OTP     string `json:"otp"`
		Purpose string `json:"purpose"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondDetail(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := req.Target + "|login"
	if s.otps[key] == "" || s.otps[key] != req.OTP {
		respondDetail(w, http.StatusBadRequest, "Invalid or expired OTP")
		return
	}
	delete(s.otps, key)

	acct := s.findByTarget(req.Target)
	if acct == nil {
		respondDetail(w, http.StatusNotFound, "User not found")
		return
	}

	access := s.signAccessToken(acct.identity, accessTokenTTL)
	refresh := uuid.NewString()
	s.refresh[refresh] = acct.identity.Username

	respondJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondDetail(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	username, ok := s.refresh[req.RefreshToken]
	if !ok {
		respondDetail(w, http.StatusUnauthorized, "Invalid or revoked refresh token")
		return
	}
	acct := s.accounts[username]

	// Rotation: the presented token is revoked and replaced.
	delete(s.refresh, req.RefreshToken)
	access := s.signAccessToken(acct.identity, accessTokenTTL)
	refresh := uuid.NewString()
	s.refresh[refresh] = username

	respondJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(r); !ok {
		respondDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondDetail(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	s.mu.Lock()
	delete(s.refresh, req.RefreshToken)
	s.mu.Unlock()

	respondJSON(w, http.StatusOK, map[string]any{"message": "Logged out successfully"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.authenticate(r)
	if !ok {
		respondDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	respondJSON(w, http.StatusOK, acct.identity)
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.authenticate(r)
	if !ok {
		respondDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	if acct.identity.Role != model.RoleAdmin {
		respondDetail(w, http.StatusForbidden, "Admin access required")
		return
	}

	s.mu.Lock()
	users := make([]model.Identity, 0, len(s.accounts))
	for _, a := range s.accounts {
		users = append(users, a.identity)
	}
	s.mu.Unlock()

	respondJSON(w, http.StatusOK, users)
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.authenticate(r)
	if !ok {
		respondDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	if acct.identity.Role != model.RoleAdmin {
		respondDetail(w, http.StatusForbidden, "Admin access required")
		return
	}

	s.mu.Lock()
	stats := map[string]int{"total_users": len(s.accounts)}
	for _, a := range s.accounts {
		if a.identity.IsVerified {
			stats["verified_users"]++
		}
		switch a.identity.Role {
		case model.RoleAdmin:
			stats["admin_users"]++
		case model.RoleCustomer:
			stats["customer_users"]++
		}
	}
	s.mu.Unlock()

	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCustomerProfile(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.authenticate(r)
	if !ok {
		respondDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	if acct.identity.Role != model.RoleCustomer {
		respondDetail(w, http.StatusForbidden, "Customer access required")
		return
	}
	respondJSON(w, http.StatusOK, acct.identity)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// respondDetail sends a FastAPI-style failure body
func respondDetail(w http.ResponseWriter, statusCode int, detail string) {
	respondJSON(w, statusCode, map[string]string{"detail": detail})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
