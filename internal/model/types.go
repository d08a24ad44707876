package model

import "time"

// Role separates the two account classes the backend knows about.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleCustomer Role = "customer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleCustomer
}

// Identity is the authenticated user's profile as confirmed by the backend.
// It is created from an identity fetch and replaced only by another fetch.
type Identity struct {
	Username   string    `json:"username"`
	Email      string    `json:"email,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Role       Role      `json:"role"`
	IsActive   bool      `json:"is_active"`
	IsVerified bool      `json:"is_verified"`
	CreatedAt  time.Time `json:"created_at"`
}

// TokenPair is the access/refresh credential pair issued after a verified
// login. Both tokens are opaque to the client.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Empty reports whether the pair is missing either token. An incomplete
// pair is treated the same as no session at all.
func (p TokenPair) Empty() bool {
	return p.AccessToken == "" || p.RefreshToken == ""
}

// OtpChallenge is the pending one-time-passcode exchange between a
// successful primary step and its verification. Never persisted.
type OtpChallenge struct {
	Target  string // delivery address echoed by the backend
	Purpose string // "signup" or "login"
}
