package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RegisterRequest holds the payload for creating an account.
type RegisterRequest struct {
	Identifier string   `json:"user_id" validate:"required,min=3,max=64"`
	FirstName  string   `json:"first_name" validate:"required,max=32"`
	LastName   string   `json:"last_name" validate:"max=32"`
	Password   string   `json:"password" validate:"required,min=8,max=128"`
	Role       UserRole `json:"user_type" validate:"required,oneof=teacher student"`
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Identifier string   `json:"user_id" validate:"required"`
	Password   string   `json:"password" validate:"required"`
	Role       UserRole `json:"user_type" validate:"required,oneof=teacher student"`
}

// LoginResponse returns the issued token and user info.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	IssuedAt    time.Time `json:"issued_at"`
	User        UserInfo  `json:"user"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID         string   `json:"id"`
	Identifier string   `json:"user_id"`
	FirstName  string   `json:"first_name"`
	LastName   string   `json:"last_name"`
	Role       UserRole `json:"user_type"`
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID     string   `json:"user_id"`
	Identifier string   `json:"identifier"`
	Role       UserRole `json:"role"`
	Name       string   `json:"name"`
	jwt.RegisteredClaims
}

// AnonymousCredentials identify an anonymous student on endpoints that
// accept name+PIN in place of a bearer token.
type AnonymousCredentials struct {
	ClassID   string `json:"class_id" validate:"required"`
	FirstName string `json:"first_name" validate:"required,max=50"`
	PinCode   string `json:"pin_code" validate:"required,len=4,numeric"`
}
