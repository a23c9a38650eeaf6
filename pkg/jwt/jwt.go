package jwt

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Role is the actor kind of an identity on the booking platform
type Role string

// Roles known to the platform. The set is fixed.
const (
	RoleArtist    Role = "artist"
	RoleOrganizer Role = "organizer"
	RoleProvider  Role = "provider"
	RoleAdmin     Role = "admin"
	RoleUnknown   Role = ""
)

// ParseRole maps a role string to a Role, returning RoleUnknown for anything outside the enumeration
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleArtist:
		return RoleArtist
	case RoleOrganizer:
		return RoleOrganizer
	case RoleProvider:
		return RoleProvider
	case RoleAdmin:
		return RoleAdmin
	}
	return RoleUnknown
}

// Valid reports whether r is one of the enumerated roles
func (r Role) Valid() bool {
	return ParseRole(string(r)) != RoleUnknown
}

// ID is an identifier that the API may encode as a JSON string or number
type ID string

// UnmarshalJSON accepts "abc", 42 and null
func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// JWTClaims represents the claims the booking API puts in its bearer tokens
type JWTClaims struct {
	UserID ID     `json:"user_id,omitempty"`
	AltID  ID     `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identifier returns the first non-empty of user_id, id and sub
func (c *JWTClaims) Identifier() string {
	switch {
	case c.UserID != "":
		return string(c.UserID)
	case c.AltID != "":
		return string(c.AltID)
	default:
		return c.Subject
	}
}

// HasRole checks the role claim
func (c *JWTClaims) HasRole(role Role) bool {
	return ParseRole(c.Role) == role
}

// Expiry returns the exp claim, or the zero time when the token does not expire
func (c *JWTClaims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Decode reads the claims of a bearer token without verifying its signature.
// Tokens are minted and verified by the API; the client only needs to know
// who it is and when the token stops being useful.
func Decode(tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// DecodeValid is Decode plus an expiry check against now
func DecodeValid(tokenString string, now time.Time) (*JWTClaims, error) {
	claims, err := Decode(tokenString)
	if err != nil {
		return nil, err
	}
	if exp := claims.Expiry(); !exp.IsZero() && !now.Before(exp) {
		return nil, ErrExpiredToken
	}
	return claims, nil
}
