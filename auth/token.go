package auth

import (
	"clinic-chat/domain"
	"clinic-chat/errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "clinic-chat"

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	DisplayName string `json:"name"`
	Email       string `json:"email"`
	jwt.RegisteredClaims
}

func (c CustomClaims) Session() domain.Session {
	return domain.Session{
		UserID:      c.UserID,
		Role:        domain.Role(c.Role),
		DisplayName: c.DisplayName,
		Email:       c.Email,
	}
}

// Issuer signs and validates tokens with a shared HMAC secret.
type Issuer struct {
	secret            []byte
	authTokenDuration time.Duration
}

func NewIssuer(secret string, authTokenDuration time.Duration) Issuer {
	return Issuer{secret: []byte(secret), authTokenDuration: authTokenDuration}
}

// GenerateToken creates a signed JWT for a session.
func (i Issuer) GenerateToken(session domain.Session) (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		UserID:      session.UserID,
		Role:        string(session.Role),
		DisplayName: session.DisplayName,
		Email:       session.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(i.authTokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	// HS256 (HMAC with SHA256)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// ValidateToken parses and validates the signature and expiration of a JWT string.
func (i Issuer) ValidateToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidToken, err)
	}

	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid && claims.UserID != "" {
		return claims, nil
	}
	return nil, errors.ErrInvalidToken
}

// SessionFromToken reads the session carried by a token without checking its signature.
// The client never holds the signing secret: the backend remains the one validating it.
func SessionFromToken(tokenString string) (domain.Session, time.Time, error) {
	claims := &CustomClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return domain.Session{}, time.Time{}, fmt.Errorf("%w: %v", errors.ErrInvalidToken, err)
	}
	session := claims.Session()
	if session.UserID == "" || !session.Role.Valid() {
		return domain.Session{}, time.Time{}, fmt.Errorf("%w: missing user or role", errors.ErrInvalidToken)
	}
	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return session, expiresAt, nil
}
