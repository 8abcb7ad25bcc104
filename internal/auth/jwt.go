// Package auth issues and verifies the JWT credentials that gate both the
// HTTP API and the websocket endpoint, and wraps bcrypt password hashing.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/crypto/bcrypt"

	"github.com/Jishnu-21/chat-app/internal/normalize"
)

// ErrInvalidToken is returned when a credential fails verification for any
// reason: missing, malformed, expired, or signed with the wrong key.
var ErrInvalidToken = errors.New("invalid token")

// JWTManager signs and validates the JWT tokens used by the API.
type JWTManager struct {
	secretKey string        // HMAC signing secret, supplied via environment
	duration  time.Duration // how long issued tokens stay valid
}

// Claims is the custom JWT payload (user id + username).
type Claims struct {
	UserID               string `json:"user_id"`  // MongoDB ObjectID as hex string
	Username             string `json:"username"` // normalized username
	jwt.RegisteredClaims        // ExpiresAt, IssuedAt, etc.
}

// NewJWTManager returns a configured JWTManager.
func NewJWTManager(secretKey string, duration time.Duration) *JWTManager {
	return &JWTManager{
		secretKey: secretKey,
		duration:  duration,
	}
}

// GenerateToken issues a signed JWT token for a user. The username is stored
// in normalized form so lookups against the users collection always match.
func (m *JWTManager) GenerateToken(userID bson.ObjectID, username string) (string, time.Time, error) {
	expiresAt := time.Now().Add(m.duration)

	claims := &Claims{
		UserID:   userID.Hex(),
		Username: normalize.Username(username),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	// HS256: HMAC with SHA-256, symmetric key held only by the server.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(m.secretKey))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// VerifyToken parses and validates a token and returns its claims. This is a
// pure check with no side effects; callers decide what a failure means for
// the request or connection attempt.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Reject tokens that claim a non-HMAC signing method; otherwise an
		// attacker could present a token "signed" with alg=none.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.secretKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// HashPassword returns a bcrypt hash for the provided plaintext.
func HashPassword(password string) (string, error) {
	// Default cost (10 rounds) balances security and login latency.
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedPassword), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash. It is
// timing-safe and returns nil only on a match.
func CheckPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
