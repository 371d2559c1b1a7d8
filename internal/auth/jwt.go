// Package auth issues and verifies the session credentials used by the API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/PaulBabatuyi/biodata-api/internal/normalize"
	"github.com/golang-jwt/jwt/v5"
)

// SessionTTL is the validity window of an issued token and its cookie.
const SessionTTL = 5 * 24 * time.Hour

var (
	// ErrNoToken is returned when the request carries no credential at all.
	ErrNoToken = errors.New("no token provided")
	// ErrInvalidToken covers bad signatures, unknown keys, malformed and expired tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// JWTManager signs and validates JWT tokens used by the API.
type JWTManager struct {
	keys      map[string]string // kid -> HMAC secret
	activeKID string            // kid used for signing new tokens; "" for single-key mode
	duration  time.Duration
	now       func() time.Time
}

// Claims is the custom JWT payload. Email is the only identity claim; roles
// are looked up from the store on every request.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// NewJWTManager returns a single-key JWTManager.
func NewJWTManager(secretKey string, duration time.Duration) *JWTManager {
	return &JWTManager{
		keys:     map[string]string{"": secretKey},
		duration: duration,
		now:      time.Now,
	}
}

// NewJWTManagerFromKeys returns a JWTManager that signs with activeKID and
// accepts tokens signed by any key in keys, so secrets can be rotated
// without invalidating live sessions.
func NewJWTManagerFromKeys(keys map[string]string, activeKID string, duration time.Duration) *JWTManager {
	cp := make(map[string]string, len(keys))
	for k, v := range keys {
		cp[k] = v
	}
	return &JWTManager{
		keys:      cp,
		activeKID: activeKID,
		duration:  duration,
		now:       time.Now,
	}
}

// GenerateToken issues a signed JWT token for email.
func (m *JWTManager) GenerateToken(email string) (string, time.Time, error) {
	secret, ok := m.keys[m.activeKID]
	if !ok || secret == "" {
		return "", time.Time{}, fmt.Errorf("no signing key for kid %q", m.activeKID)
	}

	issuedAt := m.now()
	expiresAt := issuedAt.Add(m.duration)

	claims := &Claims{
		Email: normalize.Email(email),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.activeKID != "" {
		token.Header["kid"] = m.activeKID
	}

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// VerifyToken parses and validates a token and returns its claims. Every
// failure is reported as ErrInvalidToken wrapping the parser's reason.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrNoToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, m.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("%w: missing email claim", ErrInvalidToken)
	}

	claims.Email = normalize.Email(claims.Email)
	return claims, nil
}

func (m *JWTManager) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	kid, _ := token.Header["kid"].(string)
	secret, ok := m.keys[kid]
	if !ok || secret == "" {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return []byte(secret), nil
}
