package security

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const sessionIssuer = "moodmash-auth"

// ErrInvalidSession is returned for unparsable, expired or forged session tokens.
var ErrInvalidSession = errors.New("invalid session token")

// SessionClaims are the claims carried by a session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	UserID  uint64 `json:"uid"`
	Email   string `json:"email"`
	Version int64  `json:"sv"`
}

// IssueSessionToken signs an HS256 session token for the user. version is the
// user's session version at issue time.
func IssueSessionToken(secret string, userID uint64, email string, version int64, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, errors.New("issue session: empty secret")
	}
	now := time.Now()
	expiresAt := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   strconv.FormatUint(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:  userID,
		Email:   email,
		Version: version,
	})
	signed, errSign := token.SignedString([]byte(secret))
	if errSign != nil {
		return "", time.Time{}, fmt.Errorf("issue session: %w", errSign)
	}
	return signed, expiresAt, nil
}

// ParseSessionToken validates a session token and returns its claims.
func ParseSessionToken(secret, tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, errParse := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(sessionIssuer), jwt.WithExpirationRequired())
	if errParse != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, errParse)
	}
	if !token.Valid || claims.UserID == 0 {
		return nil, ErrInvalidSession
	}
	return claims, nil
}
