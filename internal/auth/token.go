package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims identify a session: Subject is the user id, ID is the session's
// JWT id.
type Claims struct {
	UserID    int64
	JWTID     string
	ExpiresAt time.Time
}

type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs an HS256 token for userID with a fresh random JWT id.
func (i *TokenIssuer) Issue(userID int64) (string, Claims, error) {
	now := i.now()
	claims := Claims{
		UserID:    userID,
		JWTID:     uuid.NewString(),
		ExpiresAt: now.Add(i.ttl),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		ID:        claims.JWTID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

func (i *TokenIssuer) Parse(raw string) (Claims, error) {
	registered := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, registered, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	userID, err := strconv.ParseInt(registered.Subject, 10, 64)
	if err != nil || registered.ID == "" {
		return Claims{}, ErrInvalidToken
	}
	claims := Claims{UserID: userID, JWTID: registered.ID}
	if registered.ExpiresAt != nil {
		claims.ExpiresAt = registered.ExpiresAt.Time
	}
	return claims, nil
}
