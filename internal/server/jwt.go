package server

import (
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Session tokens let a client resume its entity after a reconnect without
// re-running the join flow from scratch.

const (
	sessionTTL  = 5 * time.Minute
	tokenIssuer = "rollsync-server"
)

type sessionClaims struct {
	SessionID string `json:"session_id"`
	EntityID  uint64 `json:"entity_id"`
	jwt.RegisteredClaims
}

// signingKey resolves the token key: explicit config first, then the
// environment, then a development default.
func signingKey(configured string) []byte {
	if configured != "" {
		return []byte(configured)
	}
	if secret := os.Getenv("ROLLSYNC_JWT_SECRET"); secret != "" {
		return []byte(secret)
	}
	return []byte("rollsync-dev-secret-change-in-production")
}

func issueSessionToken(key []byte, sessionID string, entity uint64) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		SessionID: sessionID,
		EntityID:  entity,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   sessionID,
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(key)
}

func verifySessionToken(key []byte, tokenString string) (sessionID string, entity uint64, err error) {
	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return "", 0, errors.Wrap(err, "parse session token")
	}
	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid {
		return "", 0, errors.New("invalid session token")
	}
	return claims.SessionID, claims.EntityID, nil
}
