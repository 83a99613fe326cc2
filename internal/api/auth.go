package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	DefaultTokenExp = time.Hour * 24

	roleClaim    = "role"
	subjectClaim = "sub"
	expClaim     = "exp"
	adminRole    = "admin"

	tokenCookieKey = "token"
)

type contextKey string

const adminSubjectKey contextKey = "admin-subject"

func WithAdminSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, adminSubjectKey, subject)
}

// AdminSubject returns the subject of the admin token that authorized the
// request, if any.
func AdminSubject(ctx context.Context) (string, bool) {
	sub, ok := ctx.Value(adminSubjectKey).(string)
	return sub, ok
}

// CreateAdminToken signs an HS256 token carrying the admin role.
func CreateAdminToken(key []byte, subject string, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		subjectClaim: subject,
		roleClaim:    adminRole,
		expClaim:     time.Now().Add(exp).Unix(),
	})

	return token.SignedString(key)
}

func verifyToken(key []byte, tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

// tokenFromRequest reads a bearer token, falling back to the token cookie.
func tokenFromRequest(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			return "", false
		}
		return token, true
	}

	if c, err := r.Cookie(tokenCookieKey); err == nil && c.Value != "" {
		return c.Value, true
	}

	return "", false
}
