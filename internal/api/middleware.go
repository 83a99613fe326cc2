package api

import (
	"fmt"
	"net/http"
)

func (s *RelayApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Errorf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// adminMiddleware requires a token with the admin role. Without a signing key
// every request is let through.
func (s *RelayApp) adminMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.signingKey) == 0 {
			next(w, r)
			return
		}

		tokenString, ok := tokenFromRequest(r)
		if !ok {
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		claims, err := verifyToken(s.signingKey, tokenString)
		if err != nil {
			s.log.Debugf("rejected admin token: %v", err)
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		if role, _ := claims[roleClaim].(string); role != adminRole {
			errResp := NewForbiddenError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		sub, _ := claims[subjectClaim].(string)
		ctx := WithAdminSubject(r.Context(), sub)
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}
