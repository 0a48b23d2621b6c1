package httpapi

import (
	"net/http"
	"strings"

	"github.com/dmitrijs2005/kioskeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// kioskAuth verifies the HS256 token a kiosk signs with the fleet secret.
// The token subject must match the kiosk id in the URL, so one kiosk's
// credentials cannot act for another.
func (s *Server) kioskAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get(common.KioskTokenHeaderName), "Bearer ")
		if raw == "" {
			s.writeError(w, r, http.StatusUnauthorized, common.ErrInvalidToken)
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, common.ErrInvalidToken
			}
			return s.kioskSecret, nil
		})
		if err != nil || !token.Valid {
			s.writeError(w, r, http.StatusUnauthorized, common.ErrInvalidToken)
			return
		}

		if kioskID := r.PathValue("kioskID"); kioskID != "" && claims.Subject != kioskID {
			s.writeError(w, r, http.StatusForbidden, common.ErrInvalidToken)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// staffAuth checks the static staff API token. Staff identity and cookie
// plumbing live in the admin panel, outside this service.
func (s *Server) staffAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.staffToken == "" || r.Header.Get(common.StaffTokenHeaderName) != s.staffToken {
			s.writeError(w, r, http.StatusUnauthorized, common.ErrInvalidToken)
			return
		}
		next.ServeHTTP(w, r)
	})
}
