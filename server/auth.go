package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// publicPaths are reachable without a token so probes and scrapers need no
// credentials.
var publicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// bearerToken returns the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

// authMiddleware rejects requests without the configured bearer token. It is
// a no-op when no token is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if s.config.AuthToken == "" {
		return next
	}
	want := []byte(s.config.AuthToken)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			s.deny(w, r, "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			s.deny(w, r, "token mismatch")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) deny(w http.ResponseWriter, r *http.Request, reason string) {
	if s.logger != nil {
		s.logger.Debug("request denied", "path", r.URL.Path, "reason", reason)
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="player-cache"`)
	writeError(w, http.StatusUnauthorized, "unauthorized")
}
