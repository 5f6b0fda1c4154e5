package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// Authenticate verifies the Authorization bearer token and stores the identity in the request context.
// When roles are given the identity must hold one of them.
func Authenticate(verifier *Verifier, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}

			identity, err := verifier.Verify(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, ErrInvalidToken)
				return
			}

			if len(roles) > 0 && !hasRole(identity, roles) {
				writeError(w, http.StatusForbidden, errors.New("auth: insufficient role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}

func hasRole(identity *Identity, roles []string) bool {
	for _, role := range roles {
		if identity.Role == role {
			return true
		}
	}
	return false
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="checkout"`)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
