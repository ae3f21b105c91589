package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"sourceline/internal/engine/identity"
	"sourceline/internal/repo"
)

type AuthConfig struct {
	JWTSecret string
	// AllowInsecureHeaders accepts X-Actor-Id / X-Supplier-Id / X-Roles
	// without credentials. Local development only.
	AllowInsecureHeaders bool
	Logger               *log.Logger
}

type principalKey struct{}

func (c AuthConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

func withPrincipal(ctx context.Context, p identity.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (identity.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(identity.Principal)
	return p, ok
}

func requirePrincipal(ctx context.Context) (identity.Principal, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.ActorID != "" {
		return p, nil
	}
	return identity.Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func requirePrivileged(ctx context.Context) (identity.Principal, huma.StatusError) {
	p, authErr := requirePrincipal(ctx)
	if authErr != nil {
		return p, authErr
	}
	if !p.Privileged() {
		return p, newAPIError(http.StatusForbidden, "forbidden", "privileged role required", nil)
	}
	return p, nil
}

func requireSupplier(ctx context.Context) (identity.Principal, huma.StatusError) {
	p, authErr := requirePrincipal(ctx)
	if authErr != nil {
		return p, authErr
	}
	if p.SupplierID == "" {
		return p, newAPIError(http.StatusForbidden, "forbidden", "supplier identity required", nil)
	}
	return p, nil
}

type jwtClaims struct {
	jwt.RegisteredClaims
	SupplierID string   `json:"supplier_id,omitempty"`
	Roles      []string `json:"roles,omitempty"`
}

func authenticateJWT(token string, secret string) (identity.Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return identity.Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return identity.Principal{}, err
	}
	if !parsed.Valid {
		return identity.Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return identity.Principal{}, errors.New("subject claim required")
	}
	return identity.Principal{
		ActorID:    claims.Subject,
		SupplierID: claims.SupplierID,
		Roles:      claims.Roles,
		Source:     "jwt",
	}, nil
}

func authenticateAPIKey(ctx context.Context, r repo.Repo, key string) (identity.Principal, error) {
	if strings.TrimSpace(key) == "" {
		return identity.Principal{}, errors.New("api key required")
	}
	hash := repo.HashAPIKey(key)
	apiKey, err := r.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		return identity.Principal{}, err
	}
	if apiKey.SupplierID == "" {
		return identity.Principal{}, errors.New("api key missing supplier")
	}
	return identity.Principal{
		ActorID:    apiKey.SupplierID,
		SupplierID: apiKey.SupplierID,
		Source:     "api_key",
	}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func splitRoles(raw string) []string {
	var roles []string
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo) func(http.Handler) http.Handler {
	openPaths := map[string]bool{
		path.Join(basePath, "health"): true,
	}
	if cfg.AllowInsecureHeaders && strings.TrimSpace(cfg.JWTSecret) != "" {
		openPaths[path.Join(basePath, "auth/dev/login")] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if openPaths[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))
			insecureActor := strings.TrimSpace(req.Header.Get("X-Actor-Id"))

			if authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				principal, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			if apiKeyHeader != "" {
				principal, err := authenticateAPIKey(req.Context(), r, apiKeyHeader)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			if insecureActor != "" && cfg.AllowInsecureHeaders {
				cfg.logger().Printf("WARNING: using unauthenticated X-Actor-Id header (actor_id=%s); development mode only", insecureActor)
				principal := identity.Principal{
					ActorID:    insecureActor,
					SupplierID: strings.TrimSpace(req.Header.Get("X-Supplier-Id")),
					Roles:      splitRoles(req.Header.Get("X-Roles")),
					Source:     "insecure_header",
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
