package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Claims is the token payload. tenant_id selects the tenant schema.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey switches verification to HS256 with a shared secret.
	SigningKey []byte
}

// verifier returns the token parser and a per-request key lookup.
func (cfg JWTConfig) verifier() (*jwt.Parser, func(context.Context) jwt.Keyfunc) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	if len(cfg.SigningKey) > 0 {
		opts = append(opts, jwt.WithValidMethods([]string{"HS256"}))
		secret := func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
		return jwt.NewParser(opts...), func(context.Context) jwt.Keyfunc { return secret }
	}

	keys := newKeySet(cfg.JWKSURL, defaultJWKSTTL)
	opts = append(opts, jwt.WithValidMethods([]string{"RS256"}))
	return jwt.NewParser(opts...), func(ctx context.Context) jwt.Keyfunc {
		return func(t *jwt.Token) (interface{}, error) {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("token has no kid header")
			}
			return keys.key(ctx, kid)
		}
	}
}

func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", errors.New("missing authorization header")
	}
	scheme, token, ok := strings.Cut(h, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", errors.New("invalid authorization format")
	}
	return token, nil
}

// JWTMiddleware validates the bearer token and stores the subject and roles
// on the request context. The tenant claim is handed to the tenant middleware
// through the echo context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	parser, keyFunc := cfg.verifier()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, err := bearerToken(c.Request())
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			claims := &Claims{}
			if _, err := parser.ParseWithClaims(raw, claims, keyFunc(c.Request().Context())); err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if claims.Subject == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "token has no subject")
			}

			c.Set("jwt_tenant_id", claims.TenantID)
			ctx := withPrincipal(c.Request().Context(), claims.Subject, claims.Roles)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// DevAuthMiddleware authenticates every request as dev-user with the admin
// role. X-Dev-User and X-Dev-Roles (comma separated) override both so role
// checks can be tried locally. The tenant is left to the tenant middleware.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			user := req.Header.Get("X-Dev-User")
			if user == "" {
				user = "dev-user"
			}
			roles := []string{RoleAdmin}
			if h := req.Header.Get("X-Dev-Roles"); h != "" {
				roles = roles[:0]
				for _, r := range strings.Split(h, ",") {
					if r = strings.TrimSpace(r); r != "" {
						roles = append(roles, strings.ToLower(r))
					}
				}
			}
			c.SetRequest(req.WithContext(withPrincipal(req.Context(), user, roles)))
			return next(c)
		}
	}
}
