package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/angelmondragon/chataccess/api/responses"
	pkgAuth "github.com/angelmondragon/chataccess/pkg/auth"
	"github.com/angelmondragon/chataccess/pkg/config"
	pkgerrors "github.com/angelmondragon/chataccess/pkg/errors"
	"github.com/angelmondragon/chataccess/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the claims.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, pkgAuth.ErrTokenExpired) {
					msg = "token expired"
				}
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, msg))
				return
			}

			op := pkgAuth.OperatorFromClaims(claims)
			ctx := pkgAuth.WithOperator(r.Context(), op)
			if logg != nil {
				ctx = logg.WithActorID(ctx, op.ID)
				ctx = logg.WithField(ctx, "actor_role", string(op.Role))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
