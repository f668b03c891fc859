package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/loyaltyhub-backend/api/responses"
	pkgAuth "github.com/angelmondragon/loyaltyhub-backend/pkg/auth"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
)

// Auth rejects requests without a valid bearer token. Accepted claims are put
// on the request context for handlers and on the logger context for every
// entry written after this point.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), logg, claims)))
		})
	}
}

// bearerToken accepts "Bearer <token>" in any case and a bare token.
func bearerToken(r *http.Request) (string, bool) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if scheme, rest, found := strings.Cut(raw, " "); found && strings.EqualFold(scheme, "bearer") {
		raw = strings.TrimSpace(rest)
	}
	return raw, raw != ""
}

func withClaims(ctx context.Context, logg *logger.Logger, claims *pkgAuth.AccessTokenClaims) context.Context {
	userID := claims.UserID.String()
	ctx = WithRole(WithUserID(ctx, userID), claims.Role)
	ctx = logg.WithActorRole(logg.WithUserID(ctx, userID), string(claims.Role))
	if claims.MerchantID != nil {
		merchantID := claims.MerchantID.String()
		ctx = logg.WithMerchantID(WithMerchantID(ctx, merchantID), merchantID)
	}
	return ctx
}
