package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"academy-ledger/internal/domain"
)

type ctxKey string

const (
	UserIDKey   ctxKey = "userID"
	TenantIDKey ctxKey = "tenantID"
)

type TokenFinder interface {
	FindTokenByPlainToken(ctx context.Context, plainToken string) (*domain.PersonalAccessToken, error)
}

// SanctumMiddleware authenticates a request by personal access token, taken
// from the Authorization header or, for websocket upgrades, the token query
// parameter. The token's tenant and user are put on the request context.
func SanctumMiddleware(tokens TokenFinder, log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := log.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path, "remote": r.RemoteAddr})

			var pat *domain.PersonalAccessToken
			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				if plain := strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")); plain != "" {
					p, err := tokens.FindTokenByPlainToken(r.Context(), plain)
					if err != nil {
						logger.WithError(err).Debug("token lookup (header) failed")
					} else {
						pat = p
					}
				}
			}

			if pat == nil {
				if token := r.URL.Query().Get("token"); token != "" {
					p, err := tokens.FindTokenByPlainToken(r.Context(), token)
					if err != nil {
						logger.WithError(err).Debug("token lookup (query) failed")
					} else {
						pat = p
					}
				}
			}

			if pat == nil {
				logger.Info("no valid token")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if pat.ExpiresAt != nil && pat.ExpiresAt.Before(time.Now()) {
				logger.WithField("token_id", pat.ID).Info("token expired")
				http.Error(w, "Token expired", http.StatusUnauthorized)
				return
			}

			if pat.TenantID == "" {
				logger.WithField("token_id", pat.ID).Warn("token has no tenant")
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			ctx := WithIdentity(r.Context(), pat.TenantID, pat.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func WithIdentity(ctx context.Context, tenantID string, userID int64) context.Context {
	ctx = context.WithValue(ctx, TenantIDKey, tenantID)
	return context.WithValue(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(UserIDKey).(int64)
	if !ok {
		return 0, errors.New("userID not found in context")
	}
	return userID, nil
}

func GetTenantID(ctx context.Context) (string, error) {
	tenantID, ok := ctx.Value(TenantIDKey).(string)
	if !ok || tenantID == "" {
		return "", errors.New("tenantID not found in context")
	}
	return tenantID, nil
}
