package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"academy-ledger/internal/domain"
)

var ErrTokenNotFound = errors.New("token not found")

type PersonalAccessTokenRepository struct {
	db  *sql.DB
	log *logrus.Logger
}

func NewPersonalAccessTokenRepository(db *sql.DB, log *logrus.Logger) *PersonalAccessTokenRepository {
	return &PersonalAccessTokenRepository{db: db, log: log}
}

// FindTokenByPlainToken accepts "id|secret" or a bare secret. Stored tokens
// are sha256 hex digests of the secret.
func (r *PersonalAccessTokenRepository) FindTokenByPlainToken(ctx context.Context, plainToken string) (*domain.PersonalAccessToken, error) {
	plainToken = strings.TrimSpace(plainToken)
	if plainToken == "" {
		return nil, errors.New("empty token")
	}

	var (
		tokenID   *int64
		tokenPart = plainToken
	)
	if idx := strings.Index(plainToken, "|"); idx > 0 {
		tokenPart = plainToken[idx+1:]
		if id, err := strconv.ParseInt(plainToken[:idx], 10, 64); err == nil {
			tokenID = &id
		} else {
			r.log.WithError(err).Debug("token id prefix is not numeric")
		}
	}

	sum := sha256.Sum256([]byte(tokenPart))
	hashStr := fmt.Sprintf("%x", sum)
	now := time.Now()

	if tokenID != nil {
		query := `
			SELECT id, tenant_id, user_id, token, abilities, expires_at
			FROM personal_access_tokens
			WHERE id = $1 AND (expires_at IS NULL OR expires_at > $2)`

		pat, err := scanToken(r.db.QueryRowContext(ctx, query, *tokenID, now))
		switch {
		case err == nil && pat.TokenHash == hashStr:
			return pat, nil
		case err == nil:
			r.log.WithField("token_id", *tokenID).Debug("token hash mismatch")
		case !errors.Is(err, sql.ErrNoRows):
			return nil, err
		}
	}

	query := `
		SELECT id, tenant_id, user_id, token, abilities, expires_at
		FROM personal_access_tokens
		WHERE token = $1 AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY created_at DESC
		LIMIT 1`

	pat, err := scanToken(r.db.QueryRowContext(ctx, query, hashStr, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	return pat, err
}

func scanToken(row rowScanner) (*domain.PersonalAccessToken, error) {
	var (
		pat       domain.PersonalAccessToken
		expiresAt sql.NullTime
	)
	if err := row.Scan(&pat.ID, &pat.TenantID, &pat.UserID, &pat.TokenHash, &pat.Abilities, &expiresAt); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		pat.ExpiresAt = &expiresAt.Time
	}
	return &pat, nil
}
