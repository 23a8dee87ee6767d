package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/eloraa/drive/internal/model"
)

// PostgresVerificationTokenRepo はPostgreSQLを使用した検証トークンリポジトリ。
type PostgresVerificationTokenRepo struct {
	db *sql.DB
}

// NewPostgresVerificationTokenRepo はPostgresVerificationTokenRepoを生成する。
func NewPostgresVerificationTokenRepo(db *sql.DB) *PostgresVerificationTokenRepo {
	return &PostgresVerificationTokenRepo{db: db}
}

// Create はトークンを作成する。
func (r *PostgresVerificationTokenRepo) Create(ctx context.Context, token *model.VerificationToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO verification_tokens (identifier, token, expires)
		 VALUES ($1, $2, $3)`,
		token.Identifier, token.Token, token.Expires,
	)
	if err != nil {
		return fmt.Errorf("failed to create verification token: %w", err)
	}
	return nil
}

// Use はidentifierとtokenに一致するトークンを削除し、削除前の値を返す。
// DELETE ... RETURNING で取得と削除を1文で行うため、同じトークンは一度しか使えない。
func (r *PostgresVerificationTokenRepo) Use(ctx context.Context, identifier, token string) (*model.VerificationToken, error) {
	vt := &model.VerificationToken{}
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM verification_tokens
		 WHERE identifier = $1 AND token = $2
		 RETURNING identifier, token, expires`,
		identifier, token,
	).Scan(&vt.Identifier, &vt.Token, &vt.Expires)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to use verification token: %w", err)
	}
	return vt, nil
}

// DeleteExpired は期限切れのトークンを削除し、削除件数を返す。
func (r *PostgresVerificationTokenRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM verification_tokens WHERE expires <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired verification tokens: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ VerificationTokenRepository = (*PostgresVerificationTokenRepo)(nil)
