package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/portal/internal/model"
	"github.com/lib/pq"
)

// pqUniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const pqUniqueViolation = "23505"

// PostgresCredentialRepo はPostgreSQLを使用した資格情報リポジトリ。
// 複数プロセスでモックユーザーを共有したい場合に使用する。
type PostgresCredentialRepo struct {
	db *sql.DB
}

// NewPostgresCredentialRepo はPostgresCredentialRepoを生成する。
func NewPostgresCredentialRepo(db *sql.DB) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: db}
}

// FindByEmail はメールアドレスでレコードを検索する。見つからない場合はnilを返す。
// emailカラムは大文字小文字を区別するTEXT型で比較する。
func (r *PostgresCredentialRepo) FindByEmail(ctx context.Context, email string) (*model.CredentialRecord, error) {
	rec := &model.CredentialRecord{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, password, display_name FROM credentials WHERE email = $1`,
		email,
	).Scan(&rec.ID, &rec.Email, &rec.Password, &rec.DisplayName)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credential by email: %w", err)
	}

	return rec, nil
}

// Create はレコードを作成する。一意制約違反はmodel.ErrDuplicateIdentityに変換する。
func (r *PostgresCredentialRepo) Create(ctx context.Context, rec *model.CredentialRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO credentials (id, email, password, display_name, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.Email, rec.Password, rec.DisplayName, time.Now(),
	)
	if isUniqueViolation(err) {
		return model.ErrDuplicateIdentity
	}
	if err != nil {
		return fmt.Errorf("failed to insert credential: %w", err)
	}
	return nil
}

// isUniqueViolation はerrがPostgreSQLの一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqUniqueViolation
	}
	return false
}

// compile-time interface check
var _ CredentialRepository = (*PostgresCredentialRepo)(nil)
