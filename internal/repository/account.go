package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/zapgate/gateway-server-go/internal/errors"
)

// Account is an API consumer: the ownerId of every session it provisions.
type Account struct {
	ID              string    `db:"id"`
	TokenHash       string    `db:"token_hash"`
	Balance         int64     `db:"balance"`
	RateLimitPerMin int       `db:"rate_limit_per_min"`
	CreatedAt       time.Time `db:"created_at"`
}

type AccountRepository interface {
	FindByTokenHash(ctx context.Context, tokenHash string) (*Account, error)
	// Debit conditionally subtracts amount; reports false when the
	// balance would go negative.
	Debit(ctx context.Context, id string, amount int64) (bool, error)
	Credit(ctx context.Context, id string, amount int64) error
}

type accountDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type accountRepo struct {
	db accountDB
}

func NewAccountRepository(db *sqlx.DB) AccountRepository {
	return &accountRepo{db: db}
}

func (r *accountRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*Account, error) {
	var account Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts WHERE token_hash = $1
	`, tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepo) Debit(ctx context.Context, id string, amount int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET balance = balance - $2
		WHERE id = $1 AND balance >= $2
	`, id, amount)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *accountRepo) Credit(ctx context.Context, id string, amount int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET balance = balance + $2 WHERE id = $1
	`, id, amount)
	return err
}

// CreditLedger adapts the account repository to the session core's Ledger
// contract, translating storage outcomes into typed failures.
type CreditLedger struct {
	repo AccountRepository
}

func NewCreditLedger(repo AccountRepository) *CreditLedger {
	return &CreditLedger{repo: repo}
}

func (l *CreditLedger) Debit(ctx context.Context, ownerID string, amount int64) error {
	ok, err := l.repo.Debit(ctx, ownerID, amount)
	if err != nil {
		return apperrors.Database(err)
	}
	if !ok {
		return apperrors.InsufficientBalance()
	}
	return nil
}

func (l *CreditLedger) Credit(ctx context.Context, ownerID string, amount int64) error {
	if err := l.repo.Credit(ctx, ownerID, amount); err != nil {
		return apperrors.Database(err)
	}
	return nil
}
