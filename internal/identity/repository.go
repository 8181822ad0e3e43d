package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByID(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByPhone(ctx context.Context, phone string) (User, error)
	// UpdateProfile overwrites the email, phone, full name and password hash
	// of an existing user.
	UpdateProfile(ctx context.Context, user User) error
	// SetPayoutAccount replaces the payout account and forgets any recipient
	// code created for the previous one.
	SetPayoutAccount(ctx context.Context, id string, account PayoutAccount) error
	// SetRecipientCode stores code only if the user has none yet and returns
	// the code that ends up stored.
	SetRecipientCode(ctx context.Context, id, code string) (string, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, email, phone, full_name, password_hash,
	COALESCE(payout_account_name, ''), COALESCE(payout_account_number, ''), COALESCE(payout_bank_code, ''),
	COALESCE(recipient_code, ''), created_at`

// Create inserts a new user.
func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO users (id, email, phone, full_name, password_hash, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`, userID, user.Email, user.Phone, user.FullName, user.PasswordHash, user.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrUserExists
	}
	return err
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return User{}, ErrUserNotFound
	}
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// FindByPhone fetches a user by phone number.
func (r *PostgresRepository) FindByPhone(ctx context.Context, phone string) (User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone)
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, arg any) (User, error) {
	var (
		id        uuid.UUID
		createdAt time.Time
		user      User
		account   PayoutAccount
	)
	err := r.db.QueryRow(ctx, query, arg).Scan(&id, &user.Email, &user.Phone, &user.FullName, &user.PasswordHash,
		&account.AccountName, &account.AccountNumber, &account.BankCode, &user.RecipientCode, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	user.ID = id.String()
	user.CreatedAt = createdAt.UTC()
	if account.AccountNumber != "" {
		user.PayoutAccount = &account
	}
	return user, nil
}

func (r *PostgresRepository) UpdateProfile(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return ErrUserNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE users
        SET email = $1, phone = $2, full_name = $3, password_hash = $4
        WHERE id = $5`, user.Email, user.Phone, user.FullName, user.PasswordHash, userID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrUserExists
	}
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PostgresRepository) SetPayoutAccount(ctx context.Context, id string, account PayoutAccount) error {
	userID, err := uuid.Parse(id)
	if err != nil {
		return ErrUserNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE users
        SET payout_account_name = $1, payout_account_number = $2, payout_bank_code = $3, recipient_code = NULL
        WHERE id = $4`, account.AccountName, account.AccountNumber, account.BankCode, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PostgresRepository) SetRecipientCode(ctx context.Context, id, code string) (string, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return "", ErrUserNotFound
	}
	var stored string
	err = r.db.QueryRow(ctx, `UPDATE users SET recipient_code = $1
        WHERE id = $2 AND recipient_code IS NULL
        RETURNING recipient_code`, code, userID).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		user, findErr := r.FindByID(ctx, id)
		if findErr != nil {
			return "", findErr
		}
		return user.RecipientCode, nil
	}
	if err != nil {
		return "", err
	}
	return stored, nil
}
