package account

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists accounts in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed account store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const accountColumns = `
	id, email, credential_hash, usage_count, risk_score,
	permanently_banned, banned_until, is_premium, subscription_expiry,
	otp_code, otp_expiry, device_fingerprint, last_known_address,
	version, created_at, updated_at`

// Get retrieves an account by ID
func (p *PostgresStore) Get(ctx context.Context, id string) (*Account, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts WHERE id = $1
	`, id)
	return scanAccount(row)
}

// GetByEmail retrieves an account by its unique email
func (p *PostgresStore) GetByEmail(ctx context.Context, email string) (*Account, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts WHERE email = $1
	`, email)
	return scanAccount(row)
}

// Create inserts a new account. The email unique constraint surfaces as
// ErrEmailTaken.
func (p *PostgresStore) Create(ctx context.Context, a *Account) error {
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.Version = 1

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, email, credential_hash, usage_count, risk_score,
			permanently_banned, banned_until, is_premium, subscription_expiry,
			otp_code, otp_expiry, device_fingerprint, last_known_address,
			version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		a.ID, a.Email, a.CredentialHash, a.UsageCount, a.RiskScore,
		a.PermanentlyBanned, a.BannedUntil, a.IsPremium, a.SubscriptionExpiry,
		nullString(a.OTPCode), a.OTPExpiry, nullString(a.DeviceFingerprint),
		nullString(a.LastKnownAddress), a.Version, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

// Update performs a compare-and-swap on the version column.
func (p *PostgresStore) Update(ctx context.Context, a *Account) error {
	now := time.Now()
	res, err := p.db.ExecContext(ctx, `
		UPDATE accounts SET
			usage_count = $1, risk_score = $2,
			permanently_banned = $3, banned_until = $4,
			is_premium = $5, subscription_expiry = $6,
			otp_code = $7, otp_expiry = $8,
			device_fingerprint = $9, last_known_address = $10,
			version = version + 1, updated_at = $11
		WHERE id = $12 AND version = $13
	`,
		a.UsageCount, a.RiskScore,
		a.PermanentlyBanned, a.BannedUntil,
		a.IsPremium, a.SubscriptionExpiry,
		nullString(a.OTPCode), a.OTPExpiry,
		nullString(a.DeviceFingerprint), nullString(a.LastKnownAddress),
		now, a.ID, a.Version,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a stale version from a missing row.
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, a.ID,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	a.Version++
	a.UpdatedAt = now
	return nil
}

// Migrate creates the accounts table if it doesn't exist
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id                  VARCHAR(36) PRIMARY KEY,
			email               VARCHAR(254) NOT NULL UNIQUE,
			credential_hash     VARCHAR(64) NOT NULL,
			usage_count         INTEGER NOT NULL DEFAULT 0,
			risk_score          INTEGER NOT NULL DEFAULT 0,
			permanently_banned  BOOLEAN NOT NULL DEFAULT FALSE,
			banned_until        TIMESTAMPTZ,
			is_premium          BOOLEAN NOT NULL DEFAULT FALSE,
			subscription_expiry TIMESTAMPTZ,
			otp_code            VARCHAR(6),
			otp_expiry          TIMESTAMPTZ,
			device_fingerprint  VARCHAR(255),
			last_known_address  VARCHAR(64),
			version             BIGINT NOT NULL DEFAULT 1,
			created_at          TIMESTAMPTZ DEFAULT NOW(),
			updated_at          TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_accounts_email ON accounts(email);
	`)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	a := &Account{}
	var bannedUntil, subExpiry, otpExpiry sql.NullTime
	var otpCode, fingerprint, lastAddr sql.NullString

	err := row.Scan(
		&a.ID, &a.Email, &a.CredentialHash, &a.UsageCount, &a.RiskScore,
		&a.PermanentlyBanned, &bannedUntil, &a.IsPremium, &subExpiry,
		&otpCode, &otpExpiry, &fingerprint, &lastAddr,
		&a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if bannedUntil.Valid {
		a.BannedUntil = &bannedUntil.Time
	}
	if subExpiry.Valid {
		a.SubscriptionExpiry = &subExpiry.Time
	}
	if otpExpiry.Valid {
		a.OTPExpiry = &otpExpiry.Time
	}
	a.OTPCode = otpCode.String
	a.DeviceFingerprint = fingerprint.String
	a.LastKnownAddress = lastAddr.String
	return a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isUniqueViolation reports whether err is a Postgres unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pqe *pq.Error
	if errors.As(err, &pqe) {
		return pqe.Code == "23505"
	}
	return false
}
