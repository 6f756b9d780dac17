package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	devicedomain "token-lifecycle/backend/internal/device/domain"
	"token-lifecycle/backend/internal/refreshtoken/domain"
)

// ErrDuplicateJTI is returned by Create when a record with the same jti already exists.
var ErrDuplicateJTI = errors.New("refresh token jti already exists")

const uniqueViolation = "23505"

const recordColumns = `id, jti, user_id, token_hash, expires_at, device_id, device_info, status,
	revoked_at, revoke_reason, parent_jti, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a refresh token repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists r. ID, CreatedAt and UpdatedAt are filled in when empty.
func (r *PostgresRepository) Create(ctx context.Context, rec *domain.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	if rec.Status == "" {
		rec.Status = domain.StatusActive
	}
	var info []byte
	if !rec.Device.IsZero() {
		b, err := json.Marshal(rec.Device)
		if err != nil {
			return err
		}
		info = b
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO refresh_tokens (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.JTI, rec.UserID, rec.TokenHash, rec.ExpiresAt, rec.Device.DeviceID(), info,
		string(rec.Status), timeToNullTime(rec.RevokedAt), nullString(rec.RevokeReason),
		nullString(rec.ParentJTI), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateJTI
		}
		return err
	}
	return nil
}

// FindByJTI returns the record for jti, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) FindByJTI(ctx context.Context, jti string) (*domain.Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM refresh_tokens WHERE jti = $1`, jti)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// FindByUserID returns the user's records ordered oldest first. With activeOnly, only
// non-revoked, unexpired records are returned.
func (r *PostgresRepository) FindByUserID(ctx context.Context, userID int64, activeOnly bool) ([]*domain.Record, error) {
	q := `SELECT ` + recordColumns + ` FROM refresh_tokens WHERE user_id = $1`
	if activeOnly {
		q += ` AND status = 'active' AND revoked_at IS NULL AND expires_at > now()`
	}
	q += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Revoke marks the record revoked. The conditional update makes concurrent revocations of
// the same jti race-free: exactly one caller observes true.
func (r *PostgresRepository) Revoke(ctx context.Context, jti, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens
		SET status = 'revoked', revoked_at = now(), revoke_reason = $2, updated_at = now()
		WHERE jti = $1 AND status = 'active'`, jti, reason)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RevokeAllByUserID revokes all active records for the user and returns how many changed.
func (r *PostgresRepository) RevokeAllByUserID(ctx context.Context, userID int64, reason string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens
		SET status = 'revoked', revoked_at = now(), revoke_reason = $2, updated_at = now()
		WHERE user_id = $1 AND status = 'active'`, userID, reason)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RevokeAllByDevice revokes all active records for the user bound to deviceID.
func (r *PostgresRepository) RevokeAllByDevice(ctx context.Context, userID int64, deviceID, reason string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens
		SET status = 'revoked', revoked_at = now(), revoke_reason = $3, updated_at = now()
		WHERE user_id = $1 AND device_id = $2 AND status = 'active'`, userID, deviceID, reason)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Cleanup deletes records that expired before the cutoff. A zero cutoff means now.
func (r *PostgresRepository) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CleanupRevoked deletes records revoked more than days ago.
func (r *PostgresRepository) CleanupRevoked(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE revoked_at IS NOT NULL AND revoked_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (*domain.Record, error) {
	var (
		rec          domain.Record
		deviceID     string
		info         []byte
		status       string
		revokedAt    sql.NullTime
		revokeReason sql.NullString
		parentJTI    sql.NullString
	)
	if err := s.Scan(&rec.ID, &rec.JTI, &rec.UserID, &rec.TokenHash, &rec.ExpiresAt, &deviceID, &info,
		&status, &revokedAt, &revokeReason, &parentJTI, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	var dev devicedomain.Info
	if len(info) > 0 {
		if err := json.Unmarshal(info, &dev); err != nil {
			return nil, err
		}
	}
	rec.Device = dev
	rec.Status = domain.Status(status)
	rec.RevokedAt = nullTimeToPtr(revokedAt)
	rec.RevokeReason = revokeReason.String
	rec.ParentJTI = parentJTI.String
	return &rec, nil
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
