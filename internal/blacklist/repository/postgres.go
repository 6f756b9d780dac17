package repository

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"token-lifecycle/backend/internal/blacklist/domain"
	tokendomain "token-lifecycle/backend/internal/token/domain"
)

const entryColumns = `jti, token_type, user_id, device_id, expires_at, blacklisted_at, reason, metadata`

type PostgresRepository struct {
	db     *sql.DB
	limits Limits
}

// NewPostgresRepository returns a blacklist repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB, limits Limits) *PostgresRepository {
	return &PostgresRepository{db: db, limits: limits}
}

// Add inserts the entry. A concurrent or repeated insert of the same jti is a no-op reported as false.
func (r *PostgresRepository) Add(ctx context.Context, e *domain.Entry) (bool, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO token_blacklist (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (jti) DO NOTHING`,
		e.JTI(), string(e.TokenType()), e.UserID(), nullString(e.DeviceID()), e.ExpiresAt(),
		e.BlacklistedAt(), string(e.Reason()), e.MetadataJSON())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresRepository) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM token_blacklist WHERE jti = $1)`, jti).Scan(&exists)
	return exists, err
}

func (r *PostgresRepository) ExpiresAt(ctx context.Context, jti string) (time.Time, bool, error) {
	var exp time.Time
	err := r.db.QueryRowContext(ctx, `SELECT expires_at FROM token_blacklist WHERE jti = $1`, jti).Scan(&exp)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return exp, true, nil
}

func (r *PostgresRepository) BatchIsBlacklisted(ctx context.Context, jtis []string) (map[string]bool, error) {
	out := make(map[string]bool, len(jtis))
	if len(jtis) == 0 {
		return out, nil
	}
	for _, j := range jtis {
		out[j] = false
	}
	rows, err := r.db.QueryContext(ctx, `SELECT jti FROM token_blacklist WHERE jti = ANY($1)`, jtis)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var jti string
		if err := rows.Scan(&jti); err != nil {
			return nil, err
		}
		out[jti] = true
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Remove(ctx context.Context, jti string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM token_blacklist WHERE jti = $1`, jti)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PostgresRepository) BatchRemove(ctx context.Context, jtis []string) (int64, error) {
	if len(jtis) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM token_blacklist WHERE jti = ANY($1)`, jtis)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) CleanupExpiredEntries(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	return r.deleteBatch(ctx, `expires_at < $1`, now, batchSize)
}

func (r *PostgresRepository) CleanupOldEntries(ctx context.Context, before time.Time, batchSize int) (int64, error) {
	return r.deleteBatch(ctx, `blacklisted_at < $1`, before, batchSize)
}

// deleteBatch bounds each DELETE so cleanup never holds long row locks against live traffic.
func (r *PostgresRepository) deleteBatch(ctx context.Context, where string, cutoff time.Time, batchSize int) (int64, error) {
	q := `DELETE FROM token_blacklist WHERE ` + where
	args := []any{cutoff}
	if batchSize > 0 {
		q = `DELETE FROM token_blacklist WHERE jti IN (SELECT jti FROM token_blacklist WHERE ` + where + ` LIMIT $2)`
		args = append(args, batchSize)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) SizeInfo(ctx context.Context) (domain.SizeInfo, error) {
	info := domain.SizeInfo{MaxEntries: r.limits.MaxEntries, WarnEntries: r.limits.WarnEntries}
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM token_blacklist`).Scan(&info.Total)
	return info, err
}

func (r *PostgresRepository) IsSizeExceeded(ctx context.Context) (bool, error) {
	info, err := r.SizeInfo(ctx)
	if err != nil {
		return false, err
	}
	return info.Exceeded(), nil
}

func (r *PostgresRepository) Stats(ctx context.Context, now time.Time) (*domain.Stats, error) {
	st := &domain.Stats{
		ByReason:    make(map[domain.Reason]int64),
		ByTokenType: make(map[tokendomain.TokenType]int64),
	}
	var oldest, newest sql.NullTime
	err := r.db.QueryRowContext(ctx, `SELECT count(*),
		count(*) FILTER (WHERE expires_at <= $1),
		count(*) FILTER (WHERE reason IN ('security_breach', 'suspicious_activity', 'account_suspended', 'invalid_signature')),
		min(blacklisted_at), max(blacklisted_at)
		FROM token_blacklist`, now).Scan(&st.Total, &st.Expired, &st.SecurityRelated, &oldest, &newest)
	if err != nil {
		return nil, err
	}
	st.Oldest = nullTimeToPtr(oldest)
	st.Newest = nullTimeToPtr(newest)

	rows, err := r.db.QueryContext(ctx, `SELECT reason, token_type, count(*) FROM token_blacklist GROUP BY reason, token_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var reason, tokenType string
		var n int64
		if err := rows.Scan(&reason, &tokenType, &n); err != nil {
			return nil, err
		}
		st.ByReason[domain.Reason(reason)] += n
		st.ByTokenType[tokendomain.TokenType(tokenType)] += n
	}
	return st, rows.Err()
}

func (r *PostgresRepository) Search(ctx context.Context, c domain.SearchCriteria, limit, offset int) ([]*domain.Entry, error) {
	q := `SELECT ` + entryColumns + ` FROM token_blacklist WHERE 1=1`
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		q += ` AND ` + cond + ` $` + strconv.Itoa(len(args))
	}
	if c.UserID != 0 {
		add(`user_id =`, c.UserID)
	}
	if c.DeviceID != "" {
		add(`device_id =`, c.DeviceID)
	}
	if c.TokenType != "" {
		add(`token_type =`, string(c.TokenType))
	}
	if c.Reason != "" {
		add(`reason =`, string(c.Reason))
	}
	if !c.From.IsZero() {
		add(`blacklisted_at >=`, c.From)
	}
	if !c.To.IsZero() {
		add(`blacklisted_at <`, c.To)
	}
	q += ` ORDER BY blacklisted_at DESC, jti ASC`
	if limit > 0 {
		args = append(args, limit)
		q += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		q += ` OFFSET $` + strconv.Itoa(len(args))
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Entry
	for rows.Next() {
		var (
			p         domain.EntryParams
			tokenType string
			reason    string
			deviceID  sql.NullString
			meta      []byte
		)
		if err := rows.Scan(&p.JTI, &tokenType, &p.UserID, &deviceID, &p.ExpiresAt, &p.BlacklistedAt, &reason, &meta); err != nil {
			return nil, err
		}
		p.TokenType = tokendomain.TokenType(tokenType)
		p.Reason = domain.Reason(reason)
		p.DeviceID = deviceID.String
		e, err := domain.RestoreEntry(p, meta)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
