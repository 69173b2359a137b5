package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"chat-bridge/backend/internal/session/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `tenant_id, paired_identifier, session_token, status, pairing_code, created_at, updated_at`

// GetByTenant returns the session for the tenant, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByTenant(ctx context.Context, tenantID string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE tenant_id = $1`, tenantID)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// List returns all sessions ordered by tenant id. Returns (nil, error) only on database errors.
func (r *PostgresRepository) List(ctx context.Context) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

// ListByStatus returns all sessions in the given status, ordered by tenant id.
func (r *PostgresRepository) ListByStatus(ctx context.Context, status domain.Status) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE status = $1 ORDER BY tenant_id`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

// Create persists the session. The session must have TenantID and SessionToken set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (tenant_id, paired_identifier, session_token, status, pairing_code, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.TenantID,
		nullString(s.PairedIdentifier),
		s.SessionToken,
		string(s.Status),
		nullString(s.PairingCode),
		s.CreatedAt,
		s.UpdatedAt,
	)
	return err
}

// UpdateStatus sets the session status and bumps updated_at. Returns an error if the update fails.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, tenantID string, status domain.Status) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET status = $2, updated_at = $3 WHERE tenant_id = $1`,
		tenantID, string(status), time.Now().UTC())
	return err
}

// SetPairing marks the session pairing and stores the latest raw pairing code.
func (r *PostgresRepository) SetPairing(ctx context.Context, tenantID, pairingCode string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET status = $2, pairing_code = $3, updated_at = $4 WHERE tenant_id = $1`,
		tenantID, string(domain.StatusPairing), pairingCode, time.Now().UTC())
	return err
}

// SetConnected marks the session connected, records the paired identifier and
// the canonical session token, and clears the pairing code. An empty token
// leaves the stored token untouched.
func (r *PostgresRepository) SetConnected(ctx context.Context, tenantID, pairedIdentifier, sessionToken string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions
		 SET status = $2, paired_identifier = $3,
		     session_token = COALESCE(NULLIF($4, ''), session_token),
		     pairing_code = NULL, updated_at = $5
		 WHERE tenant_id = $1`,
		tenantID, string(domain.StatusConnected), pairedIdentifier, sessionToken, time.Now().UTC())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s        domain.Session
		paired   sql.NullString
		pairing  sql.NullString
		statusDB string
	)
	if err := row.Scan(&s.TenantID, &paired, &s.SessionToken, &statusDB, &pairing, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Status = domain.Status(statusDB)
	if paired.Valid {
		s.PairedIdentifier = paired.String
	}
	if pairing.Valid {
		s.PairingCode = pairing.String
	}
	return &s, nil
}

func collectSessions(rows *sql.Rows) ([]*domain.Session, error) {
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
