// Package sqlite provides a file-backed implementation of the storage
// interfaces over SQLite. A single database file holds authorization codes
// and client registrations, so one-time-code redemption gets real
// transactional exclusion across processes sharing the file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/giantswarm/auth-core/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS authorization_codes (
	code                  TEXT PRIMARY KEY,
	user_id               TEXT NOT NULL,
	client_id             TEXT NOT NULL,
	redirect_uri          TEXT NOT NULL DEFAULT '',
	scope                 TEXT NOT NULL DEFAULT '',
	code_challenge        TEXT NOT NULL DEFAULT '',
	code_challenge_method TEXT NOT NULL DEFAULT '',
	resource              TEXT NOT NULL DEFAULT '',
	created_at            INTEGER NOT NULL,
	expires_at            INTEGER NOT NULL,
	used                  INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_authorization_codes_expires_at
	ON authorization_codes (expires_at);

CREATE TABLE IF NOT EXISTS clients (
	client_id          TEXT PRIMARY KEY,
	client_secret_hash TEXT NOT NULL DEFAULT '',
	client_type        TEXT NOT NULL DEFAULT 'public',
	client_name        TEXT NOT NULL DEFAULT '',
	redirect_uris      TEXT NOT NULL DEFAULT '[]',
	scopes             TEXT NOT NULL DEFAULT '[]',
	created_at         INTEGER NOT NULL
);
`

// Store implements AuthorizationCodeStore and ClientStore over SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	now func() time.Time
}

var (
	_ storage.AuthorizationCodeStore = (*Store)(nil)
	_ storage.ClientStore            = (*Store)(nil)
)

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store at the given path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	// modernc.org/sqlite takes pragmas as _pragma=name(value) pairs; the
	// busy timeout makes writers wait for the lock instead of failing.
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetLogger sets a custom logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// ============================================================
// AuthorizationCodeStore Implementation
// ============================================================

// SaveAuthorizationCode persists a newly issued code.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO authorization_codes (
	code, user_id, client_id, redirect_uri, scope,
	code_challenge, code_challenge_method, resource,
	created_at, expires_at, used
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		code.Code,
		code.UserID,
		code.ClientID,
		code.RedirectURI,
		code.Scope,
		code.CodeChallenge,
		code.CodeChallengeMethod,
		code.Resource,
		toMillis(code.CreatedAt),
		toMillis(code.ExpiresAt),
		boolToInt(code.Used),
	)
	if err != nil {
		return fmt.Errorf("save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code",
		"client_id", code.ClientID,
		"expires_at", code.ExpiresAt)
	return nil
}

const selectCodeQuery = `
SELECT code, user_id, client_id, redirect_uri, scope,
	code_challenge, code_challenge_method, resource,
	created_at, expires_at, used
FROM authorization_codes
WHERE code = ?`

// GetAuthorizationCode retrieves a code without consuming it.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	row := s.db.QueryRowContext(ctx, selectCodeQuery, code)
	stored, err := scanAuthorizationCode(row)
	if err != nil {
		return nil, err
	}
	if s.now().After(stored.ExpiresAt) {
		return nil, storage.ErrAuthorizationCodeExpired
	}
	return stored, nil
}

const (
	maxBusyRetries = 8
	retryBaseDelay = 10 * time.Millisecond
)

// isSQLiteBusyError reports whether err is a lock contention error that is
// worth retrying.
func isSQLiteBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

// RedeemAuthorizationCode atomically marks the code as used inside one
// transaction. The UPDATE runs first so the transaction takes its write lock
// immediately; the guarded WHERE clause means only one concurrent redemption
// can flip used from 0 to 1. Losers of the write lock race retry with backoff
// until they observe the committed row, so contention never surfaces as an
// error to the caller.
func (s *Store) RedeemAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	for attempt := 0; ; attempt++ {
		stored, err := s.redeemAuthorizationCodeOnce(ctx, code)
		if !isSQLiteBusyError(err) || attempt >= maxBusyRetries {
			return stored, err
		}

		delay := time.Duration(attempt+1) * retryBaseDelay
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Store) redeemAuthorizationCodeOnce(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin redemption tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE authorization_codes SET used = 1 WHERE code = ? AND used = 0 AND expires_at > ?`,
		code, toMillis(s.now()))
	if err != nil {
		return nil, fmt.Errorf("mark authorization code used: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("mark authorization code used: %w", err)
	}

	stored, scanErr := scanAuthorizationCode(tx.QueryRowContext(ctx, selectCodeQuery, code))

	if affected == 0 {
		// Classify the rejection from the row state.
		if scanErr != nil {
			return nil, scanErr
		}
		if stored.Used {
			// Returned for reuse detection.
			return stored, storage.ErrAuthorizationCodeUsed
		}
		return nil, storage.ErrAuthorizationCodeExpired
	}

	if scanErr != nil {
		return nil, scanErr
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit redemption tx: %w", err)
	}

	s.logger.Debug("Marked authorization code as used", "client_id", stored.ClientID)
	return stored, nil
}

// DeleteAuthorizationCode removes a code.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM authorization_codes WHERE code = ?`, code); err != nil {
		return fmt.Errorf("delete authorization code: %w", err)
	}
	return nil
}

// CleanupExpiredCodes removes expired codes and reports how many were deleted.
func (s *Store) CleanupExpiredCodes(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM authorization_codes WHERE expires_at <= ?`, toMillis(s.now()))
	if err != nil {
		return 0, fmt.Errorf("cleanup expired codes: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup expired codes: %w", err)
	}
	return int(removed), nil
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient stores or replaces a client registration.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	redirectURIs, err := json.Marshal(client.RedirectURIs)
	if err != nil {
		return fmt.Errorf("marshal redirect URIs: %w", err)
	}
	scopes, err := json.Marshal(client.Scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}

	createdAt := client.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO clients (
	client_id, client_secret_hash, client_type, client_name,
	redirect_uris, scopes, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(client_id) DO UPDATE SET
	client_secret_hash = excluded.client_secret_hash,
	client_type = excluded.client_type,
	client_name = excluded.client_name,
	redirect_uris = excluded.redirect_uris,
	scopes = excluded.scopes`,
		client.ClientID,
		client.ClientSecretHash,
		client.ClientType,
		client.ClientName,
		string(redirectURIs),
		string(scopes),
		toMillis(createdAt),
	)
	if err != nil {
		return fmt.Errorf("save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

const selectClientQuery = `
SELECT client_id, client_secret_hash, client_type, client_name,
	redirect_uris, scopes, created_at
FROM clients
WHERE client_id = ?`

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return scanClient(s.db.QueryRowContext(ctx, selectClientQuery, clientID))
}

// ValidateClientSecret checks a client's secret in constant time.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		client = nil
	}
	return storage.CheckClientSecret(client, clientSecret)
}

// ListClients returns all registered clients.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT client_id, client_secret_hash, client_type, client_name,
	redirect_uris, scopes, created_at
FROM clients
ORDER BY client_id`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var clients []*storage.Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	return clients, nil
}

// ============================================================
// Row scanning
// ============================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuthorizationCode(row rowScanner) (*storage.AuthorizationCode, error) {
	var code storage.AuthorizationCode
	var createdAt, expiresAt int64
	var used int
	err := row.Scan(
		&code.Code,
		&code.UserID,
		&code.ClientID,
		&code.RedirectURI,
		&code.Scope,
		&code.CodeChallenge,
		&code.CodeChallengeMethod,
		&code.Resource,
		&createdAt,
		&expiresAt,
		&used,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrAuthorizationCodeNotFound
		}
		return nil, fmt.Errorf("scan authorization code: %w", err)
	}
	code.CreatedAt = fromMillis(createdAt)
	code.ExpiresAt = fromMillis(expiresAt)
	code.Used = used != 0
	return &code, nil
}

func scanClient(row rowScanner) (*storage.Client, error) {
	var client storage.Client
	var redirectURIs, scopes string
	var createdAt int64
	err := row.Scan(
		&client.ClientID,
		&client.ClientSecretHash,
		&client.ClientType,
		&client.ClientName,
		&redirectURIs,
		&scopes,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrClientNotFound
		}
		return nil, fmt.Errorf("scan client: %w", err)
	}
	if err := json.Unmarshal([]byte(redirectURIs), &client.RedirectURIs); err != nil {
		return nil, fmt.Errorf("unmarshal redirect URIs: %w", err)
	}
	if err := json.Unmarshal([]byte(scopes), &client.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshal scopes: %w", err)
	}
	client.CreatedAt = fromMillis(createdAt)
	return &client, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
