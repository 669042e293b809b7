package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/y0ug/detreg/internal/database/models"
	"github.com/y0ug/detreg/pkg/auth"
)

// SQLiteDB represents the SQLite implementation of the Database interface.
type SQLiteDB struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewSQLiteDB initializes a new SQLiteDB instance.
func NewSQLiteDB(dataSourceName string, logger *logrus.Logger) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite3 database: %w", err)
	}

	// SQLite3 doesn't support multiple writers well.
	db.SetMaxOpenConns(1)

	sqliteDB := &SQLiteDB{
		db:     db,
		logger: logger,
	}

	if err := sqliteDB.Initialize(context.TODO()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return sqliteDB, nil
}

func (s *SQLiteDB) Close(context.Context) error {
	return s.db.Close()
}

// Initialize creates the necessary tables and indexes.
func (s *SQLiteDB) Initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS registry_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reporters (
		id TEXT PRIMARY KEY,
		added_by TEXT NOT NULL,
		added_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS detections (
		file_hash TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		reporter TEXT NOT NULL,
		is_confirmed INTEGER NOT NULL DEFAULT 0,
		reported_at TEXT NOT NULL,
		confirmed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_detections_is_confirmed ON detections(is_confirmed);

	-- Blacklisted Tokens
	CREATE TABLE IF NOT EXISTS blacklisted_tokens (
		token TEXT PRIMARY KEY,
		expires_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_blacklisted_tokens_expires_at ON blacklisted_tokens(expires_at);

	-- Refresh Tokens
	CREATE TABLE IF NOT EXISTS refresh_tokens (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		expires_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user_id ON refresh_tokens(user_id);

	-- Provider Tokens
	CREATE TABLE IF NOT EXISTS provider_tokens (
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		access_token TEXT NOT NULL,
		refresh_token TEXT,
		expires_at TEXT,
		PRIMARY KEY (user_id, provider)
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// -----------------------
// Registry
// -----------------------

// SetOwner records the registry owner.
func (s *SQLiteDB) SetOwner(ctx context.Context, owner string) error {
	query := `
		INSERT INTO registry_meta (key, value)
		VALUES ('owner', ?)
		ON CONFLICT(key) DO UPDATE SET
			value=excluded.value;
	`
	_, err := s.db.ExecContext(ctx, query, owner)
	if err != nil {
		s.logger.WithError(err).Errorf("SetOwner: failed to store owner %s", owner)
		return err
	}
	return nil
}

// GetOwner returns the recorded registry owner.
func (s *SQLiteDB) GetOwner(ctx context.Context) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM registry_meta WHERE key = 'owner';`).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrOwnerNotSet
		}
		s.logger.WithError(err).Error("GetOwner: failed to query owner")
		return "", err
	}
	return owner, nil
}

// AddReporter inserts a trusted reporter, keeping an existing entry untouched.
func (s *SQLiteDB) AddReporter(ctx context.Context, reporter models.Reporter) error {
	query := `
		INSERT INTO reporters (id, added_by, added_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING;
	`
	_, err := s.db.ExecContext(ctx, query, reporter.ID, reporter.AddedBy, formatTime(reporter.AddedAt))
	if err != nil {
		s.logger.WithError(err).Errorf("AddReporter: failed to insert reporter %s", reporter.ID)
		return err
	}
	return nil
}

// IsReporter reports whether id is a trusted reporter.
func (s *SQLiteDB) IsReporter(ctx context.Context, id string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reporters WHERE id = ?;`, id).Scan(&count)
	if err != nil {
		s.logger.WithError(err).Errorf("IsReporter: failed to query reporter %s", id)
		return false, err
	}
	return count > 0, nil
}

// ListReporters returns all trusted reporters.
func (s *SQLiteDB) ListReporters(ctx context.Context) ([]models.Reporter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, added_by, added_at
		FROM reporters
		ORDER BY added_at ASC, id ASC;
	`)
	if err != nil {
		s.logger.WithError(err).Error("ListReporters: failed to execute query")
		return nil, err
	}
	defer rows.Close()

	reporters := []models.Reporter{}
	for rows.Next() {
		var r models.Reporter
		var addedAtStr string
		if err := rows.Scan(&r.ID, &r.AddedBy, &addedAtStr); err != nil {
			s.logger.WithError(err).Warn("ListReporters: failed to scan row")
			continue
		}
		r.AddedAt, err = parseTime(addedAtStr)
		if err != nil {
			s.logger.WithError(err).Warnf("ListReporters: invalid time format for reporter %s", r.ID)
		}
		reporters = append(reporters, r)
	}

	if err := rows.Err(); err != nil {
		s.logger.WithError(err).Error("ListReporters: row iteration error")
		return nil, err
	}
	return reporters, nil
}

// PutDetection inserts or replaces the detection for its file hash.
func (s *SQLiteDB) PutDetection(ctx context.Context, d models.Detection) error {
	query := `
		INSERT INTO detections (file_hash, timestamp, reporter, is_confirmed, reported_at, confirmed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_hash) DO UPDATE SET
			timestamp=excluded.timestamp,
			reporter=excluded.reporter,
			is_confirmed=excluded.is_confirmed,
			reported_at=excluded.reported_at,
			confirmed_at=excluded.confirmed_at;
	`
	var confirmedAt sql.NullString
	if !d.ConfirmedAt.IsZero() {
		confirmedAt = sql.NullString{String: formatTime(d.ConfirmedAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query,
		d.FileHash, d.Timestamp, d.Reporter, d.IsConfirmed, formatTime(d.ReportedAt), confirmedAt)
	if err != nil {
		s.logger.WithError(err).Errorf("PutDetection: failed to insert/update detection %s", d.FileHash)
		return err
	}
	return nil
}

// GetDetection retrieves a single detection by its file hash.
func (s *SQLiteDB) GetDetection(ctx context.Context, fileHash string) (models.Detection, error) {
	var d models.Detection
	var reportedAtStr string
	var confirmedAtStr sql.NullString

	query := `
		SELECT file_hash, timestamp, reporter, is_confirmed, reported_at, confirmed_at
		FROM detections
		WHERE file_hash = ?;
	`
	err := s.db.QueryRowContext(ctx, query, fileHash).Scan(
		&d.FileHash,
		&d.Timestamp,
		&d.Reporter,
		&d.IsConfirmed,
		&reportedAtStr,
		&confirmedAtStr,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Detection{}, ErrDetectionNotFound
		}
		s.logger.WithError(err).Errorf("GetDetection: failed to retrieve detection %s", fileHash)
		return models.Detection{}, err
	}

	d.ReportedAt, err = parseTime(reportedAtStr)
	if err != nil {
		s.logger.WithError(err).Warnf("GetDetection: invalid reported_at for %s", fileHash)
		return models.Detection{}, fmt.Errorf("invalid time format for detection %s", fileHash)
	}
	if confirmedAtStr.Valid {
		d.ConfirmedAt, err = parseTime(confirmedAtStr.String)
		if err != nil {
			s.logger.WithError(err).Warnf("GetDetection: invalid confirmed_at for %s", fileHash)
			return models.Detection{}, fmt.Errorf("invalid time format for detection %s", fileHash)
		}
	}

	return d, nil
}

func (s *SQLiteDB) count(ctx context.Context, name, query string) (int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, query).Scan(&total); err != nil {
		s.logger.WithError(err).Errorf("%s: failed to execute query", name)
		return 0, err
	}
	return total, nil
}

// GetTotalDetections retrieves the total number of detections.
func (s *SQLiteDB) GetTotalDetections(ctx context.Context) (int, error) {
	return s.count(ctx, "GetTotalDetections", `SELECT COUNT(*) FROM detections;`)
}

// GetTotalConfirmed retrieves the number of confirmed detections.
func (s *SQLiteDB) GetTotalConfirmed(ctx context.Context) (int, error) {
	return s.count(ctx, "GetTotalConfirmed", `SELECT COUNT(*) FROM detections WHERE is_confirmed = 1;`)
}

// GetTotalReporters retrieves the number of trusted reporters.
func (s *SQLiteDB) GetTotalReporters(ctx context.Context) (int, error) {
	return s.count(ctx, "GetTotalReporters", `SELECT COUNT(*) FROM reporters;`)
}

// -----------------------
// Token Blacklisting
// -----------------------

// AddBlacklistedToken adds a token string to the blacklist with its expiration time.
func (s *SQLiteDB) AddBlacklistedToken(ctx context.Context, tokenString string, exp int64) error {
	query := `
		INSERT INTO blacklisted_tokens (token, expires_at)
		VALUES (?, ?)
		ON CONFLICT(token) DO UPDATE SET
			expires_at=excluded.expires_at;
	`
	_, err := s.db.ExecContext(ctx, query, tokenString, exp)
	if err != nil {
		s.logger.WithError(err).Error("AddBlacklistedToken: failed to add token")
		return err
	}
	return nil
}

// IsTokenBlacklisted checks if a token is in the blacklist.
// If the token is expired, it removes it from the blacklist.
func (s *SQLiteDB) IsTokenBlacklisted(ctx context.Context, tokenString string) (bool, error) {
	var expiresAt int64
	err := s.db.QueryRowContext(ctx, `SELECT expires_at FROM blacklisted_tokens WHERE token = ?;`, tokenString).Scan(&expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		s.logger.WithError(err).Error("IsTokenBlacklisted: failed to query token")
		return false, err
	}

	if expiresAt < time.Now().Unix() {
		_, delErr := s.db.ExecContext(ctx, `DELETE FROM blacklisted_tokens WHERE token = ?;`, tokenString)
		if delErr != nil {
			s.logger.WithError(delErr).Error("IsTokenBlacklisted: failed to delete expired token")
			return false, delErr
		}
		return false, nil
	}

	return true, nil
}

// -----------------------
// Refresh Token Management
// -----------------------

// StoreRefreshToken saves a refresh token with associated user and expiration.
func (s *SQLiteDB) StoreRefreshToken(ctx context.Context, token string, userID string, expiresAt time.Time) error {
	query := `
		INSERT INTO refresh_tokens (token, user_id, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			user_id=excluded.user_id,
			expires_at=excluded.expires_at;
	`
	_, err := s.db.ExecContext(ctx, query, token, userID, formatTime(expiresAt))
	if err != nil {
		s.logger.WithError(err).Errorf("StoreRefreshToken: failed to store refresh token for user %s", userID)
		return err
	}
	return nil
}

// ValidateRefreshToken checks if a refresh token is valid and not expired.
// Returns the associated userID if valid.
func (s *SQLiteDB) ValidateRefreshToken(ctx context.Context, token string) (string, error) {
	var userID string
	var expiresAtStr string
	err := s.db.QueryRowContext(ctx, `SELECT user_id, expires_at FROM refresh_tokens WHERE token = ?;`, token).Scan(&userID, &expiresAtStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("refresh token not found")
		}
		s.logger.WithError(err).Error("ValidateRefreshToken: failed to query token")
		return "", err
	}

	expiresAt, err := parseTime(expiresAtStr)
	if err != nil {
		s.logger.WithError(err).Warn("ValidateRefreshToken: invalid expiration time format")
		return "", fmt.Errorf("invalid expiration time format")
	}

	if time.Now().After(expiresAt) {
		if err := s.RevokeRefreshToken(ctx, token); err != nil {
			return "", fmt.Errorf("token expired and failed to revoke: %w", err)
		}
		return "", fmt.Errorf("refresh token expired")
	}

	return userID, nil
}

// RevokeRefreshToken removes a refresh token from the database.
func (s *SQLiteDB) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = ?;`, token)
	if err != nil {
		s.logger.WithError(err).Error("RevokeRefreshToken: failed to revoke token")
		return err
	}
	return nil
}

// -----------------------
// Provider Token Management
// -----------------------

// StoreProviderTokens saves tokens obtained from a provider for a user.
func (s *SQLiteDB) StoreProviderTokens(ctx context.Context, userID string, provider string, tokens auth.ProviderTokens) error {
	query := `
		INSERT INTO provider_tokens (user_id, provider, access_token, refresh_token, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			access_token=excluded.access_token,
			refresh_token=excluded.refresh_token,
			expires_at=excluded.expires_at;
	`
	_, err := s.db.ExecContext(ctx, query, userID, provider, tokens.AccessToken, tokens.RefreshToken, formatTime(tokens.ExpiresAt))
	if err != nil {
		s.logger.WithError(err).Errorf("StoreProviderTokens: failed to store tokens for user %s and provider %s", userID, provider)
		return err
	}
	return nil
}

// GetProviderTokens retrieves tokens obtained from a provider for a user.
func (s *SQLiteDB) GetProviderTokens(ctx context.Context, userID string, provider string) (auth.ProviderTokens, error) {
	var accessToken string
	var refreshToken, expiresAtStr sql.NullString
	query := `
		SELECT access_token, refresh_token, expires_at
		FROM provider_tokens
		WHERE user_id = ? AND provider = ?;
	`
	err := s.db.QueryRowContext(ctx, query, userID, provider).Scan(&accessToken, &refreshToken, &expiresAtStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ProviderTokens{}, fmt.Errorf("provider tokens not found for user %s and provider %s", userID, provider)
		}
		s.logger.WithError(err).Errorf("GetProviderTokens: failed to query tokens for user %s and provider %s", userID, provider)
		return auth.ProviderTokens{}, err
	}

	var expiresAt time.Time
	if expiresAtStr.Valid {
		expiresAt, err = parseTime(expiresAtStr.String)
		if err != nil {
			s.logger.WithError(err).Warnf("GetProviderTokens: invalid expires_at format for user %s", userID)
			expiresAt = time.Time{}
		}
	}

	return auth.ProviderTokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken.String,
		ExpiresAt:    expiresAt,
	}, nil
}

// UpdateProviderTokens updates tokens obtained from a provider for a user.
func (s *SQLiteDB) UpdateProviderTokens(ctx context.Context, userID string, provider string, tokens auth.ProviderTokens) error {
	return s.StoreProviderTokens(ctx, userID, provider, tokens)
}
