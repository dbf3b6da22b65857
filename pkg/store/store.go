package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/antibyte/brainterm/pkg/configuration"
	"github.com/antibyte/brainterm/pkg/logger"
)

// Sentinel errors callers can match with errors.Is.
var (
	ErrUserExists         = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrProgramNotFound    = errors.New("program not found")
	ErrQuotaExceeded      = errors.New("program quota exceeded")
	ErrNameTooLong        = errors.New("program name too long")
	ErrProgramTooLarge    = errors.New("program too large")
)

// Store wraps the SQLite database connection and enforces the
// per-user program quotas.
type Store struct {
	db          *sql.DB
	maxPrograms int
	maxName     int
	maxBytes    int
	hashCost    int
}

// InitDB initializes the SQLite database connection and returns the connection object.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Ensure the database is accessible
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// CreateTables ensures all required tables exist in the database.
func CreateTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY COLLATE NOCASE,
			password TEXT NOT NULL,
			last_login INTEGER,
			login_attempts INTEGER DEFAULT 0,
			is_active INTEGER DEFAULT 1,
			created_at INTEGER NOT NULL,
			ip_address TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS programs (
			username TEXT NOT NULL COLLATE NOCASE,
			name TEXT NOT NULL COLLATE NOCASE,
			source TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (username, name)
		)`,
		`CREATE TABLE IF NOT EXISTS registration_attempts (
			ip_address TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

// New creates a Store on top of an initialized database connection.
func New(db *sql.DB) *Store {
	return &Store{
		db:          db,
		maxPrograms: configuration.GetInt("Interpreter", "max_saved_programs", 50),
		maxName:     configuration.GetInt("Interpreter", "max_program_name", 32),
		maxBytes:    configuration.GetInt("Interpreter", "max_program_bytes", 65536),
		hashCost:    configuration.GetInt("Authentication", "password_hash_cost", bcrypt.DefaultCost),
	}
}

// CreateUser registers a new user with a bcrypt-hashed password.
func (s *Store) CreateUser(username, password, ipAddress string) error {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check for existing user: %w", err)
	}
	if count > 0 {
		return ErrUserExists
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %v", err)
	}

	now := time.Now().Unix()
	_, err = s.db.Exec(`
		INSERT INTO users (username, password, last_login, login_attempts, is_active, created_at, ip_address)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, username, string(hashedPassword), 0, 0, 1, now, ipAddress)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	logger.Info(logger.AreaDatabase, "Created user '%s'", username)
	return nil
}

// Authenticate verifies a username/password pair against the stored hash.
// The failed-attempt counter is kept per user and reset on success.
func (s *Store) Authenticate(username, password string) error {
	var storedHash string
	var attempts int
	err := s.db.QueryRow("SELECT password, login_attempts FROM users WHERE username = ? AND is_active = 1", username).Scan(&storedHash, &attempts)
	if err != nil {
		if err == sql.ErrNoRows {
			logger.SecurityWarn("Login failed for unknown user '%s'", username)
			return ErrInvalidCredentials
		}
		return fmt.Errorf("database error: %v", err)
	}

	maxAttempts := configuration.GetInt("Authentication", "max_login_attempts", 5)
	if attempts >= maxAttempts {
		logger.SecurityWarn("Login blocked for user '%s': too many failed attempts", username)
		return ErrInvalidCredentials
	}

	// Compare password with stored hash
	if err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(password)); err != nil {
		s.db.Exec("UPDATE users SET login_attempts = login_attempts + 1 WHERE username = ?", username)
		logger.SecurityWarn("Password verification failed for user '%s'", username)
		return ErrInvalidCredentials
	}

	_, err = s.db.Exec("UPDATE users SET login_attempts = 0, last_login = ? WHERE username = ?", time.Now().Unix(), username)
	if err != nil {
		logger.Warn(logger.AreaDatabase, "Failed to update login state for user '%s': %v", username, err)
	}

	logger.SecurityInfo("Password verification successful for user '%s'", username)
	return nil
}

// UserExists reports whether a username is already registered.
func (s *Store) UserExists(username string) (bool, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check for user: %w", err)
	}
	return count > 0, nil
}

// RecordRegistrationAttempt stores an attempt timestamp for rate limiting.
func (s *Store) RecordRegistrationAttempt(ipAddress string) error {
	_, err := s.db.Exec("INSERT INTO registration_attempts (ip_address, timestamp) VALUES (?, ?)", ipAddress, time.Now().Unix())
	return err
}

// CountRecentRegistrations returns the number of registration attempts from
// an IP address within the given window.
func (s *Store) CountRecentRegistrations(ipAddress string, window time.Duration) (int, error) {
	cutoff := time.Now().Add(-window).Unix()
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM registration_attempts WHERE ip_address = ? AND timestamp > ?", ipAddress, cutoff).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ProgramInfo describes a stored program for directory listings.
type ProgramInfo struct {
	Name      string
	Size      int
	UpdatedAt time.Time
}

// SaveProgram stores a program under a user, replacing any previous version
// with the same name. New programs count against the per-user quota.
func (s *Store) SaveProgram(username, name, source string) error {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > s.maxName {
		return ErrNameTooLong
	}
	if len(source) > s.maxBytes {
		return ErrProgramTooLarge
	}

	var exists int
	err := s.db.QueryRow("SELECT COUNT(*) FROM programs WHERE username = ? AND name = ?", username, name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check for existing program: %w", err)
	}

	if exists == 0 {
		count, err := s.CountPrograms(username)
		if err != nil {
			return err
		}
		if count >= s.maxPrograms {
			return ErrQuotaExceeded
		}
	}

	now := time.Now().Unix()
	_, err = s.db.Exec(`
		INSERT INTO programs (username, name, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(username, name) DO UPDATE SET source = excluded.source, updated_at = excluded.updated_at
	`, username, name, source, now, now)
	if err != nil {
		return fmt.Errorf("failed to save program: %w", err)
	}

	logger.Debug(logger.AreaDatabase, "Saved program '%s' for user '%s' (%d bytes)", name, username, len(source))
	return nil
}

// LoadProgram returns the source of a stored program.
func (s *Store) LoadProgram(username, name string) (string, error) {
	var source string
	err := s.db.QueryRow("SELECT source FROM programs WHERE username = ? AND name = ?", username, strings.TrimSpace(name)).Scan(&source)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrProgramNotFound
		}
		return "", fmt.Errorf("failed to load program: %w", err)
	}
	return source, nil
}

// ListPrograms returns the stored programs of a user sorted by name.
func (s *Store) ListPrograms(username string) ([]ProgramInfo, error) {
	rows, err := s.db.Query("SELECT name, LENGTH(source), updated_at FROM programs WHERE username = ? ORDER BY name", username)
	if err != nil {
		return nil, fmt.Errorf("failed to list programs: %w", err)
	}
	defer rows.Close()

	var programs []ProgramInfo
	for rows.Next() {
		var info ProgramInfo
		var updated int64
		if err := rows.Scan(&info.Name, &info.Size, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan program row: %w", err)
		}
		info.UpdatedAt = time.Unix(updated, 0)
		programs = append(programs, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return programs, nil
}

// DeleteProgram removes a stored program.
func (s *Store) DeleteProgram(username, name string) error {
	result, err := s.db.Exec("DELETE FROM programs WHERE username = ? AND name = ?", username, strings.TrimSpace(name))
	if err != nil {
		return fmt.Errorf("failed to delete program: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrProgramNotFound
	}
	return nil
}

// CountPrograms returns the number of programs a user has stored.
func (s *Store) CountPrograms(username string) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM programs WHERE username = ?", username).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count programs: %w", err)
	}
	return count, nil
}
