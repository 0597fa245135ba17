// Package store provides storage backends for lead records.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/outletmedia/leadpipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

var _ LeadStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// GetLead retrieves a lead record by contact ID, or (nil, nil) when absent.
func (s *SQLiteStore) GetLead(contactID string) (*models.LeadRecord, error) {
	query := `SELECT contact_id, thread_id, phone, facts, extraction_attempts, processed_hashes,
			  calendar_shown, appointment_booked, declined, shown_slots, last_error, created_at, updated_at
			  FROM lead_records WHERE contact_id = ?`

	var record models.LeadRecord
	var factsJSON, hashesJSON, slotsJSON, lastError sql.NullString

	err := s.db.QueryRow(query, contactID).Scan(
		&record.ContactID, &record.ThreadID, &record.Phone, &factsJSON, &record.ExtractionAttempts,
		&hashesJSON, &record.CalendarShown, &record.AppointmentBooked, &record.Declined,
		&slotsJSON, &lastError, &record.CreatedAt, &record.UpdatedAt)

	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetLead not found", "contactID", contactID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetLead failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to query lead %s: %w", contactID, err)
	}

	record.LastError = lastError.String
	if err := decodeRecordJSON(&record, factsJSON.String, hashesJSON.String, slotsJSON.String); err != nil {
		slog.Error("SQLiteStore GetLead decode failed", "error", err, "contactID", contactID)
		return nil, err
	}
	slog.Debug("SQLiteStore GetLead found", "contactID", contactID, "attempts", record.ExtractionAttempts)
	return &record, nil
}

// SaveLead stores or updates a lead record.
func (s *SQLiteStore) SaveLead(record *models.LeadRecord) error {
	factsJSON, hashesJSON, slotsJSON, err := encodeRecordJSON(record)
	if err != nil {
		slog.Error("SQLiteStore SaveLead encode failed", "error", err, "contactID", record.ContactID)
		return err
	}

	query := `INSERT OR REPLACE INTO lead_records
			  (contact_id, thread_id, phone, facts, extraction_attempts, processed_hashes,
			   calendar_shown, appointment_booked, declined, shown_slots, last_error, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.Exec(query, record.ContactID, record.ThreadID, record.Phone, factsJSON,
		record.ExtractionAttempts, hashesJSON, record.CalendarShown, record.AppointmentBooked,
		record.Declined, slotsJSON, nilIfEmpty(record.LastError), record.CreatedAt, record.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveLead failed", "error", err, "contactID", record.ContactID)
		return fmt.Errorf("failed to save lead %s: %w", record.ContactID, err)
	}
	slog.Debug("SQLiteStore SaveLead succeeded", "contactID", record.ContactID)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func encodeRecordJSON(record *models.LeadRecord) (facts, hashes, slots string, err error) {
	f, err := json.Marshal(record.Facts)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal facts: %w", err)
	}
	h, err := json.Marshal(record.ProcessedMessageHashes)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal hashes: %w", err)
	}
	s, err := json.Marshal(record.ShownSlots)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal slots: %w", err)
	}
	return string(f), string(h), string(s), nil
}

func decodeRecordJSON(record *models.LeadRecord, facts, hashes, slots string) error {
	if facts != "" {
		if err := json.Unmarshal([]byte(facts), &record.Facts); err != nil {
			return fmt.Errorf("failed to unmarshal facts: %w", err)
		}
	}
	if hashes != "" {
		if err := json.Unmarshal([]byte(hashes), &record.ProcessedMessageHashes); err != nil {
			return fmt.Errorf("failed to unmarshal hashes: %w", err)
		}
	}
	if slots != "" {
		if err := json.Unmarshal([]byte(slots), &record.ShownSlots); err != nil {
			return fmt.Errorf("failed to unmarshal slots: %w", err)
		}
	}
	return nil
}
