// Package store provides storage backends for lead records.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/outletmedia/leadpipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

var _ LeadStore = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// GetLead retrieves a lead record by contact ID, or (nil, nil) when absent.
func (s *PostgresStore) GetLead(contactID string) (*models.LeadRecord, error) {
	query := `SELECT contact_id, thread_id, phone, facts, extraction_attempts, processed_hashes,
			  calendar_shown, appointment_booked, declined, shown_slots, last_error, created_at, updated_at
			  FROM lead_records WHERE contact_id = $1`

	var record models.LeadRecord
	var factsJSON, hashesJSON, slotsJSON, lastError sql.NullString

	err := s.db.QueryRow(query, contactID).Scan(
		&record.ContactID, &record.ThreadID, &record.Phone, &factsJSON, &record.ExtractionAttempts,
		&hashesJSON, &record.CalendarShown, &record.AppointmentBooked, &record.Declined,
		&slotsJSON, &lastError, &record.CreatedAt, &record.UpdatedAt)

	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetLead not found", "contactID", contactID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetLead failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to query lead %s: %w", contactID, err)
	}

	record.LastError = lastError.String
	if err := decodeRecordJSON(&record, factsJSON.String, hashesJSON.String, slotsJSON.String); err != nil {
		slog.Error("PostgresStore GetLead decode failed", "error", err, "contactID", contactID)
		return nil, err
	}
	slog.Debug("PostgresStore GetLead found", "contactID", contactID, "attempts", record.ExtractionAttempts)
	return &record, nil
}

// SaveLead stores or updates a lead record.
func (s *PostgresStore) SaveLead(record *models.LeadRecord) error {
	factsJSON, hashesJSON, slotsJSON, err := encodeRecordJSON(record)
	if err != nil {
		slog.Error("PostgresStore SaveLead encode failed", "error", err, "contactID", record.ContactID)
		return err
	}

	query := `INSERT INTO lead_records
			  (contact_id, thread_id, phone, facts, extraction_attempts, processed_hashes,
			   calendar_shown, appointment_booked, declined, shown_slots, last_error, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			  ON CONFLICT (contact_id)
			  DO UPDATE SET
				  thread_id = EXCLUDED.thread_id,
				  phone = EXCLUDED.phone,
				  facts = EXCLUDED.facts,
				  extraction_attempts = EXCLUDED.extraction_attempts,
				  processed_hashes = EXCLUDED.processed_hashes,
				  calendar_shown = EXCLUDED.calendar_shown,
				  appointment_booked = EXCLUDED.appointment_booked,
				  declined = EXCLUDED.declined,
				  shown_slots = EXCLUDED.shown_slots,
				  last_error = EXCLUDED.last_error,
				  updated_at = EXCLUDED.updated_at`

	_, err = s.db.Exec(query, record.ContactID, record.ThreadID, record.Phone, factsJSON,
		record.ExtractionAttempts, hashesJSON, record.CalendarShown, record.AppointmentBooked,
		record.Declined, slotsJSON, nilIfEmpty(record.LastError), record.CreatedAt, record.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveLead failed", "error", err, "contactID", record.ContactID)
		return fmt.Errorf("failed to save lead %s: %w", record.ContactID, err)
	}
	slog.Debug("PostgresStore SaveLead succeeded", "contactID", record.ContactID)
	return nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	return s.db.Close()
}
