// Package store provides storage backends for lead records.
//
// It includes an in-memory store for tests and single-process
// deployments, plus SQLite, PostgreSQL and Redis backends selected by
// DSN at startup.
package store

import (
	"strings"
	"sync"

	"github.com/outletmedia/leadpipe/internal/models"
)

// LeadStore persists one lead record per contact.
//
// GetLead returns (nil, nil) when no record exists for the contact;
// callers create a fresh record in that case.
type LeadStore interface {
	GetLead(contactID string) (*models.LeadRecord, error)
	SaveLead(record *models.LeadRecord) error
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database DSN (file path for SQLite, URL for Postgres).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithRedisAddr sets the Redis server address (host:port).
func WithRedisAddr(addr string) Option {
	return func(o *Opts) { o.RedisAddr = addr }
}

// WithRedisPassword sets the Redis password.
func WithRedisPassword(password string) Option {
	return func(o *Opts) { o.RedisPassword = password }
}

// WithRedisDB selects the Redis logical database.
func WithRedisDB(db int) Option {
	return func(o *Opts) { o.RedisDB = db }
}

// DetectDSNType classifies a DSN string as "postgres", "redis" or
// "sqlite3". Anything that is not a recognized URL or key=value
// connection string is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(dsn, "redis://"), strings.HasPrefix(dsn, "rediss://"):
		return "redis"
	case strings.Contains(dsn, "host=") || strings.Contains(dsn, "user="):
		return "postgres"
	default:
		return "sqlite3"
	}
}

// InMemoryStore keeps lead records in a map. Records are copied on the
// way in and out so callers never share mutable state with the store.
type InMemoryStore struct {
	mu    sync.RWMutex
	leads map[string]models.LeadRecord
}

var _ LeadStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{leads: make(map[string]models.LeadRecord)}
}

func (s *InMemoryStore) GetLead(contactID string) (*models.LeadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.leads[contactID]
	if !ok {
		return nil, nil
	}
	out := cloneRecord(record)
	return &out, nil
}

func (s *InMemoryStore) SaveLead(record *models.LeadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[record.ContactID] = cloneRecord(*record)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

// Len returns the number of stored leads (for tests and stats).
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.leads)
}

func cloneRecord(r models.LeadRecord) models.LeadRecord {
	r.ProcessedMessageHashes = append([]string(nil), r.ProcessedMessageHashes...)
	r.ShownSlots = append([]models.Slot(nil), r.ShownSlots...)
	return r
}
