// Package store provides storage backends for lead records.
//
// This file implements the Redis-backed store. Records are stored as
// JSON under a per-contact key with a rolling TTL, so stale leads age
// out on their own.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/outletmedia/leadpipe/internal/models"
)

const (
	// leadKeyPrefix namespaces lead records in Redis.
	leadKeyPrefix = "leadpipe:lead:"
	// DefaultLeadTTL is how long an inactive lead record is retained.
	DefaultLeadTTL = 24 * time.Hour
	// redisOpTimeout bounds each Redis command.
	redisOpTimeout = 3 * time.Second
)

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ LeadStore = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed store. The address falls back to
// localhost:6379 when unset.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Error("RedisStore ping failed", "error", err, "addr", addr)
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	slog.Debug("RedisStore connected", "addr", addr, "db", cfg.RedisDB)
	return &RedisStore{client: client, ttl: DefaultLeadTTL}, nil
}

// NewRedisStoreFromURL creates a Redis-backed store from a redis:// DSN.
func NewRedisStoreFromURL(url string) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis DSN: %w", err)
	}
	return NewRedisStore(
		WithRedisAddr(redisOpts.Addr),
		WithRedisPassword(redisOpts.Password),
		WithRedisDB(redisOpts.DB),
	)
}

// GetLead retrieves a lead record by contact ID, or (nil, nil) when absent.
func (s *RedisStore) GetLead(contactID string) (*models.LeadRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	raw, err := s.client.Get(ctx, leadKeyPrefix+contactID).Result()
	if err == redis.Nil {
		slog.Debug("RedisStore GetLead not found", "contactID", contactID)
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisStore GetLead failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to get lead %s: %w", contactID, err)
	}

	var record models.LeadRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		slog.Error("RedisStore GetLead decode failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to decode lead %s: %w", contactID, err)
	}
	return &record, nil
}

// SaveLead stores a lead record and resets its retention TTL.
func (s *RedisStore) SaveLead(record *models.LeadRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		slog.Error("RedisStore SaveLead encode failed", "error", err, "contactID", record.ContactID)
		return fmt.Errorf("failed to encode lead %s: %w", record.ContactID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := s.client.Set(ctx, leadKeyPrefix+record.ContactID, raw, s.ttl).Err(); err != nil {
		slog.Error("RedisStore SaveLead failed", "error", err, "contactID", record.ContactID)
		return fmt.Errorf("failed to save lead %s: %w", record.ContactID, err)
	}
	slog.Debug("RedisStore SaveLead succeeded", "contactID", record.ContactID)
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	slog.Debug("Closing Redis connection")
	return s.client.Close()
}
