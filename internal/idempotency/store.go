package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("idempotency key not found")
	ErrHashMismatch = errors.New("idempotency key body mismatch")
	ErrInProgress   = errors.New("idempotency key in progress")
)

const (
	redisKeyPrefix = "transfer-idempotency"

	defaultTTL     = 24 * time.Hour
	defaultLease   = 2 * time.Minute
	defaultMaxWait = 5 * time.Second
	pollInterval   = 50 * time.Millisecond
)

// Record is a stored HTTP response keyed by Idempotency-Key.
type Record struct {
	Key         string
	RequestHash string
	Status      int
	Body        []byte
	ContentType string
	ServedBy    string
}

// Store persists responses in Postgres and caches finished ones in Redis.
// The Redis client is optional.
//
// A reservation whose request never finished (the process died mid-transfer)
// can be taken over by a retry with the same request hash once it is older
// than the lease.
type Store struct {
	redis   redis.Cmdable
	db      *pgxpool.Pool
	ttl     time.Duration
	lease   time.Duration
	maxWait time.Duration
}

func NewStore(redis redis.Cmdable, db *pgxpool.Pool, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{redis: redis, db: db, ttl: ttl, lease: defaultLease, maxWait: defaultMaxWait}
}

// WithLease sets how long an unfinished reservation blocks retries.
func (s *Store) WithLease(lease time.Duration) *Store {
	if lease > 0 {
		s.lease = lease
	}
	return s
}

// WithMaxWait bounds WaitForCompletion.
func (s *Store) WithMaxWait(wait time.Duration) *Store {
	if wait > 0 {
		s.maxWait = wait
	}
	return s
}

func (s *Store) Lookup(ctx context.Context, key, requestHash string) (*Record, error) {
	rec, ok := s.cached(ctx, key)
	if !ok {
		var err error
		if rec, err = s.load(ctx, key); err != nil {
			return nil, err
		}
	}
	if rec.RequestHash != requestHash {
		return nil, ErrHashMismatch
	}
	if rec.Status == 0 {
		return nil, ErrInProgress
	}
	if !ok {
		s.cache(ctx, *rec)
	}
	return rec, nil
}

// load reads key from Postgres. An in-progress row comes back with Status 0.
func (s *Store) load(ctx context.Context, key string) (*Record, error) {
	rec := &Record{ServedBy: "postgres"}
	var inProgress bool
	err := s.db.QueryRow(ctx, `
		SELECT idempotency_key, request_hash, response_status, response_body, content_type, in_progress
		FROM idempotency_keys
		WHERE idempotency_key = $1`, key,
	).Scan(&rec.Key, &rec.RequestHash, &rec.Status, &rec.Body, &rec.ContentType, &inProgress)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if inProgress {
		rec.Status = 0
	}
	return rec, nil
}

// Reserve claims key for this request. It reports false when another request
// holds a live reservation or a finished response already exists.
func (s *Store) Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error) {
	var claimed string
	err := s.db.QueryRow(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (idempotency_key) DO UPDATE
			SET updated_at = NOW()
			WHERE idempotency_keys.in_progress
				AND idempotency_keys.request_hash = EXCLUDED.request_hash
				AND idempotency_keys.updated_at < NOW() - $5::interval
		RETURNING idempotency_key`, key, requestHash, method, path, s.lease,
	).Scan(&claimed)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	default:
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
}

func (s *Store) Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*Record, error) {
	rec := &Record{ServedBy: "postgres"}
	err := s.db.QueryRow(ctx, `
		UPDATE idempotency_keys
		SET response_status = $1, response_body = $2, content_type = $3, in_progress = FALSE, updated_at = NOW()
		WHERE idempotency_key = $4 AND request_hash = $5
		RETURNING idempotency_key, request_hash, response_status, response_body, content_type`,
		status, body, contentType, key, requestHash,
	).Scan(&rec.Key, &rec.RequestHash, &rec.Status, &rec.Body, &rec.ContentType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finalize idempotency key: %w", err)
	}
	s.cache(ctx, *rec)
	return rec, nil
}

// WaitForCompletion polls until the request holding key finishes. It gives up
// with ErrInProgress after the store's max wait.
func (s *Store) WaitForCompletion(ctx context.Context, key, requestHash string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.maxWait)
	defer cancel()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		rec, err := s.Lookup(ctx, key, requestHash)
		if err != nil && ctx.Err() != nil {
			return nil, ErrInProgress
		}
		if !errors.Is(err, ErrInProgress) {
			return rec, err
		}
		select {
		case <-ctx.Done():
			return nil, ErrInProgress
		case <-ticker.C:
		}
	}
}

// PurgeExpired deletes finished keys older than the store TTL and returns how many went.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM idempotency_keys
		WHERE NOT in_progress AND updated_at < NOW() - $1::interval`, s.ttl)
	if err != nil {
		return 0, fmt.Errorf("purge idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Finished responses are cached as a Redis hash so replays skip Postgres.
const (
	fieldHash        = "hash"
	fieldStatus      = "status"
	fieldBody        = "body"
	fieldContentType = "content_type"
)

func (s *Store) cached(ctx context.Context, key string) (*Record, bool) {
	if s.redis == nil {
		return nil, false
	}
	fields, err := s.redis.HGetAll(ctx, redisKey(key)).Result()
	if err != nil {
		zap.L().Warn("redis idempotency lookup failed", zap.Error(err))
		return nil, false
	}
	if len(fields) == 0 {
		return nil, false
	}
	status, err := strconv.Atoi(fields[fieldStatus])
	if err != nil || status == 0 {
		return nil, false
	}
	return &Record{
		Key:         key,
		RequestHash: fields[fieldHash],
		Status:      status,
		Body:        []byte(fields[fieldBody]),
		ContentType: fields[fieldContentType],
		ServedBy:    "redis",
	}, true
}

func (s *Store) cache(ctx context.Context, rec Record) {
	if s.redis == nil || rec.Status == 0 {
		return
	}
	k := redisKey(rec.Key)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k,
			fieldHash, rec.RequestHash,
			fieldStatus, rec.Status,
			fieldBody, rec.Body,
			fieldContentType, rec.ContentType,
		)
		pipe.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		zap.L().Warn("redis idempotency cache set failed", zap.Error(err))
	}
}

func redisKey(key string) string {
	return redisKeyPrefix + ":" + key
}
