// Package redis is the Redis-backed ledger store.
//
// Key layout (prefix defaults to "alerts"):
//
//	{prefix}:session          current session date
//	{prefix}:seen:{date}      SET of "instrument|rule" alerted that session
//	{prefix}:log:{date}       LIST of JSON alerts emitted that session
//
// Publisher shares the prefix for its stream and channels.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"equity-alerts/internal/ledger"
	"equity-alerts/internal/model"
)

const (
	defaultPrefix = "alerts"
	seenTTL       = 36 * time.Hour
	logTTL        = 8 * 24 * time.Hour
	watchRetries  = 5
)

// Config configures the Redis store.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	Prefix   string
}

// Store keeps the dedup ledger and alert log in Redis.
type Store struct {
	client *goredis.Client
	prefix string
}

// Client returns the underlying Redis client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// Dial opens a client and pings the server.
func Dial(cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// New creates a Store and pings the server.
func New(cfg Config) (*Store, error) {
	client, err := Dial(cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("redis ledger connected", "addr", cfg.Addr)
	return NewWithClient(client, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) sessionKey() string                 { return s.prefix + ":session" }
func (s *Store) seenKey(d model.SessionDate) string { return s.prefix + ":seen:" + string(d) }
func (s *Store) logKey(d model.SessionDate) string  { return s.prefix + ":log:" + string(d) }

func (s *Store) current(ctx context.Context) (model.SessionDate, error) {
	cur, err := s.client.Get(ctx, s.sessionKey()).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get session: %w", err)
	}
	return model.SessionDate(cur), nil
}

// ResetIfNewSession watches the session key, so a process that lost the
// race to roll the session over retries against the new value instead of
// deleting the seen set the winner already started filling.
func (s *Store) ResetIfNewSession(ctx context.Context, session model.SessionDate) (bool, error) {
	var reset bool
	err := s.watchSession(ctx, func(tx *goredis.Tx, cur model.SessionDate) error {
		reset = false
		if cur == session {
			return nil
		}
		_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			s.rollover(ctx, pipe, cur, session)
			return nil
		})
		if err != nil && !errors.Is(err, goredis.TxFailedErr) {
			return fmt.Errorf("redis reset session: %w", err)
		}
		reset = err == nil
		return err
	})
	if err != nil {
		return false, err
	}
	return reset, nil
}

// watchSession runs fn under WATCH on the session key with the stored
// session, retrying when another client changed the key first.
func (s *Store) watchSession(ctx context.Context, fn func(tx *goredis.Tx, cur model.SessionDate) error) error {
	for i := 0; i < watchRetries; i++ {
		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			cur, err := tx.Get(ctx, s.sessionKey()).Result()
			if err != nil && !errors.Is(err, goredis.Nil) {
				return fmt.Errorf("redis get session: %w", err)
			}
			return fn(tx, model.SessionDate(cur))
		}, s.sessionKey())
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis session update: gave up after %d conflicts", watchRetries)
}

func (s *Store) rollover(ctx context.Context, pipe goredis.Pipeliner, cur, session model.SessionDate) {
	if cur != "" {
		pipe.Del(ctx, s.seenKey(cur))
	}
	pipe.Del(ctx, s.seenKey(session))
	pipe.Set(ctx, s.sessionKey(), string(session), 0)
}

func (s *Store) HasAlerted(ctx context.Context, instrument, rule string) (bool, error) {
	cur, err := s.current(ctx)
	if err != nil || cur == "" {
		return false, err
	}
	ok, err := s.client.SIsMember(ctx, s.seenKey(cur), model.LedgerKey(instrument, rule)).Result()
	if err != nil {
		return false, fmt.Errorf("redis sismember: %w", err)
	}
	return ok, nil
}

func (s *Store) RecordAlerted(ctx context.Context, instrument, rule string, session model.SessionDate) error {
	return s.watchSession(ctx, func(tx *goredis.Tx, cur model.SessionDate) error {
		if cur != "" && session < cur {
			return ledger.ErrStaleSession
		}
		_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			if cur != session {
				s.rollover(ctx, pipe, cur, session)
			}
			pipe.SAdd(ctx, s.seenKey(session), model.LedgerKey(instrument, rule))
			pipe.Expire(ctx, s.seenKey(session), seenTTL)
			return nil
		})
		if err != nil && !errors.Is(err, goredis.TxFailedErr) {
			return fmt.Errorf("redis record alerted: %w", err)
		}
		return err
	})
}

func (s *Store) AppendAlert(ctx context.Context, a model.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.logKey(a.Session), data)
	pipe.Expire(ctx, s.logKey(a.Session), logTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append alert: %w", err)
	}
	return nil
}

func (s *Store) SessionAlerts(ctx context.Context, session model.SessionDate) ([]model.Alert, error) {
	raw, err := s.client.LRange(ctx, s.logKey(session), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	alerts := make([]model.Alert, 0, len(raw))
	for _, r := range raw {
		var a model.Alert
		if err := json.Unmarshal([]byte(r), &a); err != nil {
			slog.Warn("redis ledger: skipping malformed alert", "session", session, "error", err)
			continue
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

func (s *Store) Close() error { return s.client.Close() }
