package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"equity-alerts/internal/notification"
)

const (
	streamMaxLen = 10000
	latestTTL    = 24 * time.Hour
)

// Publisher forwards delivered messages to Redis so other processes can
// follow alerts without polling the ledger.
//
// Key layout:
//
//	{prefix}:stream:alerts                 capped STREAM, one entry per alert
//	{prefix}:pub:alerts                    PUBSUB channel, one message per alert
//	{prefix}:pub:notices                   PUBSUB channel for messages without alerts
//	{prefix}:latest:{instrument}:{rule}    last alert for the pair
type Publisher struct {
	client *goredis.Client
	prefix string
	owned  bool
}

// NewPublisher wraps an existing client. The caller keeps ownership.
func NewPublisher(client *goredis.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Publisher{client: client, prefix: prefix}
}

// DialPublisher connects a dedicated client; Close releases it.
func DialPublisher(cfg Config) (*Publisher, error) {
	client, err := Dial(cfg)
	if err != nil {
		return nil, err
	}
	p := NewPublisher(client, cfg.Prefix)
	p.owned = true
	return p, nil
}

func (p *Publisher) Name() string { return "redis" }

func (p *Publisher) StreamKey() string  { return p.prefix + ":stream:alerts" }
func (p *Publisher) AlertsChan() string { return p.prefix + ":pub:alerts" }
func (p *Publisher) NoticeChan() string { return p.prefix + ":pub:notices" }

func (p *Publisher) latestKey(instrument, rule string) string {
	return p.prefix + ":latest:" + instrument + ":" + rule
}

// Send writes every alert in msg in a single pipeline. A message without
// alerts is published as a notice.
func (p *Publisher) Send(ctx context.Context, msg notification.Message) error {
	pipe := p.client.Pipeline()

	if len(msg.Alerts) == 0 {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal notice: %w", err)
		}
		pipe.Publish(ctx, p.NoticeChan(), data)
	}

	for i := range msg.Alerts {
		a := &msg.Alerts[i]
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal alert %s: %w", a.Key(), err)
		}
		pipe.Set(ctx, p.latestKey(a.Instrument, a.Rule), data, latestTTL)
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: p.StreamKey(),
			MaxLen: streamMaxLen,
			Approx: true,
			Values: map[string]interface{}{
				"id":         a.ID,
				"instrument": a.Instrument,
				"rule":       a.Rule,
				"session":    string(a.Session),
				"data":       data,
			},
		})
		pipe.Publish(ctx, p.AlertsChan(), data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Close releases the client when the publisher dialed it.
func (p *Publisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.client.Close()
}
