// Package notification delivers alert messages to external channels
// (Telegram, webhooks, the log) and formats alerts into messages.
package notification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"equity-alerts/internal/model"
)

// Level represents the severity of a message.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Message is one notification. Title and Body are plain text; channels apply
// their own markup. Chart, when set, is a PNG image. Alerts carries the
// structured alerts behind the message for sinks that forward data.
type Message struct {
	Level  Level         `json:"level"`
	Title  string        `json:"title"`
	Body   string        `json:"body"`
	Chart  []byte        `json:"-"`
	Alerts []model.Alert `json:"alerts,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Name identifies the channel in logs and errors.
	Name() string

	// Send delivers a message. Returns error if delivery fails.
	Send(ctx context.Context, msg Message) error
}

// DeliveryError reports a failed delivery on one channel.
type DeliveryError struct {
	Channel string
	Title   string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %q via %s: %v", e.Title, e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// LogNotifier logs messages (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Send(_ context.Context, msg Message) error {
	slog.Info("notify", "level", string(msg.Level), "title", msg.Title, "body", msg.Body,
		"alerts", len(msg.Alerts), "chart_bytes", len(msg.Chart))
	return nil
}

// Multi fans a message out to several notifiers. Every notifier is tried;
// failures are returned joined, each as a *DeliveryError.
type Multi struct {
	notifiers []Notifier
}

// NewMulti combines notifiers.
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, msg); err != nil {
			var de *DeliveryError
			if !errors.As(err, &de) {
				err = &DeliveryError{Channel: n.Name(), Title: msg.Title, Err: err}
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every notifier that holds a connection.
func (m *Multi) Close() error {
	var errs []error
	for _, n := range m.notifiers {
		if c, ok := n.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
