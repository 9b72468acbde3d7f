// Package relay republishes message events onto a watermill publisher
// (AMQP in production) as JSON envelopes.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/sony/gobreaker"

	"github.com/hehbot/chatgate/internal/model"
)

// Event names carried in the envelope and used as topic suffixes.
const (
	EventCreated = "message.created"
	EventUpdated = "message.updated"
	EventDeleted = "message.deleted"
)

// Metadata keys set on every published message.
const (
	MetadataEvent   = "event"
	MetadataChannel = "channel_id"
)

// Envelope is the JSON body of every relayed message.
type Envelope struct {
	Event     string          `json:"event"`
	ID        int64           `json:"id,string"`
	ChannelID int64           `json:"channel_id,string"`
	SentAt    time.Time       `json:"sent_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Config configures a Relay.
type Config struct {
	TopicPrefix     string        // Topics are "<prefix>.<event>", or just the event when empty
	BreakerFailures uint32        // Consecutive publish failures that open the breaker, 0 disables it
	BreakerTimeout  time.Duration // How long the breaker stays open before probing
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TopicPrefix:     "chatgate",
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// Stats counts relay outcomes.
type Stats struct {
	Published int64
	Failed    int64
	Rejected  int64 // Skipped while the breaker was open
	Breaker   string
}

// Relay implements dispatch.Handler by publishing each event.
type Relay struct {
	publisher message.Publisher
	prefix    string
	breaker   *gobreaker.CircuitBreaker // nil when disabled
	logger    *slog.Logger
	now       func() time.Time

	published atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// New creates a Relay. While the broker is failing, the breaker drops events
// instead of paying a publish timeout for each one.
func New(pub message.Publisher, cfg Config, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Relay{
		publisher: pub,
		prefix:    cfg.TopicPrefix,
		logger:    logger,
		now:       time.Now,
	}
	if cfg.BreakerFailures > 0 {
		failures := cfg.BreakerFailures
		r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "relay",
			MaxRequests: 1,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("relay breaker state changed", "from", from.String(), "to", to.String())
			},
		})
	}
	return r
}

// Topic returns the topic an event is published to.
func (r *Relay) Topic(event string) string {
	if r.prefix == "" {
		return event
	}
	return r.prefix + "." + event
}

// Stats returns publish counters.
func (r *Relay) Stats() Stats {
	st := Stats{
		Published: r.published.Load(),
		Failed:    r.failed.Load(),
		Rejected:  r.rejected.Load(),
		Breaker:   "disabled",
	}
	if r.breaker != nil {
		st.Breaker = r.breaker.State().String()
	}
	return st
}

// OnMessageCreate publishes a message.created event.
func (r *Relay) OnMessageCreate(ctx context.Context, m model.Message) {
	r.publish(ctx, EventCreated, m.ID, m.ChannelID, m)
}

// OnMessageUpdate publishes a message.updated event.
func (r *Relay) OnMessageUpdate(ctx context.Context, u model.MessageUpdate) {
	r.publish(ctx, EventUpdated, u.ID, u.ChannelID, u)
}

// OnMessageDelete publishes a message.deleted event.
func (r *Relay) OnMessageDelete(ctx context.Context, d model.MessageDelete) {
	r.publish(ctx, EventDeleted, d.ID, d.ChannelID, d)
}

func (r *Relay) publish(ctx context.Context, event string, id, channelID int64, v any) {
	var err error
	if r.breaker == nil {
		err = r.send(ctx, event, id, channelID, v)
	} else {
		_, err = r.breaker.Execute(func() (interface{}, error) {
			return nil, r.send(ctx, event, id, channelID, v)
		})
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		r.rejected.Add(1)
		r.logger.Debug("relay breaker open, event skipped", "event", event, "message_id", id)
		return
	}
	if err != nil {
		r.failed.Add(1)
		r.logger.Error("relay publish failed", "event", event, "message_id", id, "error", err)
		return
	}
	r.published.Add(1)
}

func (r *Relay) send(ctx context.Context, event string, id, channelID int64, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	body, err := json.Marshal(Envelope{
		Event:     event,
		ID:        id,
		ChannelID: channelID,
		SentAt:    r.now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), body)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetadataEvent, event)
	msg.Metadata.Set(MetadataChannel, fmt.Sprint(channelID))

	topic := r.Topic(event)
	if err := r.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish to topic %s: %w", topic, err)
	}
	return nil
}
