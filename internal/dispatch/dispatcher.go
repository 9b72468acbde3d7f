package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hehbot/chatgate/internal/cache"
	"github.com/hehbot/chatgate/internal/model"
)

// Gateway event types handled by the Dispatcher.
const (
	EventMessageCreate     = "MESSAGE_CREATE"
	EventMessageUpdate     = "MESSAGE_UPDATE"
	EventMessageDelete     = "MESSAGE_DELETE"
	EventMessageDeleteBulk = "MESSAGE_DELETE_BULK"
	EventChannelCreate     = "CHANNEL_CREATE"
)

// MessageCache is the cache the Dispatcher maintains.
type MessageCache = cache.LRU[int64, model.Message]

// Config configures the Dispatcher.
type Config struct {
	QueueSize  int // Initial hand-off queue capacity
	QueueLimit int // Max queued events before new ones are dropped, 0 = unbounded
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:  1024,
		QueueLimit: 100000,
	}
}

// Kind identifies an event's variant.
type Kind int

const (
	KindCreate Kind = iota + 1
	KindUpdate
	KindDelete
)

// Event is one queued hand-off. Exactly one payload field is set, per Kind.
type Event struct {
	Kind   Kind
	Create model.Message
	Update model.MessageUpdate
	Delete model.MessageDelete
}

// Stats contains dispatcher statistics.
type Stats struct {
	Creates       int64
	Updates       int64
	Deletes       int64
	ChannelEvents int64
	ParseErrors   int64
	Dropped       int64
	Delivered     int64
	HandlerPanics int64
	Queue         QueueStats
}

// Dispatcher decodes message events, maintains the cache and delivers typed
// events to a Handler. Dispatch is called from the gateway's connection loop;
// the Handler is called from the Dispatcher's own delivery goroutine.
type Dispatcher struct {
	cfg     Config
	cache   *MessageCache
	handler Handler
	logger  *slog.Logger
	now     func() time.Time

	queue *Queue[Event]

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
}

// New creates a Dispatcher. h may be nil until events need consuming.
func New(cfg Config, c *MessageCache, h Handler, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if h == nil {
		h = HandlerFuncs{}
	}

	return &Dispatcher{
		cfg:     cfg,
		cache:   c,
		handler: h,
		logger:  logger,
		now:     time.Now,
		queue:   NewQueue[Event](cfg.QueueSize, cfg.QueueLimit),
	}
}

// Cache returns the message cache.
func (d *Dispatcher) Cache() *MessageCache {
	return d.cache
}

// Start launches the delivery goroutine.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(1)
	go d.deliverLoop()

	d.logger.Info("dispatcher started",
		"queue_size", d.cfg.QueueSize,
		"queue_limit", d.cfg.QueueLimit,
	)
	return nil
}

// Stop closes the queue and waits for queued events to be delivered. The
// wait is bounded by ctx; the handler context is cancelled on timeout.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.logger.Info("stopping dispatcher")
	d.queue.Close()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		d.logger.Info("dispatcher stopped")
	case <-ctx.Done():
		d.logger.Warn("dispatcher stop timed out", "pending", d.queue.Len())
		err = fmt.Errorf("stop dispatcher: %w", ctx.Err())
	}

	if d.cancel != nil {
		d.cancel()
	}
	return err
}

// Stats returns current statistics.
func (d *Dispatcher) Stats() Stats {
	d.statsMu.Lock()
	s := d.stats
	d.statsMu.Unlock()
	s.Queue = d.queue.Stats()
	return s
}

// Dispatch handles one gateway DISPATCH event. Cache changes are applied
// before Dispatch returns; handler delivery happens later.
func (d *Dispatcher) Dispatch(eventType string, data json.RawMessage) {
	var err error
	switch eventType {
	case EventMessageCreate:
		err = d.handleCreate(data)
	case EventMessageUpdate:
		err = d.handleUpdate(data)
	case EventMessageDelete:
		err = d.handleDelete(data)
	case EventMessageDeleteBulk:
		err = d.handleBulkDelete(data)
	case EventChannelCreate:
		err = d.handleChannelCreate(data)
	default:
		return
	}

	if err != nil {
		d.logger.Error("failed to handle dispatch event", "type", eventType, "error", err)
		d.count(func(s *Stats) { s.ParseErrors++ })
	}
}

func (d *Dispatcher) handleCreate(data json.RawMessage) error {
	p, err := parseMessage(data)
	if err != nil {
		return fmt.Errorf("parse message create: %w", err)
	}

	msg := buildMessage(p)
	d.cache.Put(msg.ID, msg.Clone())

	d.count(func(s *Stats) { s.Creates++ })
	d.enqueue(Event{Kind: KindCreate, Create: msg})
	return nil
}

func (d *Dispatcher) handleUpdate(data json.RawMessage) error {
	p, err := parseMessage(data)
	if err != nil {
		return fmt.Errorf("parse message update: %w", err)
	}

	u := buildUpdate(p)
	old, ok := d.cache.Update(u.ID, func(m model.Message) model.Message {
		next := m.Clone()
		if u.After != nil {
			next.Content = *u.After
		}
		if len(u.Attachments) > 0 {
			next.Attachments = model.CloneAttachments(u.Attachments)
		}
		return next
	})
	if ok {
		before := old.Content
		u.Before = &before
		if u.AuthorID == nil {
			id := old.AuthorID
			u.AuthorID = &id
		}
		if u.AuthorName == nil {
			name := old.AuthorName
			u.AuthorName = &name
		}
		if u.GuildID == nil && old.GuildID != nil {
			g := *old.GuildID
			u.GuildID = &g
		}
	}

	d.count(func(s *Stats) { s.Updates++ })
	d.enqueue(Event{Kind: KindUpdate, Update: u})
	return nil
}

func (d *Dispatcher) handleDelete(data json.RawMessage) error {
	p, err := parseDelete(data)
	if err != nil {
		return fmt.Errorf("parse message delete: %w", err)
	}
	d.deleteOne(int64(*p.ID), int64(*p.ChannelID), p.GuildID.ptr())
	return nil
}

func (d *Dispatcher) handleBulkDelete(data json.RawMessage) error {
	p, err := parseBulkDelete(data)
	if err != nil {
		return fmt.Errorf("parse message delete bulk: %w", err)
	}
	for _, id := range p.IDs {
		d.deleteOne(int64(id), int64(*p.ChannelID), p.GuildID.ptr())
	}
	return nil
}

// deleteOne pops the cached message, if any, and queues a delete event
// backfilled from it.
func (d *Dispatcher) deleteOne(id, channelID int64, guildID *int64) {
	del := model.MessageDelete{
		ID:          id,
		ChannelID:   channelID,
		GuildID:     guildID,
		Attachments: []string{},
	}

	if m, ok := d.cache.Pop(id); ok {
		authorID := m.AuthorID
		authorName := m.AuthorName
		content := m.Content
		timestamp := m.Timestamp
		del.AuthorID = &authorID
		del.AuthorName = &authorName
		del.Content = &content
		del.Timestamp = &timestamp
		del.Attachments = model.CloneAttachments(m.Attachments)
		if del.GuildID == nil && m.GuildID != nil {
			g := *m.GuildID
			del.GuildID = &g
		}
	}

	d.count(func(s *Stats) { s.Deletes++ })
	d.enqueue(Event{Kind: KindDelete, Delete: del})
}

// handleChannelCreate announces new group DMs as a synthetic message from
// "System". The synthetic message is never cached.
func (d *Dispatcher) handleChannelCreate(data json.RawMessage) error {
	var p channelPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parse channel create: %w", err)
	}
	if p.Type == nil || *p.Type != groupDMChannelType {
		return nil
	}
	if p.ID == nil {
		return fmt.Errorf("parse channel create: %w", ErrMissingID)
	}

	msg := model.Message{
		ID:          0,
		ChannelID:   int64(*p.ID),
		AuthorID:    0,
		AuthorName:  model.SystemAuthorName,
		Content:     model.ChannelCreateContent,
		Timestamp:   d.now().UTC().Format(time.RFC3339),
		Attachments: []string{},
	}

	d.count(func(s *Stats) { s.ChannelEvents++ })
	d.enqueue(Event{Kind: KindCreate, Create: msg})
	return nil
}

func (d *Dispatcher) enqueue(ev Event) {
	if err := d.queue.Send(ev); err != nil {
		d.count(func(s *Stats) { s.Dropped++ })
		if errors.Is(err, ErrQueueFull) {
			d.logger.Warn("dispatch queue full, dropping event", "kind", ev.Kind)
		}
	}
}

// deliverLoop drains the queue into the handler until the queue is closed
// and empty.
func (d *Dispatcher) deliverLoop() {
	defer d.wg.Done()

	for {
		ev, ok := d.queue.Receive()
		if !ok {
			return
		}
		d.deliver(ev)
	}
}

// deliver calls the handler, recovering from panics so one bad handler call
// does not stop delivery.
func (d *Dispatcher) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic recovered", "kind", ev.Kind, "panic", r)
			d.count(func(s *Stats) { s.HandlerPanics++ })
		}
	}()

	switch ev.Kind {
	case KindCreate:
		d.handler.OnMessageCreate(d.ctx, ev.Create)
	case KindUpdate:
		d.handler.OnMessageUpdate(d.ctx, ev.Update)
	case KindDelete:
		d.handler.OnMessageDelete(d.ctx, ev.Delete)
	}
	d.count(func(s *Stats) { s.Delivered++ })
}

func (d *Dispatcher) count(fn func(*Stats)) {
	d.statsMu.Lock()
	fn(&d.stats)
	d.statsMu.Unlock()
}

// String implements fmt.Stringer for log attributes.
func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	}
	return "unknown"
}
