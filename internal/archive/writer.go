package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hehbot/chatgate/internal/dispatch"
	"github.com/hehbot/chatgate/internal/model"
)

// DB is the subset of *pgxpool.Pool the archive uses.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Config configures the Writer.
type Config struct {
	BatchSize     int           // Rows per INSERT batch
	FlushInterval time.Duration // Max time a row waits before being written
	QueueLimit    int           // Max rows waiting to be batched, 0 = unbounded
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		QueueLimit:    100000,
	}
}

// Metrics contains writer statistics.
type Metrics struct {
	Inserts int64
	Flushes int64
	Errors  int64
	Dropped int64
}

// rowKind selects the target table.
type rowKind int

const (
	rowDelete rowKind = iota
	rowEdit
)

// row is one archive record.
type row struct {
	kind        rowKind
	id          uuid.UUID
	messageID   int64
	channelID   int64
	guildID     *int64
	authorID    *int64
	authorName  *string
	content     *string // deletes: last known content; edits: before
	after       *string // edits only
	timestamp   *string // deletes: sent_at; edits: edited_at
	attachments []string
	observedAt  time.Time
}

// Writer archives delete and edit events. It implements dispatch.Handler.
type Writer struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	// Input from the dispatcher's delivery goroutine
	input *dispatch.Queue[row]

	// Database
	db DB

	// Batching
	batch       []row
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	consumed chan struct{}

	// Metrics
	metrics Metrics
}

// NewWriter creates a Writer.
func NewWriter(cfg Config, db DB, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		input:  dispatch.NewQueue[row](cfg.BatchSize, cfg.QueueLimit),
		db:     db,
		batch:  make([]row, 0, cfg.BatchSize),
	}
}

// Start begins consuming events and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)
	w.consumed = make(chan struct{})

	// Consumer goroutine
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("archive writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued events, writes the final batch and shuts down.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping archive writer")

	// Closing the input lets consumeLoop drain and exit
	w.input.Close()
	if w.cancel == nil {
		return nil
	}

	select {
	case <-w.consumed:
	case <-ctx.Done():
		w.logger.Warn("archive writer stop timed out", "queued", w.input.Len())
	}

	w.cancel()
	w.wg.Wait()
	w.flushTicker.Stop()

	// Final flush
	w.flush(ctx)

	w.logger.Info("archive writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	m := w.metrics
	m.Dropped = w.input.Stats().Dropped
	return m
}

// OnMessageCreate is a no-op; only deletes and edits are archived.
func (w *Writer) OnMessageCreate(ctx context.Context, m model.Message) {}

// OnMessageUpdate queues an edit row.
func (w *Writer) OnMessageUpdate(ctx context.Context, u model.MessageUpdate) {
	r := row{
		kind:        rowEdit,
		id:          uuid.New(),
		messageID:   u.ID,
		channelID:   u.ChannelID,
		guildID:     u.GuildID,
		authorID:    u.AuthorID,
		authorName:  u.AuthorName,
		content:     u.Before,
		after:       u.After,
		attachments: model.CloneAttachments(u.Attachments),
		observedAt:  w.now(),
	}
	if u.EditTimestamp != "" {
		ts := u.EditTimestamp
		r.timestamp = &ts
	}
	w.enqueue(r)
}

// OnMessageDelete queues a delete row.
func (w *Writer) OnMessageDelete(ctx context.Context, d model.MessageDelete) {
	w.enqueue(row{
		kind:        rowDelete,
		id:          uuid.New(),
		messageID:   d.ID,
		channelID:   d.ChannelID,
		guildID:     d.GuildID,
		authorID:    d.AuthorID,
		authorName:  d.AuthorName,
		content:     d.Content,
		timestamp:   d.Timestamp,
		attachments: model.CloneAttachments(d.Attachments),
		observedAt:  w.now(),
	})
}

func (w *Writer) enqueue(r row) {
	if err := w.input.Send(r); err != nil {
		w.logger.Warn("archive queue rejected row", "error", err, "message_id", r.messageID)
	}
}

// consumeLoop reads from the input queue and accumulates batches.
func (w *Writer) consumeLoop() {
	defer close(w.consumed)

	for {
		r, ok := w.input.Receive()
		if !ok {
			return
		}
		w.handleRow(r)
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handleRow adds a row to the batch and flushes when the batch is full.
func (w *Writer) handleRow(r row) {
	w.batchMu.Lock()
	w.batch = append(w.batch, r)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]row, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	if err := w.batchInsert(ctx, batch); err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch))
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed archive rows",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

const (
	insertDelete = `
		INSERT INTO message_deletes (id, message_id, channel_id, guild_id, author_id, author_name, content, sent_at, attachments, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	insertEdit = `
		INSERT INTO message_edits (id, message_id, channel_id, guild_id, author_id, author_name, before_content, after_content, edited_at, attachments, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`
)

// batchInsert inserts rows using a single pgx.Batch round trip.
func (w *Writer) batchInsert(ctx context.Context, rows []row) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		switch r.kind {
		case rowDelete:
			batch.Queue(insertDelete,
				r.id, r.messageID, r.channelID, r.guildID, r.authorID, r.authorName,
				r.content, r.timestamp, r.attachments, r.observedAt)
		case rowEdit:
			batch.Queue(insertEdit,
				r.id, r.messageID, r.channelID, r.guildID, r.authorID, r.authorName,
				r.content, r.after, r.timestamp, r.attachments, r.observedAt)
		}
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
