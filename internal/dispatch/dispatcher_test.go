package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/hehbot/chatgate/internal/cache"
	"github.com/hehbot/chatgate/internal/model"
)

// recordingHandler collects delivered events.
type recordingHandler struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{notify: make(chan struct{}, 1024)}
}

func (h *recordingHandler) record(ev Event) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	h.notify <- struct{}{}
}

func (h *recordingHandler) OnMessageCreate(ctx context.Context, m model.Message) {
	h.record(Event{Kind: KindCreate, Create: m})
}

func (h *recordingHandler) OnMessageUpdate(ctx context.Context, u model.MessageUpdate) {
	h.record(Event{Kind: KindUpdate, Update: u})
}

func (h *recordingHandler) OnMessageDelete(ctx context.Context, d model.MessageDelete) {
	h.record(Event{Kind: KindDelete, Delete: d})
}

// wait blocks until n events have been delivered in total.
func (h *recordingHandler) wait(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		h.mu.Lock()
		if len(h.events) >= n {
			out := make([]Event, len(h.events))
			copy(out, h.events)
			h.mu.Unlock()
			return out
		}
		h.mu.Unlock()

		select {
		case <-h.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d events", n)
		}
	}
}

func newTestDispatcher(t *testing.T, capacity int, h Handler) *Dispatcher {
	t.Helper()
	c, err := cache.New[int64, model.Message](capacity)
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}
	d := New(DefaultConfig(), c, h, nil)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		d.Stop(ctx)
	})
	return d
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func createPayload(id, channelID, authorID, username, content string, attachments ...string) map[string]any {
	atts := make([]map[string]any, 0, len(attachments))
	for _, url := range attachments {
		atts = append(atts, map[string]any{"id": "1", "url": url, "filename": "f"})
	}
	return map[string]any{
		"id":          id,
		"channel_id":  channelID,
		"guild_id":    "500",
		"author":      map[string]any{"id": authorID, "username": username},
		"content":     content,
		"timestamp":   "2024-01-15T10:00:00.000000+00:00",
		"attachments": atts,
	}
}

func TestDispatcher_CreateUpdateDelete(t *testing.T) {
	h := newRecordingHandler()
	d := newTestDispatcher(t, 10, h)

	d.Dispatch(EventMessageCreate, raw(t, createPayload("1", "100", "7", "alice", "hello", "https://cdn.example/a.png")))

	if _, ok := d.Cache().Peek(1); !ok {
		t.Fatal("message not cached synchronously by Dispatch")
	}

	d.Dispatch(EventMessageUpdate, raw(t, map[string]any{
		"id":               "1",
		"channel_id":       "100",
		"content":          "hello world",
		"edited_timestamp": "2024-01-15T10:05:00.000000+00:00",
	}))
	d.Dispatch(EventMessageDelete, raw(t, map[string]any{"id": "1", "channel_id": "100"}))

	events := h.wait(t, 3)

	created := events[0]
	if created.Kind != KindCreate {
		t.Fatalf("events[0].Kind = %v, want create", created.Kind)
	}
	if created.Create.AuthorName != "alice" || created.Create.AuthorID != 7 || created.Create.Content != "hello" {
		t.Errorf("create = %+v", created.Create)
	}
	if created.Create.GuildID == nil || *created.Create.GuildID != 500 {
		t.Errorf("create GuildID = %v, want 500", created.Create.GuildID)
	}

	upd := events[1].Update
	if events[1].Kind != KindUpdate {
		t.Fatalf("events[1].Kind = %v, want update", events[1].Kind)
	}
	if upd.Before == nil || *upd.Before != "hello" {
		t.Errorf("update Before = %v, want hello", upd.Before)
	}
	if upd.After == nil || *upd.After != "hello world" {
		t.Errorf("update After = %v, want hello world", upd.After)
	}
	if upd.AuthorName == nil || *upd.AuthorName != "alice" {
		t.Errorf("update AuthorName = %v, want backfilled alice", upd.AuthorName)
	}
	if upd.EditTimestamp != "2024-01-15T10:05:00.000000+00:00" {
		t.Errorf("update EditTimestamp = %q", upd.EditTimestamp)
	}

	del := events[2].Delete
	if events[2].Kind != KindDelete {
		t.Fatalf("events[2].Kind = %v, want delete", events[2].Kind)
	}
	if del.Content == nil || *del.Content != "hello world" {
		t.Errorf("delete Content = %v, want hello world", del.Content)
	}
	if del.AuthorName == nil || *del.AuthorName != "alice" {
		t.Errorf("delete AuthorName = %v, want alice", del.AuthorName)
	}
	if del.AuthorID == nil || *del.AuthorID != 7 {
		t.Errorf("delete AuthorID = %v, want 7", del.AuthorID)
	}
	if del.Timestamp == nil || *del.Timestamp != "2024-01-15T10:00:00.000000+00:00" {
		t.Errorf("delete Timestamp = %v", del.Timestamp)
	}
	if len(del.Attachments) != 1 || del.Attachments[0] != "https://cdn.example/a.png" {
		t.Errorf("delete Attachments = %v", del.Attachments)
	}

	if d.Cache().Contains(1) {
		t.Error("message still cached after delete")
	}

	stats := d.Stats()
	if stats.Creates != 1 || stats.Updates != 1 || stats.Deletes != 1 || stats.Delivered != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestDispatcher_UpdateWithoutCache(t *testing.T) {
	h := newRecordingHandler()
	d := newTestDispatcher(t, 10, h)

	d.Dispatch(EventMessageUpdate, raw(t, map[string]any{
		"id":         "2",
		"channel_id": "100",
		"author":     map[string]any{"id": "9", "username": "bob"},
		"content":    "edited",
	}))

	u := h.wait(t, 1)[0].Update
	if u.Before != nil {
		t.Errorf("Before = %q, want nil for uncached message", *u.Before)
	}
	if u.After == nil || *u.After != "edited" {
		t.Errorf("After = %v, want edited", u.After)
	}
	if u.AuthorID == nil || *u.AuthorID != 9 || u.AuthorName == nil || *u.AuthorName != "bob" {
		t.Errorf("author = %v/%v, want 9/bob", u.AuthorID, u.AuthorName)
	}
	if d.Cache().Contains(2) {
		t.Error("update must not insert into the cache")
	}
}

func TestDispatcher_UpdateWithoutContent(t *testing.T) {
	h := newRecordingHandler()
	d := newTestDispatcher(t, 10, h)

	d.Dispatch(EventMessageCreate, raw(t, createPayload("3", "100", "7", "alice", "keep", "https://cdn.example/a.png")))
	// Embed-only update: no content, no attachments
	d.Dispatch(EventMessageUpdate, raw(t, map[string]any{"id": "3", "channel_id": "100"}))

	u := h.wait(t, 2)[1].Update
	if u.After != nil {
		t.Errorf("After = %q, want nil", *u.After)
	}
	if u.Before == nil || *u.Before != "keep" {
		t.Errorf("Before = %v, want keep", u.Before)
	}

	m, _ := d.Cache().Peek(3)
	if m.Content != "keep" {
		t.Errorf("cached content = %q, want keep", m.Content)
	}
	if len(m.Attachments) != 1 {
		t.Errorf("cached attachments = %v, want original kept", m.Attachments)
	}

	d.Dispatch(EventMessageUpdate, raw(t, map[string]any{
		"id":          "3",
		"channel_id":  "100",
		"attachments": []map[string]any{{"url": "https://cdn.example/b.png"}},
	}))
	h.wait(t, 3)

	m, _ = d.Cache().Peek(3)
	if len(m.Attachments) != 1 || m.Attachments[0] != "https://cdn.example/b.png" {
		t.Errorf("cached attachments = %v, want replaced", m.Attachments)
	}
}

func TestDispatcher_DeleteWithoutCache(t *testing.T) {
	h := newRecordingHandler()
	d := newTestDispatcher(t, 10, h)

	d.Dispatch(EventMessageDelete, raw(t, map[string]any{"id": "4", "channel_id": "100", "guild_id": "500"}))

	del := h.wait(t, 1)[0].Delete
	if del.ID != 4 || del.ChannelID != 100 {
		t.Errorf("delete ids = %d/%d, want 4/100", del.ID, del.ChannelID)
	}
	if del.Content != nil || del.AuthorID != nil || del.AuthorName != nil || del.Timestamp != nil {
		t.Errorf("uncached delete should carry ids only: %+v", del)
	}
	if del.Attachments == nil || len(del.Attachments) != 0 {
		t.Errorf("Attachments = %#v, want empty non-nil", del.Attachments)
	}
	if del.HasSnapshot() {
		t.Error("HasSnapshot() = true for uncached delete")
	}
}

func TestDispatcher_DeleteAfterEviction(t *testing.T) {
	h := newRecordingHandler()
	d := newTestDispatcher(t, 1, h)

	d.Dispatch(EventMessageCreate, raw(t, createPayload("1", "100", "7", "alice", "first")))
	d.Dispatch(EventMessageCreate, raw(t, createPayload("2", "100", "7", "alice", "second")))
	d.Dispatch(EventMessageDelete, raw(t, map[string]any{"id": "1", "channel_id": "100"}))

	if del := h.wait(t, 3)[2].Delete; del.HasSnapshot() {
		t.Errorf("evicted message should not be backfilled: %+v", del)
	}
	if d.Cache().Len() != 1 {
		t.Errorf("cache Len() = %d, want 1", d.Cache().Len())
	}
}

func TestDispatcher_BulkDelete(t *testing.T) {
	h := newRecordingHandler()
	d := newTestDispatcher(t, 10, h)

	d.Dispatch(EventMessageCreate, raw(t, createPayload("1", "100", "7", "alice", "a")))
	d.Dispatch(EventMessageCreate, raw(t, createPayload("2", "100", "7", "alice", "b")))
	d.Dispatch(EventMessageDeleteBulk, raw(t, map[string]any{
		"ids":        []string{"2", "1", "3"},
		"channel_id": "100",
	}))

	events := h.wait(t, 5)
	wantIDs := []int64{2, 1, 3}
	for i, want := range wantIDs {
		ev := events[2+i]
		if ev.Kind != KindDelete || ev.Delete.ID != want {
			t.Errorf("event %d = %v id %d, want delete id %d", 2+i, ev.Kind, ev.Delete.ID, want)
		}
	}
	if !events[2].Delete.HasSnapshot() || !events[3].Delete.HasSnapshot() {
		t.Error("cached messages should be backfilled in bulk delete")
	}
	if events[4].Delete.HasSnapshot() {
		t.Error("uncached id should not be backfilled")
	}
	if d.Cache().Len() != 0 {
		t.Errorf("cache Len() = %d, want 0", d.Cache().Len())
	}
}

func TestDispatcher_ChannelCreate(t *testing.T) {
	h := newRecordingHandler()
	d := newTestDispatcher(t, 10, h)
	d.now = func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC) }

	// Guild text channels are ignored
	d.Dispatch(EventChannelCreate, raw(t, map[string]any{"id": "800", "type": 0}))
	d.Dispatch(EventChannelCreate, raw(t, map[string]any{"id": "900", "type": 3}))

	events := h.wait(t, 1)
	time.Sleep(20 * time.Millisecond)
	if got := len(h.wait(t, 1)); got != 1 {
		t.Fatalf("delivered %d events, want 1", got)
	}

	m := events[0].Create
	if events[0].Kind != KindCreate {
		t.Fatalf("Kind = %v, want create", events[0].Kind)
	}
	if m.ID != 0 || m.AuthorID != 0 {
		t.Errorf("synthetic ids = %d/%d, want 0/0", m.ID, m.AuthorID)
	}
	if m.ChannelID != 900 {
		t.Errorf("ChannelID = %d, want 900", m.ChannelID)
	}
	if m.AuthorName != model.SystemAuthorName || m.Content != model.ChannelCreateContent {
		t.Errorf("synthetic message = %+v", m)
	}
	if m.Timestamp != "2024-01-15T12:00:00Z" {
		t.Errorf("Timestamp = %q", m.Timestamp)
	}
	if m.Attachments == nil {
		t.Error("Attachments should be empty, not nil")
	}
	if d.Cache().Len() != 0 {
		t.Error("synthetic message must not be cached")
	}
}

func TestDispatcher_Malformed(t *testing.T) {
	h := newRecordingHandler()
	d := newTestDispatcher(t, 10, h)

	d.Dispatch(EventMessageCreate, json.RawMessage(`{not json`))
	d.Dispatch(EventMessageCreate, raw(t, map[string]any{"channel_id": "100"}))
	d.Dispatch(EventMessageUpdate, raw(t, map[string]any{"id": "1"}))
	d.Dispatch(EventMessageDelete, raw(t, map[string]any{"id": "abc", "channel_id": "100"}))
	d.Dispatch(EventMessageDeleteBulk, raw(t, map[string]any{"ids": []string{"1"}}))

	// Processing continues after malformed events
	d.Dispatch(EventMessageCreate, raw(t, createPayload("5", "100", "7", "alice", "ok")))

	events := h.wait(t, 1)
	if events[0].Create.ID != 5 {
		t.Errorf("first delivered event id = %d, want 5", events[0].Create.ID)
	}
	if stats := d.Stats(); stats.ParseErrors != 5 {
		t.Errorf("ParseErrors = %d, want 5", stats.ParseErrors)
	}
}

func TestDispatcher_UnknownEventIgnored(t *testing.T) {
	h := newRecordingHandler()
	d := newTestDispatcher(t, 10, h)

	d.Dispatch("TYPING_START", raw(t, map[string]any{"channel_id": "100"}))
	d.Dispatch("READY", raw(t, map[string]any{"session_id": "abc"}))

	if stats := d.Stats(); stats.ParseErrors != 0 || stats.Queue.TotalReceived != 0 {
		t.Errorf("unknown events should be ignored: %+v", stats)
	}
}

func TestDispatcher_NumericSnowflakes(t *testing.T) {
	h := newRecordingHandler()
	d := newTestDispatcher(t, 10, h)

	d.Dispatch(EventMessageCreate, json.RawMessage(`{"id":123,"channel_id":456,"author":{"id":789},"content":"x"}`))

	m := h.wait(t, 1)[0].Create
	if m.ID != 123 || m.ChannelID != 456 || m.AuthorID != 789 {
		t.Errorf("ids = %d/%d/%d, want 123/456/789", m.ID, m.ChannelID, m.AuthorID)
	}
	if m.AuthorName != model.UnknownAuthorName {
		t.Errorf("AuthorName = %q, want %q", m.AuthorName, model.UnknownAuthorName)
	}
	if m.GuildID != nil {
		t.Errorf("GuildID = %d, want nil", *m.GuildID)
	}
}

func TestDispatcher_HandlerPanicRecovered(t *testing.T) {
	h := newRecordingHandler()
	calls := 0
	panicky := HandlerFuncs{
		Create: func(ctx context.Context, m model.Message) {
			calls++
			if calls == 1 {
				panic("boom")
			}
			h.OnMessageCreate(ctx, m)
		},
	}
	d := newTestDispatcher(t, 10, panicky)

	d.Dispatch(EventMessageCreate, raw(t, createPayload("1", "100", "7", "alice", "a")))
	d.Dispatch(EventMessageCreate, raw(t, createPayload("2", "100", "7", "alice", "b")))

	events := h.wait(t, 1)
	if events[0].Create.ID != 2 {
		t.Errorf("delivered id = %d, want 2", events[0].Create.ID)
	}
	if stats := d.Stats(); stats.HandlerPanics != 1 {
		t.Errorf("HandlerPanics = %d, want 1", stats.HandlerPanics)
	}
}

func TestDispatcher_SlowHandlerDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	var delivered sync.WaitGroup
	delivered.Add(100)
	slow := HandlerFuncs{
		Create: func(ctx context.Context, m model.Message) {
			<-release
			delivered.Done()
		},
	}
	d := newTestDispatcher(t, 200, slow)

	start := time.Now()
	for i := 1; i <= 100; i++ {
		d.Dispatch(EventMessageCreate, raw(t, map[string]any{"id": i, "channel_id": "100"}))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Dispatch blocked for %v behind a slow handler", elapsed)
	}
	if d.Cache().Len() != 100 {
		t.Errorf("cache Len() = %d, want 100", d.Cache().Len())
	}

	close(release)
	delivered.Wait()
}

func TestDispatcher_QueueLimit(t *testing.T) {
	release := make(chan struct{})
	blocking := HandlerFuncs{
		Create: func(ctx context.Context, m model.Message) { <-release },
	}

	c, _ := cache.New[int64, model.Message](10)
	d := New(Config{QueueSize: 2, QueueLimit: 2}, c, blocking, nil)
	d.Start(context.Background())

	for i := 1; i <= 5; i++ {
		d.Dispatch(EventMessageCreate, raw(t, map[string]any{"id": i, "channel_id": "100"}))
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	stats := d.Stats()
	if stats.Dropped == 0 {
		t.Error("expected dropped events over the queue limit")
	}
	if stats.Delivered+stats.Dropped != 5 {
		t.Errorf("Delivered+Dropped = %d, want 5", stats.Delivered+stats.Dropped)
	}
	// Cache is maintained even for dropped hand-offs
	if c.Len() != 5 {
		t.Errorf("cache Len() = %d, want 5", c.Len())
	}
}

func TestDispatcher_StopDrainsQueue(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newRecordingHandler()
	c, _ := cache.New[int64, model.Message](10)
	d := New(DefaultConfig(), c, h, nil)
	d.Start(context.Background())

	for i := 1; i <= 5; i++ {
		d.Dispatch(EventMessageCreate, raw(t, map[string]any{"id": i, "channel_id": "100"}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := len(h.wait(t, 5)); got != 5 {
		t.Errorf("delivered %d events before Stop returned, want 5", got)
	}

	// Events after Stop are dropped, not delivered
	d.Dispatch(EventMessageCreate, raw(t, map[string]any{"id": 6, "channel_id": "100"}))
	if d.Stats().Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", d.Stats().Dropped)
	}
}

func TestMulti(t *testing.T) {
	a := newRecordingHandler()
	b := newRecordingHandler()
	h := Multi(a, nil, b)

	ctx := context.Background()
	h.OnMessageCreate(ctx, model.Message{ID: 1})
	h.OnMessageUpdate(ctx, model.MessageUpdate{ID: 1})
	h.OnMessageDelete(ctx, model.MessageDelete{ID: 1})

	if len(a.wait(t, 3)) != 3 || len(b.wait(t, 3)) != 3 {
		t.Error("Multi should deliver every event to every handler")
	}
}

func TestMulti_PanicDoesNotSkipLaterHandlers(t *testing.T) {
	after := newRecordingHandler()
	panicky := HandlerFuncs{
		Delete: func(ctx context.Context, d model.MessageDelete) { panic("boom") },
	}
	d := newTestDispatcher(t, 10, Multi(panicky, after))

	d.Dispatch(EventMessageCreate, raw(t, createPayload("1", "100", "7", "alice", "a")))
	d.Dispatch(EventMessageDelete, raw(t, map[string]any{"id": "1", "channel_id": "100"}))

	events := after.wait(t, 2)
	if events[1].Kind != KindDelete || events[1].Delete.ID != 1 {
		t.Errorf("second handler event = %+v, want delete of 1", events[1])
	}
	if stats := d.Stats(); stats.HandlerPanics != 1 {
		t.Errorf("HandlerPanics = %d, want 1", stats.HandlerPanics)
	}
}

func TestHandlerFuncs_NilSafe(t *testing.T) {
	var h HandlerFuncs
	ctx := context.Background()
	h.OnMessageCreate(ctx, model.Message{})
	h.OnMessageUpdate(ctx, model.MessageUpdate{})
	h.OnMessageDelete(ctx, model.MessageDelete{})
}
